package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var corpusFilePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}\.csv$`)

const CorpusPrefix = "corpus"

// CorpusKey returns the object key of one corpus file. Only flat CSV file
// names are accepted.
func CorpusKey(fileName string) (string, error) {
	fileName = strings.TrimSpace(fileName)
	if !corpusFilePattern.MatchString(fileName) {
		return "", fmt.Errorf("invalid corpus file name: %q", fileName)
	}
	return path.Join(CorpusPrefix, fileName), nil
}

// CorpusFileName is the inverse of CorpusKey.
func CorpusFileName(key string) (string, bool) {
	dir, name := path.Split(key)
	if path.Clean(dir) != CorpusPrefix || !corpusFilePattern.MatchString(name) {
		return "", false
	}
	return name, true
}
