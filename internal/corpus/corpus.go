// Package corpus moves the CSV corpus between a local directory and the
// object store.
package corpus

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aquamitra/aquamitra/internal/storage"
)

type Result struct {
	Files []string
	Bytes int64
}

// Sync downloads every corpus object into dir, replacing local files of the
// same name. Each file is written to a temporary name and renamed so a
// partially downloaded file is never provisioned.
func Sync(ctx context.Context, store storage.ObjectStore, dir string) (Result, error) {
	objects, err := store.List(ctx, storage.CorpusPrefix)
	if err != nil {
		return Result{}, fmt.Errorf("list corpus: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create corpus dir: %w", err)
	}
	var result Result
	for _, obj := range objects {
		name, ok := storage.CorpusFileName(obj.Key)
		if !ok {
			continue
		}
		n, err := download(ctx, store, obj.Key, filepath.Join(dir, name))
		if err != nil {
			return result, err
		}
		result.Files = append(result.Files, name)
		result.Bytes += n
	}
	return result, nil
}

func download(ctx context.Context, store storage.ObjectStore, key, dest string) (int64, error) {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	defer reader.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	n, copyErr := io.Copy(tmp, reader)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		if copyErr != nil {
			return 0, fmt.Errorf("download %s: %w", key, copyErr)
		}
		return 0, fmt.Errorf("write %s: %w", dest, closeErr)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("rename %s: %w", dest, err)
	}
	return n, nil
}

// Publish uploads the files in dir matching pattern under the corpus prefix.
func Publish(ctx context.Context, store storage.ObjectStore, dir, pattern string) (Result, error) {
	if pattern == "" {
		pattern = "*.csv"
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return Result{}, fmt.Errorf("match corpus files: %w", err)
	}
	var result Result
	for _, path := range matches {
		key, err := storage.CorpusKey(filepath.Base(path))
		if err != nil {
			return result, err
		}
		n, err := upload(ctx, store, key, path)
		if err != nil {
			return result, err
		}
		result.Files = append(result.Files, filepath.Base(path))
		result.Bytes += n
	}
	if len(result.Files) == 0 {
		return result, fmt.Errorf("no files matching %s in %s", pattern, dir)
	}
	return result, nil
}

func upload(ctx context.Context, store storage.ObjectStore, key, path string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if _, err := store.Put(ctx, key, file, info.Size(), storage.PutOptions{ContentType: "text/csv"}); err != nil {
		return 0, err
	}
	return info.Size(), nil
}
