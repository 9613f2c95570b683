// Package placemap resolves assessment place names to Indian states and
// adds a state column to raw assessment CSV files.
package placemap

import (
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	Unknown      = "Unknown"
	PlaceColumn  = "place"
	StateColumn  = "state"
	OutputSuffix = "_with_state"
)

//go:embed places.yaml
var defaultPlaces []byte

var (
	defaultOnce   sync.Once
	defaultMapper *Mapper
	defaultErr    error
)

// Default returns the mapper built from the embedded place list.
func Default() (*Mapper, error) {
	defaultOnce.Do(func() {
		defaultMapper, defaultErr = Parse(defaultPlaces)
	})
	return defaultMapper, defaultErr
}

type Mapper struct {
	states map[string]string
	// keys are ordered longest first so partial matches prefer the most
	// specific place name.
	keys []string
}

// Parse reads a YAML document of state name to place list.
func Parse(data []byte) (*Mapper, error) {
	var byState map[string][]string
	if err := yaml.Unmarshal(data, &byState); err != nil {
		return nil, fmt.Errorf("parse places: %w", err)
	}
	m := &Mapper{states: map[string]string{}}
	for state, places := range byState {
		for _, place := range places {
			key := strings.ToLower(strings.TrimSpace(place))
			if key == "" {
				continue
			}
			if existing, ok := m.states[key]; ok && existing != state {
				return nil, fmt.Errorf("parse places: %q listed under %s and %s", key, existing, state)
			}
			m.states[key] = state
		}
	}
	if len(m.states) == 0 {
		return nil, errors.New("parse places: no places defined")
	}
	m.keys = make([]string, 0, len(m.states))
	for key := range m.states {
		m.keys = append(m.keys, key)
	}
	sort.Slice(m.keys, func(i, j int) bool {
		if len(m.keys[i]) != len(m.keys[j]) {
			return len(m.keys[i]) > len(m.keys[j])
		}
		return m.keys[i] < m.keys[j]
	})
	return m, nil
}

func (m *Mapper) Len() int { return len(m.states) }

type Place struct {
	Name  string
	State string
}

// Places lists every known place sorted by name.
func (m *Mapper) Places() []Place {
	out := make([]Place, 0, len(m.states))
	for name, state := range m.states {
		out = append(out, Place{Name: name, State: state})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the state for place, or Unknown. Exact names win; otherwise
// the longest known name that contains, or is contained in, place is used.
func (m *Mapper) Lookup(place string) string {
	key := strings.ToLower(strings.TrimSpace(place))
	if key == "" {
		return Unknown
	}
	if state, ok := m.states[key]; ok {
		return state
	}
	for _, candidate := range m.keys {
		if strings.Contains(key, candidate) || strings.Contains(candidate, key) {
			return m.states[candidate]
		}
	}
	return Unknown
}

type Stats struct {
	File    string         `json:"file,omitempty"`
	Output  string         `json:"output,omitempty"`
	Rows    int            `json:"rows"`
	States  map[string]int `json:"states"`
	Unknown []string       `json:"unknown_places"`
}

// KnownStates counts the distinct resolved states, excluding Unknown.
func (s Stats) KnownStates() int {
	n := 0
	for state := range s.States {
		if state != Unknown {
			n++
		}
	}
	return n
}

// EnrichCSV copies r to w with a trailing state column derived from the
// place column.
func (m *Mapper) EnrichCSV(r io.Reader, w io.Writer) (Stats, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return Stats{}, fmt.Errorf("read csv header: %w", err)
	}
	placeIdx := -1
	for i, name := range header {
		if strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) == PlaceColumn {
			placeIdx = i
			break
		}
	}
	if placeIdx < 0 {
		return Stats{}, fmt.Errorf("csv has no %q column", PlaceColumn)
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(append(header, StateColumn)); err != nil {
		return Stats{}, fmt.Errorf("write csv header: %w", err)
	}
	stats := Stats{States: map[string]int{}}
	unknown := map[string]struct{}{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read csv row %d: %w", stats.Rows+1, err)
		}
		place := ""
		if placeIdx < len(record) {
			place = record[placeIdx]
		}
		state := m.Lookup(place)
		if state == Unknown {
			unknown[place] = struct{}{}
		}
		stats.States[state]++
		stats.Rows++
		if err := writer.Write(append(record, state)); err != nil {
			return stats, fmt.Errorf("write csv row %d: %w", stats.Rows, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return stats, fmt.Errorf("flush csv: %w", err)
	}
	stats.Unknown = make([]string, 0, len(unknown))
	for place := range unknown {
		stats.Unknown = append(stats.Unknown, place)
	}
	sort.Strings(stats.Unknown)
	return stats, nil
}

// OutputPath returns the enriched file name for input:
// data/groundwater_2024.csv becomes data/groundwater_2024_with_state.csv.
func OutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + OutputSuffix + ext
}

func (m *Mapper) EnrichFile(input, output string) (Stats, error) {
	in, err := os.Open(input)
	if err != nil {
		return Stats{}, fmt.Errorf("open %s: %w", input, err)
	}
	defer func() { _ = in.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(output), ".placemap-*")
	if err != nil {
		return Stats{}, fmt.Errorf("create temp for %s: %w", output, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	stats, err := m.EnrichCSV(in, tmp)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close %s: %w", tmp.Name(), closeErr)
	}
	if err != nil {
		return stats, fmt.Errorf("enrich %s: %w", input, err)
	}
	if err := os.Rename(tmp.Name(), output); err != nil {
		return stats, fmt.Errorf("rename to %s: %w", output, err)
	}
	stats.File = input
	stats.Output = output
	return stats, nil
}

// EnrichDir processes every file in dir matching pattern, skipping files
// that are already enriched outputs. Files are processed in name order.
func (m *Mapper) EnrichDir(dir, pattern string) ([]Stats, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Strings(matches)
	var results []Stats
	for _, input := range matches {
		if strings.HasSuffix(strings.TrimSuffix(input, filepath.Ext(input)), OutputSuffix) {
			continue
		}
		stats, err := m.EnrichFile(input, OutputPath(input))
		if err != nil {
			return results, err
		}
		results = append(results, stats)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no files matching %s in %s", pattern, dir)
	}
	return results, nil
}
