// Package demo generates a synthetic assessments corpus for local runs.
package demo

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/aquamitra/aquamitra/internal/placemap"
)

// Header is the column order of generated files.
var Header = []string{
	"place", "state", "rainfall",
	"groundwater_refilled_total", "groundwater_used_total", "groundwater_status",
	"land_total", "land_nonirrigated", "land_irrigated", "year",
}

type Row struct {
	Place            string
	State            string
	Rainfall         float64
	Refilled         float64
	Used             float64
	Status           string
	LandTotal        float64
	LandNonIrrigated float64
	LandIrrigated    float64
	Year             int
}

func (r Row) record() []string {
	return []string{
		r.Place,
		r.State,
		formatFloat(r.Rainfall),
		formatFloat(r.Refilled),
		formatFloat(r.Used),
		r.Status,
		formatFloat(r.LandTotal),
		formatFloat(r.LandNonIrrigated),
		formatFloat(r.LandIrrigated),
		strconv.Itoa(r.Year),
	}
}

type Generator struct {
	rnd    *rand.Rand
	places []placemap.Place
}

func NewGenerator(seed int64, places []placemap.Place) (*Generator, error) {
	if len(places) == 0 {
		return nil, fmt.Errorf("at least one place is required")
	}
	return &Generator{rnd: rand.New(rand.NewSource(seed)), places: places}, nil
}

// NextRow returns one assessment for year. The status follows the stage of
// extraction, used/refilled in percent: up to 70 safe, up to 90
// semi_critical, up to 100 critical, above that over_exploited.
func (g *Generator) NextRow(year int) Row {
	place := g.places[g.rnd.Intn(len(g.places))]
	rainfall := round2(300 + g.rnd.Float64()*2700)
	refilled := round2(500 + rainfall*(1+g.rnd.Float64()*4))
	used := round2(refilled * (0.3 + g.rnd.Float64()*1.1))
	landTotal := round2(5000 + g.rnd.Float64()*95000)
	irrigated := round2(landTotal * (0.1 + g.rnd.Float64()*0.7))

	return Row{
		Place:            titleCase(place.Name),
		State:            place.State,
		Rainfall:         rainfall,
		Refilled:         refilled,
		Used:             used,
		Status:           StatusFor(refilled, used),
		LandTotal:        landTotal,
		LandNonIrrigated: round2(landTotal - irrigated),
		LandIrrigated:    irrigated,
		Year:             year,
	}
}

func StatusFor(refilled, used float64) string {
	if refilled <= 0 {
		return "over_exploited"
	}
	stage := used / refilled * 100
	switch {
	case stage <= 70:
		return "safe"
	case stage <= 90:
		return "semi_critical"
	case stage <= 100:
		return "critical"
	default:
		return "over_exploited"
	}
}

// WriteCSV writes n rows for year with a header line.
func (g *Generator) WriteCSV(w io.Writer, year, n int) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := 0; i < n; i++ {
		if err := writer.Write(g.NextRow(year).record()); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteCorpus writes groundwater_<year>.csv for every year into dir and
// returns the file paths.
func (g *Generator) WriteCorpus(dir string, years []int, rowsPerYear int) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	paths := make([]string, 0, len(years))
	for _, year := range years {
		path := filepath.Join(dir, fmt.Sprintf("groundwater_%d.csv", year))
		file, err := os.Create(path)
		if err != nil {
			return paths, fmt.Errorf("create %s: %w", path, err)
		}
		err = g.WriteCSV(file, year, rowsPerYear)
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return paths, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64)
}

func titleCase(name string) string {
	words := strings.Fields(name)
	for i, word := range words {
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
