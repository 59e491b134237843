// Package csvdata loads aggregated assessment score exports and computes
// PRE vs POST comparisons for program-level questions.
package csvdata

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Row is one normalized line of a scores export. Metric columns vary between
// exports, so they are kept as a map keyed by lower_snake_case header.
type Row struct {
	ID            string
	School        string
	Grade         string
	Assessment    string
	TotalStudents int
	TestType      string // "PRE" or "POST"
	Metrics       map[string]int
}

var fixedHeaders = map[string]bool{
	"ID": true, "School": true, "Grade": true,
	"Assessment": true, "Total Students": true, "Test Type": true,
}

// Load reads a scores export CSV. Non-numeric metric values count as zero,
// matching how partial exports are handled upstream.
func Load(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening scores export: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing scores export: %w", err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("scores export is empty")
	}

	header := records[0]
	if len(header) > 0 {
		// Exports from spreadsheet tools often carry a BOM.
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := Row{Metrics: make(map[string]int)}
		for i, val := range rec {
			if i >= len(header) {
				break
			}
			switch header[i] {
			case "ID":
				row.ID = val
			case "School":
				row.School = val
			case "Grade":
				row.Grade = val
			case "Assessment":
				row.Assessment = val
			case "Total Students":
				row.TotalStudents = toInt(val)
			case "Test Type":
				row.TestType = val
			default:
				key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(header[i]), " ", "_"))
				row.Metrics[key] = toInt(val)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func toInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// Filter returns rows matching the given school and grade; empty filters
// match everything. Matching is case-insensitive.
func Filter(rows []Row, school, grade string) []Row {
	var out []Row
	for _, r := range rows {
		if school != "" && !strings.EqualFold(r.School, school) {
			continue
		}
		if grade != "" && !strings.EqualFold(r.Grade, grade) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// MetricDelta is one metric's PRE/POST totals and their difference.
type MetricDelta struct {
	Pre   int `json:"pre"`
	Post  int `json:"post"`
	Delta int `json:"delta"`
}

// Comparison aggregates a row set into PRE vs POST totals per metric. When
// multiple rows fall into a bucket their values are summed.
type Comparison struct {
	TotalPre  int                    `json:"total_pre"`
	TotalPost int                    `json:"total_post"`
	RowsPre   int                    `json:"rows_pre"`
	RowsPost  int                    `json:"rows_post"`
	Metrics   map[string]MetricDelta `json:"metrics"`
}

// ComparePrePost computes the PRE vs POST comparison over rows.
func ComparePrePost(rows []Row) Comparison {
	cmp := Comparison{Metrics: make(map[string]MetricDelta)}
	pre := make(map[string]int)
	post := make(map[string]int)

	for _, r := range rows {
		switch strings.ToUpper(r.TestType) {
		case "PRE":
			cmp.RowsPre++
			cmp.TotalPre += r.TotalStudents
			for k, v := range r.Metrics {
				pre[k] += v
			}
		case "POST":
			cmp.RowsPost++
			cmp.TotalPost += r.TotalStudents
			for k, v := range r.Metrics {
				post[k] += v
			}
		}
	}

	for k := range pre {
		cmp.Metrics[k] = MetricDelta{Pre: pre[k], Post: post[k], Delta: post[k] - pre[k]}
	}
	for k := range post {
		if _, ok := cmp.Metrics[k]; !ok {
			cmp.Metrics[k] = MetricDelta{Post: post[k], Delta: post[k]}
		}
	}
	return cmp
}
