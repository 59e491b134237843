// Package datarouter selects which assessment data sources a question needs
// and assembles the data summary the LLM prompt is built from. Routing is
// keyword matching; questions matching nothing get every enabled source.
package datarouter

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tilliq/classgate/internal/csvdata"
)

// Source identifiers for the three assessment exports.
const (
	SourceEMT  = "EMT"  // Emotion Matching Task
	SourceREAL = "REAL" // Remote Early Assessment of Learning
	SourceSEL  = "SEL"  // Social-Emotional Learning assignments
)

var sourceKeywords = map[string][]string{
	SourceEMT: {
		"emotion", "emotion matching", "emt", "emotions", "emotional", "matching task",
		"emotion recognition", "feeling recognition", "emotion assignment",
	},
	SourceREAL: {
		"remote learning", "real", "distance learning", "online learning",
		"remote assessment", "learning assessment", "academic performance",
		"real evaluation", "real assessment",
	},
	SourceSEL: {
		"sel", "social emotional", "social-emotional", "sel assignment", "sel assessment",
		"self-awareness", "self-management", "social awareness",
		"relationship skills", "responsible decision", "sel skills", "sel data",
	},
}

// Router maps questions to data sources and fetches their aggregates.
type Router struct {
	disabled map[string]bool
	csvPath  string
	logger   *slog.Logger
}

func New(disabled []string, csvPath string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	d := make(map[string]bool, len(disabled))
	for _, s := range disabled {
		d[strings.ToUpper(strings.TrimSpace(s))] = true
	}
	return &Router{disabled: d, csvPath: csvPath, logger: logger}
}

// DetermineSources returns the enabled sources whose keywords appear in the
// question, or all enabled sources when none match. The result is sorted so
// responses are stable.
func (r *Router) DetermineSources(question string) []string {
	q := strings.ToLower(question)
	var sources []string
	for src, keywords := range sourceKeywords {
		if r.disabled[src] {
			continue
		}
		for _, kw := range keywords {
			if strings.Contains(q, kw) {
				sources = append(sources, src)
				break
			}
		}
	}
	if len(sources) == 0 {
		for src := range sourceKeywords {
			if !r.disabled[src] {
				sources = append(sources, src)
			}
		}
	}
	sort.Strings(sources)
	return sources
}

// Query scopes a fetch. All fields are optional; the caller has already
// authorized whatever scope is present.
type Query struct {
	StudentID   string
	ClassroomID string
	GradeLevel  string
	School      string
}

// Summary is the assembled data handed to prompt construction.
type Summary struct {
	Sources    []string            `json:"sources"`
	Scope      Query               `json:"-"`
	Aggregated *csvdata.Comparison `json:"aggregated,omitempty"`
	Notes      []string            `json:"notes,omitempty"`
}

// Fetch gathers the aggregated pre/post comparison for the requested scope.
// A missing or unreadable export degrades to a note rather than failing the
// question.
func (r *Router) Fetch(sources []string, q Query) *Summary {
	s := &Summary{Sources: sources, Scope: q}

	rows, err := csvdata.Load(r.csvPath)
	if err != nil {
		r.logger.Error("loading scores export", "path", r.csvPath, "error", err)
		s.Notes = append(s.Notes, "aggregated assessment data unavailable")
		return s
	}

	filtered := csvdata.Filter(rows, q.School, q.GradeLevel)
	if len(filtered) == 0 {
		s.Notes = append(s.Notes, "no aggregated records match the requested scope")
		return s
	}
	cmp := csvdata.ComparePrePost(filtered)
	s.Aggregated = &cmp
	return s
}

// FormatPrompt renders the summary as the data section of the LLM prompt.
func (s *Summary) FormatPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Data sources consulted: %s\n", strings.Join(s.Sources, ", "))
	if s.Scope.GradeLevel != "" {
		fmt.Fprintf(&b, "Scope: grade %s\n", s.Scope.GradeLevel)
	}
	if s.Aggregated != nil {
		fmt.Fprintf(&b, "Aggregated pre/post comparison (%d pre rows, %d post rows, %d/%d students):\n",
			s.Aggregated.RowsPre, s.Aggregated.RowsPost, s.Aggregated.TotalPre, s.Aggregated.TotalPost)
		keys := make([]string, 0, len(s.Aggregated.Metrics))
		for k := range s.Aggregated.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			m := s.Aggregated.Metrics[k]
			fmt.Fprintf(&b, "- %s: pre=%d post=%d delta=%+d\n", k, m.Pre, m.Post, m.Delta)
		}
	}
	for _, n := range s.Notes {
		fmt.Fprintf(&b, "Note: %s\n", n)
	}
	return b.String()
}
