package datarouter

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestDetermineSources(t *testing.T) {
	r := New(nil, "", nil)

	cases := []struct {
		name     string
		question string
		want     []string
	}{
		{"EmotionKeywords", "How did students do on emotion matching?", []string{SourceEMT}},
		{"RemoteLearningKeywords", "Summarize remote learning outcomes for grade 3", []string{SourceREAL}},
		{"SELKeywords", "What do the SEL assessments show about self-awareness?", []string{SourceSEL}},
		{"MultipleSources", "Compare emotion recognition with sel skills", []string{SourceEMT, SourceSEL}},
		{"NoMatchGetsAll", "How is my class doing overall?", []string{SourceEMT, SourceREAL, SourceSEL}},
		{"CaseInsensitive", "EMOTIONS in grade three", []string{SourceEMT}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := r.DetermineSources(tc.question)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("question %q: got %v, want %v", tc.question, got, tc.want)
			}
		})
	}
}

func TestDetermineSourcesDisabled(t *testing.T) {
	r := New([]string{"emt"}, "", nil)

	t.Run("DisabledSourceNeverMatches", func(t *testing.T) {
		got := r.DetermineSources("emotion matching task results")
		for _, s := range got {
			if s == SourceEMT {
				t.Errorf("disabled source returned: %v", got)
			}
		}
	})

	t.Run("FallbackExcludesDisabled", func(t *testing.T) {
		got := r.DetermineSources("general question")
		want := []string{SourceREAL, SourceSEL}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})
}

func TestFetch(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "scores.csv")
	content := `ID,School,Grade,Assessment,Total Students,Test Type,Self Awareness
1,Lincoln,3,SEL,20,PRE,30
2,Lincoln,3,SEL,20,POST,42
`
	if err := os.WriteFile(csvPath, []byte(content), 0o644); err != nil {
		t.Fatalf("writing export: %v", err)
	}

	t.Run("AggregatesMatchingScope", func(t *testing.T) {
		r := New(nil, csvPath, nil)
		s := r.Fetch([]string{SourceSEL}, Query{School: "Lincoln", GradeLevel: "3"})
		if s.Aggregated == nil {
			t.Fatal("expected aggregated comparison")
		}
		if d := s.Aggregated.Metrics["self_awareness"].Delta; d != 12 {
			t.Errorf("expected delta 12, got %d", d)
		}
	})

	t.Run("EmptyScopeDegradesToNote", func(t *testing.T) {
		r := New(nil, csvPath, nil)
		s := r.Fetch([]string{SourceSEL}, Query{School: "Nowhere"})
		if s.Aggregated != nil {
			t.Error("expected no aggregate for unmatched scope")
		}
		if len(s.Notes) == 0 {
			t.Error("expected a note explaining the empty result")
		}
	})

	t.Run("MissingExportDegradesToNote", func(t *testing.T) {
		r := New(nil, filepath.Join(t.TempDir(), "missing.csv"), nil)
		s := r.Fetch([]string{SourceSEL}, Query{})
		if s.Aggregated != nil {
			t.Error("expected no aggregate when the export is unreadable")
		}
		if len(s.Notes) == 0 {
			t.Error("expected a degradation note")
		}
	})
}

func TestFormatPrompt(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "scores.csv")
	content := `ID,School,Grade,Assessment,Total Students,Test Type,Self Awareness
1,Lincoln,3,SEL,20,PRE,30
2,Lincoln,3,SEL,20,POST,42
`
	if err := os.WriteFile(csvPath, []byte(content), 0o644); err != nil {
		t.Fatalf("writing export: %v", err)
	}

	r := New(nil, csvPath, nil)
	s := r.Fetch([]string{SourceSEL}, Query{School: "Lincoln", GradeLevel: "3"})
	prompt := s.FormatPrompt()

	for _, want := range []string{"SEL", "grade 3", "self_awareness", "delta=+12"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
