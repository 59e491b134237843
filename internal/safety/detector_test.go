package safety

import "testing"

func TestScan(t *testing.T) {
	d := NewDetector(true)

	t.Run("SelfHarmIsCritical", func(t *testing.T) {
		det := d.Scan("The student said she wants to hurt herself")
		if !det.Harmful {
			t.Fatal("expected harmful")
		}
		if det.Severity != SeverityCritical {
			t.Errorf("expected critical, got %q", det.Severity)
		}
		if !det.ShouldBlock() {
			t.Error("critical content must block")
		}
	})

	t.Run("WeaponsAreHigh", func(t *testing.T) {
		det := d.Scan("Did anyone bring a knife to school?")
		if !det.Harmful || det.Severity != SeverityHigh {
			t.Fatalf("expected high severity, got %+v", det)
		}
		if !det.ShouldBlock() {
			t.Error("high severity must block")
		}
	})

	t.Run("HarassmentFlaggedNotBlocked", func(t *testing.T) {
		det := d.Scan("Which students were bullied this semester?")
		if !det.Harmful || det.Severity != SeverityMedium {
			t.Fatalf("expected medium severity, got %+v", det)
		}
		if det.ShouldBlock() {
			t.Error("medium severity must not block")
		}
	})

	t.Run("SeverityIsMaxAcrossCategories", func(t *testing.T) {
		det := d.Scan("He was bullied and now talks about suicide")
		if det.Severity != SeverityCritical {
			t.Errorf("expected critical, got %q", det.Severity)
		}
		if len(det.Categories) != 2 {
			t.Errorf("expected two categories, got %v", det.Categories)
		}
		if det.Matches != 2 {
			t.Errorf("expected two matches, got %d", det.Matches)
		}
	})

	t.Run("CleanEducatorText", func(t *testing.T) {
		// Substrings of flagged words must not trip the word-boundary
		// patterns: "skills" contains "kill", "class" is near "harass".
		for _, q := range []string{
			"How did students do on emotion matching skills?",
			"Compare pre and post scores for my class",
			"Which classroom improved the most this year?",
		} {
			if det := d.Scan(q); det.Harmful {
				t.Errorf("clean text flagged: %q -> %+v", q, det)
			}
		}
	})

	t.Run("EmptyText", func(t *testing.T) {
		if det := d.Scan("   "); det.Harmful {
			t.Errorf("blank text flagged: %+v", det)
		}
	})
}

func TestDisabledDetectorFlagsNothing(t *testing.T) {
	d := NewDetector(false)
	if det := d.Scan("kill shoot stab suicide"); det.Harmful {
		t.Errorf("disabled detector flagged content: %+v", det)
	}
}
