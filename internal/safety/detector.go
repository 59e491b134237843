// Package safety screens question and answer text for content that must be
// alerted on or withheld. Detection is pattern matching over a small category
// table; anything flagged is recorded to the audit trail by the caller, and
// high or critical severity blocks the content.
package safety

import (
	"regexp"
	"sort"
	"strings"
)

// Severity levels, lowest to highest. High and critical block.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var severityRank = map[string]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

type category struct {
	name     string
	severity string
	pattern  *regexp.Regexp
}

// Word-boundary patterns keep benign text clean: "skills" must not match
// "kill", "class" must not match "harass".
var categories = []category{
	{
		name:     "self_harm",
		severity: SeverityCritical,
		pattern: regexp.MustCompile(`(?i)\b(?:kill (?:myself|himself|herself|themselves)|` +
			`suicide|suicidal|self[- ]harm|hurt (?:myself|himself|herself|themselves)|` +
			`end (?:my|his|her|their) life|cutting (?:myself|himself|herself))\b`),
	},
	{
		name:     "violence",
		severity: SeverityHigh,
		pattern: regexp.MustCompile(`(?i)\b(?:kill|shoot|stab|attack|bomb|` +
			`hurt (?:you|them|someone|everyone))\b`),
	},
	{
		name:     "weapons",
		severity: SeverityHigh,
		pattern:  regexp.MustCompile(`(?i)\b(?:gun|guns|firearm|knife|knives|weapon|weapons|explosive)\b`),
	},
	{
		name:     "abuse",
		severity: SeverityHigh,
		pattern:  regexp.MustCompile(`(?i)\b(?:abuse|abused|abusing|molest|molested|neglect(?:ed)?)\b`),
	},
	{
		name:     "harassment",
		severity: SeverityMedium,
		pattern:  regexp.MustCompile(`(?i)\b(?:bully|bullied|bullying|harass(?:ed|ment|ing)?|threaten(?:ed|ing)?)\b`),
	},
}

// Detection is the result of screening one piece of text.
type Detection struct {
	Harmful    bool
	Severity   string
	Categories []string
	Matches    int
}

// ShouldBlock reports whether the screened content must be withheld rather
// than merely alerted on.
func (d Detection) ShouldBlock() bool {
	return d.Harmful && severityRank[d.Severity] >= severityRank[SeverityHigh]
}

// Detector screens text against the category table. A disabled detector
// flags nothing.
type Detector struct {
	enabled bool
}

func NewDetector(enabled bool) *Detector {
	return &Detector{enabled: enabled}
}

// Scan checks text against every category and returns the combined result.
// Severity is the highest severity among matched categories.
func (d *Detector) Scan(text string) Detection {
	if !d.enabled || strings.TrimSpace(text) == "" {
		return Detection{}
	}

	var det Detection
	for _, c := range categories {
		matches := c.pattern.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		det.Harmful = true
		det.Matches += len(matches)
		det.Categories = append(det.Categories, c.name)
		if severityRank[c.severity] > severityRank[det.Severity] {
			det.Severity = c.severity
		}
	}
	if det.Harmful {
		sort.Strings(det.Categories)
	}
	return det
}
