package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/tilliq/classgate/internal/access"
	"github.com/tilliq/classgate/internal/audit"
	"github.com/tilliq/classgate/internal/datarouter"
	"github.com/tilliq/classgate/internal/safety"
)

// maxAskBody bounds the request body for the ask endpoint.
const maxAskBody = 64 * 1024

// Messages returned when screening withholds content.
const (
	blockedQuestionMessage = "Your question contains content that cannot be processed. If you believe this is an error, please contact support."
	blockedAnswerMessage   = "I'm unable to provide a complete response at this time. Please rephrase your question or contact support for assistance."
)

type askRequest struct {
	Question    string `json:"question"`
	StudentID   string `json:"student_id,omitempty"`
	ClassroomID string `json:"classroom_id,omitempty"`
	GradeLevel  string `json:"grade_level,omitempty"`
}

type askResponse struct {
	Answer      string   `json:"answer"`
	DataSources []string `json:"data_sources"`
	Confidence  string   `json:"confidence"`
}

// handleAsk is the main educator endpoint: authorize the requested scope,
// audit the decision, fetch data, generate the answer, audit the access.
func (a *API) handleAsk(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principalFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req askRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxAskBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := sanitizeAsk(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Screen the question before any relationship lookup or model call. Every
	// flag is audited; high and critical severity stop the request here.
	if det := a.detector.Scan(req.Question); det.Harmful {
		a.recordHarmful(principal, det, "question", req.Question)
		if det.ShouldBlock() {
			a.logger.Warn("blocked harmful question",
				"user", principal.SubjectID, "severity", det.Severity)
			writeError(w, http.StatusBadRequest, blockedQuestionMessage)
			return
		}
	}

	// Every scope named in the request must pass; recording the decision is
	// unconditional on both outcomes.
	resources := requestedResources(req)
	for _, res := range resources {
		decision := a.guard.Authorize(r.Context(), principal, res)
		a.recordDecision(decision)
		if !decision.Allowed() {
			writeError(w, http.StatusForbidden, deniedMessage)
			return
		}
	}

	sources := a.router.DetermineSources(req.Question)
	summary := a.router.Fetch(sources, datarouter.Query{
		StudentID:   req.StudentID,
		ClassroomID: req.ClassroomID,
		GradeLevel:  req.GradeLevel,
		School:      principal.SchoolID,
	})

	answer, err := a.engine.Generate(r.Context(), req.Question, summary.FormatPrompt())

	// The model's answer is screened the same way as the question; a blocked
	// answer is replaced rather than failing the request.
	if err == nil {
		if det := a.detector.Scan(answer); det.Harmful {
			a.recordHarmful(principal, det, "answer", answer)
			if det.ShouldBlock() {
				a.logger.Warn("withheld harmful answer",
					"user", principal.SubjectID, "severity", det.Severity)
				answer = blockedAnswerMessage
			}
		}
	}

	// The access happened whether or not the response makes it back to the
	// educator; the audit write is not tied to request cancellation.
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	a.trail.Record(audit.Entry{
		EventType: audit.EventDataAccess,
		Actor:     audit.Actor{SubjectID: principal.SubjectID, Role: string(principal.Role)},
		Resource:  resourceDescriptor(resources),
		Purpose:   "answer-educator-question",
		Outcome:   outcome,
		Detail: map[string]string{
			"data_sources": strings.Join(sources, ","),
			"school_id":    principal.SchoolID,
		},
	})

	if err != nil {
		a.logger.Error("answer generation failed", "error", err, "user", principal.SubjectID)
		writeError(w, http.StatusBadGateway, "An error occurred processing your question. Please try again later.")
		return
	}

	confidence := "medium"
	if len(sources) >= 2 {
		confidence = "high"
	} else if len(sources) == 0 {
		confidence = "low"
	}
	writeJSON(w, http.StatusOK, askResponse{
		Answer:      answer,
		DataSources: sources,
		Confidence:  confidence,
	})
}

// requestedResources maps the optional request filters to resource refs. A
// request with no filters is a school-wide question.
func requestedResources(req askRequest) []access.ResourceRef {
	var out []access.ResourceRef
	if req.StudentID != "" {
		out = append(out, access.Student(req.StudentID))
	}
	if req.ClassroomID != "" {
		out = append(out, access.Classroom(req.ClassroomID))
	}
	if len(out) == 0 {
		if req.GradeLevel != "" {
			return []access.ResourceRef{access.GradeLevel(req.GradeLevel)}
		}
		return []access.ResourceRef{access.NoResource()}
	}
	return out
}

func resourceDescriptor(resources []access.ResourceRef) string {
	parts := make([]string, 0, len(resources))
	for _, r := range resources {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, "+")
}

// recordHarmful writes a harmful_content entry for a flagged question or
// answer. The preview is capped so entries stay small.
func (a *API) recordHarmful(p access.Principal, det safety.Detection, where, text string) {
	outcome := "flagged"
	if det.ShouldBlock() {
		outcome = "blocked"
	}
	a.trail.Record(audit.Entry{
		EventType: audit.EventHarmfulContent,
		Actor:     audit.Actor{SubjectID: p.SubjectID, Role: string(p.Role)},
		Purpose:   "harmful-content-screen",
		Outcome:   outcome,
		Severity:  det.Severity,
		Detail: map[string]string{
			"context":    where,
			"categories": strings.Join(det.Categories, ","),
			"matches":    strconv.Itoa(det.Matches),
			"school_id":  p.SchoolID,
			"preview":    preview(text, 200),
		},
	})
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// recordDecision writes the authorization outcome to the trail. Allowed
// checks are data-access events; denials are security events.
func (a *API) recordDecision(d access.Decision) {
	eventType := audit.EventDataAccess
	if !d.Allowed() {
		eventType = audit.EventSecurity
	}
	a.trail.Record(audit.Entry{
		EventType: eventType,
		Actor:     audit.Actor{SubjectID: d.Principal.SubjectID, Role: string(d.Principal.Role)},
		Resource:  d.Resource.String(),
		Purpose:   string(d.Reason),
		Outcome:   string(d.Outcome),
		Detail:    map[string]string{"school_id": d.Principal.SchoolID},
	})
}
