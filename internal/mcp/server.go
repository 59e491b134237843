// Package mcp exposes the gateway's ask and access-check operations as MCP
// tools over stdio. Tool calls authenticate, authorize, and audit exactly
// like the HTTP path; the transport grants nothing by itself.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tilliq/classgate/internal/access"
	"github.com/tilliq/classgate/internal/audit"
	"github.com/tilliq/classgate/internal/auth"
	"github.com/tilliq/classgate/internal/datarouter"
	"github.com/tilliq/classgate/internal/llm"
	"github.com/tilliq/classgate/internal/safety"
)

// Deps are the shared services the tools operate on.
type Deps struct {
	Auth       *auth.Auth
	Guard      *access.Guard
	Trail      *audit.Trail
	Router     *datarouter.Router
	Engine     *llm.Engine
	Detector   *safety.Detector
	ArchiveDir string
}

// NewServer creates an MCPServer with the gateway tools registered.
func NewServer(version string, deps Deps) *server.MCPServer {
	srv := server.NewMCPServer(
		"classgate",
		version,
		server.WithToolCapabilities(true),
	)

	registerAskQuestion(srv, deps)
	registerCheckAccess(srv, deps)
	registerVerifyArchives(srv, deps)

	return srv
}

// ServeStdio runs the MCP server on stdin/stdout until EOF.
func ServeStdio(srv *server.MCPServer) error {
	return server.ServeStdio(srv)
}

const deniedMessage = "Access denied: You are not authorized to view this student or class."

const (
	blockedQuestionMessage = "Your question contains content that cannot be processed. If you believe this is an error, please contact support."
	blockedAnswerMessage   = "I'm unable to provide a complete response at this time. Please rephrase your question or contact support for assistance."
)

func registerAskQuestion(srv *server.MCPServer, deps Deps) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"token":        map[string]string{"type": "string", "description": "Bearer token of the educator or admin"},
			"question":     map[string]string{"type": "string", "description": "Natural-language question about assessment data"},
			"student_id":   map[string]string{"type": "string", "description": "Optional student scope"},
			"classroom_id": map[string]string{"type": "string", "description": "Optional classroom scope"},
			"grade_level":  map[string]string{"type": "string", "description": "Optional grade-level scope"},
		},
		"required": []string{"token", "question"},
	})
	tool := mcp.NewToolWithRawSchema("ask_question", "Ask a question about student assessment data", schema)

	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		principal, ok := principalFromToken(deps.Auth, stringArg(args, "token"))
		if !ok {
			return mcp.NewToolResultError("authentication required"), nil
		}

		question := stringArg(args, "question")
		if strings.TrimSpace(question) == "" {
			return mcp.NewToolResultError("question is required"), nil
		}

		// Tool calls are screened exactly like HTTP requests.
		if det := deps.Detector.Scan(question); det.Harmful {
			recordHarmful(deps.Trail, principal, det, "question", question)
			if det.ShouldBlock() {
				return mcp.NewToolResultError(blockedQuestionMessage), nil
			}
		}

		resources := scopedResources(
			stringArg(args, "student_id"),
			stringArg(args, "classroom_id"),
			stringArg(args, "grade_level"),
		)
		for _, res := range resources {
			decision := deps.Guard.Authorize(ctx, principal, res)
			recordDecision(deps.Trail, decision, "mcp")
			if !decision.Allowed() {
				return mcp.NewToolResultError(deniedMessage), nil
			}
		}

		sources := deps.Router.DetermineSources(question)
		summary := deps.Router.Fetch(sources, datarouter.Query{
			StudentID:   stringArg(args, "student_id"),
			ClassroomID: stringArg(args, "classroom_id"),
			GradeLevel:  stringArg(args, "grade_level"),
			School:      principal.SchoolID,
		})

		answer, err := deps.Engine.Generate(ctx, question, summary.FormatPrompt())
		if err == nil {
			if det := deps.Detector.Scan(answer); det.Harmful {
				recordHarmful(deps.Trail, principal, det, "answer", answer)
				if det.ShouldBlock() {
					answer = blockedAnswerMessage
				}
			}
		}
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		deps.Trail.Record(audit.Entry{
			EventType: audit.EventDataAccess,
			Actor:     audit.Actor{SubjectID: principal.SubjectID, Role: string(principal.Role)},
			Resource:  describeResources(resources),
			Purpose:   "answer-educator-question",
			Outcome:   outcome,
			Detail:    map[string]string{"transport": "mcp", "data_sources": strings.Join(sources, ",")},
		})
		if err != nil {
			return mcp.NewToolResultError("answer generation failed"), nil
		}

		out, _ := json.Marshal(map[string]any{
			"answer":       answer,
			"data_sources": sources,
		})
		return mcp.NewToolResultText(string(out)), nil
	})
}

func registerCheckAccess(srv *server.MCPServer, deps Deps) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"token":        map[string]string{"type": "string", "description": "Bearer token of the caller"},
			"student_id":   map[string]string{"type": "string", "description": "Student to check access to"},
			"classroom_id": map[string]string{"type": "string", "description": "Classroom to check access to"},
		},
		"required": []string{"token"},
	})
	tool := mcp.NewToolWithRawSchema("check_access", "Check whether the caller may access a student or classroom", schema)

	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		principal, ok := principalFromToken(deps.Auth, stringArg(args, "token"))
		if !ok {
			return mcp.NewToolResultError("authentication required"), nil
		}

		resources := scopedResources(stringArg(args, "student_id"), stringArg(args, "classroom_id"), "")
		outcome := access.Allow
		for _, res := range resources {
			decision := deps.Guard.Authorize(ctx, principal, res)
			recordDecision(deps.Trail, decision, "mcp")
			if !decision.Allowed() {
				outcome = access.Deny
			}
		}

		// The internal reason stays internal; only the outcome is returned.
		out, _ := json.Marshal(map[string]string{"outcome": string(outcome)})
		return mcp.NewToolResultText(string(out)), nil
	})
}

func registerVerifyArchives(srv *server.MCPServer, deps Deps) {
	schema, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	})
	tool := mcp.NewToolWithRawSchema("verify_archives", "Verify checksums of archived audit segments", schema)

	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		results, err := audit.VerifyArchives(deps.ArchiveDir)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("verification failed: %v", err)), nil
		}
		type result struct {
			Archive string `json:"archive"`
			OK      bool   `json:"ok"`
			Error   string `json:"error,omitempty"`
		}
		out := make([]result, 0, len(results))
		for _, r := range results {
			item := result{Archive: r.Archive, OK: r.OK}
			if r.Err != nil {
				item.Error = r.Err.Error()
			}
			out = append(out, item)
		}
		b, _ := json.Marshal(out)
		return mcp.NewToolResultText(string(b)), nil
	})
}

// --- helpers ---

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func principalFromToken(a *auth.Auth, token string) (access.Principal, bool) {
	claims, err := a.ValidateToken(token)
	if err != nil {
		return access.Principal{}, false
	}
	return access.Principal{
		SubjectID: claims.UserID,
		Role:      access.Role(claims.Role),
		SchoolID:  claims.SchoolID,
	}, true
}

func scopedResources(studentID, classroomID, gradeLevel string) []access.ResourceRef {
	var out []access.ResourceRef
	if studentID != "" {
		out = append(out, access.Student(studentID))
	}
	if classroomID != "" {
		out = append(out, access.Classroom(classroomID))
	}
	if len(out) == 0 {
		if gradeLevel != "" {
			return []access.ResourceRef{access.GradeLevel(gradeLevel)}
		}
		return []access.ResourceRef{access.NoResource()}
	}
	return out
}

func describeResources(resources []access.ResourceRef) string {
	parts := make([]string, 0, len(resources))
	for _, r := range resources {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, "+")
}

func recordHarmful(trail *audit.Trail, p access.Principal, det safety.Detection, where, text string) {
	outcome := "flagged"
	if det.ShouldBlock() {
		outcome = "blocked"
	}
	if len(text) > 200 {
		text = text[:200]
	}
	trail.Record(audit.Entry{
		EventType: audit.EventHarmfulContent,
		Actor:     audit.Actor{SubjectID: p.SubjectID, Role: string(p.Role)},
		Purpose:   "harmful-content-screen",
		Outcome:   outcome,
		Severity:  det.Severity,
		Detail: map[string]string{
			"transport":  "mcp",
			"context":    where,
			"categories": strings.Join(det.Categories, ","),
			"matches":    fmt.Sprintf("%d", det.Matches),
			"school_id":  p.SchoolID,
			"preview":    text,
		},
	})
}

func recordDecision(trail *audit.Trail, d access.Decision, transport string) {
	eventType := audit.EventDataAccess
	if !d.Allowed() {
		eventType = audit.EventSecurity
	}
	trail.Record(audit.Entry{
		EventType: eventType,
		Actor:     audit.Actor{SubjectID: d.Principal.SubjectID, Role: string(d.Principal.Role)},
		Resource:  d.Resource.String(),
		Purpose:   string(d.Reason),
		Outcome:   string(d.Outcome),
		Detail:    map[string]string{"transport": transport, "school_id": d.Principal.SchoolID},
	})
}
