package api

import (
	"fmt"
	"regexp"
	"strings"
)

// Identifier and grade formats accepted from clients. Anything else is
// rejected before it reaches the guard or a query.
var (
	identifierRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	gradeRe      = regexp.MustCompile(`^[a-zA-Z0-9 _-]{1,20}$`)
)

const maxQuestionLen = 2000

func sanitizeAsk(req *askRequest) error {
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return fmt.Errorf("question is required")
	}
	if len(req.Question) > maxQuestionLen {
		return fmt.Errorf("question exceeds %d characters", maxQuestionLen)
	}
	if strings.ContainsAny(req.Question, "\x00") {
		return fmt.Errorf("question contains invalid characters")
	}
	if req.StudentID != "" && !identifierRe.MatchString(req.StudentID) {
		return fmt.Errorf("invalid student_id")
	}
	if req.ClassroomID != "" && !identifierRe.MatchString(req.ClassroomID) {
		return fmt.Errorf("invalid classroom_id")
	}
	if req.GradeLevel != "" && !gradeRe.MatchString(req.GradeLevel) {
		return fmt.Errorf("invalid grade_level")
	}
	return nil
}
