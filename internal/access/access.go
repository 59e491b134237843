// Package access is the single point of truth for tenant isolation and
// role-based data access. Every request that touches student-scoped data goes
// through Guard.Authorize, and every doubt resolves to a deny.
package access

import (
	"context"
	"errors"
	"time"
)

type Role string

const (
	RoleEducator Role = "educator"
	RoleAdmin    Role = "admin"
)

// Principal is the authenticated identity making a request. It is built once
// per request from verified token claims and never from raw request fields.
type Principal struct {
	SubjectID string `json:"subject_id"`
	Role      Role   `json:"role"`
	SchoolID  string `json:"school_id"`
}

type ResourceKind string

const (
	ResourceNone       ResourceKind = "none"
	ResourceStudent    ResourceKind = "student"
	ResourceClassroom  ResourceKind = "classroom"
	ResourceGradeLevel ResourceKind = "grade_level"
)

// ResourceRef names what the principal is trying to read.
type ResourceRef struct {
	Kind ResourceKind `json:"kind"`
	ID   string       `json:"id,omitempty"`
}

func Student(id string) ResourceRef   { return ResourceRef{Kind: ResourceStudent, ID: id} }
func Classroom(id string) ResourceRef { return ResourceRef{Kind: ResourceClassroom, ID: id} }
func GradeLevel(g string) ResourceRef { return ResourceRef{Kind: ResourceGradeLevel, ID: g} }
func NoResource() ResourceRef         { return ResourceRef{Kind: ResourceNone} }

func (r ResourceRef) IsScoped() bool { return r.Kind == ResourceStudent || r.Kind == ResourceClassroom }
func (r ResourceRef) String() string { return string(r.Kind) + ":" + r.ID }

type Outcome string

const (
	Allow Outcome = "ALLOW"
	Deny  Outcome = "DENY"
)

type Reason string

const (
	ReasonAdminSameSchool         Reason = "admin-same-school"
	ReasonEducatorSharedClassroom Reason = "educator-shared-classroom"
	ReasonSchoolScope             Reason = "school-scope"
	ReasonCrossTenant             Reason = "cross-tenant"
	ReasonNoSharedClassroom       Reason = "no-shared-classroom"
	ReasonUnknownRole             Reason = "unknown-role"
	ReasonUnresolvableResource    Reason = "unresolvable-resource"
	ReasonStoreUnavailable        Reason = "store-unavailable"
)

// Decision is the immutable result of one authorization check. Callers must
// translate any Deny into the same generic forbidden response regardless of
// Reason; the reason exists for the audit trail.
type Decision struct {
	Principal Principal   `json:"principal"`
	Resource  ResourceRef `json:"resource"`
	Outcome   Outcome     `json:"outcome"`
	Reason    Reason      `json:"reason"`
	Timestamp time.Time   `json:"timestamp"`
}

func (d Decision) Allowed() bool { return d.Outcome == Allow }

// Relationship lookup errors. Unknown ids and ambiguous tenant mappings are
// data conditions that must resolve to a deny, never to a default tenant.
var (
	ErrNotFound  = errors.New("relationship not found")
	ErrAmbiguous = errors.New("relationship ambiguous")
)

// Store is the read-only relationship source of record. Implementations must
// return only current associations (ended assignments and withdrawn
// enrollments excluded) and ErrNotFound for unknown ids.
type Store interface {
	SchoolOfStudent(ctx context.Context, studentID string) (string, error)
	SchoolOfClassroom(ctx context.Context, classroomID string) (string, error)
	ClassroomsOfEducator(ctx context.Context, educatorID string) ([]string, error)
	ClassroomsOfStudent(ctx context.Context, studentID string) ([]string, error)
}

// Guard evaluates (Principal, ResourceRef) pairs. It holds no mutable state
// and is safe for concurrent use; all relationship data is read per call.
type Guard struct {
	store Store
}

func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// Authorize decides ALLOW or DENY. It never returns an error: absent or
// unreachable relationship data is a deny, not an exceptional condition.
func (g *Guard) Authorize(ctx context.Context, p Principal, r ResourceRef) Decision {
	// Unknown roles deny before any store lookup. Treating them as the least
	// privileged known role would silently grant access.
	if p.Role != RoleEducator && p.Role != RoleAdmin {
		return g.decide(p, r, Deny, ReasonUnknownRole)
	}

	// A principal without a confirmed tenant can be isolated to nothing.
	if p.SchoolID == "" {
		return g.decide(p, r, Deny, ReasonCrossTenant)
	}

	switch r.Kind {
	case ResourceNone, ResourceGradeLevel:
		// Grade-level and school-wide questions carry no per-student scope;
		// isolation is enforced by the principal's own school alone.
		return g.decide(p, r, Allow, ReasonSchoolScope)
	case ResourceStudent, ResourceClassroom:
		// fall through to tenant resolution below
	default:
		return g.decide(p, r, Deny, ReasonUnresolvableResource)
	}

	school, err := g.resolveSchool(ctx, r)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAmbiguous) {
			return g.decide(p, r, Deny, ReasonUnresolvableResource)
		}
		return g.decide(p, r, Deny, ReasonStoreUnavailable)
	}

	// School isolation applies to every role. Admin grants are scoped to the
	// admin's own school, never global.
	if school != p.SchoolID {
		return g.decide(p, r, Deny, ReasonCrossTenant)
	}

	if p.Role == RoleAdmin {
		return g.decide(p, r, Allow, ReasonAdminSameSchool)
	}

	return g.authorizeEducator(ctx, p, r)
}

func (g *Guard) authorizeEducator(ctx context.Context, p Principal, r ResourceRef) Decision {
	mine, err := g.store.ClassroomsOfEducator(ctx, p.SubjectID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return g.decide(p, r, Deny, ReasonStoreUnavailable)
	}

	switch r.Kind {
	case ResourceClassroom:
		for _, c := range mine {
			if c == r.ID {
				return g.decide(p, r, Allow, ReasonEducatorSharedClassroom)
			}
		}
		return g.decide(p, r, Deny, ReasonNoSharedClassroom)
	default: // ResourceStudent
		theirs, err := g.store.ClassroomsOfStudent(ctx, r.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return g.decide(p, r, Deny, ReasonStoreUnavailable)
		}
		if intersects(mine, theirs) {
			return g.decide(p, r, Allow, ReasonEducatorSharedClassroom)
		}
		return g.decide(p, r, Deny, ReasonNoSharedClassroom)
	}
}

func (g *Guard) resolveSchool(ctx context.Context, r ResourceRef) (string, error) {
	if r.Kind == ResourceClassroom {
		return g.store.SchoolOfClassroom(ctx, r.ID)
	}
	return g.store.SchoolOfStudent(ctx, r.ID)
}

func (g *Guard) decide(p Principal, r ResourceRef, o Outcome, reason Reason) Decision {
	return Decision{
		Principal: p,
		Resource:  r,
		Outcome:   o,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}
