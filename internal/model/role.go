package model

// Role is the closed set of crab roles. Every non-"any" role has at most one
// crab per colony (SPEC_FULL.md §3 invariants).
type Role string

const (
	RolePlanner  Role = "planner"
	RoleWorker   Role = "worker"
	RoleReviewer Role = "reviewer"
	RoleAny      Role = "any"
)

var validRoles = map[Role]bool{
	RolePlanner:  true,
	RoleWorker:   true,
	RoleReviewer: true,
	RoleAny:      true,
}

// Valid reports whether r is one of the closed set of roles.
func (r Role) Valid() bool {
	return validRoles[r]
}

// Matches reports whether a crab with role `have` may be assigned a task that
// requires role `want`, under the two-pass rule (exact match first, "any" as
// fallback on either side) described in SPEC_FULL.md §4.5. This only answers
// "is this pairing ever acceptable" — the scheduler still runs the exact-match
// pass before the wildcard pass so a wildcard crab never preempts a specialist.
func (have Role) Matches(want Role) bool {
	return have == want || have == RoleAny || want == RoleAny
}
