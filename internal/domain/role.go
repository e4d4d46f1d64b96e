package domain

import "strings"

// Role is one of the fixed conversational personas of the experience.
type Role string

const (
	RoleHost      Role = "host"
	RoleInvestor  Role = "investor"
	RoleMentor    Role = "mentor"
	RoleAssistant Role = "assistant"
)

// DefaultStageRoles is the stage->role table used when a case does not
// supply its own act ordering. Index 0 is stage 1.
var DefaultStageRoles = []Role{RoleHost, RoleInvestor, RoleMentor, RoleAssistant}

// Roles lists every known role in stage order.
func Roles() []Role {
	return []Role{RoleHost, RoleInvestor, RoleMentor, RoleAssistant}
}

// ParseRole resolves a role tag. Unknown tags fail closed to RoleHost with ok=false.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleHost, RoleInvestor, RoleMentor, RoleAssistant:
		return r, true
	default:
		return RoleHost, false
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleInvestor, RoleMentor, RoleAssistant:
		return true
	default:
		return false
	}
}

// Personalized reports whether the role produces the personalization-bearing artifact.
func (r Role) Personalized() bool {
	return r == RoleAssistant
}

// StageRoleTable maps stages (1-based) to roles.
type StageRoleTable []Role

// Stages returns the number of stages in the table.
func (t StageRoleTable) Stages() int {
	return len(t)
}

// RoleFor returns the role bound to stage. Out-of-range stages return ok=false.
func (t StageRoleTable) RoleFor(stage int) (Role, bool) {
	if stage < 1 || stage > len(t) {
		return RoleHost, false
	}
	return t[stage-1], true
}

// RoleProfile is the display identity of a role.
type RoleProfile struct {
	Name        string
	Act         string
	Description string
}

var roleProfiles = map[Role]RoleProfile{
	RoleHost: {
		Name:        "Decision Host",
		Act:         "Act 1 - Decision Immersion",
		Description: "walk you through the decision exactly as it was faced",
	},
	RoleInvestor: {
		Name:        "Veteran Investor",
		Act:         "Act 2 - Reality Disruption",
		Description: "show you what the real data behind this decision said",
	},
	RoleMentor: {
		Name:        "Cognitive Mentor",
		Act:         "Act 3 - Framework Reconstruction",
		Description: "explain the cognitive bias that shaped the decision",
	},
	RoleAssistant: {
		Name:        "Executive Assistant",
		Act:         "Act 4 - Capability Armament",
		Description: "turn these insights into a decision tool of your own",
	},
}

// Profile returns the display identity of r. Unknown roles get the host profile.
func (r Role) Profile() RoleProfile {
	if p, ok := roleProfiles[r]; ok {
		return p
	}
	return roleProfiles[RoleHost]
}
