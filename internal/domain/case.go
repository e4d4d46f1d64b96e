package domain

import "strings"

// ComponentType tags a content component inside an act.
type ComponentType string

const (
	ComponentActHeader        ComponentType = "act_header"
	ComponentDecisionPoints   ComponentType = "decision_points"
	ComponentKnowledgeCard    ComponentType = "knowledge_card"
	ComponentRealityCheck     ComponentType = "reality_check"
	ComponentInteractiveInput ComponentType = "interactive_input"
	ComponentAIToolGeneration ComponentType = "ai_tool_generation"
	ComponentUnknown          ComponentType = "unknown"
)

// ParseComponentType resolves a component tag. Unknown tags map to ComponentUnknown.
func ParseComponentType(s string) (ComponentType, bool) {
	switch c := ComponentType(strings.ToLower(strings.TrimSpace(s))); c {
	case ComponentActHeader, ComponentDecisionPoints, ComponentKnowledgeCard,
		ComponentRealityCheck, ComponentInteractiveInput, ComponentAIToolGeneration:
		return c, true
	default:
		return ComponentUnknown, false
	}
}

// UnmarshalText decodes a component tag, failing closed to ComponentUnknown.
func (c *ComponentType) UnmarshalText(b []byte) error {
	*c, _ = ParseComponentType(string(b))
	return nil
}

type CaseMetadata struct {
	CaseID          string `json:"case_id"`
	Title           string `json:"title"`
	TargetBias      string `json:"target_bias"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Difficulty      string `json:"difficulty,omitempty"`
}

type Component struct {
	Type    ComponentType  `json:"component_type"`
	Title   string         `json:"title,omitempty"`
	Content map[string]any `json:"content,omitempty"`
}

type Act struct {
	ID         int         `json:"act_id"`
	Name       string      `json:"act_name"`
	Role       Role        `json:"role"`
	ThemeColor string      `json:"theme_color,omitempty"`
	Components []Component `json:"components"`
}

// MagicMomentDefinition declares a one-shot narrative marker on a case.
type MagicMomentDefinition struct {
	Name         string         `json:"name"`
	TriggerStage int            `json:"trigger_step"`
	Description  string         `json:"description"`
	Effect       map[string]any `json:"effect,omitempty"`
}

// CaseDefinition is an immutable, validated case study.
type CaseDefinition struct {
	Metadata      CaseMetadata            `json:"case_metadata"`
	Acts          []Act                   `json:"acts"`
	MagicMoments  []MagicMomentDefinition `json:"magic_moments,omitempty"`
	DefaultInputs map[string]string       `json:"default_inputs,omitempty"`
}

// StageRoles returns the stage->role table formed by the act roles in order.
// A case without acts uses DefaultStageRoles.
func (c CaseDefinition) StageRoles() StageRoleTable {
	if len(c.Acts) == 0 {
		return append(StageRoleTable(nil), DefaultStageRoles...)
	}
	out := make(StageRoleTable, 0, len(c.Acts))
	for _, a := range c.Acts {
		r, _ := ParseRole(string(a.Role))
		out = append(out, r)
	}
	return out
}

// Act returns the act bound to stage (1-based).
func (c CaseDefinition) Act(stage int) (Act, bool) {
	if stage < 1 || stage > len(c.Acts) {
		return Act{}, false
	}
	return c.Acts[stage-1], true
}

// PromptDefinition is the per-role prompt record supplied by the case store.
type PromptDefinition struct {
	RoleID            Role              `json:"role_id"`
	Name              string            `json:"name"`
	SystemPrompt      string            `json:"system_prompt"`
	FallbackResponses map[string]string `json:"fallback_responses,omitempty"`
}
