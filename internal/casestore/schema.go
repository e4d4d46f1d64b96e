package casestore

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"cognitive-blackbox/internal/domain"
)

const (
	minSystemPrompt = 50
	maxSystemPrompt = 5000
)

// Problem is a single schema violation located by path.
type Problem struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError lists every schema violation found in one definition.
type ValidationError struct {
	Source   string
	Problems []Problem
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Message)
	}
	src := e.Source
	if src == "" {
		src = "definition"
	}
	return fmt.Sprintf("casestore: invalid %s: %s", src, strings.Join(msgs, "; "))
}

type problems []Problem

func (ps *problems) add(path, format string, args ...any) {
	*ps = append(*ps, Problem{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (ps problems) err(source string) error {
	if len(ps) == 0 {
		return nil
	}
	return &ValidationError{Source: source, Problems: ps}
}

// ValidateCase checks a decoded case document. Any problem invalidates the whole case.
func ValidateCase(raw map[string]any) error {
	var ps problems
	if raw == nil {
		ps.add("", "case document is empty")
		return ps.err("case")
	}

	for _, f := range []string{"case_metadata", "acts"} {
		if _, ok := raw[f]; !ok {
			ps.add(f, "missing required field '%s'", f)
		}
	}

	if v, ok := raw["case_metadata"]; ok {
		meta, ok := v.(map[string]any)
		if !ok {
			ps.add("case_metadata", "'case_metadata' must be an object")
		} else {
			for _, f := range []string{"case_id", "title", "target_bias"} {
				if _, ok := meta[f]; !ok {
					ps.add("case_metadata."+f, "missing metadata field '%s'", f)
				}
			}
			if d, ok := meta["duration_minutes"]; ok {
				if n, ok := asInt(d); !ok || n <= 0 {
					ps.add("case_metadata.duration_minutes", "duration_minutes must be a positive integer")
				}
			}
		}
	}

	stages := 0
	if v, ok := raw["acts"]; ok {
		acts, ok := v.([]any)
		if !ok {
			ps.add("acts", "'acts' must be a list")
		} else {
			stages = len(acts)
			if stages == 0 {
				ps.add("acts", "'acts' must not be empty")
			}
			for i, a := range acts {
				validateAct(&ps, i, a)
			}
		}
	}

	if v, ok := raw["magic_moments"]; ok {
		moments, ok := v.([]any)
		if !ok {
			ps.add("magic_moments", "'magic_moments' must be a list")
		} else {
			for i, m := range moments {
				validateMoment(&ps, i, m, stages)
			}
		}
	}
	return ps.err("case")
}

func validateAct(ps *problems, i int, v any) {
	path := fmt.Sprintf("acts[%d]", i)
	act, ok := v.(map[string]any)
	if !ok {
		ps.add(path, "act %d must be an object", i)
		return
	}
	for _, f := range []string{"act_id", "act_name", "role", "components"} {
		if _, ok := act[f]; !ok {
			ps.add(path+"."+f, "missing field '%s' in act %d", f, i)
		}
	}
	if id, ok := act["act_id"]; ok {
		if n, ok := asInt(id); !ok || n <= 0 {
			ps.add(path+".act_id", "act_id in act %d must be a positive integer", i)
		}
	}
	if r, ok := act["role"]; ok {
		s, _ := r.(string)
		if _, known := domain.ParseRole(s); !known {
			ps.add(path+".role", "unknown role %q in act %d", s, i)
		}
	}
	c, ok := act["components"]
	if !ok {
		return
	}
	components, ok := c.([]any)
	if !ok {
		ps.add(path+".components", "components in act %d must be a list", i)
		return
	}
	for j, comp := range components {
		cpath := fmt.Sprintf("%s.components[%d]", path, j)
		m, ok := comp.(map[string]any)
		if !ok {
			ps.add(cpath, "component %d in act %d must be an object", j, i)
			continue
		}
		if _, ok := m["component_type"]; !ok {
			ps.add(cpath+".component_type", "component %d in act %d missing 'component_type'", j, i)
		}
	}
}

func validateMoment(ps *problems, i int, v any, stages int) {
	path := fmt.Sprintf("magic_moments[%d]", i)
	m, ok := v.(map[string]any)
	if !ok {
		ps.add(path, "magic moment %d must be an object", i)
		return
	}
	for _, f := range []string{"name", "trigger_step", "description"} {
		if _, ok := m[f]; !ok {
			ps.add(path+"."+f, "missing field '%s' in magic moment %d", f, i)
		}
	}
	if s, ok := m["trigger_step"]; ok {
		n, ok := asInt(s)
		if !ok || n < 1 || (stages > 0 && n > stages) {
			ps.add(path+".trigger_step", "trigger_step in magic moment %d must be an integer between 1 and %d", i, stages)
		}
	}
}

// ValidatePrompt checks a decoded prompt definition.
func ValidatePrompt(raw map[string]any) error {
	var ps problems
	for _, f := range []string{"role_id", "name", "system_prompt"} {
		if _, ok := raw[f]; !ok {
			ps.add(f, "missing required field '%s'", f)
		}
	}
	if v, ok := raw["role_id"]; ok {
		s, _ := v.(string)
		if _, known := domain.ParseRole(s); !known {
			ps.add("role_id", "invalid role_id %q", s)
		}
	}
	if v, ok := raw["system_prompt"]; ok {
		s, _ := v.(string)
		switch n := utf8.RuneCountInString(s); {
		case n < minSystemPrompt:
			ps.add("system_prompt", "system_prompt too short (minimum %d characters)", minSystemPrompt)
		case n > maxSystemPrompt:
			ps.add("system_prompt", "system_prompt too long (maximum %d characters)", maxSystemPrompt)
		}
	}
	if v, ok := raw["fallback_responses"]; ok {
		if _, ok := v.(map[string]any); !ok {
			ps.add("fallback_responses", "'fallback_responses' must be an object")
		}
	}
	return ps.err("prompt")
}

// asInt accepts JSON numbers (float64) and YAML integers.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
