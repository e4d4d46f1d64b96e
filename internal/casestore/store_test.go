package casestore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"cognitive-blackbox/internal/domain"
)

const validCaseJSON = `{
  "case_metadata": {"case_id": "madoff", "title": "The Madoff Trap", "target_bias": "authority_bias", "duration_minutes": 20},
  "acts": [
    {"act_id": 1, "act_name": "Decision Immersion", "role": "host", "theme_color": "#1f2937",
     "components": [{"component_type": "act_header"}, {"component_type": "decision_points"}]},
    {"act_id": 2, "act_name": "Reality Disruption", "role": "investor",
     "components": [{"component_type": "reality_check"}]},
    {"act_id": 3, "act_name": "Framework Reconstruction", "role": "mentor",
     "components": [{"component_type": "knowledge_card"}]},
    {"act_id": 4, "act_name": "Capability Armament", "role": "assistant",
     "components": [{"component_type": "ai_tool_generation"}, {"component_type": "hologram"}]}
  ],
  "magic_moments": [
    {"name": "reality_disruption", "trigger_step": 2, "description": "The numbers were never real"}
  ]
}`

const validCaseYAML = `
case_metadata:
  case_id: ltcm
  title: Long-Term Capital
  target_bias: overconfidence
acts:
  - act_id: 1
    act_name: Decision Immersion
    role: host
    components:
      - component_type: act_header
  - act_id: 2
    act_name: Reality Disruption
    role: investor
    components:
      - component_type: reality_check
`

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &raw))
	return raw
}

func expectProblems(t *testing.T, err error) []Problem {
	t.Helper()
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.NotEmpty(t, ve.Problems)
	return ve.Problems
}

func TestValidateCase_Valid(t *testing.T) {
	require.NoError(t, ValidateCase(decode(t, validCaseJSON)))
}

func TestValidateCase_MissingComponentsReferencesAct(t *testing.T) {
	raw := decode(t, validCaseJSON)
	acts := raw["acts"].([]any)
	delete(acts[2].(map[string]any), "components")

	ps := expectProblems(t, ValidateCase(raw))
	require.Len(t, ps, 1)
	require.Equal(t, "acts[2].components", ps[0].Path)
	require.Equal(t, "missing field 'components' in act 2", ps[0].Message)
}

func TestValidateCase_Problems(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(raw map[string]any)
		path   string
	}{
		{name: "missing acts", mutate: func(raw map[string]any) { delete(raw, "acts") }, path: "acts"},
		{name: "missing metadata", mutate: func(raw map[string]any) { delete(raw, "case_metadata") }, path: "case_metadata"},
		{name: "missing target bias", mutate: func(raw map[string]any) {
			delete(raw["case_metadata"].(map[string]any), "target_bias")
		}, path: "case_metadata.target_bias"},
		{name: "bad duration", mutate: func(raw map[string]any) {
			raw["case_metadata"].(map[string]any)["duration_minutes"] = -3.0
		}, path: "case_metadata.duration_minutes"},
		{name: "component type", mutate: func(raw map[string]any) {
			act := raw["acts"].([]any)[1].(map[string]any)
			act["components"] = []any{map[string]any{"title": "x"}}
		}, path: "acts[1].components[0].component_type"},
		{name: "unknown role", mutate: func(raw map[string]any) {
			raw["acts"].([]any)[0].(map[string]any)["role"] = "narrator"
		}, path: "acts[0].role"},
		{name: "moment out of range", mutate: func(raw map[string]any) {
			raw["magic_moments"].([]any)[0].(map[string]any)["trigger_step"] = 9.0
		}, path: "magic_moments[0].trigger_step"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := decode(t, validCaseJSON)
			tc.mutate(raw)
			ps := expectProblems(t, ValidateCase(raw))
			require.Equal(t, tc.path, ps[0].Path)
		})
	}
}

func TestValidatePrompt(t *testing.T) {
	ok := map[string]any{
		"role_id":       "mentor",
		"name":          "Cognitive Mentor",
		"system_prompt": strings.Repeat("Explain the bias behind the decision. ", 3),
	}
	require.NoError(t, ValidatePrompt(ok))

	short := map[string]any{"role_id": "mentor", "name": "m", "system_prompt": "too short"}
	ps := expectProblems(t, ValidatePrompt(short))
	require.Equal(t, "system_prompt", ps[0].Path)

	badRole := map[string]any{"role_id": "oracle", "name": "o", "system_prompt": strings.Repeat("x", 60)}
	ps = expectProblems(t, ValidatePrompt(badRole))
	require.Equal(t, "role_id", ps[0].Path)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoad(t *testing.T) {
	casesDir := t.TempDir()
	promptsDir := t.TempDir()
	writeFile(t, casesDir, "madoff.json", validCaseJSON)
	writeFile(t, casesDir, "ltcm.yaml", validCaseYAML)
	writeFile(t, casesDir, "lehman.json", `{"case_metadata": {"case_id": "lehman"}}`)
	writeFile(t, casesDir, "notes.txt", "ignored")
	writeFile(t, promptsDir, "mentor.json", `{"role_id":"mentor","name":"Cognitive Mentor","system_prompt":"`+
		strings.Repeat("m", 80)+`","fallback_responses":{"technical_issue":"From a cognitive angle..."}}`)

	s, err := Load(casesDir, promptsDir, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"ltcm", "madoff"}, s.IDs())

	madoff, err := s.Case("madoff")
	require.NoError(t, err)
	require.Len(t, madoff.Acts, 4)
	require.Equal(t, domain.StageRoleTable(domain.DefaultStageRoles), madoff.StageRoles())
	require.Equal(t, domain.ComponentUnknown, madoff.Acts[3].Components[1].Type)
	require.Equal(t, 2, madoff.MagicMoments[0].TriggerStage)

	ltcm, err := s.Case("ltcm")
	require.NoError(t, err)
	require.Equal(t, domain.StageRoleTable{domain.RoleHost, domain.RoleInvestor}, ltcm.StageRoles())

	_, err = s.Case("lehman")
	expectProblems(t, err)

	_, err = s.Case("enron")
	require.ErrorIs(t, err, ErrCaseNotFound)

	p, ok := s.Prompt(domain.RoleMentor)
	require.True(t, ok)
	require.Equal(t, "From a cognitive angle...", p.FallbackResponses["technical_issue"])
	_, ok = s.Prompt(domain.RoleHost)
	require.False(t, ok)
}

func TestLoad_MissingDir(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"), "", nil)
	require.Error(t, err)
}

func TestLoadCaseFile_Malformed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.json", `{"case_metadata":`)
	_, err := LoadCaseFile(filepath.Join(dir, "broken.json"))
	ps := expectProblems(t, err)
	require.Contains(t, ps[0].Message, "malformed")
}

func TestLoad_ShippedDefinitions(t *testing.T) {
	s, err := Load(filepath.Join("..", "..", "config", "cases"), filepath.Join("..", "..", "config", "prompts"), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"lehman", "madoff"}, s.IDs())

	for _, id := range s.IDs() {
		c, err := s.Case(id)
		require.NoError(t, err, id)
		require.Equal(t, domain.StageRoleTable(domain.DefaultStageRoles), c.StageRoles(), id)
	}
	lehman, err := s.Case("lehman")
	require.NoError(t, err)
	require.Equal(t, "Northbridge Capital", lehman.DefaultInputs["company_name"])

	for _, role := range domain.Roles() {
		_, ok := s.Prompt(role)
		require.True(t, ok, role)
	}
}
