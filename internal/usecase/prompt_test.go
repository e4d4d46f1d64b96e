package usecase

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"cognitive-blackbox/internal/domain"
	"cognitive-blackbox/internal/personalization"
)

func TestBuildRolePrompt_BuiltInTemplates(t *testing.T) {
	for _, role := range domain.Roles() {
		t.Run(string(role), func(t *testing.T) {
			out := buildRolePrompt(role, "The Madoff Trap", nil)
			require.Contains(t, out, "The Madoff Trap")
			require.Contains(t, out, "Core Responsibilities:\n1. ")
			require.Contains(t, out, "Communication Style:\n- ")
			require.True(t, strings.HasSuffix(out, "Current Stage: "+role.Profile().Act))
		})
	}
}

func TestBuildRolePrompt_EmptyCaseTitle(t *testing.T) {
	out := buildRolePrompt(domain.RoleInvestor, " ", nil)
	require.Contains(t, out, "the selected case")
}

func TestBuildContextPrompt(t *testing.T) {
	gen := GenerationContext{
		CaseTitle:    "The Madoff Trap",
		Stage:        2,
		TotalStages:  4,
		Personalized: true,
		Inputs: map[string]string{
			domain.InputSystemName:  systemName,
			domain.InputCompanyName: "Madoff Securities",
			"empty":                 " ",
		},
		History: []domain.ConversationTurn{
			{Role: domain.RoleHost, Message: strings.Repeat("a", 150)},
			{Role: domain.RoleInvestor, Message: "short   reply"},
		},
	}
	out := buildContextPrompt(gen, personalization.Profile{DecisionStyle: personalization.StyleCautious, RiskPreference: personalization.RiskAverse})

	want := strings.Join([]string{
		"Case: The Madoff Trap",
		"Current Step: 2/4",
		"User Personalization Info:",
		"- company_name: Madoff Securities",
		"- system_name: " + systemName,
		"- decision_style: cautious",
		"- risk_preference: risk-averse",
		"Recent Conversation:",
		"- host: " + strings.Repeat("a", 100) + "...",
		"- investor: short reply",
	}, "\n")
	require.Equal(t, want, out)
}

func TestBuildContextPrompt_NotPersonalized(t *testing.T) {
	gen := GenerationContext{CaseID: "madoff", Stage: 1, TotalStages: 4, Inputs: map[string]string{domain.InputSystemName: systemName}}
	out := buildContextPrompt(gen, personalization.Default())
	require.Equal(t, "Case: madoff\nCurrent Step: 1/4", out)
}

func TestBuildPrompt_AssistantNamesSystem(t *testing.T) {
	gen := stageFour(nil)
	out := buildPrompt(promptInput{role: domain.RoleAssistant, input: "  build\n my  tool ", gen: gen, profile: personalization.Default()})
	require.Contains(t, out, "User Input: build my tool")
	require.Contains(t, out, `Refer to the user's system by its exact name "`+systemName+`"`)
	require.Contains(t, out, `State the user's core principle verbatim: "Authority must be verified"`)
	require.Contains(t, out, "Act 4 - Capability Armament")

	host := buildPrompt(promptInput{role: domain.RoleHost, gen: gen})
	require.NotContains(t, host, "exact name")
}

func TestExcerpt_CountsRunes(t *testing.T) {
	require.Equal(t, "决策决...", excerpt("决策决策", 3))
	require.Equal(t, "ok", excerpt(" ok ", 3))
}
