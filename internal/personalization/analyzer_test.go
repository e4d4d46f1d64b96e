package personalization

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cognitive-blackbox/internal/domain"
)

func TestAnalyze_EmptyIsBalanced(t *testing.T) {
	require.Equal(t, Default(), Analyze(nil))
	require.Equal(t, StyleBalanced, Analyze(map[string]string{}).DecisionStyle)
}

func TestAnalyze_DecisionStyle(t *testing.T) {
	cases := []struct {
		name     string
		decision string
		want     DecisionStyle
	}{
		{name: "aggressive", decision: "I would invest immediately", want: StyleAggressive},
		{name: "cautious", decision: "I would decline and wait for audited numbers", want: StyleCautious},
		{name: "aggressive wins tie", decision: "Definitely reject the offer", want: StyleAggressive},
		{name: "chinese cautious", decision: "我选择暂缓投资", want: StyleCautious},
		{name: "neutral", decision: "I need to think about it", want: StyleBalanced},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Analyze(map[string]string{domain.InputFinalDecision: tc.decision})
			require.Equal(t, tc.want, got.DecisionStyle)
		})
	}
}

func TestAnalyze_RiskPreference(t *testing.T) {
	cases := []struct {
		name      string
		rationale string
		want      RiskPreference
	}{
		{name: "risk averse", rationale: "The risk is too high unless we can control exposure", want: RiskAverse},
		{name: "return seeking", rationale: "A rare opportunity with outsized return", want: ReturnSeeking},
		{name: "risk alone", rationale: "There is risk here", want: RiskBalanced},
		{name: "chinese", rationale: "风险必须可控制", want: RiskAverse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Analyze(map[string]string{domain.InputDecisionRationale: tc.rationale})
			require.Equal(t, tc.want, got.RiskPreference)
		})
	}
}

func TestAnalyze_FallsBackToAllDecisions(t *testing.T) {
	got := Analyze(map[string]string{
		domain.InputCompanyName:     "Acme",
		domain.InputDecisionContext: "We should postpone until the opportunity shows real return",
	})
	require.Equal(t, StyleCautious, got.DecisionStyle)
	require.Equal(t, ReturnSeeking, got.RiskPreference)
	require.Equal(t, domain.InputCompanyName, got.KeyDecision)
}

func TestAnalyze_Deterministic(t *testing.T) {
	in := map[string]string{
		domain.InputFinalDecision:     "go big",
		domain.InputDecisionRationale: "opportunity and profit",
		domain.InputSystemName:        "Sentinel",
	}
	first := Analyze(in)
	for i := 0; i < 20; i++ {
		require.Equal(t, first, Analyze(in))
	}
}
