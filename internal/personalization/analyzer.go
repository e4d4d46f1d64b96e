// Package personalization classifies a user's accumulated decisions into a
// decision style and a risk preference. Everything here is pure.
package personalization

import (
	"sort"
	"strings"

	"cognitive-blackbox/internal/domain"
)

type DecisionStyle string

const (
	StyleAggressive DecisionStyle = "aggressive"
	StyleCautious   DecisionStyle = "cautious"
	StyleBalanced   DecisionStyle = "balanced"
)

type RiskPreference string

const (
	RiskAverse    RiskPreference = "risk-averse"
	ReturnSeeking RiskPreference = "return-seeking"
	RiskBalanced  RiskPreference = "balanced"
)

const keyDecisionNil = "unknown"

// Profile is the analyzer output consumed by prompt construction and fallback synthesis.
type Profile struct {
	DecisionStyle  DecisionStyle  `json:"decision_style"`
	RiskPreference RiskPreference `json:"risk_preference"`
	KeyDecision    string         `json:"key_decision"`
}

// Default is the classification used when no decisions exist.
func Default() Profile {
	return Profile{DecisionStyle: StyleBalanced, RiskPreference: RiskBalanced, KeyDecision: keyDecisionNil}
}

var (
	aggressiveMarkers = []string{
		"all in", "all-in", "immediately", "definitely", "without hesitation", "go big", "double down",
		"commit fully", "invest everything", "absolutely",
		"立即", "全部", "果断", "全力", "毫不犹豫", "马上",
	}
	cautiousMarkers = []string{
		"reject", "decline", "defer", "wait", "postpone", "hold off", "pass on", "not invest", "walk away",
		"拒绝", "暂缓", "观望", "等待", "推迟", "放弃",
	}
	riskTerms        = []string{"risk", "风险"}
	controlTerms     = []string{"control", "limit", "hedge", "protect", "控制", "对冲", "保护"}
	opportunityTerms = []string{"opportunity", "机会", "机遇"}
	returnTerms      = []string{"return", "profit", "yield", "gain", "回报", "收益", "利润"}
)

// Analyze classifies decisions keyed by input type. The final-decision entry
// drives the style and the decision-rationale entry drives the risk
// preference; when either is missing the classification scans every
// decision in key order.
func Analyze(decisions map[string]string) Profile {
	if len(decisions) == 0 {
		return Default()
	}
	keys := sortedKeys(decisions)
	all := joinValues(decisions, keys)

	styleText := all
	if v, ok := decisions[domain.InputFinalDecision]; ok && strings.TrimSpace(v) != "" {
		styleText = strings.ToLower(v)
	}
	riskText := all
	if v, ok := decisions[domain.InputDecisionRationale]; ok && strings.TrimSpace(v) != "" {
		riskText = strings.ToLower(v)
	}

	return Profile{
		DecisionStyle:  classifyStyle(styleText),
		RiskPreference: classifyRisk(riskText),
		KeyDecision:    keys[0],
	}
}

func classifyStyle(text string) DecisionStyle {
	if containsAny(text, aggressiveMarkers) {
		return StyleAggressive
	}
	if containsAny(text, cautiousMarkers) {
		return StyleCautious
	}
	return StyleBalanced
}

func classifyRisk(text string) RiskPreference {
	if containsAny(text, riskTerms) && containsAny(text, controlTerms) {
		return RiskAverse
	}
	if containsAny(text, opportunityTerms) && containsAny(text, returnTerms) {
		return ReturnSeeking
	}
	return RiskBalanced
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinValues(m map[string]string, keys []string) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, m[k])
	}
	return strings.ToLower(strings.Join(parts, " "))
}
