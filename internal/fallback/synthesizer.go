// Package fallback renders provider-independent content for every role.
// Output is deterministic, never empty and never carries template variables.
package fallback

import (
	"fmt"
	"strings"
	"time"

	"cognitive-blackbox/internal/domain"
	"cognitive-blackbox/internal/personalization"
)

const (
	DefaultSystemName    = "Advanced Decision Safety System"
	DefaultCorePrinciple = "The stronger the authority, the more it must be verified"

	// ReasonTechnicalIssue is the fallback_responses key used when no
	// reason-specific response exists.
	ReasonTechnicalIssue = "technical_issue"

	ToolType = "decision_verification_system"
)

const genericNarrative = "Let's continue our analysis."

var narratives = map[domain.Role]string{
	domain.RoleHost:      "Thank you for your participation. Let's continue analyzing this important case and the decision at its center.",
	domain.RoleInvestor:  "Let's look at the real data behind this decision and what it was telling us all along.",
	domain.RoleMentor:    "From a cognitive science perspective, let's analyze why this decision felt so convincing at the time.",
	domain.RoleAssistant: "Let's transform these insights into practical tools you can use in your next decision.",
}

var warnings = map[personalization.DecisionStyle][]string{
	personalization.StyleAggressive: {
		"**Overconfidence trap**: conviction grows faster than evidence when a decision feels obvious.",
		"**Speed over verification**: committing before the four checks are complete removes your last safeguard.",
		"**Authority halo**: a strong reputation makes bold commitments feel safer than they are.",
	},
	personalization.StyleCautious: {
		"**Analysis paralysis**: waiting for perfect data can cost the window in which verification matters.",
		"**Status quo bias**: declining by default is still a decision and deserves the same scrutiny.",
		"**Selective doubt**: skepticism applied only to new ideas leaves existing commitments unchecked.",
	},
	personalization.StyleBalanced: {
		"**Decision drift**: switching between methods under pressure hides which evidence actually moved you.",
		"**Surface balance**: weighing every view equally can look thorough while skipping depth.",
		"**Late hesitation**: balanced deliberation can stall exactly when a clear call is needed.",
	},
}

var ballast = map[personalization.RiskPreference]string{
	personalization.RiskAverse:    "Your rationale puts risk control first. Keep it honest by writing down the loss you would accept before every commitment.",
	personalization.ReturnSeeking: "Your rationale leans toward opportunity and return. Balance it by sizing every position as if the promised return were unverified.",
	personalization.RiskBalanced:  "Anchor every decision to a fixed exposure limit so that no single relationship can outweigh your verification results.",
}

// Input is everything the synthesizer may use. Missing values get safe defaults.
type Input struct {
	Role          domain.Role
	Reason        string
	SystemName    string
	CorePrinciple string
	CaseTitle     string
	CompanyName   string
	Profile       personalization.Profile
	Prompt        *domain.PromptDefinition
}

// FromSession builds an Input from the session's inputs and the analyzer profile.
func FromSession(role domain.Role, s *domain.Session, profile personalization.Profile, prompt *domain.PromptDefinition) Input {
	in := Input{Role: role, Profile: profile, Prompt: prompt}
	if s == nil {
		return in
	}
	decisions := s.Decisions()
	in.SystemName = decisions[domain.InputSystemName]
	in.CorePrinciple = decisions[domain.InputCorePrinciple]
	in.CompanyName = decisions[domain.InputCompanyName]
	return in
}

// Render returns the fallback text for in.Role.
func Render(in Input) string {
	switch in.Role {
	case domain.RoleAssistant:
		return renderTool(in)
	case domain.RoleHost, domain.RoleInvestor, domain.RoleMentor:
		return renderNarrative(in)
	default:
		return genericNarrative
	}
}

func renderNarrative(in Input) string {
	if in.Prompt != nil {
		for _, key := range []string{in.Reason, ReasonTechnicalIssue} {
			if key == "" {
				continue
			}
			if text := strings.TrimSpace(in.Prompt.FallbackResponses[key]); text != "" && !domain.ContainsPlaceholder(text) {
				return text
			}
		}
	}
	if text, ok := narratives[in.Role]; ok {
		return text
	}
	return genericNarrative
}

func renderTool(in Input) string {
	name := orDefault(in.SystemName, DefaultSystemName)
	principle := orDefault(in.CorePrinciple, DefaultCorePrinciple)
	style := in.Profile.DecisionStyle
	if _, ok := warnings[style]; !ok {
		style = personalization.StyleBalanced
	}
	risk := in.Profile.RiskPreference
	if _, ok := ballast[risk]; !ok {
		risk = personalization.RiskBalanced
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", name)
	if origin := originLine(in); origin != "" {
		b.WriteString(origin + "\n\n")
	}
	fmt.Fprintf(&b, "### Core Principle\n> **%s**\n\n", principle)

	b.WriteString("### Four-Dimension Verification Checklist\n\n")
	b.WriteString("#### 1. Identity verification\n")
	b.WriteString("- Ask for concrete proof of capability, not titles\n")
	b.WriteString("- Confirm that past successes actually happened\n")
	b.WriteString("- Find third parties who can vouch independently\n\n")
	b.WriteString("#### 2. Performance verification\n")
	b.WriteString("- Require complete, audited performance records\n")
	b.WriteString("- Treat returns that never fluctuate as a warning sign\n")
	b.WriteString("- Check the market conditions behind the results\n\n")
	b.WriteString("#### 3. Strategy verification\n")
	b.WriteString("- Refuse strategies hidden behind \"trade secrets\"\n")
	b.WriteString("- Require a logical explanation of how returns are produced\n")
	b.WriteString("- Weigh the strategy's risk against its promised return\n\n")
	b.WriteString("#### 4. Independent verification\n")
	b.WriteString("- Seek opinions from parties with nothing to gain\n")
	b.WriteString("- Discount recommendations from interested insiders\n")
	b.WriteString("- Cross-check information through several channels\n\n")

	fmt.Fprintf(&b, "### Risk Ballast\n%s\n\n", ballast[risk])

	b.WriteString("### Personalized Warnings\n")
	fmt.Fprintf(&b, "**As a %s decision maker, watch for:**\n", style)
	for _, w := range warnings[style] {
		fmt.Fprintf(&b, "- %s\n", w)
	}
	b.WriteString("\n")

	b.WriteString("### Implementation Guidance\n")
	fmt.Fprintf(&b, "1. Run %s before every significant decision\n", name)
	b.WriteString("2. Share the checklist with everyone who signs off on the decision\n")
	b.WriteString("3. Review decision quality monthly and tighten the checks\n")
	b.WriteString("4. Adjust the verification thresholds based on real outcomes\n\n")

	b.WriteString("### Success Indicators\n")
	b.WriteString("- Share of major decisions verified beforehand (target: 100%)\n")
	b.WriteString("- Losses avoided because a risk was found early\n")
	b.WriteString("- Overall improvement in team decision quality\n\n")

	fmt.Fprintf(&b, "**%s**: this is the foundation of your decision safety.\n", principle)
	return b.String()
}

func originLine(in Input) string {
	switch {
	case in.CompanyName != "" && in.CaseTitle != "":
		return fmt.Sprintf("Built from your decision about %s in %s.", in.CompanyName, in.CaseTitle)
	case in.CompanyName != "":
		return fmt.Sprintf("Built from your decision about %s.", in.CompanyName)
	case in.CaseTitle != "":
		return fmt.Sprintf("Built from your decisions in %s.", in.CaseTitle)
	default:
		return ""
	}
}

// Tool packages assistant output as a GeneratedTool.
func Tool(in Input, text string, personalized bool, now time.Time) domain.GeneratedTool {
	name := orDefault(in.SystemName, DefaultSystemName)
	return domain.GeneratedTool{
		Name: name,
		Type: ToolType,
		Content: map[string]any{
			"system_name":     name,
			"core_principle":  orDefault(in.CorePrinciple, DefaultCorePrinciple),
			"decision_style":  string(in.Profile.DecisionStyle),
			"risk_preference": string(in.Profile.RiskPreference),
			"dimensions":      []string{"identity", "performance", "strategy", "independent"},
			"text":            text,
		},
		Personalized: personalized,
		CreatedAt:    now,
	}
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}
