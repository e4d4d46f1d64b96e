package usecase

import (
	"fmt"
	"strings"

	"cognitive-blackbox/internal/domain"
	"cognitive-blackbox/internal/personalization"
)

const (
	historyTurns     = 3
	historyExcerpt   = 100
	defaultCaseTitle = "the selected"
)

type roleTemplate struct {
	identity         string
	responsibilities []string
	style            []string
}

var roleTemplates = map[domain.Role]roleTemplate{
	domain.RoleHost: {
		identity: "You are the host of Cognitive Black Box, professional and authoritative. Your task is to guide the user into the %s case analysis.",
		responsibilities: []string{
			"Create a professional decision analysis atmosphere",
			"Collect the user's background through structured questions",
			"Build the user's immersion in the case",
			"Set the stage for the cognitive shock that follows",
		},
		style: []string{
			"Professional yet approachable, authoritative but accessible",
			"Use business decision-making terminology",
			"Show respect for the user's decision-making experience",
		},
	},
	domain.RoleInvestor: {
		identity: "You are a seasoned Wall Street investor who uses sharp questions and hard data to break the user's assumptions about the %s case.",
		responsibilities: []string{
			"Reveal the true consequences of the case with concrete data",
			"Expose blind spots in the user's decisions through professional questioning",
			"Create strong cognitive dissonance and reflection",
			"Prepare the ground for the theoretical explanation",
		},
		style: []string{
			"Direct and sharp",
			"Use specific numbers and comparisons",
			"Use rhetorical questions to create tension",
		},
	},
	domain.RoleMentor: {
		identity: "You are a mentor versed in behavioral economics and cognitive science, explaining the cognitive mechanisms behind the %s case.",
		responsibilities: []string{
			"Provide authoritative theoretical explanations and evidence",
			"Build a systematic cognitive framework",
			"Turn the shock of the previous act into insight",
			"Lay the foundation for practical tools",
		},
		style: []string{
			"Profound and inspiring, connecting theory to practice",
			"Quote established research and classic theories",
			"Keep a rigorous logical structure",
		},
	},
	domain.RoleAssistant: {
		identity: "You are a professional executive assistant who turns the lessons of the %s case into actionable decision-making tools.",
		responsibilities: []string{
			"Design a personalized decision safety system",
			"Provide specific application guidance",
			"Strengthen the user's capability building",
		},
		style: []string{
			"Practical and professional, focused on actionability",
			"Clear structure with definite steps",
			"Encouraging but not exaggerating",
		},
	},
}

type promptInput struct {
	role       domain.Role
	input      string
	gen        GenerationContext
	profile    personalization.Profile
	definition *domain.PromptDefinition
}

func buildPrompt(in promptInput) string {
	return strings.Join([]string{
		buildRolePrompt(in.role, in.gen.CaseTitle, in.definition),
		"",
		buildContextPrompt(in.gen, in.profile),
		"",
		"User Input: " + normalizePromptInput(in.input),
		"",
		responseInstructions(in.role, in.gen),
	}, "\n")
}

// buildRolePrompt renders the role identity. A loaded prompt definition
// replaces the built-in identity text; the act label is always appended.
func buildRolePrompt(role domain.Role, caseTitle string, def *domain.PromptDefinition) string {
	act := "Current Stage: " + role.Profile().Act
	if def != nil && strings.TrimSpace(def.SystemPrompt) != "" {
		return strings.TrimSpace(def.SystemPrompt) + "\n\n" + act
	}
	tpl, ok := roleTemplates[role]
	if !ok {
		return act
	}
	if strings.TrimSpace(caseTitle) == "" {
		caseTitle = defaultCaseTitle
	}
	return strings.Join([]string{
		fmt.Sprintf(tpl.identity, caseTitle),
		"",
		"Core Responsibilities:",
		numbered(tpl.responsibilities),
		"",
		"Communication Style:",
		bulleted(tpl.style),
		"",
		act,
	}, "\n")
}

func buildContextPrompt(gen GenerationContext, profile personalization.Profile) string {
	title := gen.CaseTitle
	if title == "" {
		title = gen.CaseID
	}
	lines := []string{
		"Case: " + title,
		fmt.Sprintf("Current Step: %d/%d", gen.Stage, gen.TotalStages),
	}

	if pairs := gen.personalizationPairs(); len(pairs) > 0 {
		lines = append(lines, "User Personalization Info:")
		for _, kv := range pairs {
			lines = append(lines, fmt.Sprintf("- %s: %s", kv[0], kv[1]))
		}
		lines = append(lines,
			"- decision_style: "+string(profile.DecisionStyle),
			"- risk_preference: "+string(profile.RiskPreference),
		)
	}

	if recent := lastTurns(gen.History, historyTurns); len(recent) > 0 {
		lines = append(lines, "Recent Conversation:")
		for _, t := range recent {
			lines = append(lines, fmt.Sprintf("- %s: %s", t.Role, excerpt(t.Message, historyExcerpt)))
		}
	}
	return strings.Join(lines, "\n")
}

func responseInstructions(role domain.Role, gen GenerationContext) string {
	rules := []string{
		"Match the role's communication style and responsibilities",
		"Advance the overall experience flow",
		"Adjust content to the user's personalized information",
		"Maintain professionalism and impact",
		"Never output template variables or bracketed placeholders",
	}
	if role == domain.RoleAssistant {
		if name := strings.TrimSpace(gen.Inputs[domain.InputSystemName]); name != "" {
			rules = append(rules, fmt.Sprintf("Refer to the user's system by its exact name %q", name))
		}
		if principle := strings.TrimSpace(gen.Inputs[domain.InputCorePrinciple]); principle != "" {
			rules = append(rules, fmt.Sprintf("State the user's core principle verbatim: %q", principle))
		}
	}
	return "Please generate a response that fits the role based on the settings and context above. The response should:\n" + numbered(rules)
}

func numbered(items []string) string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = fmt.Sprintf("%d. %s", i+1, it)
	}
	return strings.Join(out, "\n")
}

func bulleted(items []string) string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = "- " + it
	}
	return strings.Join(out, "\n")
}

func lastTurns(turns []domain.ConversationTurn, n int) []domain.ConversationTurn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

func excerpt(s string, n int) string {
	s = normalizePromptInput(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
