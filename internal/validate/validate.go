// Package validate checks user inputs before they enter a session.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"cognitive-blackbox/internal/domain"
)

// FieldError reports why a single input was rejected. Kind is either
// VALIDATION_ERROR (format or security) or USER_INPUT_ERROR (well-formed but
// semantically unusable).
type FieldError struct {
	Field   string
	Message string
	Kind    domain.ErrorType
}

func (e *FieldError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("validate: %s: %s", e.Field, e.Message)
}

type limit struct{ min, max int }

var lengthLimits = map[string]limit{
	domain.InputCompanyName:      {2, 50},
	domain.InputInvestmentAmount: {1, 50},
	domain.InputDecisionContext:  {5, 1000},
	domain.InputUserReflection:   {10, 2000},
	domain.InputSystemName:       {3, 30},
	domain.InputCorePrinciple:    {5, 100},
}

var defaultLimit = limit{1, 2000}

var forbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)onclick`),
	regexp.MustCompile(`(?i)onerror`),
	regexp.MustCompile(`(?i)onload`),
	regexp.MustCompile(`(?i)eval\(`),
	regexp.MustCompile(`(?i)document\.`),
}

var placeholderNames = map[string]struct{}{"test": {}, "demo": {}, "测试": {}}

// Input validates content for the given input type and returns a *FieldError
// on rejection.
func Input(inputType, content string) error {
	inputType = strings.TrimSpace(inputType)
	if inputType == "" {
		return &FieldError{Field: "type", Message: "input type is required", Kind: domain.ErrorTypeValidation}
	}
	value := strings.TrimSpace(content)
	if value == "" {
		return &FieldError{Field: inputType, Message: inputType + " is required", Kind: domain.ErrorTypeValidation}
	}
	if ContainsForbidden(value) {
		return &FieldError{Field: inputType, Message: "input contains forbidden content", Kind: domain.ErrorTypeValidation}
	}
	if domain.ContainsPlaceholder(value) {
		return &FieldError{Field: inputType, Message: "input must not contain template variables", Kind: domain.ErrorTypeValidation}
	}
	lim, ok := lengthLimits[inputType]
	if !ok {
		lim = defaultLimit
	}
	if n := utf8.RuneCountInString(value); n < lim.min || n > lim.max {
		return &FieldError{
			Field:   inputType,
			Message: fmt.Sprintf("length must be between %d and %d characters", lim.min, lim.max),
			Kind:    domain.ErrorTypeValidation,
		}
	}

	switch inputType {
	case domain.InputCompanyName:
		return companyName(value)
	case domain.InputInvestmentAmount:
		return investmentAmount(value)
	case domain.InputDecisionContext:
		return decisionContext(value)
	}
	return nil
}

// ContainsForbidden reports whether value matches any script-injection pattern.
func ContainsForbidden(value string) bool {
	for _, p := range forbiddenPatterns {
		if p.MatchString(value) {
			return true
		}
	}
	return false
}

func companyName(v string) error {
	if isAllDigits(v) {
		return &FieldError{Field: domain.InputCompanyName, Message: "company name cannot be only numbers", Kind: domain.ErrorTypeUserInput}
	}
	if _, ok := placeholderNames[strings.ToLower(v)]; ok {
		return &FieldError{Field: domain.InputCompanyName, Message: "please enter a real company name", Kind: domain.ErrorTypeUserInput}
	}
	return nil
}

func investmentAmount(v string) error {
	for _, r := range v {
		if unicode.IsDigit(r) {
			return nil
		}
	}
	return &FieldError{Field: domain.InputInvestmentAmount, Message: "investment amount must contain numbers", Kind: domain.ErrorTypeUserInput}
}

func decisionContext(v string) error {
	if len(strings.Fields(v)) < 3 {
		return &FieldError{Field: domain.InputDecisionContext, Message: "decision context should be more descriptive", Kind: domain.ErrorTypeUserInput}
	}
	if strings.Count(v, "\n") > 5 {
		return &FieldError{Field: domain.InputDecisionContext, Message: "decision context appears to be copied content", Kind: domain.ErrorTypeUserInput}
	}
	return nil
}

func isAllDigits(v string) bool {
	for _, r := range v {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return v != ""
}
