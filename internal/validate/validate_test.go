package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"cognitive-blackbox/internal/domain"
)

func expectFieldError(t *testing.T, err error, kind domain.ErrorType) *FieldError {
	t.Helper()
	require.Error(t, err)
	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, kind, fe.Kind)
	return fe
}

func TestInput_Accepts(t *testing.T) {
	cases := map[string]string{
		domain.InputCompanyName:      "Bernard L. Madoff Investment Securities",
		domain.InputInvestmentAmount: "50 million USD",
		domain.InputDecisionContext:  "We are considering a fund allocation",
		domain.InputSystemName:       "Guardian Shield",
		domain.InputCorePrinciple:    "Verify before trusting",
		domain.InputFinalDecision:    "decline",
	}
	for typ, v := range cases {
		require.NoError(t, Input(typ, v), typ)
	}
}

func TestInput_ValidationErrors(t *testing.T) {
	cases := []struct {
		name  string
		typ   string
		value string
	}{
		{name: "empty", typ: domain.InputSystemName, value: "   "},
		{name: "missing type", typ: "", value: "x"},
		{name: "script", typ: domain.InputUserReflection, value: "hello <SCRIPT>alert(1)</script> there"},
		{name: "js url", typ: domain.InputCompanyName, value: "javascript:alert"},
		{name: "template variable", typ: domain.InputSystemName, value: "{{system}}"},
		{name: "too short", typ: domain.InputSystemName, value: "ab"},
		{name: "too long", typ: domain.InputCorePrinciple, value: strings.Repeat("x", 101)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expectFieldError(t, Input(tc.typ, tc.value), domain.ErrorTypeValidation)
		})
	}
}

func TestInput_UserInputErrors(t *testing.T) {
	cases := []struct {
		name  string
		typ   string
		value string
	}{
		{name: "numeric company", typ: domain.InputCompanyName, value: "12345"},
		{name: "placeholder company", typ: domain.InputCompanyName, value: "Demo"},
		{name: "amount without digits", typ: domain.InputInvestmentAmount, value: "a lot"},
		{name: "terse context", typ: domain.InputDecisionContext, value: "invest now"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fe := expectFieldError(t, Input(tc.typ, tc.value), domain.ErrorTypeUserInput)
			require.Equal(t, tc.typ, fe.Field)
		})
	}
}

func TestInput_CountsRunes(t *testing.T) {
	require.NoError(t, Input(domain.InputSystemName, "守护者"))
}
