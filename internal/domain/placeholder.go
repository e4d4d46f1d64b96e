package domain

import "regexp"

// placeholderPattern matches unresolved template variables such as
// {{name}}, {user_system_name} or [user_core_principle].
var placeholderPattern = regexp.MustCompile(`\{\{[^{}]*\}\}|\{user_[a-z_]+\}|\[user_[a-z_]+\]`)

// ContainsPlaceholder reports whether text still carries a template variable.
func ContainsPlaceholder(text string) bool {
	return placeholderPattern.MatchString(text)
}
