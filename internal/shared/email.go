package shared

import (
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeEmail trims and case-folds an email address so lookups and
// comparisons are stable regardless of how the address was typed.
func NormalizeEmail(email string) string {
	return cases.Fold().String(strings.TrimSpace(email))
}
