package credreset_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck/internal/credreset"
	_ "github.com/opsdeck/opsdeck/testing"
)

func TestValidatePassword(t *testing.T) {
	cases := []struct {
		name     string
		password string
		rule     string
	}{
		{"accepts policy-conforming password", "Abc123!@", ""},
		{"rejects short password", "Ab1!", "must be at least 8 characters"},
		{"rejects missing uppercase", "abc12345!", "must contain an uppercase letter"},
		{"rejects missing lowercase", "ABC12345!", "must contain a lowercase letter"},
		{"rejects missing digit", "Abcdefgh!", "must contain a digit"},
		{"rejects missing symbol", "Abc12345", "must contain a symbol"},
		// Length is checked before composition rules.
		{"reports length first", "abc", "must be at least 8 characters"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := credreset.ValidatePassword(tc.password)
			if tc.rule == "" {
				require.NoError(t, err)
				return
			}
			var weak *credreset.WeakPasswordError
			require.ErrorAs(t, err, &weak)
			require.Equal(t, tc.rule, weak.Rule)
		})
	}
}
