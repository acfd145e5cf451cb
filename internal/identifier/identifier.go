// Package identifier parses user-supplied issue handles into a
// provider-qualified form. It is the sole entry point binding a raw token
// to a provider; every other component consumes the parsed form.
package identifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/autoeng/auto-engineer/internal/apperrors"
)

// Provider names an issue-tracking backend.
type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderLinear Provider = "linear"
)

// Identifier is a parsed, provider-qualified issue handle.
type Identifier struct {
	Provider Provider
	ID       string // canonical form: "#123" for github, "PROJ-45" for linear
}

var (
	githubNumeric = regexp.MustCompile(`^#?(\d+)$`)
	linearKey     = regexp.MustCompile(`^([A-Za-z]+)-(\d+)$`)
)

// Parse accepts "123", "#123", or "PROJ-45" and returns the provider-qualified
// form. Anything else fails with apperrors.ErrIdentifierInvalid.
func Parse(raw string) (Identifier, error) {
	token := strings.TrimSpace(raw)

	if m := githubNumeric.FindStringSubmatch(token); m != nil {
		return Identifier{Provider: ProviderGitHub, ID: "#" + m[1]}, nil
	}

	if m := linearKey.FindStringSubmatch(token); m != nil {
		return Identifier{Provider: ProviderLinear, ID: strings.ToUpper(m[1]) + "-" + m[2]}, nil
	}

	return Identifier{}, fmt.Errorf("%q is not a recognized issue identifier: %w", raw, apperrors.ErrIdentifierInvalid)
}

// String renders the canonical form.
func (i Identifier) String() string {
	return string(i.Provider) + ":" + i.ID
}
