package identifier

import (
	"errors"
	"testing"

	"github.com/autoeng/auto-engineer/internal/apperrors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantProv Provider
		wantID   string
	}{
		{"bare digits", "123", ProviderGitHub, "#123"},
		{"hash prefixed", "#123", ProviderGitHub, "#123"},
		{"padded", "  456  ", ProviderGitHub, "#456"},
		{"linear key", "PROJ-45", ProviderLinear, "PROJ-45"},
		{"linear key lowercase", "proj-45", ProviderLinear, "PROJ-45"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.raw, err)
			}
			if got.Provider != tt.wantProv || got.ID != tt.wantID {
				t.Errorf("Parse(%q) = %+v, want {%s %s}", tt.raw, got, tt.wantProv, tt.wantID)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	invalid := []string{"", "abc", "PROJ", "-45", "123-PROJ-45"}
	for _, raw := range invalid {
		_, err := Parse(raw)
		if err == nil {
			t.Errorf("Parse(%q) expected error, got nil", raw)
			continue
		}
		if !errors.Is(err, apperrors.ErrIdentifierInvalid) {
			t.Errorf("Parse(%q) error = %v, want wrapping ErrIdentifierInvalid", raw, err)
		}
	}
}

func TestIdentifierString(t *testing.T) {
	id := Identifier{Provider: ProviderGitHub, ID: "#7"}
	if got, want := id.String(), "github:#7"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
