package regtypes

import (
	"errors"
	"testing"
)

func TestValidateSourceAcceptsKnownSources(t *testing.T) {
	for _, s := range Sources {
		if err := ValidateSource(s); err != nil {
			t.Fatalf("ValidateSource(%q): unexpected error %v", s, err)
		}
	}
}

func TestValidateSourceRejectsUnknownSource(t *testing.T) {
	err := ValidateSource(Source("bogus"))
	if !errors.Is(err, errInvalidSource) {
		t.Fatalf("expected errInvalidSource, got %v", err)
	}
}
