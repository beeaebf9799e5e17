package resolve

import (
	"testing"

	"github.com/agext/levenshtein"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/common"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Apple Inc.", "apple inc"},
		{"  Microsoft   Corporation ", "microsoft corporation"},
		{"AT&T", "at t"},
		{"3M", "3m"},
		{"$%&", ""},
	}
	for _, test := range tests {
		if got := normalizeName(test.input); got != test.want {
			t.Errorf("normalizeName(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestMatchNameStripsCorporateSuffixes(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Apple Inc.", "apple"},
		{"Apple Inc", "apple"},
		{"Tesla, Inc.", "tesla"},
		{"Alphabet Holdings Ltd", "alphabet"},
		{"Goldman Sachs Group", "goldman sachs"},
		{"Inc.", "inc"},
		{"Apple", "apple"},
	}
	for _, test := range tests {
		if got := matchName(test.input); got != test.want {
			t.Errorf("matchName(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestBlockKey(t *testing.T) {
	if blockKey("Apple Inc.") != blockKey("apple") {
		t.Error("expected suffix variants to share a block")
	}
	if blockKey("Apple Inc.") == blockKey("Microsoft") {
		t.Error("expected distinct first tokens to land in distinct blocks")
	}
}

func TestScore(t *testing.T) {
	params := levenshtein.NewParams()

	if got := score("Apple Inc.", common.TypeCompany, "apple", common.TypeCompany, params); got != 1.0 {
		t.Errorf("expected suffix variants to score 1.0, got %v", got)
	}
	if got := score("Apple", common.TypeCompany, "Apple", common.TypePerson, params); got != 0 {
		t.Errorf("expected mismatched types to score 0, got %v", got)
	}
	if got := score("Apple", common.TypeEntity, "Apple", common.TypeCompany, params); got != 0.75 {
		t.Errorf("expected generic match to score 0.75, got %v", got)
	}
	if got := score("Microsoft", common.TypeCompany, "Micros0ft", common.TypeCompany, params); got < 0.8 || got >= 1.0 {
		t.Errorf("expected near miss below 1.0, got %v", got)
	}
}
