package classifier

import (
	"strings"
	"testing"

	"github.com/example/recircle/internal/product"
)

func TestClassifyTextExclusionDominates(t *testing.T) {
	// Exclusion keywords must win no matter where plastic or bottle
	// language shows up, and regardless of ordering within the text.
	cases := []struct {
		name   string
		record *product.Record
	}{
		{
			name: "glass bottle with plastic cap",
			record: &product.Record{
				Name:      "Sparkling Lemonade",
				Packaging: "Glass bottle, plastic cap",
			},
		},
		{
			name: "plastic first then metal",
			record: &product.Record{
				Packaging: "plastic wrap, steel can",
			},
		},
		{
			name: "exclusion in packaging tags only",
			record: &product.Record{
				Name:          "Iced Tea Bottle",
				PackagingTags: []string{"en:tetrapak"},
			},
		},
		{
			name: "resin code alongside carton",
			record: &product.Record{
				Packaging: "PET lined carton",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verdict := ClassifyText(tc.record)
			if verdict.Outcome != Rejected {
				t.Errorf("Outcome = %v, want Rejected", verdict.Outcome)
			}
			if verdict.Reason == "" {
				t.Error("Rejected verdict must carry a reason")
			}
		})
	}
}

func TestClassifyTextResinCodeAccepts(t *testing.T) {
	verdict := ClassifyText(&product.Record{
		Name:          "Mineral Water",
		PackagingTags: []string{"en:PET"},
	})
	if verdict.Outcome != Accepted {
		t.Fatalf("Outcome = %v, want Accepted", verdict.Outcome)
	}
	if !strings.Contains(verdict.Reason, "pet") {
		t.Errorf("Reason = %q, want resin mention", verdict.Reason)
	}
}

func TestClassifyTextBottleKeywordAccepts(t *testing.T) {
	// Evian needs only the bottle keyword, not the beverage vocabulary.
	verdict := ClassifyText(&product.Record{
		Name:      "Evian Natural Spring Water",
		Packaging: "Plastic Bottle",
	})
	if verdict.Outcome != Accepted {
		t.Fatalf("Outcome = %v, want Accepted", verdict.Outcome)
	}
	if verdict.Reason == "" {
		t.Error("Accepted verdict must carry a reason")
	}
}

func TestClassifyTextFrenchBottleKeyword(t *testing.T) {
	verdict := ClassifyText(&product.Record{
		Name:      "Eau de source",
		Packaging: "bouteille plastique",
	})
	if verdict.Outcome != Accepted {
		t.Errorf("Outcome = %v, want Accepted", verdict.Outcome)
	}
}

func TestClassifyTextPlasticBeverageCooccurrence(t *testing.T) {
	verdict := ClassifyText(&product.Record{
		Name:        "Orange Juice",
		GenericName: "fruit drink",
		Packaging:   "plastique",
	})
	if verdict.Outcome != Accepted {
		t.Fatalf("Outcome = %v, want Accepted", verdict.Outcome)
	}
}

func TestClassifyTextPlasticAloneInconclusive(t *testing.T) {
	// Generic plastic without bottle or beverage language is not enough.
	verdict := ClassifyText(&product.Record{
		Name:      "Sandwich Wrap",
		Packaging: "plastic film",
	})
	if verdict.Outcome != Inconclusive {
		t.Errorf("Outcome = %v, want Inconclusive", verdict.Outcome)
	}
}

func TestClassifyTextAluminiumCanRejected(t *testing.T) {
	verdict := ClassifyText(&product.Record{
		Name:          "Heineken",
		PackagingTags: []string{"aluminium-can"},
	})
	if verdict.Outcome != Rejected {
		t.Errorf("Outcome = %v, want Rejected", verdict.Outcome)
	}
}

func TestClassifyTextEmptyRecordInconclusive(t *testing.T) {
	verdict := ClassifyText(&product.Record{})
	if verdict.Outcome != Inconclusive {
		t.Errorf("Outcome = %v, want Inconclusive", verdict.Outcome)
	}
	if verdict.IsConclusive() {
		t.Error("Inconclusive verdict must not report conclusive")
	}
}

func TestClassifyTextNoKeywordsInconclusive(t *testing.T) {
	verdict := ClassifyText(&product.Record{
		Name:        "Generic Snack Bar",
		GenericName: "snack",
	})
	if verdict.Outcome != Inconclusive {
		t.Errorf("Outcome = %v, want Inconclusive", verdict.Outcome)
	}
}

func TestClassifyTextNormalizesPunctuation(t *testing.T) {
	// Hyphenated and comma-joined tokens still match their vocabulary.
	verdict := ClassifyText(&product.Record{
		Packaging: "hdpe-jug,beverage",
	})
	if verdict.Outcome != Accepted {
		t.Errorf("Outcome = %v, want Accepted via resin code", verdict.Outcome)
	}
}

func TestClassifyTextCaseInsensitive(t *testing.T) {
	verdict := ClassifyText(&product.Record{
		Packaging: "PLASTIC BOTTLE",
	})
	if verdict.Outcome != Accepted {
		t.Errorf("Outcome = %v, want Accepted", verdict.Outcome)
	}
}
