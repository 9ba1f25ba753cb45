package classifier

import (
	"strings"

	"github.com/example/recircle/internal/product"
)

// Keyword vocabularies for the layered text classification. English plus the
// French and Spanish variants seen on Open Food Facts labels.
var (
	exclusionKeywords = []string{
		"glass", "verre", "vidrio",
		"metal", "métal", "conserve", "can", "canette",
		"aluminium", "aluminum", "steel", "acier",
		"carton", "brick", "brique", "tetrapak",
	}
	resinKeywords    = []string{"pet", "hdpe"}
	bottleKeywords   = []string{"bottle", "bouteille", "botella", "flacon"}
	plasticKeywords  = []string{"plastic", "plastique", "plastico", "polyethylene"}
	beverageKeywords = []string{
		"boisson", "beverage", "drink", "soda",
		"eau", "water", "jus", "juice",
		"limonade", "cola", "lait", "milk",
	}
)

// ClassifyText decides from product metadata alone whether the item is a
// plastic bottle. Pure and deterministic; checks are ordered and the first
// match wins:
//
//  1. any exclusion material (glass, metal, carton...) rejects outright
//  2. a specific plastic resin code (pet, hdpe) accepts
//  3. a bottle-shape keyword accepts
//  4. generic plastic plus beverage vocabulary accepts
//
// Anything else is inconclusive and left for image analysis. Exclusion runs
// first so a "glass bottle with plastic cap" never passes on its cap.
func ClassifyText(record *product.Record) Verdict {
	text := searchText(record)

	if match := firstMatch(text, exclusionKeywords); match != "" {
		return Verdict{Outcome: Rejected, Reason: "packaging material excluded: " + match}
	}
	if match := firstMatch(text, resinKeywords); match != "" {
		return Verdict{Outcome: Accepted, Reason: "plastic resin identified: " + match}
	}
	if match := firstMatch(text, bottleKeywords); match != "" {
		return Verdict{Outcome: Accepted, Reason: "bottle keyword matched: " + match}
	}
	if plastic := firstMatch(text, plasticKeywords); plastic != "" {
		if beverage := firstMatch(text, beverageKeywords); beverage != "" {
			return Verdict{Outcome: Accepted, Reason: "plastic and beverage keywords matched: " + plastic + ", " + beverage}
		}
	}

	return Verdict{Outcome: Inconclusive}
}

// searchText concatenates every text field into one lowercase haystack with
// punctuation flattened, so vocabulary matching is a plain substring check.
func searchText(record *product.Record) string {
	parts := []string{
		record.Name,
		record.GenericName,
		record.Categories,
		record.Packaging,
		record.Ingredients,
	}
	parts = append(parts, record.PackagingTags...)

	joined := strings.ToLower(strings.Join(parts, " "))
	joined = strings.ReplaceAll(joined, "-", " ")
	joined = strings.ReplaceAll(joined, ",", " ")
	return joined
}

func firstMatch(text string, keywords []string) string {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return keyword
		}
	}
	return ""
}
