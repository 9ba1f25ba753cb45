package classifier

// Outcome is the three-way result of classifying a product.
type Outcome string

const (
	// Accepted means the product was identified as a plastic bottle.
	Accepted Outcome = "accepted"
	// Rejected means the product was identified as something else.
	Rejected Outcome = "rejected"
	// Inconclusive means the metadata did not carry enough signal either
	// way. It must be resolved by a later stage and never shown to users.
	Inconclusive Outcome = "inconclusive"
)

// Verdict carries a classification outcome with a display reason and, for
// image-based verdicts, a confidence score.
type Verdict struct {
	Outcome    Outcome
	Reason     string
	Confidence float64
}

// IsConclusive reports whether the verdict settles the verification.
func (v Verdict) IsConclusive() bool {
	return v.Outcome != Inconclusive
}
