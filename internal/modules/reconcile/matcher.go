package reconcile

import (
	"strings"

	"weddingpay/internal/models"
)

// MatchStrength ranks how confidently a payment record belongs to an intent.
type MatchStrength int

const (
	NoMatch MatchStrength = iota
	// WeakMatch is description containment plus an amount within tolerance. Two unrelated
	// payments can satisfy it, so it is only used when no strong match exists.
	WeakMatch
	// StrongMatch is an explicit identifier match (source ref or external reference).
	StrongMatch
)

func (m MatchStrength) String() string {
	switch m {
	case StrongMatch:
		return "strong"
	case WeakMatch:
		return "weak"
	default:
		return "none"
	}
}

// Matcher decides which record in a fetch window corresponds to an intent.
type Matcher struct {
	ToleranceMinor int64
	RequireStrong  bool
}

// Match is the result of scanning one fetch window.
type Match struct {
	Record   *models.PaymentRecord
	Strength MatchStrength
	// Ambiguous is set when more than one record matched strongly; Record is then the newest.
	Ambiguous bool
	Strong    int
}

// Strength classifies a single record against the intent.
func (m Matcher) Strength(intent models.PaymentIntent, rec models.PaymentRecord) MatchStrength {
	if intent.ID != "" {
		if rec.SourceRef == intent.ID || strings.Contains(rec.ExternalReference, intent.ID) {
			return StrongMatch
		}
	}
	if m.RequireStrong || intent.Description == "" {
		return NoMatch
	}
	if strings.Contains(rec.Description, intent.Description) && absDiff(rec.AmountMinor, intent.AmountMinor) < m.ToleranceMinor {
		return WeakMatch
	}
	return NoMatch
}

// Find returns the first strong match in the window, else the first weak match.
func (m Matcher) Find(intent models.PaymentIntent, records []models.PaymentRecord) Match {
	var strong, weak *models.PaymentRecord
	strongCount := 0

	for i := range records {
		rec := &records[i]
		switch m.Strength(intent, *rec) {
		case StrongMatch:
			strongCount++
			if strong == nil || rec.CreatedAt.After(strong.CreatedAt) {
				strong = rec
			}
		case WeakMatch:
			if weak == nil {
				weak = rec
			}
		}
	}

	switch {
	case strong != nil:
		picked := *strong
		return Match{Record: &picked, Strength: StrongMatch, Ambiguous: strongCount > 1, Strong: strongCount}
	case weak != nil:
		picked := *weak
		return Match{Record: &picked, Strength: WeakMatch}
	default:
		return Match{Strength: NoMatch}
	}
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
