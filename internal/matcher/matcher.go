// Package matcher pairs free-text names across platforms: a Shopify store
// with a Facebook ad account, or a campaign name with a product name.
//
// SCORING:
// Both sides are normalised to lower-case ASCII letters and digits. A
// candidate then earns
//
//	+2  for every query character that appears anywhere in the candidate
//	+3  for every index where query and candidate hold the same character
//	+20 when the candidate contains the whole query
//	+15 when the query contains the whole candidate
//
// The best score wins, ties go to the earliest candidate, and a score below
// min(2*len(query), 6) is rejected.
package matcher

import "strings"

// Confidence grades a match.
type Confidence string

const (
	ConfidenceNone Confidence = "none"
	ConfidenceLow  Confidence = "low"
	ConfidenceHigh Confidence = "high"
)

// Candidate is one named entity that a query may match.
type Candidate struct {
	ID   string
	Name string
}

// Result is the outcome of BestMatch. MatchID is empty when Confidence is
// ConfidenceNone.
type Result struct {
	MatchID    string     `json:"match_id,omitempty"`
	Score      int        `json:"score"`
	Confidence Confidence `json:"confidence"`
}

// Matched reports whether a candidate was accepted.
func (r Result) Matched() bool {
	return r.Confidence == ConfidenceLow || r.Confidence == ConfidenceHigh
}

const (
	charPresentPoints   = 2
	positionalPoints    = 3
	candidateContainsQ  = 20
	queryContainsCandid = 15
	maxFloor            = 6
)

// BestMatch returns the candidate whose name best matches query.
func BestMatch(query string, candidates []Candidate) Result {
	q := Normalize(query)
	if q == "" {
		return Result{Confidence: ConfidenceNone}
	}

	best := Result{Confidence: ConfidenceNone, Score: -1}
	bestContained := false
	for _, c := range candidates {
		score, contained := Score(q, Normalize(c.Name))
		if score > best.Score {
			best = Result{MatchID: c.ID, Score: score}
			bestContained = contained
		}
	}

	if best.Score < Floor(q) {
		return Result{Score: max(best.Score, 0), Confidence: ConfidenceNone}
	}
	if bestContained {
		best.Confidence = ConfidenceHigh
	} else {
		best.Confidence = ConfidenceLow
	}
	return best
}

// Score rates an already-normalised candidate against an already-normalised
// query. contained reports whether either containment bonus applied.
func Score(q, cand string) (score int, contained bool) {
	if q == "" || cand == "" {
		return 0, false
	}
	for i := 0; i < len(q); i++ {
		if strings.IndexByte(cand, q[i]) >= 0 {
			score += charPresentPoints
		}
	}
	for i := 0; i < min(len(q), len(cand)); i++ {
		if q[i] == cand[i] {
			score += positionalPoints
		}
	}
	if strings.Contains(cand, q) {
		score += candidateContainsQ
		contained = true
	}
	if strings.Contains(q, cand) {
		score += queryContainsCandid
		contained = true
	}
	return score, contained
}

// Floor is the minimum accepted score for a normalised query.
func Floor(q string) int {
	return min(2*len(q), maxFloor)
}

// Normalize lower-cases s and drops everything but ASCII letters and digits.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
