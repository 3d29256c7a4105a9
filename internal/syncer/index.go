package syncer

import (
	"github.com/sakif/adprofit/internal/matcher"
	"github.com/sakif/adprofit/internal/model"
)

// ProductIndex links campaign names to a user's products with the entity
// matcher. Results are memoized per name. Not safe for concurrent use.
type ProductIndex struct {
	candidates []matcher.Candidate
	byID       map[string]*model.Product
	memo       map[string]matcher.Result
}

func NewProductIndex(products []model.Product) *ProductIndex {
	x := &ProductIndex{
		candidates: make([]matcher.Candidate, 0, len(products)),
		byID:       make(map[string]*model.Product, len(products)),
		memo:       make(map[string]matcher.Result),
	}
	for i := range products {
		p := &products[i]
		x.candidates = append(x.candidates, matcher.Candidate{ID: p.ID, Name: p.Name})
		x.byID[p.ID] = p
	}
	return x
}

// Match returns the product best matching campaignName, or nil when the
// matcher rejects every candidate.
func (x *ProductIndex) Match(campaignName string) (*model.Product, matcher.Result) {
	r, ok := x.memo[campaignName]
	if !ok {
		r = matcher.BestMatch(campaignName, x.candidates)
		x.memo[campaignName] = r
	}
	if !r.Matched() {
		return nil, r
	}
	return x.byID[r.MatchID], r
}

// Len is the number of indexed products.
func (x *ProductIndex) Len() int { return len(x.candidates) }
