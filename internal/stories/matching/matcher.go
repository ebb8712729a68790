package matching

import (
	"github.com/samber/lo"

	"paykit/internal/stories/catalog"
)

// Match intersects the catalog with the payer's methods. Catalog order is
// kept; methods the payer does not support are dropped. No endpoint data is
// fetched here.
func Match(c *catalog.Catalog, payerMethods []catalog.MethodID) []Candidate {
	if c == nil {
		return nil
	}

	supported := lo.SliceToMap(payerMethods, func(m catalog.MethodID) (catalog.MethodID, struct{}) {
		return m, struct{}{}
	})

	candidates := make([]Candidate, 0, c.Len())
	for i, e := range c.Entries() {
		if _, ok := supported[e.Method]; !ok {
			continue
		}
		candidates = append(candidates, Candidate{
			Method:   e.Method,
			Location: e.Endpoint,
			Scope:    c.Scope(),
			Rank:     i,
			Position: i,
			endpoint: &lazyEndpoint{},
		})
	}
	return candidates
}

// Select is Match followed by policy ranking.
func Select(c *catalog.Catalog, payerMethods []catalog.MethodID, policy Policy) []Candidate {
	if policy == nil {
		policy = DefaultPolicy{}
	}
	return policy.Rank(Match(c, payerMethods))
}
