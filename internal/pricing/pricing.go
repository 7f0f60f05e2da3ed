package pricing

import (
	"sort"

	"github.com/shopspring/decimal"

	"LunaPayCredit/internal/config"
)

// Package is one purchasable credit bundle.
type Package struct {
	Key     string
	Title   string
	Price   decimal.Decimal
	Credits int64
}

// Catalog holds the configured packages, keyed for lookup and ordered by
// price for listing.
type Catalog struct {
	byKey   map[string]Package
	ordered []Package
}

func NewCatalog(cfgs []config.PackageConfig) *Catalog {
	c := &Catalog{byKey: make(map[string]Package, len(cfgs))}
	for _, pc := range cfgs {
		p := Package{
			Key:     pc.Key,
			Title:   pc.Title,
			Price:   decimal.NewFromFloat(pc.Price),
			Credits: pc.Credits,
		}
		c.byKey[p.Key] = p
		c.ordered = append(c.ordered, p)
	}
	sort.Slice(c.ordered, func(i, j int) bool {
		return c.ordered[i].Price.LessThan(c.ordered[j].Price)
	})
	return c
}

func (c *Catalog) Get(key string) (Package, bool) {
	p, ok := c.byKey[key]
	return p, ok
}

func (c *Catalog) List() []Package {
	out := make([]Package, len(c.ordered))
	copy(out, c.ordered)
	return out
}
