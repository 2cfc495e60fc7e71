package scheduler

import "github.com/karmacadabra/agent/internal/marketplace"

// Product is one data artifact an agent offers for sale or wants to buy,
// per spec §3's Product entity.
type Product struct {
	Name             string
	PriceUSDC        float64
	Description      string
	Category         string
	EvidenceRequired []marketplace.EvidenceKind
}

// Catalog is the set of products a seller-role agent publishes.
type Catalog struct {
	Offered []Product
}

// Find returns the product with the given name, if offered.
func (c Catalog) Find(name string) (Product, bool) {
	for _, p := range c.Offered {
		if p.Name == name {
			return p, true
		}
	}
	return Product{}, false
}
