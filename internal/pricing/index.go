package pricing

import "sort"

// Index is a read-only lookup of products by identifier.
type Index struct {
	products map[string]Product
}

// NewIndex builds an Index from products. When identifiers repeat, the later
// entry wins. Component references are not checked here.
func NewIndex(products []Product) *Index {
	m := make(map[string]Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return &Index{products: m}
}

// Lookup returns the product registered under id.
func (i *Index) Lookup(id string) (Product, bool) {
	if i == nil {
		return Product{}, false
	}
	p, ok := i.products[id]
	return p, ok
}

// Len reports the number of distinct products.
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.products)
}

// Products returns every indexed product ordered by identifier.
func (i *Index) Products() []Product {
	if i == nil {
		return nil
	}
	out := make([]Product, 0, len(i.products))
	for _, p := range i.products {
		out = append(out, p)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}
