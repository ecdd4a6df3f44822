package models

import "strings"

// Extra carries retailer-specific metadata that does not fit the common
// product shape: brand, quantity, unit prices, promotion name and end date,
// discount percentage, image URL. Stored as JSON alongside the product.
type Extra map[string]any

// Product is the normalized record every scraper converges on.
// A product is identified by (StoreID, Name); Name is trimmed but otherwise
// case- and whitespace-sensitive.
type Product struct {
	StoreID StoreID `json:"store_id"`
	Name    string  `json:"name"`

	// OriginalPrice is the crossed-out reference price. nil means the
	// product has a standalone promotional price with no reference.
	OriginalPrice   *float64 `json:"original_price,omitempty"`
	DiscountedPrice float64  `json:"discounted_price"`

	Category   string `json:"category"`
	IsFavorite bool   `json:"is_favorite"`
	Extra      Extra  `json:"extra,omitempty"`
}

// NewProduct trims the name and fills the common fields.
func NewProduct(storeID StoreID, name string, originalPrice *float64, discountedPrice float64, category string, extra Extra) Product {
	return Product{
		StoreID:         storeID,
		Name:            strings.TrimSpace(name),
		OriginalPrice:   originalPrice,
		DiscountedPrice: discountedPrice,
		Category:        category,
		Extra:           extra,
	}
}

// DiscountPercent returns the discount relative to the original price,
// or 0 when there is no usable reference price.
func (p *Product) DiscountPercent() float64 {
	if p.OriginalPrice == nil || *p.OriginalPrice <= p.DiscountedPrice || *p.OriginalPrice == 0 {
		return 0
	}
	return (*p.OriginalPrice - p.DiscountedPrice) / *p.OriginalPrice * 100
}
