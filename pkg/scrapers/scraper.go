// Package scrapers defines the contract every retailer adapter implements
// and the request shaping they share. Each retailer lives in its own
// subpackage because discovery of the current flyer and the listing format
// differ completely between chains.
package scrapers

import (
	"context"

	"dealscout/pkg/models"
)

// Discounts is the outcome of a scrape pass that found a new flyer: the
// complete replacement catalog for the store plus the flyer code that
// produced it. PromoCode is models.NoPromoCode for retailers that expose no
// flyer identifier.
type Discounts struct {
	PromoCode int
	Products  []models.Product
}

// Scraper is one retailer adapter.
type Scraper interface {
	StoreID() models.StoreID
	StoreType() models.StoreType

	// GetStoreDiscount resolves the retailer's current flyer, compares it
	// to the binding's stored code, and either returns the full scraped
	// catalog or (nil, nil) when the stored flyer is still current.
	// Adapters never touch persistence; the caller owns the catalog swap.
	GetStoreDiscount(ctx context.Context, binding models.StoreBinding) (*Discounts, error)
}

// SelectableScraper is implemented by stores that need a user-chosen outlet
// URL before any scraping can run.
type SelectableScraper interface {
	Scraper

	// RegisterStore validates the outlet URL and returns the binding to
	// persist. The returned binding has no flyer code yet.
	RegisterStore(ctx context.Context, url string) (models.StoreBinding, error)
}
