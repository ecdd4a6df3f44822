package tigros

import (
	"context"
	"errors"
	"fmt"
	"log"

	"dealscout/pkg/logger"
	"dealscout/pkg/models"
	"dealscout/pkg/scrapers"
)

const (
	Source  = "TIGROS"
	BaseURL = "https://www.tigros.it/ebsn/api/leaflet/product-search"

	// probeCategory is the category used to test whether a leaflet id is
	// live; any category would do, this one is small.
	probeCategory = "148031513"

	// maxLeafletID bounds the flyer-id scan. Tigros leaflet ids are small
	// sequential integers that reset now and then.
	maxLeafletID = 500
)

// Category is a Tigros leaflet category.
type Category struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

var Categories = []Category{
	{"148031509", "Frutta e Verdura"},
	{"148031507", "Carne"},
	{"148031511", "Pesce e Sushi"},
	{"148031512", "Banco Gastronomia"},
	{"148031510", "Pane e Pasticceria"},
	{"148031517", "Freschi Confezionati"},
	{"148031520", "Surgelati e Gelati"},
	{"148031516", "Dispensa"},
	{"148031518", "Infanzia"},
	{"148031514", "Bevande"},
	{"148031515", "Cura Casa"},
	{"148031508", "Cura Persona"},
	{"148031513", "Animali"},
	{"1263", "Specialità Etniche"},
}

type searchResponse struct {
	Data struct {
		Page struct {
			TotItems int `json:"totItems"`
		} `json:"page"`
		Products []searchProduct `json:"products"`
	} `json:"data"`
}

type searchProduct struct {
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	PriceDisplay float64 `json:"priceDisplay"`
	ShortDescr   string  `json:"shortDescr"`
	Description  string  `json:"description"`
	MediaURL     string  `json:"mediaURL"`
}

// Scraper is the Tigros adapter. Tigros is a Toggle store: one implicit
// location, no outlet URL. The current flyer is found by probing leaflet
// ids against the search endpoint until one returns items.
type Scraper struct {
	client  *scrapers.Client
	BaseURL string // overridable in tests
}

func NewScraper(client *scrapers.Client) *Scraper {
	return &Scraper{client: client, BaseURL: BaseURL}
}

func (s *Scraper) StoreID() models.StoreID     { return models.StoreTigros }
func (s *Scraper) StoreType() models.StoreType { return models.StoreTypeToggle }

func (s *Scraper) GetStoreDiscount(ctx context.Context, binding models.StoreBinding) (*scrapers.Discounts, error) {
	promoCode, err := s.currentLeafletID(ctx, binding.PromoCode)
	if err != nil {
		return nil, err
	}

	if promoCode == binding.PromoCode {
		log.Printf("[%s] No new flyer found (leaflet %d)", Source, promoCode)
		return nil, nil
	}

	discounts := &scrapers.Discounts{PromoCode: promoCode}
	fetched := 0
	var lastErr error
	for _, category := range Categories {
		var resp searchResponse
		if err := s.client.GetJSON(ctx, s.searchURL(promoCode, category.ID), &resp); err != nil {
			var statusErr *scrapers.StatusError
			if errors.As(err, &statusErr) {
				// One broken category must not blank the whole store.
				log.Printf("[%s] Skipping category %s: %v", Source, category.DisplayName, err)
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("fetching category %s: %w", category.DisplayName, err)
		}
		fetched++

		for _, item := range resp.Data.Products {
			discounts.Products = append(discounts.Products, normalize(item, category.ID))
		}
	}

	if fetched == 0 {
		return nil, fmt.Errorf("every category request failed for leaflet %d: %w", promoCode, lastErr)
	}
	return discounts, nil
}

// currentLeafletID resolves the live flyer id. The stored code is probed
// first: while it still returns items the flyer has not rolled over and the
// full scan is skipped. Otherwise leaflet ids 0..maxLeafletID are scanned
// until one returns a non-empty listing.
func (s *Scraper) currentLeafletID(ctx context.Context, storedCode int) (int, error) {
	if storedCode != models.NoPromoCode {
		if n, err := s.leafletItemCount(ctx, storedCode); err == nil && n > 0 {
			return storedCode, nil
		} else if err != nil && ctx.Err() != nil {
			return models.NoPromoCode, err
		}
	}

	for i := 0; i <= maxLeafletID; i++ {
		logger.Dedup("[%s] Scanning for the current leaflet id", Source)
		n, err := s.leafletItemCount(ctx, i)
		if err != nil {
			var statusErr *scrapers.StatusError
			if errors.As(err, &statusErr) {
				continue
			}
			return models.NoPromoCode, err
		}
		if n > 0 {
			log.Printf("[%s] Found current leaflet %d", Source, i)
			return i, nil
		}
	}
	return models.NoPromoCode, models.ErrFlyerNotFound
}

func (s *Scraper) leafletItemCount(ctx context.Context, leafletID int) (int, error) {
	var resp searchResponse
	if err := s.client.GetJSON(ctx, s.searchURL(leafletID, probeCategory), &resp); err != nil {
		return 0, err
	}
	return resp.Data.Page.TotItems, nil
}

func (s *Scraper) searchURL(leafletID int, categoryID string) string {
	return fmt.Sprintf("%s?parent_leaflet_id=%d&parent_category_id=%s", s.BaseURL, leafletID, categoryID)
}

func normalize(item searchProduct, categoryID string) models.Product {
	// Equal prices mean a standalone promotional price, not a zero
	// discount: drop the reference price.
	var originalPrice *float64
	if item.Price != item.PriceDisplay {
		price := item.Price
		originalPrice = &price
	}

	extra := models.Extra{
		"brand":    item.ShortDescr,
		"quantity": item.Description,
		"imageUrl": item.MediaURL,
	}
	return models.NewProduct(models.StoreTigros, item.Name, originalPrice, item.PriceDisplay, categoryID, extra)
}
