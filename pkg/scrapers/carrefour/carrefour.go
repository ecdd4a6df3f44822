package carrefour

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"

	"dealscout/pkg/models"
	"dealscout/pkg/scrapers"
)

const (
	Source = "CARREFOUR"

	// BaseURL is the promotions search endpoint; one call per category
	// returns that category's full promotional listing.
	BaseURL = "https://www.carrefour.it/on/demandware.store/Sites-carrefour-IT-Site/it_IT/Search-ShowAjax"

	defaultOutletID = "0415"
)

// Category is a Carrefour promotion category. Carrefour keys categories by
// display string, not numeric id.
type Category struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

var Categories = []Category{
	{"Acqua, succhi e bibite", "Acqua, Succhi e Bibite"},
	{"Animali", "Animali"},
	{"Arredo Casa", "Arredo Casa"},
	{"Articoli per bambini", "Articoli per Bambini"},
	{"Articoli per la casa", "Articoli per la Casa"},
	{"Birra e liquori", "Birra e Liquori"},
	{"Carne", "Carne"},
	{"Condimenti e conserve", "Condimenti e Conserve"},
	{"Cura casa", "Cura Casa"},
	{"Cura persona", "Cura Persona"},
	{"Dolci e prima colazione", "Dolci e Prima Colazione"},
	{"Elettrodomestici cucina", "Elettrodomestici Cucina"},
	{"Fai da te", "Fai da te"},
	{"Frutta e verdura", "Frutta e Verdura"},
	{"Gastronomia", "Gastronomia"},
	{"Gelati e surgelati", "Gelati e Surgelati"},
	{"Giocattoli", "Giocattoli"},
	{"Pane e snack salati", "Pane e Snack Salati"},
	{"Pasta, riso e farina", "Pasta, Riso e Farina"},
	{"Pesce", "Pesce"},
	{"Prima Infanzia", "Prima Infanzia"},
	{"Salumi e formaggi", "Salumi e Formaggi"},
	{"Telefonia", "Telefonia"},
	{"Uova, latte e latticini", "Uova, Latte e Latticini"},
	{"Vino", "Vino"},
}

type searchResponse struct {
	ProductIDs []searchProduct `json:"productIds"`
}

type searchProduct struct {
	ProductName        string        `json:"productName"`
	Brand              string        `json:"brand"`
	Price              priceBlock    `json:"price"`
	UnitPrice          priceBlock    `json:"unitPrice"`
	PromotionInfo      promotionInfo `json:"promotionInfo"`
	DiscountPercentage string        `json:"discountPercentage"`
}

type priceBlock struct {
	Sales *priceValue `json:"sales"`
	List  *priceValue `json:"list"`
}

type priceValue struct {
	Value float64 `json:"value"`
}

type promotionInfo struct {
	Name    string `json:"name"`
	EndDate string `json:"endDate"`
}

// Scraper is the Carrefour adapter. Carrefour is a Toggle store and exposes
// no flyer identifier at all, so every pass fetches the full promotional
// listing; there is no equality short-circuit.
type Scraper struct {
	client  *scrapers.Client
	BaseURL string // overridable in tests
}

func NewScraper(client *scrapers.Client) *Scraper {
	return &Scraper{client: client, BaseURL: BaseURL}
}

func (s *Scraper) StoreID() models.StoreID     { return models.StoreCarrefour }
func (s *Scraper) StoreType() models.StoreType { return models.StoreTypeToggle }

func (s *Scraper) GetStoreDiscount(ctx context.Context, binding models.StoreBinding) (*scrapers.Discounts, error) {
	discounts := &scrapers.Discounts{PromoCode: models.NoPromoCode}
	fetched := 0
	var lastErr error
	for _, category := range Categories {
		var resp searchResponse
		if err := s.client.GetJSON(ctx, s.searchURL(category.ID), &resp); err != nil {
			var statusErr *scrapers.StatusError
			if errors.As(err, &statusErr) {
				log.Printf("[%s] Skipping category %s: %v", Source, category.DisplayName, err)
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("fetching category %s: %w", category.DisplayName, err)
		}
		fetched++

		for _, item := range resp.ProductIDs {
			p, ok := normalize(item, category.ID)
			if !ok {
				continue
			}
			discounts.Products = append(discounts.Products, p)
		}
	}

	if fetched == 0 {
		return nil, fmt.Errorf("every category request failed: %w", lastErr)
	}
	return discounts, nil
}

func (s *Scraper) searchURL(categoryID string) string {
	return fmt.Sprintf("%s?cgid=promozioni&prefn1=C4_PrimaryCategory&prefv1=%s&storeId=%s",
		s.BaseURL, url.QueryEscape(categoryID), defaultOutletID)
}

func normalize(item searchProduct, categoryID string) (models.Product, bool) {
	if item.Price.Sales == nil {
		return models.Product{}, false
	}
	discounted := item.Price.Sales.Value

	extra := models.Extra{"brand": item.Brand}
	if item.UnitPrice.Sales != nil {
		extra["discountedUnitPrice"] = item.UnitPrice.Sales.Value
	}
	if item.UnitPrice.List != nil {
		extra["originalUnitPrice"] = item.UnitPrice.List.Value
	}
	if item.PromotionInfo.Name != "" {
		extra["promotionName"] = item.PromotionInfo.Name
		extra["promotionEndDate"] = item.PromotionInfo.EndDate
	}
	if item.DiscountPercentage != "" {
		extra["discountPercentage"] = item.DiscountPercentage
	}

	var originalPrice *float64
	if item.Price.List != nil {
		listPrice := item.Price.List.Value
		switch {
		case listPrice == discounted:
			// Standalone promotional price, no reference to cross out.
		case listPrice < discounted:
			// A listed price below the promotional one is a multi-pack
			// offer ("2 pieces for less than 2x the unit price"): the
			// promotional price buys two units, so the honest reference
			// is the doubled unit price.
			reference := listPrice * 2
			originalPrice = &reference
			extra["packQuantity"] = 2
			extra["unitListPrice"] = listPrice
		default:
			originalPrice = &listPrice
		}
	}

	return models.NewProduct(models.StoreCarrefour, item.ProductName, originalPrice, discounted, categoryID, extra), true
}
