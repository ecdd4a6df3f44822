package esselunga

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dealscout/pkg/models"
	"dealscout/pkg/scrapers"

	"github.com/gocolly/colly/v2"
)

const (
	Source = "ESSELUNGA"

	// APIBase is the grid endpoint serving each category's listing for a
	// given outlet (abbrev) and flyer code.
	APIBase = "https://www.esselunga.it/services/istituzionale35/digital-grid.condition:nav_menu.abbrev:%s.page:0.rows:1000.category:%s.codPromo:%d.json"
)

// Category is an Esselunga flyer category.
type Category struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

var Categories = []Category{
	{"1769", "Frutta e Verdura"},
	{"1770", "Pesce e Sushi"},
	{"1771", "Carne"},
	{"1774", "Latticini, Salumi e Formaggi"},
	{"1781", "Alimenti Vegetali"},
	{"1773", "Pane e Pasticceria"},
	{"1772", "Gastronomia e Piatti Pronti"},
	{"1778", "Patatine, Cioccolato e Caramelle"},
	{"1777", "Colazione"},
	{"1775", "Confezionati Alimentari"},
	{"1776", "Surgelati e Gelati"},
	{"1779", "Acqua, Birra e Bibite"},
	{"1780", "Vini e Liquori"},
	{"1788", "Igiene, Cura Persona e Intimo"},
	{"1782", "Integratori e Sanitari"},
	{"1790", "Cura Casa"},
	{"1786", "Multimedia, Carte e Ricariche"},
	{"1784", "Amici Animali"},
	{"1783", "Mondo Bimbi"},
}

type gridResponse struct {
	Items []gridItem `json:"items"`
}

type gridItem struct {
	Title             string    `json:"title"`
	Prezzo            float64   `json:"prezzo"`
	PrezziPromo       []float64 `json:"promozioni_prezzoPromo"`
	DesMeccanica      string    `json:"promozioni_desMeccanica"`
	ScontoPercentuale []string  `json:"promozioni_scontoPercentuale"`
	ImgURL            string    `json:"imgUrl"`
}

// Scraper is the Esselunga adapter. Esselunga is a Selectable store: the
// user binds a specific outlet's flyer page, and the current flyer code is
// embedded in that page as a data attribute.
type Scraper struct {
	client  *scrapers.Client
	APIBase string        // overridable in tests
	Timeout time.Duration // flyer-page fetch timeout
}

func NewScraper(client *scrapers.Client) *Scraper {
	return &Scraper{client: client, APIBase: APIBase, Timeout: 20 * time.Second}
}

func (s *Scraper) StoreID() models.StoreID     { return models.StoreEsselunga }
func (s *Scraper) StoreType() models.StoreType { return models.StoreTypeSelectable }

// RegisterStore validates a user-chosen outlet flyer URL. The outlet
// abbreviation must be recoverable from the URL, otherwise every later
// category request would be malformed.
func (s *Scraper) RegisterStore(ctx context.Context, rawURL string) (models.StoreBinding, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return models.StoreBinding{}, fmt.Errorf("invalid outlet URL: %s", rawURL)
	}
	if outletCode(rawURL) == "" {
		return models.StoreBinding{}, fmt.Errorf("outlet code not found in URL: %s", rawURL)
	}
	return models.StoreBinding{URL: rawURL, PromoCode: models.NoPromoCode}, nil
}

func (s *Scraper) GetStoreDiscount(ctx context.Context, binding models.StoreBinding) (*scrapers.Discounts, error) {
	if binding.URL == "" {
		return nil, fmt.Errorf("esselunga binding has no outlet URL")
	}

	promoCode, err := s.flyerCode(binding.URL)
	if err != nil {
		return nil, err
	}

	if promoCode == binding.PromoCode {
		log.Printf("[%s] No new flyer found (codPromo %d)", Source, promoCode)
		return nil, nil
	}

	storeCode := outletCode(binding.URL)
	discounts := &scrapers.Discounts{PromoCode: promoCode}
	fetched := 0
	var lastErr error
	for _, category := range Categories {
		var resp gridResponse
		gridURL := fmt.Sprintf(s.APIBase, storeCode, category.ID, promoCode)
		if err := s.client.GetJSON(ctx, gridURL, &resp); err != nil {
			var statusErr *scrapers.StatusError
			if errors.As(err, &statusErr) {
				log.Printf("[%s] Skipping category %s: %v", Source, category.DisplayName, err)
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("fetching category %s: %w", category.DisplayName, err)
		}
		fetched++

		for _, item := range resp.Items {
			p, ok := normalize(item, category.ID)
			if !ok {
				continue
			}
			discounts.Products = append(discounts.Products, p)
		}
	}

	if fetched == 0 {
		return nil, fmt.Errorf("every category request failed for codPromo %d: %w", promoCode, lastErr)
	}
	return discounts, nil
}

// flyerCode loads the outlet's flyer page and reads the promotion code out
// of the data-cod-promo attribute.
func (s *Scraper) flyerCode(pageURL string) (int, error) {
	c := colly.NewCollector(colly.UserAgent(scrapers.UserAgent))
	c.SetRequestTimeout(s.Timeout)

	promoCode := models.NoPromoCode
	c.OnHTML("div[data-cod-promo]", func(e *colly.HTMLElement) {
		if v, err := strconv.Atoi(e.Attr("data-cod-promo")); err == nil {
			promoCode = v
		}
	})

	if err := c.Visit(pageURL); err != nil {
		return models.NoPromoCode, fmt.Errorf("fetching flyer page: %w", err)
	}
	if promoCode == models.NoPromoCode {
		return models.NoPromoCode, fmt.Errorf("%w: no data-cod-promo attribute at %s", models.ErrFlyerNotFound, pageURL)
	}
	return promoCode, nil
}

// outletCode extracts the outlet abbreviation from a flyer URL, e.g.
// ".../volantino.e-commerce.mi123.html" -> "MI123".
func outletCode(rawURL string) string {
	trimmed := strings.TrimSuffix(rawURL, ".html")
	i := strings.LastIndex(trimmed, ".")
	if i < 0 || i == len(trimmed)-1 {
		return ""
	}
	code := trimmed[i+1:]
	if strings.Contains(code, "/") {
		return ""
	}
	return strings.ToUpper(code)
}

func normalize(item gridItem, categoryID string) (models.Product, bool) {
	if len(item.PrezziPromo) == 0 {
		return models.Product{}, false
	}
	discounted := item.PrezziPromo[0]

	var originalPrice *float64
	if item.Prezzo != discounted {
		price := item.Prezzo
		originalPrice = &price
	}

	extra := models.Extra{
		"promotionName": item.DesMeccanica,
		"imageUrl":      item.ImgURL,
	}
	if len(item.ScontoPercentuale) > 0 {
		extra["discountPercentage"] = item.ScontoPercentuale[0]
	}
	return models.NewProduct(models.StoreEsselunga, item.Title, originalPrice, discounted, categoryID, extra), true
}
