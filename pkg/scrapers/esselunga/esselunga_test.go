package esselunga

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dealscout/pkg/models"
	"dealscout/pkg/scrapers"
)

const flyerPage = `
<!DOCTYPE html>
<html>
<body>
    <div class="promo-grid" data-cod-promo="17">Volantino</div>
</body>
</html>
`

func testClient() *scrapers.Client {
	return scrapers.NewClient(5*time.Second, 10000)
}

// outletServer serves the outlet flyer page on any .html path and the
// digital-grid JSON everywhere else.
func outletServer(t *testing.T, items []gridItem, brokenCategory string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, ".html") {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(flyerPage))
			return
		}
		if brokenCategory != "" && strings.Contains(r.URL.Path, "category:"+brokenCategory+".") {
			http.Error(w, "upstream broke", http.StatusInternalServerError)
			return
		}
		if !strings.Contains(r.URL.Path, "abbrev:MI123.") {
			t.Errorf("grid request missing outlet abbreviation: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(gridResponse{Items: items})
	}))
}

func newTestScraper(ts *httptest.Server) *Scraper {
	scraper := NewScraper(testClient())
	scraper.APIBase = ts.URL + "/grid.abbrev:%s.category:%s.codPromo:%d.json"
	return scraper
}

func TestGetStoreDiscount(t *testing.T) {
	items := []gridItem{
		{
			Title:             "Parmigiano Reggiano 30 mesi",
			Prezzo:            24.90,
			PrezziPromo:       []float64{19.90},
			DesMeccanica:      "SCONTO 20%",
			ScontoPercentuale: []string{"20"},
			ImgURL:            "https://img.example/parmigiano.jpg",
		},
		{Title: "Offerta senza prezzo base", Prezzo: 3.50, PrezziPromo: []float64{3.50}},
		{Title: "Non in promozione", Prezzo: 1.99},
	}
	ts := outletServer(t, items, "")
	defer ts.Close()

	scraper := newTestScraper(ts)
	binding := models.StoreBinding{URL: ts.URL + "/volantino.e-commerce.mi123.html", PromoCode: models.NoPromoCode}

	discounts, err := scraper.GetStoreDiscount(context.Background(), binding)
	if err != nil {
		t.Fatalf("GetStoreDiscount failed: %v", err)
	}
	if discounts.PromoCode != 17 {
		t.Errorf("Expected codPromo 17, got %d", discounts.PromoCode)
	}
	// The item without a promotional price is dropped
	if len(discounts.Products) != 2*len(Categories) {
		t.Errorf("Expected %d products, got %d", 2*len(Categories), len(discounts.Products))
	}

	first := discounts.Products[0]
	if first.Name != "Parmigiano Reggiano 30 mesi" {
		t.Errorf("Expected name 'Parmigiano Reggiano 30 mesi', got %q", first.Name)
	}
	if first.OriginalPrice == nil || *first.OriginalPrice != 24.90 {
		t.Errorf("Expected original price 24.90, got %v", first.OriginalPrice)
	}
	if first.DiscountedPrice != 19.90 {
		t.Errorf("Expected discounted price 19.90, got %f", first.DiscountedPrice)
	}
	if first.Extra["discountPercentage"] != "20" {
		t.Errorf("Expected discount percentage '20', got %v", first.Extra["discountPercentage"])
	}

	second := discounts.Products[1]
	if second.OriginalPrice != nil {
		t.Errorf("Expected nil original price for standalone promo price, got %v", *second.OriginalPrice)
	}
}

func TestGetStoreDiscount_NoNewFlyer(t *testing.T) {
	ts := outletServer(t, nil, "")
	defer ts.Close()

	scraper := newTestScraper(ts)
	binding := models.StoreBinding{URL: ts.URL + "/volantino.e-commerce.mi123.html", PromoCode: 17}

	discounts, err := scraper.GetStoreDiscount(context.Background(), binding)
	if err != nil {
		t.Fatalf("GetStoreDiscount failed: %v", err)
	}
	if discounts != nil {
		t.Errorf("Expected nil discounts for unchanged flyer, got %+v", discounts)
	}
}

func TestGetStoreDiscount_BrokenCategoryIsSkipped(t *testing.T) {
	items := []gridItem{{Title: "Prodotto", Prezzo: 2.00, PrezziPromo: []float64{1.50}}}
	ts := outletServer(t, items, Categories[0].ID)
	defer ts.Close()

	scraper := newTestScraper(ts)
	binding := models.StoreBinding{URL: ts.URL + "/volantino.e-commerce.mi123.html", PromoCode: models.NoPromoCode}

	discounts, err := scraper.GetStoreDiscount(context.Background(), binding)
	if err != nil {
		t.Fatalf("GetStoreDiscount failed: %v", err)
	}
	if len(discounts.Products) != len(Categories)-1 {
		t.Errorf("Expected %d products, got %d", len(Categories)-1, len(discounts.Products))
	}
}

func TestRegisterStore(t *testing.T) {
	scraper := NewScraper(testClient())

	binding, err := scraper.RegisterStore(context.Background(), "https://www.esselunga.it/it-it/negozi/volantino.e-commerce.mi123.html")
	if err != nil {
		t.Fatalf("RegisterStore failed: %v", err)
	}
	if binding.PromoCode != models.NoPromoCode {
		t.Errorf("Expected fresh binding with no promo code, got %d", binding.PromoCode)
	}

	if _, err := scraper.RegisterStore(context.Background(), "not a url"); err == nil {
		t.Error("Expected an error for a malformed URL")
	}
	if _, err := scraper.RegisterStore(context.Background(), "https://www.esselunga.it/html"); err == nil {
		t.Error("Expected an error for a URL without an outlet code")
	}
}

func TestOutletCode(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.esselunga.it/volantino.e-commerce.mi123.html", "MI123"},
		{"https://www.esselunga.it/volantino.pavia.html", "PAVIA"},
		{"https://www.esselunga.it/html", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := outletCode(tt.url); got != tt.want {
			t.Errorf("outletCode(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
