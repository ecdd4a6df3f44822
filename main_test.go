package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dealscout/pkg/api"
	"dealscout/pkg/config"
	"dealscout/pkg/scrapers"
	"dealscout/pkg/scrapers/carrefour"
	"dealscout/pkg/scrapers/esselunga"
	"dealscout/pkg/scrapers/tigros"
	"dealscout/pkg/service"
	"dealscout/pkg/settings"
	"dealscout/pkg/storage"
)

func newTestServer(t *testing.T) *server {
	t.Helper()
	dir := t.TempDir()

	catalog, err := storage.New(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("storage.New failed: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })

	settingsRepo := settings.NewRepository(filepath.Join(dir, "stores.json"))
	t.Cleanup(settingsRepo.Close)

	client := scrapers.NewClient(time.Second, 10000)
	handler := service.NewHandler(settingsRepo, catalog, []scrapers.Scraper{
		esselunga.NewScraper(client),
		carrefour.NewScraper(client),
		tigros.NewScraper(client),
	})
	if err := handler.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	return &server{cfg: config.Load(filepath.Join(dir, "no-config.yml")), catalog: catalog, settings: settingsRepo, handler: handler}
}

func TestStoresHandler_Errors(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
		expectedDetail string
	}{
		{
			name:           "Unsupported Store",
			method:         "GET",
			path:           "/stores/lidl/products",
			expectedStatus: http.StatusBadRequest,
			expectedDetail: "store not supported: lidl. Available: esselunga, carrefour, tigros",
		},
		{
			name:           "Invalid Path - Wrong keyword",
			method:         "GET",
			path:           "/stores/tigros/items",
			expectedStatus: http.StatusBadRequest,
			expectedDetail: "Invalid path under /stores",
		},
		{
			name:           "Wrong Method on store list",
			method:         "POST",
			path:           "/stores",
			expectedStatus: http.StatusBadRequest,
			expectedDetail: "Method not allowed. Use GET.",
		},
		{
			name:           "Wrong Method on refresh",
			method:         "GET",
			path:           "/stores/tigros/refresh",
			expectedStatus: http.StatusBadRequest,
			expectedDetail: "Method not allowed. Use POST.",
		},
		{
			name:           "Outlets on a store without outlets",
			method:         "GET",
			path:           "/stores/tigros/outlets",
			expectedStatus: http.StatusBadRequest,
			expectedDetail: "Outlet lookup is only available for esselunga",
		},
		{
			name:           "Mutation without a body field",
			method:         "PUT",
			path:           "/stores/tigros",
			expectedStatus: http.StatusBadRequest,
			expectedDetail: `Body must carry "url" or "enabled".`,
		},
	}

	srv := newTestServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body *strings.Reader
			if tt.method == "PUT" {
				body = strings.NewReader("{}")
			} else {
				body = strings.NewReader("")
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			rr := httptest.NewRecorder()

			srv.rootHandler(rr, req)

			if status := rr.Code; status != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v",
					status, tt.expectedStatus)
			}

			expectedContentType := "application/problem+json"
			if contentType := rr.Header().Get("Content-Type"); contentType != expectedContentType {
				t.Errorf("handler returned wrong content type: got %v want %v",
					contentType, expectedContentType)
			}

			var pd api.ProblemDetails
			if err := json.Unmarshal(rr.Body.Bytes(), &pd); err != nil {
				t.Errorf("handler returned invalid JSON: %v. Body: %s", err, rr.Body.String())
			}
			if pd.Status != tt.expectedStatus {
				t.Errorf("JSON status mismatch: got %v want %v", pd.Status, tt.expectedStatus)
			}
			if !strings.Contains(pd.Detail, tt.expectedDetail) {
				t.Errorf("JSON detail mismatch: got %q, want substring %q", pd.Detail, tt.expectedDetail)
			}
			if pd.Instance != tt.path {
				t.Errorf("JSON instance mismatch: got %v want %v", pd.Instance, tt.path)
			}
		})
	}
}

func TestListStores(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("GET", "/stores", nil)
	rr := httptest.NewRecorder()
	srv.rootHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var out struct {
		State  string `json:"state"`
		Stores []struct {
			Store   string `json:"store"`
			Type    string `json:"type"`
			Enabled bool   `json:"enabled"`
		} `json:"stores"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("Invalid JSON: %v. Body: %s", err, rr.Body.String())
	}
	if out.State != "idle" {
		t.Errorf("Expected idle state, got %q", out.State)
	}
	if len(out.Stores) != 3 {
		t.Fatalf("Expected 3 stores, got %d", len(out.Stores))
	}
	for _, s := range out.Stores {
		if s.Enabled {
			t.Errorf("Expected %s to start disabled", s.Store)
		}
	}
	if out.Stores[0].Store != "esselunga" || out.Stores[0].Type != "selectable" {
		t.Errorf("Expected esselunga/selectable first, got %s/%s", out.Stores[0].Store, out.Stores[0].Type)
	}
}

func TestListProducts_EmptyCatalog(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/products", "/products/best", "/favorites", "/stores/tigros/products"} {
		req := httptest.NewRequest("GET", path, nil)
		rr := httptest.NewRecorder()
		srv.rootHandler(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rr.Code)
			continue
		}
		if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
			t.Errorf("%s: expected an empty array, got %s", path, body)
		}
	}
}

func TestStoreCategories(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("GET", "/stores/tigros/categories", nil)
	rr := httptest.NewRecorder()
	srv.rootHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var categories []tigros.Category
	if err := json.Unmarshal(rr.Body.Bytes(), &categories); err != nil {
		t.Fatalf("Invalid JSON: %v. Body: %s", err, rr.Body.String())
	}
	if len(categories) != len(tigros.Categories) {
		t.Errorf("Expected %d categories, got %d", len(tigros.Categories), len(categories))
	}
}

func TestUpdateFavorite_NotFound(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("PUT", "/stores/tigros/products/Inesistente/favorite", strings.NewReader(`{"is_favorite":true}`))
	rr := httptest.NewRecorder()
	srv.rootHandler(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d. Body: %s", rr.Code, rr.Body.String())
	}
}
