package main

import (
	"context"
	"dealscout/pkg/api"
	"dealscout/pkg/config"
	"dealscout/pkg/models"
	"dealscout/pkg/scrapers"
	"dealscout/pkg/scrapers/carrefour"
	"dealscout/pkg/scrapers/esselunga"
	"dealscout/pkg/scrapers/tigros"
	"dealscout/pkg/service"
	"dealscout/pkg/settings"
	"dealscout/pkg/storage"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	scalargo "github.com/bdpiprava/scalar-go"
)

const bestDiscountsLimit = 100

type server struct {
	cfg      *config.Config
	catalog  *storage.Catalog
	settings *settings.Repository
	handler  *service.Handler
}

func main() {
	cfg := config.Load("./config.yml")

	catalog, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		log.Fatalf("Failed to open catalog database: %v", err)
	}
	defer catalog.Close()

	settingsRepo := settings.NewRepository(cfg.Storage.SettingsPath)
	defer settingsRepo.Close()

	client := scrapers.NewClient(cfg.RequestTimeout(), cfg.Scraper.RequestsPerSecond)
	handler := service.NewHandler(settingsRepo, catalog, []scrapers.Scraper{
		esselunga.NewScraper(client),
		carrefour.NewScraper(client),
		tigros.NewScraper(client),
	})
	if err := handler.Initialize(); err != nil {
		log.Fatalf("Failed to initialize store registration: %v", err)
	}

	srv := &server{cfg: cfg, catalog: catalog, settings: settingsRepo, handler: handler}
	http.HandleFunc("/", srv.rootHandler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go srv.refreshLoop(ctx)

	if ip := GetOutboundIP(); ip != nil {
		fmt.Printf("Local Network URL: http://%s:%s\n", ip.String(), cfg.Server.Port)
	}
	fmt.Printf("Access URL: http://localhost:%s\n", cfg.Server.Port)
	fmt.Printf("API Docs: http://localhost:%s/\n", cfg.Server.Port)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           nil,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

// refreshLoop runs one full retrieval at startup and then once per
// configured interval (daily by default).
func (s *server) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RefreshInterval())
	defer ticker.Stop()

	log.Printf("Background refresh every %s", s.cfg.RefreshInterval())

	for {
		if err := s.handler.RetrieveFromAllStores(ctx); err != nil {
			log.Printf("Background refresh failed: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Print("Background refresh stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *server) rootHandler(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasPrefix(r.URL.Path, "/stores"):
		s.storesHandler(w, r)
		return
	case r.URL.Path == "/products":
		s.listProducts(w, r, s.catalog.AllProducts)
		return
	case r.URL.Path == "/products/best":
		products, err := s.catalog.BestDiscounts(r.Context(), bestDiscountsLimit)
		s.writeProducts(w, r, products, err)
		return
	case r.URL.Path == "/favorites":
		s.listProducts(w, r, s.catalog.Favorites)
		return
	case r.URL.Path == "/refresh":
		s.refreshAll(w, r)
		return
	}

	// Serve Scalar docs on root path
	if r.URL.Path != "/" {
		api.WriteNotFound(w, "Unknown path", r.URL.Path)
		return
	}
	html, err := scalargo.NewV2(
		scalargo.WithSpecDir("./"),
		scalargo.WithMetaDataOpts(
			scalargo.WithTitle("Deal Scout API"),
		),
	)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}

// storesHandler dispatches everything under /stores.
// Paths:
//
//	GET    /stores
//	PUT    /stores/{store}            {"url": ...} or {"enabled": bool}
//	DELETE /stores/{store}
//	POST   /stores/{store}/refresh
//	GET    /stores/{store}/products[?category=...]
//	GET    /stores/{store}/categories
//	GET    /stores/{store}/outlets?q=...
//	PUT    /stores/{store}/products/{name}/favorite
func (s *server) storesHandler(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimSuffix(r.URL.Path, "/"), "/")
	// parts[0] = ""
	// parts[1] = "stores"

	if len(parts) == 2 {
		if r.Method != http.MethodGet {
			api.WriteBadRequest(w, "Method not allowed. Use GET.", r.URL.Path)
			return
		}
		s.listStores(w, r)
		return
	}

	storeID, err := models.ParseStoreID(parts[2])
	if err != nil {
		api.WriteBadRequest(w, err.Error(), r.URL.Path)
		return
	}

	switch {
	case len(parts) == 3:
		s.storeMutation(w, r, storeID)
	case len(parts) == 4 && parts[3] == "refresh":
		s.refreshStore(w, r, storeID)
	case len(parts) == 4 && parts[3] == "products":
		s.storeProducts(w, r, storeID)
	case len(parts) == 4 && parts[3] == "categories":
		s.storeCategories(w, r, storeID)
	case len(parts) == 4 && parts[3] == "outlets":
		s.storeOutlets(w, r, storeID)
	case len(parts) == 6 && parts[3] == "products" && parts[5] == "favorite":
		s.updateFavorite(w, r, storeID, parts[4])
	default:
		api.WriteBadRequest(w, "Invalid path under /stores", r.URL.Path)
	}
}

func (s *server) listStores(w http.ResponseWriter, r *http.Request) {
	set, err := s.settings.Get()
	if err != nil {
		api.WriteInternalServerError(w, err, r.URL.Path)
		return
	}

	type storeInfo struct {
		Store   string               `json:"store"`
		Type    string               `json:"type"`
		Enabled bool                 `json:"enabled"`
		Binding *models.StoreBinding `json:"binding,omitempty"`
	}
	out := struct {
		State  string      `json:"state"`
		Stores []storeInfo `json:"stores"`
	}{State: s.handler.State().String()}

	for _, id := range s.handler.Scrapers() {
		entry, ok := set.Stores[id]
		if !ok {
			continue
		}
		out.Stores = append(out.Stores, storeInfo{
			Store:   id.String(),
			Type:    entry.Type.String(),
			Enabled: entry.Enabled(),
			Binding: entry.Store,
		})
	}
	api.WriteJSON(w, out)
}

func (s *server) storeMutation(w http.ResponseWriter, r *http.Request, storeID models.StoreID) {
	switch r.Method {
	case http.MethodPut:
		var body struct {
			URL     string `json:"url"`
			Enabled *bool  `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			api.WriteBadRequest(w, "Invalid JSON body.", r.URL.Path)
			return
		}
		defer r.Body.Close()

		var err error
		switch {
		case body.URL != "":
			err = s.handler.SaveNewStore(r.Context(), storeID, body.URL)
		case body.Enabled != nil && *body.Enabled:
			err = s.handler.EnableStore(r.Context(), storeID)
		case body.Enabled != nil:
			err = s.handler.DisableStore(r.Context(), storeID)
		default:
			api.WriteBadRequest(w, `Body must carry "url" or "enabled".`, r.URL.Path)
			return
		}
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		api.WriteJSON(w, map[string]string{"status": "ok"})

	case http.MethodDelete:
		set, err := s.settings.Get()
		if err != nil {
			api.WriteInternalServerError(w, err, r.URL.Path)
			return
		}
		entry, ok := set.Stores[storeID]
		if !ok {
			api.WriteNotFound(w, "Store not registered", r.URL.Path)
			return
		}
		if entry.Type == models.StoreTypeSelectable {
			err = s.handler.RemoveStore(r.Context(), storeID)
		} else {
			err = s.handler.DisableStore(r.Context(), storeID)
		}
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		api.WriteJSON(w, map[string]string{"status": "ok"})

	default:
		api.WriteBadRequest(w, "Method not allowed. Use PUT or DELETE.", r.URL.Path)
	}
}

// refreshAll kicks off a full retrieval pass. The pass can take minutes, so
// it runs detached; 202 plus the state endpoint is the contract.
func (s *server) refreshAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteBadRequest(w, "Method not allowed. Use POST.", r.URL.Path)
		return
	}

	go func() {
		if err := s.handler.RetrieveFromAllStores(context.Background()); err != nil {
			log.Printf("Manual refresh failed: %v", err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"state": service.StateRunning.String()})
}

// refreshStore scrapes one store synchronously; the caller is waiting on
// this specific store's result.
func (s *server) refreshStore(w http.ResponseWriter, r *http.Request, storeID models.StoreID) {
	if r.Method != http.MethodPost {
		api.WriteBadRequest(w, "Method not allowed. Use POST.", r.URL.Path)
		return
	}
	if err := s.handler.RetrieveStore(r.Context(), storeID, nil); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, map[string]string{"status": "ok"})
}

func (s *server) storeProducts(w http.ResponseWriter, r *http.Request, storeID models.StoreID) {
	if r.Method != http.MethodGet {
		api.WriteBadRequest(w, "Method not allowed. Use GET.", r.URL.Path)
		return
	}

	var (
		products []models.Product
		err      error
	)
	if category := r.URL.Query().Get("category"); category != "" {
		products, err = s.catalog.ProductsByStoreAndCategory(r.Context(), storeID, category)
	} else {
		products, err = s.catalog.ProductsByStore(r.Context(), storeID)
	}
	s.writeProducts(w, r, products, err)
}

func (s *server) storeCategories(w http.ResponseWriter, r *http.Request, storeID models.StoreID) {
	if r.Method != http.MethodGet {
		api.WriteBadRequest(w, "Method not allowed. Use GET.", r.URL.Path)
		return
	}
	switch storeID {
	case models.StoreEsselunga:
		api.WriteJSON(w, esselunga.Categories)
	case models.StoreCarrefour:
		api.WriteJSON(w, carrefour.Categories)
	case models.StoreTigros:
		api.WriteJSON(w, tigros.Categories)
	default:
		api.WriteNotFound(w, "Store has no categories", r.URL.Path)
	}
}

// storeOutlets serves the outlet finder behind the Selectable registration
// flow. Only Esselunga needs it.
func (s *server) storeOutlets(w http.ResponseWriter, r *http.Request, storeID models.StoreID) {
	if r.Method != http.MethodGet {
		api.WriteBadRequest(w, "Method not allowed. Use GET.", r.URL.Path)
		return
	}
	if storeID != models.StoreEsselunga {
		api.WriteBadRequest(w, "Outlet lookup is only available for esselunga", r.URL.Path)
		return
	}

	outlets, err := esselunga.FindOutlets(r.Context(), r.URL.Query().Get("q"), s.cfg.Scraper.Headless)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, outlets)
}

func (s *server) updateFavorite(w http.ResponseWriter, r *http.Request, storeID models.StoreID, rawName string) {
	if r.Method != http.MethodPut {
		api.WriteBadRequest(w, "Method not allowed. Use PUT.", r.URL.Path)
		return
	}

	name, err := url.PathUnescape(rawName)
	if err != nil {
		api.WriteBadRequest(w, "Invalid product name encoding.", r.URL.Path)
		return
	}

	var body struct {
		IsFavorite bool `json:"is_favorite"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.WriteBadRequest(w, "Invalid JSON body.", r.URL.Path)
		return
	}
	defer r.Body.Close()

	if err := s.catalog.UpdateFavorite(r.Context(), storeID, name, body.IsFavorite); err != nil {
		if strings.Contains(err.Error(), "product not found") {
			api.WriteNotFound(w, "Product not found", r.URL.Path)
			return
		}
		api.WriteInternalServerError(w, err, r.URL.Path)
		return
	}
	api.WriteJSON(w, map[string]string{"status": "ok"})
}

func (s *server) listProducts(w http.ResponseWriter, r *http.Request, query func(context.Context) ([]models.Product, error)) {
	if r.Method != http.MethodGet {
		api.WriteBadRequest(w, "Method not allowed. Use GET.", r.URL.Path)
		return
	}
	products, err := query(r.Context())
	s.writeProducts(w, r, products, err)
}

func (s *server) writeProducts(w http.ResponseWriter, r *http.Request, products []models.Product, err error) {
	if err != nil {
		api.WriteInternalServerError(w, err, r.URL.Path)
		return
	}
	if products == nil {
		products = []models.Product{}
	}
	api.WriteJSON(w, products)
}

func (s *server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	log.Printf("Error handling %s: %v", r.URL.Path, err)

	msg := err.Error()
	switch {
	case strings.Contains(msg, "context deadline exceeded") || strings.Contains(msg, "Client.Timeout") || strings.Contains(msg, "timeout"):
		api.WriteGatewayTimeout(w, "Upstream service timed out: "+msg, r.URL.Path)
	case errors.Is(err, models.ErrFlyerNotFound):
		api.WriteNotFound(w, msg, r.URL.Path)
	case errors.Is(err, settings.ErrWrongStoreType) || errors.Is(err, settings.ErrStoreNotEnabled):
		api.WriteConflict(w, msg, r.URL.Path)
	case strings.Contains(msg, "not enabled") || strings.Contains(msg, "invalid outlet URL") || strings.Contains(msg, "outlet code not found"):
		api.WriteBadRequest(w, msg, r.URL.Path)
	default:
		api.WriteInternalServerError(w, err, r.URL.Path)
	}
}

func GetOutboundIP() net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		addrs, _ := net.InterfaceAddrs()
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					return ipnet.IP
				}
			}
		}
		return nil
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP
}
