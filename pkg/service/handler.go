// Package service coordinates the per-retailer scrapers: single-flight
// retrieval, registration seeding, promo-code writeback and the atomic
// catalog swap.
package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"dealscout/pkg/models"
	"dealscout/pkg/scrapers"
)

// SettingsVersion stamps the registration set. Bump it when the set of
// supported retailers or their types changes; mismatched sets are re-seeded
// on Initialize.
const SettingsVersion = 1

// RetrievingState is the process-wide retrieval flag exposed to callers so
// a UI can show "refreshing" without being able to get stuck there.
type RetrievingState int32

const (
	StateIdle RetrievingState = iota
	StateRunning
)

func (s RetrievingState) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// CatalogRepository is the slice of the product store the orchestrator
// needs: replace-by-store and delete-by-store.
type CatalogRepository interface {
	ReplaceStore(ctx context.Context, storeID models.StoreID, products []models.Product) error
	DeleteStore(ctx context.Context, storeID models.StoreID) error
}

// SettingsRepository is the registration store.
type SettingsRepository interface {
	Get() (models.StoresSettings, error)
	Initialize(set models.StoresSettings) error
	EnableStore(storeID models.StoreID, binding models.StoreBinding) error
	DisableStore(storeID models.StoreID) error
	InsertStore(storeID models.StoreID, binding models.StoreBinding) error
	RemoveStore(storeID models.StoreID) error
	UpdatePromoCode(storeID models.StoreID, promoCode int) error
}

// Handler owns the fixed scraper registry and serializes all retrieval
// under one lock: two stores never write the catalog concurrently, and the
// registration file sees one writer at a time.
type Handler struct {
	settings SettingsRepository
	catalog  CatalogRepository

	scrapers map[models.StoreID]scrapers.Scraper
	order    []models.StoreID

	// retrieveMu is the single-flight lock. TryLock makes the whole-catalog
	// path a cheap no-op when a pass is already running; the single-store
	// path blocks on Lock instead, because its caller is waiting for this
	// specific store's result.
	retrieveMu sync.Mutex
	state      atomic.Int32

	initMu      sync.Mutex
	initialized bool
}

func NewHandler(settings SettingsRepository, catalog CatalogRepository, registry []scrapers.Scraper) *Handler {
	h := &Handler{
		settings: settings,
		catalog:  catalog,
		scrapers: make(map[models.StoreID]scrapers.Scraper, len(registry)),
	}
	for _, sc := range registry {
		h.scrapers[sc.StoreID()] = sc
		h.order = append(h.order, sc.StoreID())
	}
	return h
}

// State reports whether a retrieval pass is in flight.
func (h *Handler) State() RetrievingState {
	return RetrievingState(h.state.Load())
}

// Scrapers returns the registry order, for listing endpoints.
func (h *Handler) Scrapers() []models.StoreID {
	return h.order
}

// Initialize seeds the registration set with one inert entry per scraper
// when the stored version stamp does not match the code's. Safe to call
// more than once; the in-memory latch makes repeat calls free.
func (h *Handler) Initialize() error {
	h.initMu.Lock()
	defer h.initMu.Unlock()
	if h.initialized {
		return nil
	}

	set, err := h.settings.Get()
	if err != nil {
		return fmt.Errorf("reading store registration: %w", err)
	}

	if set.Version != SettingsVersion {
		seeded := models.StoresSettings{
			Version: SettingsVersion,
			Stores:  make(map[models.StoreID]models.StoreSettings, len(h.scrapers)),
		}
		for id, sc := range h.scrapers {
			seeded.Stores[id] = models.StoreSettings{Type: sc.StoreType()}
		}
		if err := h.settings.Initialize(seeded); err != nil {
			return fmt.Errorf("seeding store registration: %w", err)
		}
		log.Printf("Store registration seeded at version %d (%d stores)", SettingsVersion, len(seeded.Stores))
	}

	h.initialized = true
	return nil
}

// RetrieveFromAllStores scrapes every enabled store sequentially, in
// registration order. When a pass is already running the call returns
// success immediately: the work is being done, duplicating it helps nobody.
// The first per-store failure aborts the rest of the pass.
func (h *Handler) RetrieveFromAllStores(ctx context.Context) error {
	if !h.retrieveMu.TryLock() {
		return nil
	}
	h.state.Store(int32(StateRunning))
	defer func() {
		h.state.Store(int32(StateIdle))
		h.retrieveMu.Unlock()
	}()

	set, err := h.settings.Get()
	if err != nil {
		return fmt.Errorf("reading store registration: %w", err)
	}

	for _, id := range h.order {
		entry, ok := set.Stores[id]
		if !ok {
			// The set is fully seeded at initialization; a missing entry
			// is a bug, not a condition to recover from.
			return fmt.Errorf("store registration entry not found: %s", id)
		}
		if !entry.Enabled() {
			continue
		}
		if err := h.retrieveProducts(ctx, id, nil); err != nil {
			return err
		}
	}
	return nil
}

// RetrieveStore scrapes one store. Unlike the whole-catalog path this
// blocks until the single-flight lock is free: the caller asked for this
// store specifically and must not be silently skipped. A non-nil binding
// enables a Toggle store as part of the same pass.
func (h *Handler) RetrieveStore(ctx context.Context, storeID models.StoreID, binding *models.StoreBinding) error {
	h.retrieveMu.Lock()
	h.state.Store(int32(StateRunning))
	defer func() {
		h.state.Store(int32(StateIdle))
		h.retrieveMu.Unlock()
	}()

	return h.retrieveProducts(ctx, storeID, binding)
}

// SaveNewStore binds a Selectable store to an outlet URL and immediately
// scrapes its first catalog, so no separate refresh is needed.
func (h *Handler) SaveNewStore(ctx context.Context, storeID models.StoreID, url string) error {
	sc, ok := h.scrapers[storeID]
	if !ok {
		return fmt.Errorf("store not found: %s", storeID)
	}
	selectable, ok := sc.(scrapers.SelectableScraper)
	if !ok {
		return fmt.Errorf("store %s does not take an outlet URL", storeID)
	}

	binding, err := selectable.RegisterStore(ctx, url)
	if err != nil {
		return err
	}
	if err := h.settings.InsertStore(storeID, binding); err != nil {
		return err
	}

	return h.RetrieveStore(ctx, storeID, nil)
}

// EnableStore turns on a Toggle store and scrapes its first catalog. The
// enablement is written back only after the scrape succeeded, so a dead
// endpoint never leaves an enabled store with an empty catalog.
func (h *Handler) EnableStore(ctx context.Context, storeID models.StoreID) error {
	binding := models.StoreBinding{PromoCode: models.NoPromoCode}
	return h.RetrieveStore(ctx, storeID, &binding)
}

// DisableStore turns off a Toggle store and drops its catalog. Once the
// registration write starts the tail must finish even if the caller goes
// away, or registration and catalog diverge.
func (h *Handler) DisableStore(ctx context.Context, storeID models.StoreID) error {
	ctx = context.WithoutCancel(ctx)
	if err := h.settings.DisableStore(storeID); err != nil {
		return err
	}
	return h.catalog.DeleteStore(ctx, storeID)
}

// RemoveStore clears a Selectable store's outlet binding and drops its
// catalog. Same cancellation rules as DisableStore.
func (h *Handler) RemoveStore(ctx context.Context, storeID models.StoreID) error {
	ctx = context.WithoutCancel(ctx)
	if err := h.settings.RemoveStore(storeID); err != nil {
		return err
	}
	return h.catalog.DeleteStore(ctx, storeID)
}

// retrieveProducts runs one store's scrape pass and persists the outcome.
// On failure nothing is mutated: the stale catalog stays valid.
func (h *Handler) retrieveProducts(ctx context.Context, storeID models.StoreID, binding *models.StoreBinding) error {
	sc, ok := h.scrapers[storeID]
	if !ok {
		return fmt.Errorf("store not found: %s", storeID)
	}

	set, err := h.settings.Get()
	if err != nil {
		return fmt.Errorf("reading store registration: %w", err)
	}
	entry, ok := set.Stores[storeID]
	if !ok {
		return fmt.Errorf("store registration entry not found: %s", storeID)
	}

	effective := binding
	if effective == nil {
		if entry.Store == nil {
			return fmt.Errorf("store %s is not enabled", storeID)
		}
		effective = entry.Store
	} else if sc.StoreType() != models.StoreTypeToggle {
		return fmt.Errorf("store %s cannot be enabled with an ad-hoc binding", storeID)
	}

	discounts, err := sc.GetStoreDiscount(ctx, *effective)
	if err != nil {
		return fmt.Errorf("scraping %s: %w", storeID, err)
	}

	if binding != nil {
		// Enable path: write the enablement back now that the scrape
		// succeeded. If the write fails the scraped set is discarded and
		// any stale rows go with it.
		if err := h.settings.EnableStore(storeID, *binding); err != nil {
			if delErr := h.catalog.DeleteStore(context.WithoutCancel(ctx), storeID); delErr != nil {
				log.Printf("Failed to clean up catalog for %s after enable failure: %v", storeID, delErr)
			}
			return err
		}
	}

	if discounts == nil {
		// Stored flyer is still current; nothing to do.
		return nil
	}

	if err := h.catalog.ReplaceStore(ctx, storeID, discounts.Products); err != nil {
		return fmt.Errorf("replacing catalog for %s: %w", storeID, err)
	}
	log.Printf("Replaced catalog for %s: %d products (codPromo %d)", storeID, len(discounts.Products), discounts.PromoCode)

	if discounts.PromoCode != models.NoPromoCode {
		if err := h.settings.UpdatePromoCode(storeID, discounts.PromoCode); err != nil {
			return fmt.Errorf("recording promo code for %s: %w", storeID, err)
		}
	}
	return nil
}
