package settings

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"dealscout/pkg/models"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	r := NewRepository(filepath.Join(t.TempDir(), "stores.json"))
	t.Cleanup(r.Close)
	return r
}

func seed(t *testing.T, r *Repository) {
	t.Helper()
	err := r.Initialize(models.StoresSettings{
		Version: 1,
		Stores: map[models.StoreID]models.StoreSettings{
			models.StoreEsselunga: {Type: models.StoreTypeSelectable},
			models.StoreCarrefour: {Type: models.StoreTypeToggle},
			models.StoreTigros:    {Type: models.StoreTypeToggle},
		},
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
}

func TestGet_MissingFileReadsAsEmpty(t *testing.T) {
	r := newTestRepository(t)

	set, err := r.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if set.Version != 0 {
		t.Errorf("Expected version 0 for a missing file, got %d", set.Version)
	}
	if len(set.Stores) != 0 {
		t.Errorf("Expected no entries, got %d", len(set.Stores))
	}
}

func TestInitialize_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stores.json")
	r := NewRepository(path)
	defer r.Close()

	seed(t, r)
	if err := r.EnableStore(models.StoreTigros, models.StoreBinding{PromoCode: 7}); err != nil {
		t.Fatalf("EnableStore failed: %v", err)
	}

	// A fresh repository on the same path must see the written state
	reopened := NewRepository(path)
	defer reopened.Close()

	set, err := reopened.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if set.Version != 1 {
		t.Errorf("Expected version 1, got %d", set.Version)
	}
	entry := set.Stores[models.StoreTigros]
	if !entry.Enabled() || entry.Store.PromoCode != 7 {
		t.Errorf("Expected tigros enabled with promo code 7, got %+v", entry.Store)
	}
}

func TestToggleLifecycle(t *testing.T) {
	r := newTestRepository(t)
	seed(t, r)

	if err := r.EnableStore(models.StoreCarrefour, models.StoreBinding{PromoCode: models.NoPromoCode}); err != nil {
		t.Fatalf("EnableStore failed: %v", err)
	}
	set, _ := r.Get()
	if !set.Stores[models.StoreCarrefour].Enabled() {
		t.Error("Expected carrefour to be enabled")
	}

	if err := r.DisableStore(models.StoreCarrefour); err != nil {
		t.Fatalf("DisableStore failed: %v", err)
	}
	set, _ = r.Get()
	if set.Stores[models.StoreCarrefour].Enabled() {
		t.Error("Expected carrefour to be disabled")
	}
}

func TestTypeMismatchIsRejected(t *testing.T) {
	r := newTestRepository(t)
	seed(t, r)

	// Toggle ops on a Selectable store
	if err := r.EnableStore(models.StoreEsselunga, models.StoreBinding{}); !errors.Is(err, ErrWrongStoreType) {
		t.Errorf("Expected ErrWrongStoreType, got %v", err)
	}
	if err := r.DisableStore(models.StoreEsselunga); !errors.Is(err, ErrWrongStoreType) {
		t.Errorf("Expected ErrWrongStoreType, got %v", err)
	}

	// Selectable ops on a Toggle store
	if err := r.InsertStore(models.StoreTigros, models.StoreBinding{URL: "https://example.com"}); !errors.Is(err, ErrWrongStoreType) {
		t.Errorf("Expected ErrWrongStoreType, got %v", err)
	}
	if err := r.RemoveStore(models.StoreTigros); !errors.Is(err, ErrWrongStoreType) {
		t.Errorf("Expected ErrWrongStoreType, got %v", err)
	}
}

func TestUpdatePromoCode(t *testing.T) {
	r := newTestRepository(t)
	seed(t, r)

	// Disabled store: nothing to stamp the code onto
	if err := r.UpdatePromoCode(models.StoreTigros, 7); !errors.Is(err, ErrStoreNotEnabled) {
		t.Errorf("Expected ErrStoreNotEnabled, got %v", err)
	}

	if err := r.EnableStore(models.StoreTigros, models.StoreBinding{PromoCode: models.NoPromoCode}); err != nil {
		t.Fatalf("EnableStore failed: %v", err)
	}
	if err := r.UpdatePromoCode(models.StoreTigros, 7); err != nil {
		t.Fatalf("UpdatePromoCode failed: %v", err)
	}

	set, _ := r.Get()
	if got := set.Stores[models.StoreTigros].Store.PromoCode; got != 7 {
		t.Errorf("Expected promo code 7, got %d", got)
	}
}

func TestUnknownEntryIsRejected(t *testing.T) {
	r := newTestRepository(t)
	seed(t, r)

	if err := r.EnableStore(models.StoreUnknown, models.StoreBinding{}); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("Expected ErrEntryNotFound, got %v", err)
	}
}

func TestUpdateTransformCannotAliasStoredState(t *testing.T) {
	r := newTestRepository(t)
	seed(t, r)
	if err := r.EnableStore(models.StoreTigros, models.StoreBinding{PromoCode: 7}); err != nil {
		t.Fatalf("EnableStore failed: %v", err)
	}

	var leaked models.StoresSettings
	err := r.Update(func(set models.StoresSettings) (models.StoresSettings, error) {
		leaked = set
		return set, nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// Mutating the value handed to the transform must not reach the store
	leaked.Stores[models.StoreTigros].Store.PromoCode = 999

	set, _ := r.Get()
	if got := set.Stores[models.StoreTigros].Store.PromoCode; got != 7 {
		t.Errorf("Expected promo code 7, got %d", got)
	}
}

func TestWatch(t *testing.T) {
	r := newTestRepository(t)
	seed(t, r)

	ch := r.Watch()
	if err := r.EnableStore(models.StoreTigros, models.StoreBinding{PromoCode: 7}); err != nil {
		t.Fatalf("EnableStore failed: %v", err)
	}

	select {
	case set := <-ch:
		if !set.Stores[models.StoreTigros].Enabled() {
			t.Error("Expected the watched set to carry the enablement")
		}
	case <-time.After(time.Second):
		t.Fatal("Expected a settings notification")
	}
}
