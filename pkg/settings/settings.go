// Package settings persists the store registration set: one entry per
// supported retailer, versioned as a whole. The set is kept as a single JSON
// document and every mutation rewrites it atomically, mirroring how small
// the data is (a handful of entries) and how strict the consistency needs
// are (concurrent mutators must serialize).
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"dealscout/pkg/models"
)

var (
	// ErrEntryNotFound means the registration set has no entry for the
	// requested store. The set is fully seeded at initialization, so this
	// is a programming error, not a user-facing condition.
	ErrEntryNotFound = errors.New("store registration entry not found")
	// ErrWrongStoreType means a Toggle operation was applied to a
	// Selectable store or vice versa.
	ErrWrongStoreType = errors.New("operation not valid for this store type")
	// ErrStoreNotEnabled means a promo-code write targeted a store with no
	// active binding.
	ErrStoreNotEnabled = errors.New("store is not enabled")
)

// Repository owns the registration file. All mutation goes through Update,
// which serializes concurrent callers and notifies watchers.
type Repository struct {
	path string

	mu   sync.Mutex
	subs map[chan models.StoresSettings]struct{}
}

func NewRepository(path string) *Repository {
	return &Repository{path: path, subs: make(map[chan models.StoresSettings]struct{})}
}

// Get returns the current registration set. A missing file reads as the
// empty, version-0 set, which Initialize treats as "needs seeding".
func (r *Repository) Get() (models.StoresSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked()
}

// Update applies transform to a copy of the current set and persists the
// result atomically. The transform must not retain the value it is given.
func (r *Repository) Update(transform func(models.StoresSettings) (models.StoresSettings, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.loadLocked()
	if err != nil {
		return err
	}

	next, err := transform(current.Clone())
	if err != nil {
		return err
	}

	if err := r.saveLocked(next); err != nil {
		return err
	}
	r.notifyLocked(next)
	return nil
}

// Watch returns a channel carrying every registration set written after the
// call. Close removes all watchers; there is no per-watcher cancel because
// the process owns a fixed, small number of them.
func (r *Repository) Watch() <-chan models.StoresSettings {
	ch := make(chan models.StoresSettings, 1)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()
	return ch
}

// Initialize replaces the whole set, bumping it to the given version.
func (r *Repository) Initialize(set models.StoresSettings) error {
	return r.Update(func(models.StoresSettings) (models.StoresSettings, error) {
		return set, nil
	})
}

// EnableStore binds a Toggle store.
func (r *Repository) EnableStore(storeID models.StoreID, binding models.StoreBinding) error {
	return r.setBinding(storeID, models.StoreTypeToggle, &binding)
}

// DisableStore clears a Toggle store's binding.
func (r *Repository) DisableStore(storeID models.StoreID) error {
	return r.setBinding(storeID, models.StoreTypeToggle, nil)
}

// InsertStore binds a Selectable store to a chosen outlet.
func (r *Repository) InsertStore(storeID models.StoreID, binding models.StoreBinding) error {
	return r.setBinding(storeID, models.StoreTypeSelectable, &binding)
}

// RemoveStore clears a Selectable store's outlet binding.
func (r *Repository) RemoveStore(storeID models.StoreID) error {
	return r.setBinding(storeID, models.StoreTypeSelectable, nil)
}

// UpdatePromoCode records the last observed flyer code of an enabled store.
func (r *Repository) UpdatePromoCode(storeID models.StoreID, promoCode int) error {
	return r.Update(func(set models.StoresSettings) (models.StoresSettings, error) {
		entry, ok := set.Stores[storeID]
		if !ok {
			return set, fmt.Errorf("%w: %s", ErrEntryNotFound, storeID)
		}
		if entry.Store == nil {
			return set, fmt.Errorf("%w: %s", ErrStoreNotEnabled, storeID)
		}
		entry.Store.PromoCode = promoCode
		set.Stores[storeID] = entry
		return set, nil
	})
}

func (r *Repository) setBinding(storeID models.StoreID, wantType models.StoreType, binding *models.StoreBinding) error {
	return r.Update(func(set models.StoresSettings) (models.StoresSettings, error) {
		entry, ok := set.Stores[storeID]
		if !ok {
			return set, fmt.Errorf("%w: %s", ErrEntryNotFound, storeID)
		}
		if entry.Type != wantType {
			return set, fmt.Errorf("%w: %s is %s", ErrWrongStoreType, storeID, entry.Type)
		}
		entry.Store = binding
		set.Stores[storeID] = entry
		return set, nil
	})
}

func (r *Repository) loadLocked() (models.StoresSettings, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.StoresSettings{Stores: map[models.StoreID]models.StoreSettings{}}, nil
		}
		return models.StoresSettings{}, err
	}

	var set models.StoresSettings
	if err := json.Unmarshal(data, &set); err != nil {
		return models.StoresSettings{}, fmt.Errorf("malformed registration file %s: %w", r.path, err)
	}
	if set.Stores == nil {
		set.Stores = map[models.StoreID]models.StoreSettings{}
	}
	return set, nil
}

// saveLocked writes through a temp file and renames it into place, so a
// crash mid-write cannot leave a truncated registration file.
func (r *Repository) saveLocked(set models.StoresSettings) error {
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".stores-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), r.path)
}

func (r *Repository) notifyLocked(set models.StoresSettings) {
	for ch := range r.subs {
		select {
		case ch <- set.Clone():
		default: // watcher is behind; it will read a fresh Get anyway
		}
	}
}

// Close drops all watchers.
func (r *Repository) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.subs {
		close(ch)
		delete(r.subs, ch)
	}
}
