package models

import (
	"errors"
	"fmt"
	"strings"
)

// StoreID identifies a supported retailer.
type StoreID int

const (
	StoreUnknown   StoreID = -1
	StoreEsselunga StoreID = 0
	StoreCarrefour StoreID = 1
	StoreTigros    StoreID = 2
)

func (s StoreID) String() string {
	switch s {
	case StoreEsselunga:
		return "esselunga"
	case StoreCarrefour:
		return "carrefour"
	case StoreTigros:
		return "tigros"
	default:
		return "unknown"
	}
}

// ParseStoreID maps a lowercase store name to its id.
func ParseStoreID(name string) (StoreID, error) {
	switch strings.ToLower(name) {
	case "esselunga":
		return StoreEsselunga, nil
	case "carrefour":
		return StoreCarrefour, nil
	case "tigros":
		return StoreTigros, nil
	default:
		return StoreUnknown, fmt.Errorf("store not supported: %s. Available: esselunga, carrefour, tigros", name)
	}
}

// StoreType distinguishes how a store is enabled.
type StoreType int

const (
	// StoreTypeToggle stores have one implicit location; enabling them
	// needs no user-supplied URL.
	StoreTypeToggle StoreType = iota
	// StoreTypeSelectable stores require a specific outlet URL before
	// any scraping can run.
	StoreTypeSelectable
)

func (t StoreType) String() string {
	if t == StoreTypeSelectable {
		return "selectable"
	}
	return "toggle"
}

// NoPromoCode marks a binding whose flyer identifier has not been observed
// yet, and retailers that expose no flyer identifier at all.
const NoPromoCode = -1

// StoreBinding is the enabled state of a store: the chosen outlet URL
// (Selectable stores only) and the last observed flyer code.
type StoreBinding struct {
	URL       string `json:"url,omitempty"`
	PromoCode int    `json:"promo_code"`
}

// StoreSettings is one registration entry. A non-nil Store means the store
// is enabled.
type StoreSettings struct {
	Type  StoreType     `json:"type"`
	Store *StoreBinding `json:"store,omitempty"`
}

// Enabled reports whether scraping should run for this entry.
func (s StoreSettings) Enabled() bool {
	return s.Store != nil
}

// StoresSettings is the full registration set, versioned as a whole.
// A version bump forces a re-seed of every entry.
type StoresSettings struct {
	Version int                       `json:"version"`
	Stores  map[StoreID]StoreSettings `json:"stores"`
}

// Clone deep-copies the set so Update transforms cannot alias the stored value.
func (s StoresSettings) Clone() StoresSettings {
	out := StoresSettings{Version: s.Version, Stores: make(map[StoreID]StoreSettings, len(s.Stores))}
	for id, entry := range s.Stores {
		if entry.Store != nil {
			binding := *entry.Store
			entry.Store = &binding
		}
		out.Stores[id] = entry
	}
	return out
}

// ErrFlyerNotFound is returned when a retailer's current flyer identifier
// cannot be discovered after the bounded scan.
var ErrFlyerNotFound = errors.New("no current flyer found")
