package vault

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ItemDefault is the label used when a purchase has no name.
const ItemDefault = "Purchase"

// Entry is a deferred purchase.
type Entry struct {
	ID          string          `json:"id" yaml:"id"`
	Item        string          `json:"item" yaml:"item"`
	Amount      decimal.Decimal `json:"amount" yaml:"amount"`
	RegretScore float64         `json:"regret_score" yaml:"regret_score"`
	AddedAt     time.Time       `json:"added_at" yaml:"added_at"`
}

// Vault is an append-only list of deferred purchases with an explicit clear.
type Vault struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// New returns an empty vault.
func New() *Vault {
	return &Vault{now: time.Now}
}

// Add appends a purchase and returns the stored entry.
func (v *Vault) Add(item string, amount float64, score float64) Entry {
	if item == "" {
		item = ItemDefault
	}
	e := Entry{
		ID:          uuid.NewString(),
		Item:        item,
		Amount:      decimal.NewFromFloat(amount).Round(2),
		RegretScore: score,
		AddedAt:     v.now().UTC(),
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries = append(v.entries, e)
	return e
}

// Items returns the entries in insertion order.
func (v *Vault) Items() []Entry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Entry, len(v.entries))
	copy(out, v.entries)
	return out
}

// Len returns the number of entries.
func (v *Vault) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

// Total returns the sum of all deferred amounts.
func (v *Vault) Total() decimal.Decimal {
	v.mu.RLock()
	defer v.mu.RUnlock()
	total := decimal.Zero
	for _, e := range v.entries {
		total = total.Add(e.Amount)
	}
	return total
}

// Clear removes every entry.
func (v *Vault) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries = nil
}
