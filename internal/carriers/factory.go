package carriers

import (
	"fmt"
	"sync"

	"rateshop-service/internal/models"
)

// Factory creates and caches carrier adapter instances per account.
// Instances are keyed by account ID plus mode so toggling an account
// between test and production never reuses a stale client.
type Factory struct {
	mu        sync.RWMutex
	instances map[string]Carrier
}

// NewFactory creates a new carrier factory
func NewFactory() *Factory {
	return &Factory{
		instances: make(map[string]Carrier),
	}
}

// ForAccount returns the adapter for a carrier account, building it on
// first use.
func (f *Factory) ForAccount(account *models.CarrierAccount) (Carrier, error) {
	key := fmt.Sprintf("%s_%s_%t", account.ID, account.Carrier, account.IsProduction)

	f.mu.RLock()
	if c, ok := f.instances[key]; ok {
		f.mu.RUnlock()
		return c, nil
	}
	f.mu.RUnlock()

	cfg := Config{
		Credentials:  account.Credentials,
		BaseURL:      account.BaseURL,
		IsProduction: account.IsProduction,
	}

	c, err := New(account.Carrier, cfg)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.instances[key] = c
	f.mu.Unlock()
	return c, nil
}

// Invalidate drops any cached adapter for an account, forcing a rebuild
// with fresh credentials on next use.
func (f *Factory) Invalidate(account *models.CarrierAccount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, prod := range []bool{true, false} {
		delete(f.instances, fmt.Sprintf("%s_%s_%t", account.ID, account.Carrier, prod))
	}
}
