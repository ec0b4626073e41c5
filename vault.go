package cloudauth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mwapstack/cloudauth/security"
	"github.com/mwapstack/cloudauth/storage"
)

// TokenVault is the single writer of token material. It encrypts token sets
// before persistence and serializes all writes for the same integration, so a
// refresh and a late-arriving callback can never interleave their updates.
type TokenVault struct {
	store storage.IntegrationStore
	enc   *security.Encryptor

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTokenVault creates a vault over the given store and encryptor.
func NewTokenVault(store storage.IntegrationStore, enc *security.Encryptor) *TokenVault {
	return &TokenVault{
		store: store,
		enc:   enc,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing writes for one integration.
func (v *TokenVault) lockFor(integrationID string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	l, ok := v.locks[integrationID]
	if !ok {
		l = &sync.Mutex{}
		v.locks[integrationID] = l
	}
	return l
}

// Put encrypts and persists a token set for the integration, marking it
// active and clearing any transient PKCE metadata. Returns the updated record.
func (v *TokenVault) Put(ctx context.Context, integrationID string, tokens storage.TokenSet) (*storage.Integration, error) {
	l := v.lockFor(integrationID)
	l.Lock()
	defer l.Unlock()

	integration, err := v.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, err
	}

	if err := storage.ApplyTokenSet(v.enc, integration, tokens, time.Now()); err != nil {
		return nil, err
	}

	if err := v.store.SaveIntegration(ctx, integration); err != nil {
		return nil, fmt.Errorf("persist tokens: %w", err)
	}
	return integration, nil
}

// Get loads and decrypts the token set for an integration. Plaintext tokens
// never leave the subsystem boundary; callers exposing integrations outward
// must use Integration.Redacted.
func (v *TokenVault) Get(ctx context.Context, integrationID string) (*storage.TokenSet, error) {
	integration, err := v.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	return storage.ExtractTokenSet(v.enc, integration)
}

// MarkStatus transitions an integration to a terminal status under the same
// per-integration lock as token writes.
func (v *TokenVault) MarkStatus(ctx context.Context, integrationID string, status storage.Status) error {
	l := v.lockFor(integrationID)
	l.Lock()
	defer l.Unlock()
	return v.store.UpdateStatus(ctx, integrationID, status)
}
