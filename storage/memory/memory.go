// Package memory provides in-memory implementations of the storage
// interfaces. Suitable for tests and single-process development setups;
// records do not survive a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mwapstack/cloudauth/storage"
)

// Store implements storage.IntegrationStore and storage.ProviderStore with
// map-backed storage. Records are deep-copied on the way in and out so
// callers can never mutate shared state.
type Store struct {
	mu           sync.RWMutex
	integrations map[string]*storage.Integration
	providers    map[string]*storage.Provider
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		integrations: make(map[string]*storage.Integration),
		providers:    make(map[string]*storage.Provider),
	}
}

// GetIntegration implements storage.IntegrationStore.
func (s *Store) GetIntegration(_ context.Context, id string) (*storage.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	integration, ok := s.integrations[id]
	if !ok {
		return nil, storage.ErrIntegrationNotFound
	}
	return copyIntegration(integration), nil
}

// SaveIntegration implements storage.IntegrationStore.
func (s *Store) SaveIntegration(_ context.Context, integration *storage.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.integrations[integration.ID] = copyIntegration(integration)
	return nil
}

// UpdateStatus implements storage.IntegrationStore.
func (s *Store) UpdateStatus(_ context.Context, id string, status storage.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	integration, ok := s.integrations[id]
	if !ok {
		return storage.ErrIntegrationNotFound
	}
	integration.Status = status
	integration.UpdatedAt = time.Now()
	return nil
}

// GetProvider implements storage.ProviderStore.
func (s *Store) GetProvider(_ context.Context, id string) (*storage.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	provider, ok := s.providers[id]
	if !ok {
		return nil, storage.ErrProviderNotFound
	}
	return copyProvider(provider), nil
}

// ListProviders implements storage.ProviderStore.
func (s *Store) ListProviders(_ context.Context) ([]*storage.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*storage.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, copyProvider(p))
	}
	return out, nil
}

// SaveProvider implements storage.ProviderStore.
func (s *Store) SaveProvider(_ context.Context, provider *storage.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[provider.ID] = copyProvider(provider)
	return nil
}

func copyIntegration(in *storage.Integration) *storage.Integration {
	out := *in
	out.Scopes = append([]string(nil), in.Scopes...)
	if in.Metadata != nil {
		out.Metadata = make(map[string]string, len(in.Metadata))
		for k, v := range in.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func copyProvider(in *storage.Provider) *storage.Provider {
	out := *in
	out.Scopes = append([]string(nil), in.Scopes...)
	if in.ExtraParams != nil {
		out.ExtraParams = make(map[string]string, len(in.ExtraParams))
		for k, v := range in.ExtraParams {
			out.ExtraParams[k] = v
		}
	}
	return &out
}
