// Package mongo provides MongoDB-backed implementations of the storage
// interfaces. Integrations and providers live in separate collections;
// token and secret fields arrive here already encrypted.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mwapstack/cloudauth/storage"
)

const (
	integrationsCollection = "oauth_integrations"
	providersCollection    = "oauth_providers"

	defaultOpTimeout = 10 * time.Second
)

// Store implements storage.IntegrationStore and storage.ProviderStore over a
// MongoDB database.
type Store struct {
	integrations *mongo.Collection
	providers    *mongo.Collection
}

// NewStore creates a store over the given database and ensures its indexes.
func NewStore(ctx context.Context, db *mongo.Database) (*Store, error) {
	s := &Store{
		integrations: db.Collection(integrationsCollection),
		providers:    db.Collection(providersCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	_, err := s.integrations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "tenantId", Value: 1}}},
		{Keys: bson.D{{Key: "tenantId", Value: 1}, {Key: "providerId", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expiresAt", Value: 1}}},
	})
	if err != nil {
		return err
	}

	_, err = s.providers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// GetIntegration implements storage.IntegrationStore.
func (s *Store) GetIntegration(ctx context.Context, id string) (*storage.Integration, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	var integration storage.Integration
	err := s.integrations.FindOne(ctx, bson.M{"_id": id}).Decode(&integration)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrIntegrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find integration: %w", err)
	}
	return &integration, nil
}

// SaveIntegration implements storage.IntegrationStore.
func (s *Store) SaveIntegration(ctx context.Context, integration *storage.Integration) error {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	_, err := s.integrations.ReplaceOne(ctx,
		bson.M{"_id": integration.ID},
		integration,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save integration: %w", err)
	}
	return nil
}

// UpdateStatus implements storage.IntegrationStore.
func (s *Store) UpdateStatus(ctx context.Context, id string, status storage.Status) error {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	res, err := s.integrations.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"status":    status,
			"updatedAt": time.Now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("update integration status: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrIntegrationNotFound
	}
	return nil
}

// GetProvider implements storage.ProviderStore.
func (s *Store) GetProvider(ctx context.Context, id string) (*storage.Provider, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	var provider storage.Provider
	err := s.providers.FindOne(ctx, bson.M{"_id": id}).Decode(&provider)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find provider: %w", err)
	}
	return &provider, nil
}

// ListProviders implements storage.ProviderStore.
func (s *Store) ListProviders(ctx context.Context) ([]*storage.Provider, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	cursor, err := s.providers.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer cursor.Close(ctx)

	var providers []*storage.Provider
	if err := cursor.All(ctx, &providers); err != nil {
		return nil, fmt.Errorf("decode providers: %w", err)
	}
	return providers, nil
}

// SaveProvider implements storage.ProviderStore.
func (s *Store) SaveProvider(ctx context.Context, provider *storage.Provider) error {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	_, err := s.providers.ReplaceOne(ctx,
		bson.M{"_id": provider.ID},
		provider,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save provider: %w", err)
	}
	return nil
}
