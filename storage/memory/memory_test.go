package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/mwapstack/cloudauth/storage"
)

func TestIntegrationRoundTrip(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	in := &storage.Integration{
		ID:       "int-1",
		TenantID: "tenant-1",
		Status:   storage.StatusActive,
		Scopes:   []string{"files.read"},
		Metadata: map[string]string{"k": "v"},
	}
	if err := s.SaveIntegration(ctx, in); err != nil {
		t.Fatalf("SaveIntegration() error = %v", err)
	}

	got, err := s.GetIntegration(ctx, "int-1")
	if err != nil {
		t.Fatalf("GetIntegration() error = %v", err)
	}
	if got.TenantID != "tenant-1" || got.Metadata["k"] != "v" {
		t.Errorf("GetIntegration() = %+v", got)
	}

	if _, err := s.GetIntegration(ctx, "missing"); !errors.Is(err, storage.ErrIntegrationNotFound) {
		t.Errorf("GetIntegration(missing) error = %v", err)
	}
}

func TestCopyIsolation(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	in := &storage.Integration{ID: "int-1", Metadata: map[string]string{"k": "v"}, Scopes: []string{"a"}}
	_ = s.SaveIntegration(ctx, in)

	// Mutating the record we saved must not reach the store.
	in.Metadata["k"] = "changed"
	in.Scopes[0] = "changed"

	got, _ := s.GetIntegration(ctx, "int-1")
	if got.Metadata["k"] != "v" || got.Scopes[0] != "a" {
		t.Error("store shares state with the caller's record on save")
	}

	// Mutating a record we read must not reach the store either.
	got.Metadata["k"] = "changed"
	again, _ := s.GetIntegration(ctx, "int-1")
	if again.Metadata["k"] != "v" {
		t.Error("store shares state with the caller's record on read")
	}
}

func TestUpdateStatus(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_ = s.SaveIntegration(ctx, &storage.Integration{ID: "int-1", Status: storage.StatusActive})

	if err := s.UpdateStatus(ctx, "int-1", storage.StatusRevoked); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	got, _ := s.GetIntegration(ctx, "int-1")
	if got.Status != storage.StatusRevoked {
		t.Errorf("Status = %q", got.Status)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not touched")
	}

	if err := s.UpdateStatus(ctx, "missing", storage.StatusRevoked); !errors.Is(err, storage.ErrIntegrationNotFound) {
		t.Errorf("UpdateStatus(missing) error = %v", err)
	}
}

func TestProviderRoundTrip(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_ = s.SaveProvider(ctx, &storage.Provider{ID: "p1", Name: "dropbox", ExtraParams: map[string]string{"audience": "x"}})
	_ = s.SaveProvider(ctx, &storage.Provider{ID: "p2", Name: "gdrive"})

	got, err := s.GetProvider(ctx, "p1")
	if err != nil {
		t.Fatalf("GetProvider() error = %v", err)
	}
	if got.Name != "dropbox" || got.ExtraParams["audience"] != "x" {
		t.Errorf("GetProvider() = %+v", got)
	}

	all, err := s.ListProviders(ctx)
	if err != nil {
		t.Fatalf("ListProviders() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("ListProviders() returned %d providers, want 2", len(all))
	}

	if _, err := s.GetProvider(ctx, "missing"); !errors.Is(err, storage.ErrProviderNotFound) {
		t.Errorf("GetProvider(missing) error = %v", err)
	}
}
