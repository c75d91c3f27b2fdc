package accounts

import (
	"context"
	"fmt"

	"github.com/gearbox-erp/gearbox-erp/internal/ledger/shared"
)

// Registry resolves semantic posting keys to provisioned ledger accounts.
// There is no auto-creation path: a missing mapping is a configuration
// error surfaced to the operator, never silently repaired.
type Registry struct {
	repo Repository
}

func NewRegistry(repo Repository) *Registry {
	return &Registry{repo: repo}
}

// Resolve returns the account behind the semantic key for the tenant.
func (s *Registry) Resolve(ctx context.Context, orgID int64, key string) (Account, error) {
	mapping, err := s.repo.GetMapping(ctx, orgID, key)
	if err != nil {
		return Account{}, fmt.Errorf("resolve %q: %w", key, err)
	}
	account, err := s.repo.GetByID(ctx, orgID, mapping.AccountID)
	if err != nil {
		return Account{}, fmt.Errorf("resolve %q: %w", key, err)
	}
	if !account.IsActive {
		return Account{}, fmt.Errorf("resolve %q: %w", key, shared.ErrAccountNotFound)
	}
	return account, nil
}

// ResolveID is Resolve returning only the account id.
func (s *Registry) ResolveID(ctx context.Context, orgID int64, key string) (int64, error) {
	account, err := s.Resolve(ctx, orgID, key)
	if err != nil {
		return 0, err
	}
	return account.ID, nil
}

// List returns the tenant's chart of accounts.
func (s *Registry) List(ctx context.Context, orgID int64) ([]Account, error) {
	return s.repo.List(ctx, orgID)
}
