// Package registry is the CRUD layer over the remote account list.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rfavre/ovhsentry/internal/domain"
	"github.com/rfavre/ovhsentry/internal/ovhapi"
)

// Registry manages the remote account registry. Reads fail soft; writes
// return operator-facing errors.
type Registry struct {
	backend domain.BackendClient
}

var _ domain.AccountRegistry = (*Registry)(nil)

func New(backend domain.BackendClient) *Registry {
	return &Registry{backend: backend}
}

// List fetches the account list. On failure it returns a nil slice and the
// reason; callers are expected to keep going with an empty list.
func (r *Registry) List(ctx context.Context) ([]domain.Account, error) {
	accounts, err := r.backend.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch account list: %w", err)
	}
	return accounts, nil
}

// ResolveIdentity asks the backend to derive the canonical id and alias for a
// credential triple. The call is advisory: any failure returns empty strings
// and the caller falls back to its own values.
func (r *Registry) ResolveIdentity(ctx context.Context, appKey, appSecret, consumerKey, endpoint string) (string, string) {
	identity, err := r.backend.ResolveAccountInfo(ctx, domain.Credentials{
		AppKey:      appKey,
		AppSecret:   appSecret,
		ConsumerKey: consumerKey,
		Endpoint:    endpoint,
	})
	if err != nil {
		slog.Debug("Account identity resolution failed", "error", err)
		return "", ""
	}

	id := identity.CustomerCode
	if id == "" {
		id = identity.Nichandle
	}
	alias := identity.Email
	if alias == "" {
		alias = id
	}
	return id, alias
}

// Save upserts an account by id. Failure messages keep any embedded
// OVH-Query-ID token verbatim and append it in display form so operators can
// quote it in support tickets.
func (r *Registry) Save(ctx context.Context, account domain.Account) error {
	if err := r.backend.SaveAccount(ctx, account); err != nil {
		return &SaveError{message: ovhapi.FormatOperatorError(err.Error()), cause: err}
	}
	return nil
}

// Delete removes an account. Clearing the local current-account selection is
// the caller's job.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.backend.DeleteAccount(ctx, id); err != nil {
		return fmt.Errorf("failed to delete account %s: %w", id, err)
	}
	return nil
}

// SetDefault marks an account as the server-side default. It does not touch
// the local current-account selection.
func (r *Registry) SetDefault(ctx context.Context, id string) error {
	if err := r.backend.SetDefaultAccount(ctx, id); err != nil {
		return fmt.Errorf("failed to set default account %s: %w", id, err)
	}
	return nil
}

// SaveError is an operator-facing save failure. Its message is already in
// display form (query id appended when present).
type SaveError struct {
	message string
	cause   error
}

func (e *SaveError) Error() string {
	return e.message
}

func (e *SaveError) Unwrap() error {
	return e.cause
}
