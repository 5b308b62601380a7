// Package session owns the authenticated session state: the legacy
// credential set, the account registry view, the current account selection
// and the cached account statuses.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/rfavre/ovhsentry/internal/bus"
	"github.com/rfavre/ovhsentry/internal/domain"
	"github.com/rfavre/ovhsentry/internal/metrics"
)

// Manager is the top-level coordinator. It drives load-on-start, exposes the
// authentication check/set operations and publishes auth transitions on the
// bus. All remote failures on read paths degrade to negative state plus a
// logged reason; write paths return the failure to the caller.
type Manager struct {
	store    domain.CredentialStore
	backend  domain.BackendClient
	registry domain.AccountRegistry
	prober   domain.StatusProber
	bus      *bus.Bus
	clock    clockwork.Clock

	refreshGroup singleflight.Group

	mu                 sync.Mutex
	creds              domain.Credentials
	telegram           domain.TelegramConfig
	isAuthenticated    bool
	isLoading          bool
	currentAccountID   string
	accounts           []domain.Account
	lastSwitchVerified bool
	lastVerifiedAt     time.Time
}

// State is a consistent snapshot of the manager for rendering layers.
type State struct {
	IsLoading          bool
	IsAuthenticated    bool
	CurrentAccountID   string
	Accounts           []domain.Account
	Credentials        domain.Credentials
	Telegram           domain.TelegramConfig
	LastSwitchVerified bool
	LastVerifiedAt     time.Time
}

func NewManager(store domain.CredentialStore, backend domain.BackendClient, registry domain.AccountRegistry, prober domain.StatusProber, b *bus.Bus, clock clockwork.Clock) *Manager {
	return &Manager{
		store:    store,
		backend:  backend,
		registry: registry,
		prober:   prober,
		bus:      b,
		clock:    clock,

		// Loading until Boot settles.
		isLoading: true,
	}
}

// Boot initializes the session from the local store and the remote settings.
// Without a stored access secret it settles immediately and makes no network
// call, the backend would reject unauthenticated requests anyway. Fetch
// errors degrade to unauthenticated. isLoading always ends false.
func (m *Manager) Boot(ctx context.Context) {
	m.mu.Lock()
	m.isLoading = true
	m.mu.Unlock()
	defer m.setLoading(false)

	hasSecret, err := m.store.HasAccessSecret(ctx)
	if err != nil {
		slog.Error("Failed to read access secret", "error", err)
		return
	}
	if !hasSecret {
		slog.Info("No access secret configured, skipping settings load")
		return
	}

	settings, err := m.backend.GetSettings(ctx)
	if err != nil {
		slog.Error("Failed to load settings", "error", err)
		m.setAuthenticated(false)
		return
	}

	m.mu.Lock()
	// Telegram settings are adopted regardless of whether legacy OVH
	// credentials exist.
	m.telegram = domain.TelegramConfig{Token: settings.TgToken, ChatID: settings.TgChatID}
	hasLegacy := settings.AppKey != ""
	if hasLegacy {
		m.creds = settings.Credentials().WithDefaults()
	}
	m.mu.Unlock()

	if hasLegacy {
		m.setAuthenticated(true)
	}
}

// VerifyAuthentication sends the current legacy credential set to the remote
// authority and records the verdict. It never fails: internal errors become a
// false result plus a logged diagnostic. The result is published on the bus.
func (m *Manager) VerifyAuthentication(ctx context.Context) bool {
	m.mu.Lock()
	creds := m.creds
	m.mu.Unlock()

	valid, err := m.backend.VerifyAuth(ctx, creds)
	if err != nil {
		slog.Warn("Authentication check failed", "error", err)
		metrics.VerificationsTotal.WithLabelValues("error").Inc()
		valid = false
	} else if valid {
		metrics.VerificationsTotal.WithLabelValues("valid").Inc()
	} else {
		metrics.VerificationsTotal.WithLabelValues("invalid").Inc()
	}

	m.mu.Lock()
	m.lastVerifiedAt = m.clock.Now()
	m.mu.Unlock()

	m.setAuthenticated(valid)
	return valid
}

// SaveCredentials persists the legacy credential set (and telegram config) to
// the remote settings store. Empty region fields get defaults. On failure the
// previous session state stays untouched and nothing is published; the error
// goes back to the caller, this path is user-initiated.
func (m *Manager) SaveCredentials(ctx context.Context, settings domain.Settings) error {
	m.setLoading(true)
	defer m.setLoading(false)

	filled := settings
	creds := filled.Credentials().WithDefaults()
	filled.Endpoint = creds.Endpoint
	filled.IAM = creds.IAM
	filled.Zone = creds.Zone

	if err := m.backend.SaveSettings(ctx, filled); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	m.mu.Lock()
	m.creds = creds
	m.telegram = domain.TelegramConfig{Token: filled.TgToken, ChatID: filled.TgChatID}
	m.mu.Unlock()

	m.setAuthenticated(true)
	return nil
}

// SetCurrentAccount switches the active account in two phases: the id is
// persisted immediately (optimistic), then one verification runs and its
// outcome is recorded. The verification deliberately uses the legacy
// credential set, not the selected account's own credentials: the session is
// shared across accounts. An empty id clears the selection.
func (m *Manager) SetCurrentAccount(ctx context.Context, id string) error {
	if err := m.store.Set(ctx, domain.KeyCurrentAccount, id); err != nil {
		return fmt.Errorf("failed to persist current account: %w", err)
	}

	m.mu.Lock()
	m.currentAccountID = id
	m.lastSwitchVerified = false
	m.mu.Unlock()

	verified := m.VerifyAuthentication(ctx)

	m.mu.Lock()
	m.lastSwitchVerified = verified
	m.mu.Unlock()

	if !verified {
		slog.Warn("Authentication check failed after account switch", "account_id", id)
	}
	return nil
}

// RefreshAccounts fetches the account list, reconciles the current account
// selection, then verifies authentication and refreshes account statuses.
// The two trailing calls are independently failure-tolerant. Concurrent
// callers are collapsed into one in-flight refresh.
func (m *Manager) RefreshAccounts(ctx context.Context) error {
	_, err, _ := m.refreshGroup.Do("refresh-accounts", func() (any, error) {
		m.refreshAccounts(ctx)
		return nil, nil
	})
	return err
}

func (m *Manager) refreshAccounts(ctx context.Context) {
	accounts, err := m.registry.List(ctx)
	if err != nil {
		slog.Warn("Unable to fetch account list", "error", err)
		m.mu.Lock()
		m.accounts = nil
		m.mu.Unlock()
		return
	}

	useID := m.resolveCurrentAccount(ctx, accounts)
	if err := m.store.Set(ctx, domain.KeyCurrentAccount, useID); err != nil {
		slog.Error("Failed to persist current account", "account_id", useID, "error", err)
	}

	m.mu.Lock()
	m.accounts = accounts
	m.currentAccountID = useID
	m.mu.Unlock()

	if useID != "" {
		m.VerifyAuthentication(ctx)
	}
	m.prober.Refresh(ctx, accounts)
}

// resolveCurrentAccount picks the current account id: the stored id when it
// is still listed, else the first listed account, else empty.
func (m *Manager) resolveCurrentAccount(ctx context.Context, accounts []domain.Account) string {
	stored, err := m.store.Get(ctx, domain.KeyCurrentAccount)
	if err != nil {
		slog.Error("Failed to read current account", "error", err)
		stored = ""
	}

	if stored != "" {
		for _, acc := range accounts {
			if acc.ID == stored {
				return stored
			}
		}
	}
	if len(accounts) > 0 {
		return accounts[0].ID
	}
	return ""
}

// SaveAccount resolves the canonical identity for the submitted credentials
// (advisory, caller-supplied id/alias are the fallback), upserts the account,
// then refreshes the list and switches to the saved account.
func (m *Manager) SaveAccount(ctx context.Context, account domain.Account) error {
	if !account.HasCompleteCredentials() {
		return fmt.Errorf("appKey, appSecret and consumerKey are required")
	}
	if account.Endpoint == "" {
		account.Endpoint = domain.DefaultEndpoint
	}

	id, alias := m.registry.ResolveIdentity(ctx, account.AppKey, account.AppSecret, account.ConsumerKey, account.Endpoint)
	if id != "" {
		account.ID = id
		account.Alias = alias
	}

	if err := m.registry.Save(ctx, account); err != nil {
		return err
	}

	if err := m.RefreshAccounts(ctx); err != nil {
		slog.Warn("Account refresh after save failed", "error", err)
	}
	if err := m.SetCurrentAccount(ctx, account.ID); err != nil {
		slog.Warn("Switching to saved account failed", "account_id", account.ID, "error", err)
	}
	return nil
}

// DeleteAccount removes an account and clears the current selection when it
// pointed at the deleted id.
func (m *Manager) DeleteAccount(ctx context.Context, id string) error {
	m.mu.Lock()
	wasCurrent := m.currentAccountID == id
	m.mu.Unlock()

	if err := m.registry.Delete(ctx, id); err != nil {
		return err
	}

	if err := m.RefreshAccounts(ctx); err != nil {
		slog.Warn("Account refresh after delete failed", "error", err)
	}
	if wasCurrent {
		if err := m.SetCurrentAccount(ctx, ""); err != nil {
			slog.Warn("Clearing current account failed", "error", err)
		}
	}
	return nil
}

// SetDefaultAccount marks an account as the server-side default and refreshes
// the list. The local current-account selection is not changed.
func (m *Manager) SetDefaultAccount(ctx context.Context, id string) error {
	if err := m.registry.SetDefault(ctx, id); err != nil {
		return err
	}
	if err := m.RefreshAccounts(ctx); err != nil {
		slog.Warn("Account refresh after set-default failed", "error", err)
	}
	return nil
}

// SetAccessSecret stores the local access secret. Callers normally follow up
// with Boot and RefreshAccounts to pick up remote state.
func (m *Manager) SetAccessSecret(ctx context.Context, secret string) error {
	if err := m.store.Set(ctx, domain.KeyAccessSecret, secret); err != nil {
		return fmt.Errorf("failed to store access secret: %w", err)
	}
	return nil
}

// Statuses returns the cached account status map.
func (m *Manager) Statuses() map[string]domain.AccountStatus {
	return m.prober.Statuses()
}

// State returns a consistent snapshot of the session.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	accounts := make([]domain.Account, len(m.accounts))
	copy(accounts, m.accounts)

	return State{
		IsLoading:          m.isLoading,
		IsAuthenticated:    m.isAuthenticated,
		CurrentAccountID:   m.currentAccountID,
		Accounts:           accounts,
		Credentials:        m.creds,
		Telegram:           m.telegram,
		LastSwitchVerified: m.lastSwitchVerified,
		LastVerifiedAt:     m.lastVerifiedAt,
	}
}

// IsAuthenticated reports the last verification result for the legacy set.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isAuthenticated
}

// IsLoading reports whether an initial load or an explicit save is in flight.
func (m *Manager) IsLoading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isLoading
}

func (m *Manager) setLoading(loading bool) {
	m.mu.Lock()
	m.isLoading = loading
	m.mu.Unlock()
}

// setAuthenticated records the flag and publishes it. Every transition is
// published, including repeats: listeners only read the latest value.
func (m *Manager) setAuthenticated(authenticated bool) {
	m.mu.Lock()
	m.isAuthenticated = authenticated
	m.mu.Unlock()
	m.bus.Publish(authenticated)
}
