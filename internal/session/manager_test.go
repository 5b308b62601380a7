package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfavre/ovhsentry/internal/bus"
	"github.com/rfavre/ovhsentry/internal/domain"
)

// --- Mocks ---

type memStore struct {
	mu     sync.Mutex
	values map[string]string
	setErr error
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]string)}
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *memStore) Set(_ context.Context, key, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memStore) HasAccessSecret(ctx context.Context) (bool, error) {
	secret, err := m.Get(ctx, domain.KeyAccessSecret)
	return secret != "", err
}

type mockBackend struct {
	getSettingsFn  func(ctx context.Context) (*domain.Settings, error)
	saveSettingsFn func(ctx context.Context, settings domain.Settings) error
	verifyAuthFn   func(ctx context.Context, creds domain.Credentials) (bool, error)

	mu            sync.Mutex
	settingsCalls int
	verifyCalls   int
}

func (m *mockBackend) GetSettings(ctx context.Context) (*domain.Settings, error) {
	m.mu.Lock()
	m.settingsCalls++
	m.mu.Unlock()
	if m.getSettingsFn != nil {
		return m.getSettingsFn(ctx)
	}
	return &domain.Settings{}, nil
}

func (m *mockBackend) SaveSettings(ctx context.Context, settings domain.Settings) error {
	if m.saveSettingsFn != nil {
		return m.saveSettingsFn(ctx, settings)
	}
	return nil
}

func (m *mockBackend) VerifyAuth(ctx context.Context, creds domain.Credentials) (bool, error) {
	m.mu.Lock()
	m.verifyCalls++
	m.mu.Unlock()
	if m.verifyAuthFn != nil {
		return m.verifyAuthFn(ctx, creds)
	}
	return false, fmt.Errorf("not implemented")
}

func (m *mockBackend) ListAccounts(context.Context) ([]domain.Account, error) {
	return nil, fmt.Errorf("not implemented")
}

func (m *mockBackend) SaveAccount(context.Context, domain.Account) error {
	return fmt.Errorf("not implemented")
}

func (m *mockBackend) DeleteAccount(context.Context, string) error {
	return fmt.Errorf("not implemented")
}

func (m *mockBackend) SetDefaultAccount(context.Context, string) error {
	return fmt.Errorf("not implemented")
}

func (m *mockBackend) GetAccountStatuses(context.Context) ([]domain.AccountStatusEntry, error) {
	return nil, fmt.Errorf("not implemented")
}

func (m *mockBackend) ResolveAccountInfo(context.Context, domain.Credentials) (*domain.AccountIdentity, error) {
	return nil, fmt.Errorf("not implemented")
}

type mockRegistry struct {
	listFn            func(ctx context.Context) ([]domain.Account, error)
	resolveIdentityFn func(ctx context.Context, appKey, appSecret, consumerKey, endpoint string) (string, string)
	saveFn            func(ctx context.Context, account domain.Account) error
	deleteFn          func(ctx context.Context, id string) error
	setDefaultFn      func(ctx context.Context, id string) error
}

func (m *mockRegistry) List(ctx context.Context) ([]domain.Account, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockRegistry) ResolveIdentity(ctx context.Context, appKey, appSecret, consumerKey, endpoint string) (string, string) {
	if m.resolveIdentityFn != nil {
		return m.resolveIdentityFn(ctx, appKey, appSecret, consumerKey, endpoint)
	}
	return "", ""
}

func (m *mockRegistry) Save(ctx context.Context, account domain.Account) error {
	if m.saveFn != nil {
		return m.saveFn(ctx, account)
	}
	return nil
}

func (m *mockRegistry) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockRegistry) SetDefault(ctx context.Context, id string) error {
	if m.setDefaultFn != nil {
		return m.setDefaultFn(ctx, id)
	}
	return nil
}

type mockProber struct {
	mu       sync.Mutex
	refreshs [][]domain.Account
	statuses map[string]domain.AccountStatus
}

func (m *mockProber) Refresh(_ context.Context, accounts []domain.Account) map[string]domain.AccountStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshs = append(m.refreshs, accounts)
	return m.statuses
}

func (m *mockProber) Statuses() map[string]domain.AccountStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses
}

func (m *mockProber) refreshCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refreshs)
}

type fixture struct {
	store    *memStore
	backend  *mockBackend
	registry *mockRegistry
	prober   *mockProber
	bus      *bus.Bus
	manager  *Manager
	events   *[]bool
}

func newFixture() *fixture {
	store := newMemStore()
	backend := &mockBackend{}
	registry := &mockRegistry{}
	prober := &mockProber{}
	b := bus.New()

	var events []bool
	b.Subscribe(func(flag bool) { events = append(events, flag) })

	return &fixture{
		store:    store,
		backend:  backend,
		registry: registry,
		prober:   prober,
		bus:      b,
		manager:  NewManager(store, backend, registry, prober, b, clockwork.NewFakeClock()),
		events:   &events,
	}
}

// --- Boot ---

func TestBootWithoutAccessSecretSkipsNetwork(t *testing.T) {
	f := newFixture()

	f.manager.Boot(context.Background())

	assert.False(t, f.manager.IsLoading())
	assert.False(t, f.manager.IsAuthenticated())
	assert.Zero(t, f.backend.settingsCalls, "no settings request without a secret")
	assert.Empty(t, *f.events)
}

func TestBootAdoptsLegacySettingsAndPublishes(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.store.Set(context.Background(), domain.KeyAccessSecret, "secret"))
	f.backend.getSettingsFn = func(context.Context) (*domain.Settings, error) {
		return &domain.Settings{
			AppKey:      "ak",
			AppSecret:   "as",
			ConsumerKey: "ck",
			TgToken:     "tok",
			TgChatID:    "42",
		}, nil
	}

	f.manager.Boot(context.Background())

	state := f.manager.State()
	assert.False(t, state.IsLoading)
	assert.True(t, state.IsAuthenticated)
	assert.Equal(t, "ak", state.Credentials.AppKey)
	assert.Equal(t, domain.DefaultEndpoint, state.Credentials.Endpoint)
	assert.Equal(t, domain.DefaultIAM, state.Credentials.IAM)
	assert.Equal(t, domain.DefaultZone, state.Credentials.Zone)
	assert.Equal(t, "tok", state.Telegram.Token)
	assert.Equal(t, []bool{true}, *f.events)
}

func TestBootWithoutLegacyCredentialsKeepsTelegramOnly(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.store.Set(context.Background(), domain.KeyAccessSecret, "secret"))
	f.backend.getSettingsFn = func(context.Context) (*domain.Settings, error) {
		return &domain.Settings{TgToken: "tok"}, nil
	}

	f.manager.Boot(context.Background())

	state := f.manager.State()
	assert.False(t, state.IsAuthenticated)
	assert.Equal(t, "tok", state.Telegram.Token)
	assert.Empty(t, *f.events, "no publish when no legacy credentials exist")
}

func TestBootFetchErrorEndsUnauthenticated(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.store.Set(context.Background(), domain.KeyAccessSecret, "secret"))
	f.backend.getSettingsFn = func(context.Context) (*domain.Settings, error) {
		return nil, errors.New("backend down")
	}

	f.manager.Boot(context.Background())

	assert.False(t, f.manager.IsLoading())
	assert.False(t, f.manager.IsAuthenticated())
	assert.Equal(t, []bool{false}, *f.events)
}

// --- VerifyAuthentication ---

func TestVerifyAuthenticationPublishesResult(t *testing.T) {
	f := newFixture()
	f.backend.verifyAuthFn = func(context.Context, domain.Credentials) (bool, error) {
		return true, nil
	}

	ok := f.manager.VerifyAuthentication(context.Background())

	assert.True(t, ok)
	assert.True(t, f.manager.IsAuthenticated())
	assert.Equal(t, []bool{true}, *f.events)
}

func TestVerifyAuthenticationErrorBecomesFalse(t *testing.T) {
	f := newFixture()
	f.backend.verifyAuthFn = func(context.Context, domain.Credentials) (bool, error) {
		return false, errors.New("timeout")
	}

	ok := f.manager.VerifyAuthentication(context.Background())

	assert.False(t, ok)
	assert.Equal(t, []bool{false}, *f.events)
}

// --- SaveCredentials ---

func TestSaveCredentialsFillsDefaultsAndPublishes(t *testing.T) {
	f := newFixture()
	var saved domain.Settings
	f.backend.saveSettingsFn = func(_ context.Context, settings domain.Settings) error {
		saved = settings
		return nil
	}

	err := f.manager.SaveCredentials(context.Background(), domain.Settings{
		AppKey: "ak", AppSecret: "as", ConsumerKey: "ck",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.DefaultEndpoint, saved.Endpoint)
	assert.Equal(t, domain.DefaultIAM, saved.IAM)
	assert.Equal(t, domain.DefaultZone, saved.Zone)
	assert.True(t, f.manager.IsAuthenticated())
	assert.False(t, f.manager.IsLoading())
	assert.Equal(t, []bool{true}, *f.events)
}

func TestSaveCredentialsFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture()

	// Authenticate first.
	f.backend.verifyAuthFn = func(context.Context, domain.Credentials) (bool, error) { return true, nil }
	require.True(t, f.manager.VerifyAuthentication(context.Background()))
	before := len(*f.events)

	f.backend.saveSettingsFn = func(context.Context, domain.Settings) error {
		return errors.New("settings store unavailable")
	}

	err := f.manager.SaveCredentials(context.Background(), domain.Settings{AppKey: "new"})
	require.Error(t, err)

	assert.True(t, f.manager.IsAuthenticated(), "prior authenticated state survives a failed save")
	assert.False(t, f.manager.IsLoading(), "isLoading must settle after failure")
	assert.Len(t, *f.events, before, "no publish on failed save")
	assert.NotEqual(t, "new", f.manager.State().Credentials.AppKey)
}

// --- SetCurrentAccount ---

func TestSetCurrentAccountPersistsBeforeVerification(t *testing.T) {
	f := newFixture()
	f.backend.verifyAuthFn = func(context.Context, domain.Credentials) (bool, error) {
		stored, _ := f.store.Get(context.Background(), domain.KeyCurrentAccount)
		assert.Equal(t, "acc-1", stored, "id must be persisted before verification runs")
		return false, nil
	}

	require.NoError(t, f.manager.SetCurrentAccount(context.Background(), "acc-1"))

	state := f.manager.State()
	assert.Equal(t, "acc-1", state.CurrentAccountID)
	assert.False(t, state.LastSwitchVerified)
}

func TestSetCurrentAccountRecordsVerificationOutcome(t *testing.T) {
	f := newFixture()
	f.backend.verifyAuthFn = func(context.Context, domain.Credentials) (bool, error) { return true, nil }

	require.NoError(t, f.manager.SetCurrentAccount(context.Background(), "acc-1"))

	assert.True(t, f.manager.State().LastSwitchVerified)
}

func TestSetCurrentAccountStoreFailureReturnsError(t *testing.T) {
	f := newFixture()
	f.store.setErr = errors.New("disk full")

	err := f.manager.SetCurrentAccount(context.Background(), "acc-1")
	require.Error(t, err)
	assert.Zero(t, f.backend.verifyCalls, "no verification when the optimistic write fails")
}

func TestSetCurrentAccountEmptyClearsSelection(t *testing.T) {
	f := newFixture()
	f.backend.verifyAuthFn = func(context.Context, domain.Credentials) (bool, error) { return false, nil }
	require.NoError(t, f.store.Set(context.Background(), domain.KeyCurrentAccount, "acc-1"))

	require.NoError(t, f.manager.SetCurrentAccount(context.Background(), ""))

	stored, _ := f.store.Get(context.Background(), domain.KeyCurrentAccount)
	assert.Empty(t, stored)
	assert.Empty(t, f.manager.State().CurrentAccountID)
}

// --- RefreshAccounts ---

func TestRefreshAccountsKeepsStoredIDWhenStillListed(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.store.Set(context.Background(), domain.KeyCurrentAccount, "b"))
	f.registry.listFn = func(context.Context) ([]domain.Account, error) {
		return []domain.Account{{ID: "a"}, {ID: "b"}}, nil
	}
	f.backend.verifyAuthFn = func(context.Context, domain.Credentials) (bool, error) { return true, nil }

	require.NoError(t, f.manager.RefreshAccounts(context.Background()))

	assert.Equal(t, "b", f.manager.State().CurrentAccountID)
	assert.Equal(t, 1, f.backend.verifyCalls)
	assert.Equal(t, 1, f.prober.refreshCount())
}

func TestRefreshAccountsFallsBackToFirstListed(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.store.Set(context.Background(), domain.KeyCurrentAccount, "gone"))
	f.registry.listFn = func(context.Context) ([]domain.Account, error) {
		return []domain.Account{{ID: "a"}, {ID: "b"}}, nil
	}
	f.backend.verifyAuthFn = func(context.Context, domain.Credentials) (bool, error) { return true, nil }

	require.NoError(t, f.manager.RefreshAccounts(context.Background()))

	assert.Equal(t, "a", f.manager.State().CurrentAccountID)
	stored, _ := f.store.Get(context.Background(), domain.KeyCurrentAccount)
	assert.Equal(t, "a", stored, "resolution must be persisted")
}

func TestRefreshAccountsListFailureDegradesQuietly(t *testing.T) {
	f := newFixture()
	f.registry.listFn = func(context.Context) ([]domain.Account, error) {
		return nil, errors.New("access secret missing")
	}

	require.NoError(t, f.manager.RefreshAccounts(context.Background()))

	assert.Empty(t, f.manager.State().Accounts)
	assert.Zero(t, f.backend.verifyCalls)
	assert.Zero(t, f.prober.refreshCount())
}

func TestRefreshAccountsVerifyFailureDoesNotBlockProbe(t *testing.T) {
	f := newFixture()
	f.registry.listFn = func(context.Context) ([]domain.Account, error) {
		return []domain.Account{{ID: "a"}}, nil
	}
	f.backend.verifyAuthFn = func(context.Context, domain.Credentials) (bool, error) {
		return false, errors.New("verify exploded")
	}

	require.NoError(t, f.manager.RefreshAccounts(context.Background()))

	assert.Equal(t, 1, f.prober.refreshCount(), "status refresh runs even when verification fails")
}

// --- Account write flows ---

func TestSaveAccountUsesResolvedIdentity(t *testing.T) {
	f := newFixture()
	f.registry.resolveIdentityFn = func(context.Context, string, string, string, string) (string, string) {
		return "xx11111-ovh", "ops@example.com"
	}
	var saved domain.Account
	f.registry.saveFn = func(_ context.Context, account domain.Account) error {
		saved = account
		return nil
	}
	f.registry.listFn = func(context.Context) ([]domain.Account, error) {
		return []domain.Account{{ID: "xx11111-ovh"}}, nil
	}
	f.backend.verifyAuthFn = func(context.Context, domain.Credentials) (bool, error) { return true, nil }

	err := f.manager.SaveAccount(context.Background(), domain.Account{
		ID: "manual", Alias: "manual", AppKey: "ak", AppSecret: "as", ConsumerKey: "ck",
	})
	require.NoError(t, err)

	assert.Equal(t, "xx11111-ovh", saved.ID)
	assert.Equal(t, "ops@example.com", saved.Alias)
	assert.Equal(t, "xx11111-ovh", f.manager.State().CurrentAccountID)
}

func TestSaveAccountProceedsWhenResolutionFails(t *testing.T) {
	f := newFixture()
	// ResolveIdentity returns empty strings on failure.
	var saved domain.Account
	f.registry.saveFn = func(_ context.Context, account domain.Account) error {
		saved = account
		return nil
	}
	f.backend.verifyAuthFn = func(context.Context, domain.Credentials) (bool, error) { return true, nil }

	err := f.manager.SaveAccount(context.Background(), domain.Account{
		ID: "manual-id", Alias: "manual-alias", AppKey: "ak", AppSecret: "as", ConsumerKey: "ck",
	})
	require.NoError(t, err)

	assert.Equal(t, "manual-id", saved.ID, "caller-supplied id survives a failed resolution")
	assert.Equal(t, "manual-alias", saved.Alias)
}

func TestSaveAccountRejectsIncompleteCredentials(t *testing.T) {
	f := newFixture()

	err := f.manager.SaveAccount(context.Background(), domain.Account{AppKey: "ak"})
	require.Error(t, err)
}

func TestDeleteCurrentAccountClearsSelection(t *testing.T) {
	f := newFixture()
	f.backend.verifyAuthFn = func(context.Context, domain.Credentials) (bool, error) { return true, nil }
	f.registry.listFn = func(context.Context) ([]domain.Account, error) {
		return []domain.Account{{ID: "a"}}, nil
	}
	require.NoError(t, f.manager.SetCurrentAccount(context.Background(), "b"))

	f.registry.listFn = func(context.Context) ([]domain.Account, error) { return nil, nil }
	require.NoError(t, f.manager.DeleteAccount(context.Background(), "b"))

	stored, _ := f.store.Get(context.Background(), domain.KeyCurrentAccount)
	assert.Empty(t, stored)
	assert.Empty(t, f.manager.State().CurrentAccountID)

	// A status refresh with no accounts must not crash.
	assert.NotPanics(t, func() {
		f.prober.Refresh(context.Background(), nil)
	})
}

func TestDeleteOtherAccountKeepsSelection(t *testing.T) {
	f := newFixture()
	f.backend.verifyAuthFn = func(context.Context, domain.Credentials) (bool, error) { return true, nil }
	f.registry.listFn = func(context.Context) ([]domain.Account, error) {
		return []domain.Account{{ID: "a"}, {ID: "b"}}, nil
	}
	require.NoError(t, f.manager.SetCurrentAccount(context.Background(), "a"))

	f.registry.listFn = func(context.Context) ([]domain.Account, error) {
		return []domain.Account{{ID: "a"}}, nil
	}
	require.NoError(t, f.manager.DeleteAccount(context.Background(), "b"))

	assert.Equal(t, "a", f.manager.State().CurrentAccountID)
}

func TestDeleteAccountFailurePropagates(t *testing.T) {
	f := newFixture()
	f.registry.deleteFn = func(context.Context, string) error { return errors.New("denied") }

	err := f.manager.DeleteAccount(context.Background(), "a")
	require.Error(t, err)
	assert.Zero(t, f.prober.refreshCount(), "no refresh after a failed delete")
}
