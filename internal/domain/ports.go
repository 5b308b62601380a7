package domain

import "context"

// Local store keys. The store holds nothing else long-term.
const (
	KeyAccessSecret   = "api_secret_key"
	KeyCurrentAccount = "current_account_id"
)

// CredentialStore is the local durable key-value store for the access secret
// and the current account selection. Values are opaque strings; Get returns
// an empty string (and no error) for unset keys.
type CredentialStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	HasAccessSecret(ctx context.Context) (bool, error)
}

// BackendClient reaches the OVH console backend, one method per endpoint.
type BackendClient interface {
	GetSettings(ctx context.Context) (*Settings, error)
	SaveSettings(ctx context.Context, settings Settings) error
	VerifyAuth(ctx context.Context, creds Credentials) (bool, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	SaveAccount(ctx context.Context, account Account) error
	DeleteAccount(ctx context.Context, id string) error
	SetDefaultAccount(ctx context.Context, id string) error
	GetAccountStatuses(ctx context.Context) ([]AccountStatusEntry, error)
	ResolveAccountInfo(ctx context.Context, creds Credentials) (*AccountIdentity, error)
}

// AccountRegistry is the CRUD layer over the remote account list.
type AccountRegistry interface {
	List(ctx context.Context) ([]Account, error)
	ResolveIdentity(ctx context.Context, appKey, appSecret, consumerKey, endpoint string) (id, alias string)
	Save(ctx context.Context, account Account) error
	Delete(ctx context.Context, id string) error
	SetDefault(ctx context.Context, id string) error
}

// StatusProber reconciles the cached validity map with the remote authority.
type StatusProber interface {
	Refresh(ctx context.Context, accounts []Account) map[string]AccountStatus
	Statuses() map[string]AccountStatus
}
