// Package ovhapi is the JSON/HTTP client for the OVH console backend. Every
// remote call the application makes goes through here.
package ovhapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/rfavre/ovhsentry/internal/domain"
	"github.com/rfavre/ovhsentry/internal/metrics"
)

const (
	headerSecret    = "X-Api-Secret"
	headerRequestID = "X-Request-Id"

	breakerFailureThreshold = 5
	breakerOpenDuration     = 30 * time.Second
)

// Client reaches the console backend. The access secret is read from the
// local store on every call so a freshly saved secret takes effect without a
// restart. The batch status endpoint sits behind a circuit breaker so a
// degraded backend fails fast into the probe's fallback path.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	secrets       domain.CredentialStore
	statusBreaker *gobreaker.CircuitBreaker
}

var _ domain.BackendClient = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration, secrets domain.CredentialStore) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "account-status",
		MaxRequests: 1,
		Timeout:     breakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			metrics.BreakerStateChanges.WithLabelValues(to.String()).Inc()
		},
	})

	return &Client{
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: timeout},
		secrets:       secrets,
		statusBreaker: breaker,
	}
}

// resultResponse is the backend's generic mutation response.
type resultResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// GetSettings fetches the legacy credentials, telegram config and SSH key.
func (c *Client) GetSettings(ctx context.Context) (*domain.Settings, error) {
	var settings domain.Settings
	if err := c.doJSON(ctx, http.MethodGet, "/settings", "settings_get", nil, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// SaveSettings upserts the legacy credentials, telegram config and SSH key.
func (c *Client) SaveSettings(ctx context.Context, settings domain.Settings) error {
	return c.doJSON(ctx, http.MethodPost, "/settings", "settings_save", settings, nil)
}

// VerifyAuth asks the backend to validate a credential triple.
func (c *Client) VerifyAuth(ctx context.Context, creds domain.Credentials) (bool, error) {
	payload := map[string]string{
		"appKey":      creds.AppKey,
		"appSecret":   creds.AppSecret,
		"consumerKey": creds.ConsumerKey,
		"endpoint":    creds.Endpoint,
	}

	var result struct {
		Valid bool `json:"valid"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/verify-auth", "verify_auth", payload, &result); err != nil {
		return false, err
	}
	return result.Valid, nil
}

// ListAccounts fetches the account registry.
func (c *Client) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	var result struct {
		Accounts []domain.Account `json:"accounts"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/accounts", "accounts_list", nil, &result); err != nil {
		return nil, err
	}
	return result.Accounts, nil
}

// SaveAccount upserts one account by id.
func (c *Client) SaveAccount(ctx context.Context, account domain.Account) error {
	var result resultResponse
	if err := c.doJSON(ctx, http.MethodPost, "/accounts", "account_save", account, &result); err != nil {
		return err
	}
	return checkResult(result, "save account")
}

// DeleteAccount removes one account by id.
func (c *Client) DeleteAccount(ctx context.Context, id string) error {
	var result resultResponse
	if err := c.doJSON(ctx, http.MethodDelete, "/accounts/"+id, "account_delete", nil, &result); err != nil {
		return err
	}
	return checkResult(result, "delete account")
}

// SetDefaultAccount marks one account as the server-side default.
func (c *Client) SetDefaultAccount(ctx context.Context, id string) error {
	var result resultResponse
	payload := map[string]string{"id": id}
	if err := c.doJSON(ctx, http.MethodPut, "/accounts/default", "account_default", payload, &result); err != nil {
		return err
	}
	return checkResult(result, "set default account")
}

// GetAccountStatuses runs the batch validity probe behind the circuit breaker.
func (c *Client) GetAccountStatuses(ctx context.Context) ([]domain.AccountStatusEntry, error) {
	entries, err := c.statusBreaker.Execute(func() (any, error) {
		var result struct {
			Accounts []domain.AccountStatusEntry `json:"accounts"`
		}
		if err := c.doJSON(ctx, http.MethodGet, "/accounts/status", "account_status", nil, &result); err != nil {
			return nil, err
		}
		return result.Accounts, nil
	})
	if err != nil {
		return nil, err
	}
	return entries.([]domain.AccountStatusEntry), nil
}

// ResolveAccountInfo derives the canonical identity for a credential triple.
func (c *Client) ResolveAccountInfo(ctx context.Context, creds domain.Credentials) (*domain.AccountIdentity, error) {
	payload := map[string]string{
		"appKey":      creds.AppKey,
		"appSecret":   creds.AppSecret,
		"consumerKey": creds.ConsumerKey,
		"endpoint":    creds.Endpoint,
	}

	var result struct {
		Success      bool   `json:"success"`
		Error        string `json:"error,omitempty"`
		CustomerCode string `json:"customerCode"`
		Nichandle    string `json:"nichandle"`
		Email        string `json:"email"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/accounts/resolve-info", "resolve_info", payload, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, backendError(result.Error, "resolve account info")
	}

	return &domain.AccountIdentity{
		CustomerCode: result.CustomerCode,
		Nichandle:    result.Nichandle,
		Email:        result.Email,
	}, nil
}

// doJSON executes one backend request: JSON body in, JSON body out.
// Non-2xx responses are decoded into the backend's error shape so the
// operator-facing message (including any embedded query id) survives.
func (c *Client) doJSON(ctx context.Context, method, path, endpoint string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", endpoint, err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerRequestID, uuid.NewString())

	secret, err := c.secrets.Get(ctx, domain.KeyAccessSecret)
	if err != nil {
		return fmt.Errorf("failed to read access secret: %w", err)
	}
	if secret != "" {
		req.Header.Set(headerSecret, secret)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.BackendRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
		return fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	metrics.BackendRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp resultResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr == nil && errResp.Error != "" {
			return fmt.Errorf("%w: %s", domain.ErrBackendRejected, errResp.Error)
		}
		return fmt.Errorf("%w: %s returned status %d", domain.ErrBackendRejected, endpoint, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
		}
	}
	return nil
}

func checkResult(result resultResponse, operation string) error {
	if result.Success {
		return nil
	}
	return backendError(result.Error, operation)
}

func backendError(message, operation string) error {
	if message == "" {
		return fmt.Errorf("%w: %s failed", domain.ErrBackendRejected, operation)
	}
	return fmt.Errorf("%w: %s", domain.ErrBackendRejected, message)
}
