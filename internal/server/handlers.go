package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rfavre/ovhsentry/internal/domain"
	"github.com/rfavre/ovhsentry/internal/registry"
)

type stateResponse struct {
	IsLoading          bool                            `json:"isLoading"`
	IsAuthenticated    bool                            `json:"isAuthenticated"`
	CurrentAccountID   string                          `json:"currentAccountId"`
	Accounts           []domain.Account                `json:"accounts"`
	Credentials        domain.Credentials              `json:"credentials"`
	Telegram           domain.TelegramConfig           `json:"telegram"`
	LastSwitchVerified bool                            `json:"lastSwitchVerified"`
	LastVerifiedAt     *time.Time                      `json:"lastVerifiedAt,omitempty"`
	Statuses           map[string]domain.AccountStatus `json:"accountStatuses"`
}

func (s *Server) stateResponse() stateResponse {
	state := s.manager.State()
	resp := stateResponse{
		IsLoading:          state.IsLoading,
		IsAuthenticated:    state.IsAuthenticated,
		CurrentAccountID:   state.CurrentAccountID,
		Accounts:           state.Accounts,
		Credentials:        state.Credentials,
		Telegram:           state.Telegram,
		LastSwitchVerified: state.LastSwitchVerified,
		Statuses:           s.manager.Statuses(),
	}
	if !state.LastVerifiedAt.IsZero() {
		t := state.LastVerifiedAt
		resp.LastVerifiedAt = &t
	}
	return resp
}

func (s *Server) handleState(c echo.Context) error {
	return c.JSON(http.StatusOK, s.stateResponse())
}

// handleSetSecret stores the access secret, then boots the session and
// refreshes accounts so the caller immediately sees remote state.
func (s *Server) handleSetSecret(c echo.Context) error {
	var req struct {
		Secret string `json:"secret"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Secret == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "secret must not be empty"})
	}

	ctx := c.Request().Context()
	if err := s.manager.SetAccessSecret(ctx, req.Secret); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to store access secret"})
	}

	s.manager.Boot(ctx)
	if err := s.manager.RefreshAccounts(ctx); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, s.stateResponse())
}

func (s *Server) handleSaveCredentials(c echo.Context) error {
	var settings domain.Settings
	if err := c.Bind(&settings); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if err := s.manager.SaveCredentials(c.Request().Context(), settings); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, s.stateResponse())
}

func (s *Server) handleVerify(c echo.Context) error {
	valid := s.manager.VerifyAuthentication(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]bool{"valid": valid})
}

func (s *Server) handleListAccounts(c echo.Context) error {
	state := s.manager.State()
	return c.JSON(http.StatusOK, map[string]any{
		"accounts":         state.Accounts,
		"accountStatuses":  s.manager.Statuses(),
		"currentAccountId": state.CurrentAccountID,
	})
}

func (s *Server) handleSaveAccount(c echo.Context) error {
	var account domain.Account
	if err := c.Bind(&account); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if err := s.manager.SaveAccount(c.Request().Context(), account); err != nil {
		var saveErr *registry.SaveError
		if errors.As(err, &saveErr) {
			return c.JSON(http.StatusBadGateway, map[string]string{"error": saveErr.Error()})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, s.stateResponse())
}

func (s *Server) handleDeleteAccount(c echo.Context) error {
	id := c.Param("id")
	if err := s.manager.DeleteAccount(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, s.stateResponse())
}

func (s *Server) handleSetDefaultAccount(c echo.Context) error {
	var req struct {
		ID string `json:"id"`
	}
	if err := c.Bind(&req); err != nil || req.ID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "account id is required"})
	}

	if err := s.manager.SetDefaultAccount(c.Request().Context(), req.ID); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, s.stateResponse())
}

func (s *Server) handleSetCurrentAccount(c echo.Context) error {
	var req struct {
		ID string `json:"id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if err := s.manager.SetCurrentAccount(c.Request().Context(), req.ID); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, s.stateResponse())
}

func (s *Server) handleRefreshAccounts(c echo.Context) error {
	if err := s.manager.RefreshAccounts(c.Request().Context()); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, s.stateResponse())
}
