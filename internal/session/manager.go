package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/api"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	messageNoSession       = "No active juror session."
	messageSessionExpired  = "The session has expired. Please log in again."
	messageReadFailed      = "The saved session could not be read."
	messageSaveFailed      = "The session could not be saved."
	messageTokenSaveFailed = "The new access token could not be saved."
	messageIncompleteLogin = "The server returned no login data."
	messageRefreshAborted  = "The session refresh was interrupted."
	messageSessionReplaced = "The session changed while it was being renewed."

	opLogin   = "session.login"
	opRefresh = "session.refresh"
	opRead    = "session.read"
	opClear   = "session.clear"
)

var (
	// ErrNoSession indicates that no complete session is stored.
	ErrNoSession = errors.New("session: no stored session")
	// ErrSessionExpired indicates that the refresh token was rejected and the session was cleared.
	ErrSessionExpired = errors.New("session: expired")
	// ErrStorage indicates a failure of the session store.
	ErrStorage = errors.New("session: storage failure")
	// ErrSessionReplaced indicates that the session a call started with was cleared or
	// replaced by another login before the call finished.
	ErrSessionReplaced = errors.New("session: replaced")

	errMissingStore = errors.New("session: store is required")
	errMissingAPI   = errors.New("session: auth api is required")
)

// AuthAPI is the subset of remote operations the manager needs.
type AuthAPI interface {
	Login(ctx context.Context, request api.LoginRequest) (api.LoginResponse, error)
	Refresh(ctx context.Context, refreshToken string) (api.RefreshResponse, error)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Store   Store
	API     AuthAPI
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Manager owns the token lifecycle of one juror.
type Manager struct {
	store   Store
	api     AuthAPI
	logger  *zap.Logger
	metrics *metrics.Metrics
	flights singleflight.Group
}

// NewManager validates cfg and builds a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.API == nil {
		return nil, errMissingAPI
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:   cfg.Store,
		api:     cfg.API,
		logger:  logger,
		metrics: metrics.OrNop(cfg.Metrics),
	}, nil
}

// ReadSession returns the stored session. Storage failures read as no session.
func (m *Manager) ReadSession(ctx context.Context) (Session, bool) {
	current, ok, err := m.store.Read(ctx)
	if err != nil {
		m.logError(opRead, "store_read", err)
		return Session{}, false
	}
	return current, ok
}

// Login exchanges credentials for a session and persists it. Stored state is untouched on failure.
func (m *Manager) Login(ctx context.Context, request api.LoginRequest) (Session, error) {
	response, err := m.api.Login(ctx, request)
	if err != nil {
		return Session{}, err
	}
	created := Session{
		AccessToken:  response.AccessToken,
		RefreshToken: response.RefreshToken,
		Role:         RoleJuror,
		JurorName:    response.JurorName,
		JurorSurname: response.JurorSurname,
	}
	if !created.Valid() {
		return Session{}, api.NewError(http.StatusInternalServerError, messageIncompleteLogin, nil)
	}
	if err := m.store.Save(ctx, created); err != nil {
		m.logError(opLogin, "store_save", err)
		return Session{}, storageError(messageSaveFailed, err)
	}
	return created, nil
}

// Refresh renews the access token of the stored session. Concurrent callers share one remote call.
// Only an unauthorized error means the refresh token itself was rejected.
func (m *Manager) Refresh(ctx context.Context) error {
	current, ok, err := m.store.Read(ctx)
	if err != nil {
		m.logError(opRefresh, "store_read", err)
		return storageError(messageReadFailed, err)
	}
	if !ok {
		return noSessionError()
	}
	return m.refreshFrom(ctx, current.AccessToken)
}

// refreshFrom renews the token only while stale is still the stored access token.
// Callers holding the same stale token join one flight; a caller arriving after the
// rotation finds a newer token and returns without a remote call. The renewed token is
// written only while the refresh token the flight used is still stored.
func (m *Manager) refreshFrom(ctx context.Context, stale string) error {
	results := m.flights.DoChan(stale, func() (any, error) {
		// the flight outlives any single caller
		flightCtx := context.WithoutCancel(ctx)

		current, ok, err := m.store.Read(flightCtx)
		if err != nil {
			m.logError(opRefresh, "store_read", err)
			return nil, storageError(messageReadFailed, err)
		}
		if !ok {
			return nil, noSessionError()
		}
		if current.AccessToken != stale {
			m.metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeSkipped).Inc()
			return nil, nil
		}

		response, err := m.api.Refresh(flightCtx, current.RefreshToken)
		if err != nil {
			m.metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeFailure).Inc()
			m.logger.Info("token refresh failed",
				zap.String("operation", opRefresh),
				zap.Int("status", api.StatusOf(err)))
			return nil, err
		}
		applied, err := m.store.UpdateAccessTokenIf(flightCtx, current.RefreshToken, strings.TrimSpace(response.AccessToken))
		if err != nil {
			m.metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeFailure).Inc()
			m.logError(opRefresh, "store_update", err)
			return nil, storageError(messageTokenSaveFailed, err)
		}
		if !applied {
			m.metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeSkipped).Inc()
			m.logger.Info("renewed token discarded for a replaced session", zap.String("operation", opRefresh))
			return nil, sessionReplacedError()
		}
		m.metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeSuccess).Inc()
		return nil, nil
	})

	select {
	case result := <-results:
		return result.Err
	case <-ctx.Done():
		return api.NewError(api.StatusTransport, messageRefreshAborted, ctx.Err())
	}
}

// Clear erases the stored session.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		m.logError(opClear, "store_clear", err)
		return storageError(messageSaveFailed, err)
	}
	return nil
}

// clearIfCurrent erases the session only while it still owns refreshToken.
func (m *Manager) clearIfCurrent(ctx context.Context, refreshToken string) (bool, error) {
	cleared, err := m.store.ClearIf(ctx, refreshToken)
	if err != nil {
		m.logError(opClear, "store_clear", err)
		return false, storageError(messageSaveFailed, err)
	}
	return cleared, nil
}

// Authorized runs call with the current access token. One unauthorized result triggers a
// shared refresh and exactly one retry; a rejected refresh token clears the session. Both
// the clear and the retry apply only to the session the call started with.
func Authorized[T any](ctx context.Context, m *Manager, call func(ctx context.Context, accessToken string) (T, error)) (T, error) {
	var zero T
	current, ok := m.ReadSession(ctx)
	if !ok {
		return zero, noSessionError()
	}

	result, err := call(ctx, current.AccessToken)
	if !api.IsUnauthorized(err) {
		return result, err
	}

	if refreshErr := m.refreshFrom(ctx, current.AccessToken); refreshErr != nil {
		if !api.IsUnauthorized(refreshErr) {
			return zero, refreshErr
		}
		cleared, clearErr := m.clearIfCurrent(ctx, current.RefreshToken)
		if clearErr == nil && !cleared {
			return zero, sessionReplacedError()
		}
		return zero, ExpiredError()
	}

	renewed, ok := m.ReadSession(ctx)
	if !ok {
		return zero, noSessionError()
	}
	if renewed.RefreshToken != current.RefreshToken {
		return zero, sessionReplacedError()
	}
	return call(ctx, renewed.AccessToken)
}

// ExpiredError is the error returned once a session was cleared after a rejected refresh.
func ExpiredError() error {
	return api.NewError(http.StatusUnauthorized, messageSessionExpired, ErrSessionExpired)
}

func noSessionError() error {
	return api.NewError(http.StatusUnauthorized, messageNoSession, ErrNoSession)
}

func sessionReplacedError() error {
	return api.NewError(http.StatusConflict, messageSessionReplaced, ErrSessionReplaced)
}

func storageError(message string, cause error) error {
	return api.NewError(api.StatusTransport, message, fmt.Errorf("%w: %w", ErrStorage, cause))
}

func (m *Manager) logError(operation, reason string, err error) {
	if err == nil {
		return
	}
	m.logger.Error("session operation failed",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err))
}
