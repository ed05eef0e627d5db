package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/scoring"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultTimeout  = 12 * time.Second
	maxResponseSize = 4 << 20

	pathLoginStatus = "public/juror-login-status"
	pathLogin       = "auth/juror/login"
	pathRefresh     = "auth/refresh"
	pathParticipant = "juror/participants"
	pathCriteria    = "juror/criteria"
	pathMyScores    = "juror/scores/me"

	headerRequestID = "X-Request-ID"

	messageMissingLogin   = "The server returned no login data."
	messageMissingToken   = "The server response did not contain a new access token."
	messageMissingScore   = "The server returned no data after saving the points."
	messageInvalidBaseURL = "api: base url must be an absolute http or https url"
)

var (
	// ErrInvalidBaseURL indicates that the configured base url cannot be used.
	ErrInvalidBaseURL = errors.New(messageInvalidBaseURL)

	errEmptyBody = errors.New("api: empty response body")
)

// Config configures the request client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client executes the juror backend's named remote operations.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient validates the base url and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	baseURL, err := NormalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// NormalizeBaseURL parses raw and guarantees a trailing slash so relative paths resolve under it.
func NormalizeBaseURL(raw string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, ErrInvalidBaseURL
	}
	if parsed.Host == "" {
		return nil, ErrInvalidBaseURL
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	return parsed, nil
}

// BaseURL returns the normalized base endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// LoginStatus reports whether juror login is enabled. A missing body means enabled.
func (c *Client) LoginStatus(ctx context.Context) (LoginStatus, error) {
	status := LoginStatus{Enabled: true}
	err := c.do(ctx, http.MethodGet, pathLoginStatus, "", nil, &status)
	if errors.Is(err, errEmptyBody) {
		return LoginStatus{Enabled: true}, nil
	}
	if err != nil {
		return LoginStatus{}, err
	}
	return status, nil
}

// Login exchanges juror credentials for a token pair.
func (c *Client) Login(ctx context.Context, request LoginRequest) (LoginResponse, error) {
	var response LoginResponse
	err := c.do(ctx, http.MethodPost, pathLogin, "", request, &response)
	if errors.Is(err, errEmptyBody) {
		return LoginResponse{}, NewError(http.StatusInternalServerError, messageMissingLogin, err)
	}
	if err != nil {
		return LoginResponse{}, err
	}
	return response, nil
}

// Refresh renews the access token using the refresh token as bearer credential.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (RefreshResponse, error) {
	var response RefreshResponse
	err := c.do(ctx, http.MethodPost, pathRefresh, refreshToken, RefreshRequest{RefreshToken: refreshToken}, &response)
	if errors.Is(err, errEmptyBody) {
		return RefreshResponse{}, NewError(http.StatusInternalServerError, messageMissingToken, err)
	}
	if err != nil {
		return RefreshResponse{}, err
	}
	if strings.TrimSpace(response.AccessToken) == "" {
		return RefreshResponse{}, NewError(http.StatusInternalServerError, messageMissingToken, nil)
	}
	return response, nil
}

// Participants lists the participants visible to the juror.
func (c *Client) Participants(ctx context.Context, accessToken string) ([]scoring.Participant, error) {
	var participants []scoring.Participant
	if err := c.do(ctx, http.MethodGet, pathParticipant, accessToken, nil, &participants); err != nil && !errors.Is(err, errEmptyBody) {
		return nil, err
	}
	return orEmpty(participants), nil
}

// Criteria lists the scoring criteria.
func (c *Client) Criteria(ctx context.Context, accessToken string) ([]scoring.Criterion, error) {
	var criteria []scoring.Criterion
	if err := c.do(ctx, http.MethodGet, pathCriteria, accessToken, nil, &criteria); err != nil && !errors.Is(err, errEmptyBody) {
		return nil, err
	}
	return orEmpty(criteria), nil
}

// MyScores lists the committed scores of the juror.
func (c *Client) MyScores(ctx context.Context, accessToken string) ([]scoring.Score, error) {
	var scores []scoring.Score
	if err := c.do(ctx, http.MethodGet, pathMyScores, accessToken, nil, &scores); err != nil && !errors.Is(err, errEmptyBody) {
		return nil, err
	}
	return orEmpty(scores), nil
}

// UpsertMyScore stores a point value and returns the server's authoritative score.
func (c *Client) UpsertMyScore(ctx context.Context, accessToken string, request UpsertScoreRequest) (scoring.Score, error) {
	var score scoring.Score
	err := c.do(ctx, http.MethodPut, pathMyScores, accessToken, request, &score)
	if errors.Is(err, errEmptyBody) {
		return scoring.Score{}, NewError(http.StatusInternalServerError, messageMissingScore, err)
	}
	if err != nil {
		return scoring.Score{}, err
	}
	return score, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, payload any, out any) error {
	endpoint := c.baseURL.ResolveReference(&url.URL{Path: path})

	var body io.Reader = http.NoBody
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return NewError(StatusTransport, messageMalformedBody, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return NewError(StatusTransport, messageNoConnection, err)
	}
	requestID := newRequestID()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerRequestID, requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	startedAt := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("api request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Error(err))
		return NewError(StatusTransport, messageNoConnection, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	c.logger.Debug("api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(startedAt)),
		zap.String("request_id", requestID))
	if err != nil {
		return NewError(StatusTransport, messageNoConnection, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return errEmptyBody
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return NewError(StatusTransport, messageMalformedBody, err)
	}
	return nil
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
