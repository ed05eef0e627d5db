// Package stubserver is an in-memory implementation of the juror backend for local runs and tests.
package stubserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/api"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/live"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/scoring"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	jurorIDContextKey = "juror_id"
	messageAck        = "ok"
)

var (
	errMissingAdminPassword = errors.New("admin password must be provided")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// Config configures the stub backend.
type Config struct {
	AdminPassword string
	SigningSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	LoginEnabled  bool
	Participants  []scoring.Participant
	Criteria      []scoring.Criterion
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Server serves the juror REST surface and live channel under /api.
type Server struct {
	backend  *backend
	tokens   *TokenIssuer
	hub      *liveHub
	upgrader websocket.Upgrader
	logger   *zap.Logger
	router   *gin.Engine
}

// New builds a Server; nil fixtures fall back to the default seed.
func New(cfg Config) (*Server, error) {
	if strings.TrimSpace(cfg.AdminPassword) == "" {
		return nil, errMissingAdminPassword
	}
	tokens, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: cfg.SigningSecret,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
		Clock:         cfg.Clock,
	})
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	participants := cfg.Participants
	if participants == nil {
		participants = DefaultParticipants()
	}
	criteria := cfg.Criteria
	if criteria == nil {
		criteria = DefaultCriteria()
	}

	server := &Server{
		backend: newBackend(cfg.AdminPassword, cfg.LoginEnabled, participants, criteria),
		tokens:  tokens,
		hub:     newLiveHub(logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
	server.router = server.routes()
	return server, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetLoginEnabled toggles the administrative juror login switch.
func (s *Server) SetLoginEnabled(enabled bool) {
	s.backend.setLoginEnabled(enabled)
}

// RefreshCalls counts successful token refreshes.
func (s *Server) RefreshCalls() int {
	return s.backend.refreshCount()
}

// LiveConnections counts open live sockets.
func (s *Server) LiveConnections() int {
	return s.hub.count()
}

// DropLiveConnections closes every live socket as a server restart would.
func (s *Server) DropLiveConnections() int {
	return s.hub.dropAll()
}

// Close drops the live sockets.
func (s *Server) Close() {
	s.hub.dropAll()
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))

	root := router.Group("/api")
	root.GET("/public/juror-login-status", s.handleLoginStatus)
	root.POST("/auth/juror/login", s.handleLogin)
	root.POST("/auth/refresh", s.handleRefresh)
	root.GET("/ws/juror/live", s.handleLive)

	protected := root.Group("/juror")
	protected.Use(s.authorizeRequest)
	protected.GET("/participants", s.handleParticipants)
	protected.GET("/criteria", s.handleCriteria)
	protected.GET("/scores/me", s.handleMyScores)
	protected.PUT("/scores/me", s.handleUpsertScore)

	return router
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, api.ErrorBody{Message: message})
}

func (s *Server) handleLoginStatus(c *gin.Context) {
	c.JSON(http.StatusOK, api.LoginStatus{Enabled: s.backend.isLoginEnabled()})
}

func (s *Server) handleLogin(c *gin.Context) {
	var request api.LoginRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, messageInvalidRequest)
		return
	}
	registered, err := s.backend.login(request)
	if err != nil {
		status, message := statusOf(err)
		s.logger.Info("juror login rejected", zap.Int("status", status))
		respondError(c, status, message)
		return
	}

	accessToken, err := s.tokens.Issue(TokenKindAccess, registered.ID)
	if err != nil {
		s.logger.Error("failed to issue access token", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "token_issue_failed")
		return
	}
	refreshToken, err := s.tokens.Issue(TokenKindRefresh, registered.ID)
	if err != nil {
		s.logger.Error("failed to issue refresh token", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "token_issue_failed")
		return
	}

	c.JSON(http.StatusOK, api.LoginResponse{
		JurorName:    registered.FirstName,
		JurorSurname: registered.SurName,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

func (s *Server) handleRefresh(c *gin.Context) {
	refreshToken, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		var request api.RefreshRequest
		if err := c.ShouldBindJSON(&request); err == nil {
			refreshToken = strings.TrimSpace(request.RefreshToken)
		}
	}
	if refreshToken == "" {
		respondError(c, http.StatusUnauthorized, messageInvalidLogin)
		return
	}
	subject, err := s.tokens.Validate(refreshToken, TokenKindRefresh)
	if err != nil {
		s.logger.Info("refresh token rejected", zap.Error(err))
		respondError(c, http.StatusUnauthorized, messageInvalidLogin)
		return
	}
	if _, known := s.backend.jurorByID(subject); !known {
		respondError(c, http.StatusUnauthorized, messageInvalidLogin)
		return
	}
	accessToken, err := s.tokens.Issue(TokenKindAccess, subject)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "token_issue_failed")
		return
	}
	s.backend.recordRefresh()
	c.JSON(http.StatusOK, api.RefreshResponse{AccessToken: accessToken})
}

func (s *Server) handleParticipants(c *gin.Context) {
	c.JSON(http.StatusOK, s.backend.listParticipants())
}

func (s *Server) handleCriteria(c *gin.Context) {
	c.JSON(http.StatusOK, s.backend.listCriteria())
}

func (s *Server) handleMyScores(c *gin.Context) {
	c.JSON(http.StatusOK, s.backend.listScores(c.GetString(jurorIDContextKey)))
}

func (s *Server) handleUpsertScore(c *gin.Context) {
	jurorID := c.GetString(jurorIDContextKey)
	var request api.UpsertScoreRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, messageInvalidRequest)
		return
	}
	saved, err := s.backend.upsert(jurorID, request)
	if err != nil {
		status, message := statusOf(err)
		respondError(c, status, message)
		return
	}
	c.JSON(http.StatusOK, saved)
	s.hub.publishSnapshot(jurorID, s.backend.snapshot(jurorID))
}

func (s *Server) authorizeRequest(c *gin.Context) {
	token, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		respondError(c, http.StatusUnauthorized, errInvalidAuthorization.Error())
		return
	}
	subject, err := s.tokens.Validate(token, TokenKindAccess)
	if err != nil {
		s.logger.Info("access token rejected", zap.Error(err))
		respondError(c, http.StatusUnauthorized, messageInvalidLogin)
		return
	}
	c.Set(jurorIDContextKey, subject)
	c.Next()
}

func (s *Server) handleLive(c *gin.Context) {
	subject, err := s.tokens.Validate(c.Query("token"), TokenKindAccess)
	if err != nil {
		respondError(c, http.StatusUnauthorized, messageInvalidLogin)
		return
	}
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("live upgrade failed", zap.Error(err))
		return
	}
	conn := s.hub.register(subject, ws)
	defer func() {
		s.hub.unregister(conn)
		_ = ws.Close()
	}()

	if err := conn.write(outboundMessage{Type: live.TypeConnected}); err != nil {
		return
	}
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) {
				s.logger.Debug("live socket closed", zap.Error(err))
			}
			return
		}
		s.handleLiveAction(conn, frame)
	}
}

func (s *Server) handleLiveAction(conn *liveConn, frame []byte) {
	var inbound inboundAction
	if err := json.Unmarshal(frame, &inbound); err != nil {
		_ = conn.write(outboundMessage{Type: live.TypeError, Message: messageInvalidRequest})
		return
	}

	switch inbound.Action {
	case live.ActionInit:
		message, err := snapshotMessage(s.backend.snapshot(conn.jurorID))
		if err != nil {
			s.logger.Error("failed to encode snapshot", zap.Error(err))
			return
		}
		_ = conn.write(message)

	case live.ActionUpsertMyScore:
		var data live.UpsertScoreData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			_ = conn.write(outboundMessage{Type: live.TypeError, Action: inbound.Action, Message: messageInvalidRequest})
			return
		}
		_, err := s.backend.upsert(conn.jurorID, api.UpsertScoreRequest{
			ParticipantID: data.ParticipantID,
			CriterionID:   data.CriterionID,
			Point:         data.Point,
		})
		if err != nil {
			_, message := statusOf(err)
			_ = conn.write(outboundMessage{Type: live.TypeError, Action: inbound.Action, Message: message})
			return
		}
		_ = conn.write(outboundMessage{Type: live.TypeAck, Action: inbound.Action, Message: messageAck})
		s.hub.publishSnapshot(conn.jurorID, s.backend.snapshot(conn.jurorID))

	default:
		_ = conn.write(outboundMessage{Type: live.TypeError, Action: inbound.Action, Message: messageUnknownAction})
	}
}

func bearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}
