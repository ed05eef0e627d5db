package juror

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/api"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/live"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/metrics"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/scoring"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/session"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	defaultReconnectDelay = 1500 * time.Millisecond
	defaultNoticeBuffer   = 64

	opBootstrap      = "juror.bootstrap"
	opLoginStatus    = "juror.login_status"
	opLogin          = "juror.login"
	opLogout         = "juror.logout"
	opLoadSnapshot   = "juror.load_snapshot"
	opSubmitScore    = "juror.submit_score"
	opReconnect      = "juror.reconnect"
	opConnectLive    = "juror.connect_live"
	opHandleLive     = "juror.handle_live_event"
	opCoordinatorNew = "juror.coordinator.new"
)

var (
	// ErrSubmissionInFlight indicates that a score submission was ignored because another is saving.
	ErrSubmissionInFlight = errors.New("juror: a submission is already in flight")
	// ErrLoginDisabled indicates that juror login is administratively disabled.
	ErrLoginDisabled = errors.New("juror: login disabled")
	// ErrLoginInProgress indicates that a login attempt is already running.
	ErrLoginInProgress = errors.New("juror: login in progress")
	// ErrIncompleteLoginForm indicates a blank first name, surname or password.
	ErrIncompleteLoginForm = errors.New("juror: incomplete login form")
	// ErrUnknownParticipant indicates a participant id absent from the current snapshot.
	ErrUnknownParticipant = errors.New("juror: unknown participant")
	// ErrNotAuthenticated indicates an operation that needs a signed-in juror.
	ErrNotAuthenticated = errors.New("juror: not authenticated")

	errMissingSessions = errors.New("session manager is required")
	errMissingAPI      = errors.New("data api is required")
)

// DataAPI is the subset of remote operations the coordinator drives.
type DataAPI interface {
	LoginStatus(ctx context.Context) (api.LoginStatus, error)
	Participants(ctx context.Context, accessToken string) ([]scoring.Participant, error)
	Criteria(ctx context.Context, accessToken string) ([]scoring.Criterion, error)
	MyScores(ctx context.Context, accessToken string) ([]scoring.Score, error)
	UpsertMyScore(ctx context.Context, accessToken string, request api.UpsertScoreRequest) (scoring.Score, error)
}

// LiveChannel is the live update connection as seen by the coordinator.
type LiveChannel interface {
	Connect(ctx context.Context, accessToken string) error
	Disconnect()
	SendInit() bool
	SendUpsertMyScore(participantID, criterionID string, point int) bool
	Events() <-chan live.Event
	Close()
}

// Config configures a Coordinator. A nil Live disables the live channel.
type Config struct {
	Sessions       *session.Manager
	API            DataAPI
	Live           LiveChannel
	ReconnectDelay time.Duration
	NoticeBuffer   int
	Clock          func() time.Time
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

// Coordinator is the single owner of the juror's session-bound state.
type Coordinator struct {
	sessions       *session.Manager
	api            DataAPI
	live           LiveChannel
	reconnectDelay time.Duration
	clock          func() time.Time
	logger         *zap.Logger
	metrics        *metrics.Metrics
	validate       *validator.Validate

	mu              sync.Mutex
	state           State
	epoch           uint64
	shouldReconnect bool
	reconnectCancel chan struct{}
	pendingLive     []pendingWrite
	nextWrite       uint64
	subscribers     map[uint64]chan State
	nextSubscriber  uint64
	notices         chan Notice
	closed          bool
}

// New validates cfg and builds a Coordinator in the starting state.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Sessions == nil {
		return nil, newServiceError(opCoordinatorNew, "missing_sessions", errMissingSessions)
	}
	if cfg.API == nil {
		return nil, newServiceError(opCoordinatorNew, "missing_api", errMissingAPI)
	}
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	buffer := cfg.NoticeBuffer
	if buffer <= 0 {
		buffer = defaultNoticeBuffer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		sessions:       cfg.Sessions,
		api:            cfg.API,
		live:           cfg.Live,
		reconnectDelay: delay,
		clock:          clock,
		logger:         logger,
		metrics:        metrics.OrNop(cfg.Metrics),
		validate:       validator.New(),
		state:          initialState(),
		subscribers:    make(map[uint64]chan State),
		notices:        make(chan Notice, buffer),
	}, nil
}

// Run consumes live channel events in order until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.live == nil {
		<-ctx.Done()
		return nil
	}
	events := c.live.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-events:
			c.handleLiveEvent(ctx, event)
		}
	}
}

// Close stops reconnecting, closes the live channel and ends every subscription.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.shouldReconnect = false
	c.epoch++
	c.cancelReconnectLocked()
	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}
	close(c.notices)
	c.mu.Unlock()

	if c.live != nil {
		c.live.Close()
	}
}

// State returns a copy of the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Subscribe delivers the current state and then every change. Slow consumers only see the latest
// value. The subscription ends when ctx is done or the returned func is called.
func (c *Coordinator) Subscribe(ctx context.Context) (<-chan State, func()) {
	ch := make(chan State, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextSubscriber
	c.nextSubscriber++
	c.subscribers[id] = ch
	ch <- c.state.Clone()
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if existing, ok := c.subscribers[id]; ok {
				delete(c.subscribers, id)
				close(existing)
			}
		})
	}
	stop := context.AfterFunc(ctx, cancel)
	return ch, func() {
		stop()
		cancel()
	}
}

// Notices is the single-consumer FIFO of transient messages.
func (c *Coordinator) Notices() <-chan Notice {
	return c.notices
}

func (c *Coordinator) update(mutate func(*State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mutateLocked(mutate)
}

// updateIfEpoch applies mutate only while no logout happened since epoch was read.
func (c *Coordinator) updateIfEpoch(epoch uint64, mutate func(*State)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	c.mutateLocked(mutate)
	return true
}

func (c *Coordinator) mutateLocked(mutate func(*State)) {
	if c.closed {
		return
	}
	next := c.state.Clone()
	mutate(&next)
	c.state = next
	for _, ch := range c.subscribers {
		select {
		case ch <- next.Clone():
		default:
			select {
			case <-ch:
			default:
			}
			ch <- next.Clone()
		}
	}
}

func (c *Coordinator) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *Coordinator) notify(kind NoticeKind, message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyLocked(kind, message)
}

func (c *Coordinator) notifyLocked(kind NoticeKind, message string) {
	if c.closed {
		return
	}
	select {
	case c.notices <- Notice{Kind: kind, Message: message, At: c.clock()}:
	default:
		c.logger.Warn("notice dropped", zap.String("kind", string(kind)), zap.String("message", message))
	}
}

func (c *Coordinator) cancelReconnectLocked() {
	if c.reconnectCancel != nil {
		close(c.reconnectCancel)
		c.reconnectCancel = nil
	}
}

func (c *Coordinator) logError(operation, reason string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Int("status", api.StatusOf(err)),
		zap.Error(err),
	}, fields...)
	c.logger.Error("juror operation failed", allFields...)
}
