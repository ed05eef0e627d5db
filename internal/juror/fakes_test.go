package juror

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/api"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/live"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/scoring"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/session"
)

const waitTimeout = 2 * time.Second

// fakeBackend implements both the auth and the data operations over in-memory state.
type fakeBackend struct {
	mu sync.Mutex

	loginStatus    api.LoginStatus
	loginStatusErr error
	loginErr       error
	loginCalls     int

	validToken     string
	refreshToken   string
	tokenSerial    int
	refreshErr     error
	refreshCalls   int
	refreshEntered chan struct{}
	refreshGate    chan struct{}

	participants []scoring.Participant
	criteria     []scoring.Criterion
	scores       []scoring.Score
	listErr      error
	listCalls    int

	upsertPoint func(requested int) int
	upsertErr   error
	upsertGate  chan struct{}
	upsertCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		loginStatus:  api.LoginStatus{Enabled: true},
		validToken:   "access-1",
		refreshToken: "refresh-1",
		participants: []scoring.Participant{{ID: "p1", Name: "Ada"}, {ID: "p2", Name: "Grace"}},
		criteria:     []scoring.Criterion{{ID: "c1", Name: "Style", MaxPoints: 10}},
		scores:       []scoring.Score{},
	}
}

func unauthorizedError() error {
	return api.NewError(http.StatusUnauthorized, "Invalid login details or token.", nil)
}

func (f *fakeBackend) LoginStatus(context.Context) (api.LoginStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginStatus, f.loginStatusErr
}

func (f *fakeBackend) Login(_ context.Context, request api.LoginRequest) (api.LoginResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if f.loginErr != nil {
		return api.LoginResponse{}, f.loginErr
	}
	return api.LoginResponse{
		JurorName:    request.FirstName,
		JurorSurname: request.SurName,
		AccessToken:  f.validToken,
		RefreshToken: f.refreshToken,
	}, nil
}

func (f *fakeBackend) Refresh(context.Context, string) (api.RefreshResponse, error) {
	f.mu.Lock()
	f.refreshCalls++
	entered, gate := f.refreshEntered, f.refreshGate
	f.mu.Unlock()
	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return api.RefreshResponse{}, f.refreshErr
	}
	f.tokenSerial++
	f.validToken = fmt.Sprintf("access-r%d", f.tokenSerial)
	return api.RefreshResponse{AccessToken: f.validToken}, nil
}

func (f *fakeBackend) authorize(token string) error {
	if token != f.validToken {
		return unauthorizedError()
	}
	return nil
}

func (f *fakeBackend) Participants(_ context.Context, token string) ([]scoring.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if err := f.authorize(token); err != nil {
		return nil, err
	}
	return append([]scoring.Participant{}, f.participants...), f.listErr
}

func (f *fakeBackend) Criteria(_ context.Context, token string) ([]scoring.Criterion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.authorize(token); err != nil {
		return nil, err
	}
	return append([]scoring.Criterion{}, f.criteria...), nil
}

func (f *fakeBackend) MyScores(_ context.Context, token string) ([]scoring.Score, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.authorize(token); err != nil {
		return nil, err
	}
	return append([]scoring.Score{}, f.scores...), nil
}

func (f *fakeBackend) UpsertMyScore(ctx context.Context, token string, request api.UpsertScoreRequest) (scoring.Score, error) {
	f.mu.Lock()
	gate := f.upsertGate
	f.upsertCalls++
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return scoring.Score{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.authorize(token); err != nil {
		return scoring.Score{}, err
	}
	if f.upsertErr != nil {
		return scoring.Score{}, f.upsertErr
	}
	point := request.Point
	if f.upsertPoint != nil {
		point = f.upsertPoint(point)
	}
	return scoring.Score{
		ID:            "s-" + request.ParticipantID + "-" + request.CriterionID,
		JurorID:       "j1",
		ParticipantID: request.ParticipantID,
		CriterionID:   request.CriterionID,
		Point:         point,
	}, nil
}

func (f *fakeBackend) counts() (refresh, upsert, list int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls, f.upsertCalls, f.listCalls
}

func (f *fakeBackend) set(mutate func(*fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mutate(f)
}

// fakeLive records outbound actions and lets tests inject inbound events.
type fakeLive struct {
	mu           sync.Mutex
	events       chan live.Event
	connected    bool
	connectFails bool
	acceptSends  bool
	connectCalls int
	tokens       []string
	sent         []string
	// sendEntered is signalled when an upsert frame reaches the socket; sendGate, when set, holds it.
	sendEntered chan struct{}
	sendGate    chan struct{}
}

func newFakeLive() *fakeLive {
	return &fakeLive{events: make(chan live.Event, 32), acceptSends: true}
}

func (f *fakeLive) Connect(_ context.Context, accessToken string) error {
	f.mu.Lock()
	f.connectCalls++
	f.tokens = append(f.tokens, accessToken)
	fails := f.connectFails
	f.connected = !fails
	f.mu.Unlock()
	if fails {
		f.events <- live.Event{Type: live.EventDisconnected, Reason: "refused"}
		return fmt.Errorf("dial refused")
	}
	f.events <- live.Event{Type: live.EventConnected}
	return nil
}

func (f *fakeLive) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeLive) SendInit() bool {
	return f.record(live.ActionInit)
}

func (f *fakeLive) SendUpsertMyScore(participantID, criterionID string, point int) bool {
	f.mu.Lock()
	entered, gate := f.sendEntered, f.sendGate
	f.mu.Unlock()
	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}
	return f.record(fmt.Sprintf("%s:%s:%s:%d", live.ActionUpsertMyScore, participantID, criterionID, point))
}

func (f *fakeLive) record(frame string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected || !f.acceptSends {
		return false
	}
	f.sent = append(f.sent, frame)
	return true
}

func (f *fakeLive) Events() <-chan live.Event {
	return f.events
}

func (f *fakeLive) Close() {
	f.Disconnect()
}

func (f *fakeLive) set(mutate func(*fakeLive)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mutate(f)
}

func (f *fakeLive) push(event live.Event) {
	if event.Type == live.EventDisconnected {
		f.Disconnect()
	}
	f.events <- event
}

func (f *fakeLive) snapshot() (connects int, sent []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls, append([]string{}, f.sent...)
}

type harness struct {
	coordinator *Coordinator
	backend     *fakeBackend
	live        *fakeLive
	manager     *session.Manager
	store       *session.FieldStore
}

type harnessOption func(*Config)

func withReconnectDelay(delay time.Duration) harnessOption {
	return func(cfg *Config) { cfg.ReconnectDelay = delay }
}

func withoutLive() harnessOption {
	return func(cfg *Config) { cfg.Live = nil }
}

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()
	backend := newFakeBackend()
	liveChannel := newFakeLive()
	store := session.NewMemoryStore()
	manager, err := session.NewManager(session.ManagerConfig{Store: store, API: backend})
	if err != nil {
		t.Fatalf("failed to build session manager: %v", err)
	}
	cfg := Config{
		Sessions:       manager,
		API:            backend,
		Live:           liveChannel,
		ReconnectDelay: 20 * time.Millisecond,
	}
	for _, option := range options {
		option(&cfg)
	}
	coordinator, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to build coordinator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = coordinator.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		coordinator.Close()
	})

	return &harness{
		coordinator: coordinator,
		backend:     backend,
		live:        liveChannel,
		manager:     manager,
		store:       store,
	}
}

// holdRefreshes makes every refresh signal entered and wait until the returned release is called.
func (h *harness) holdRefreshes() (entered <-chan struct{}, release func()) {
	enteredCh := make(chan struct{}, 1)
	gate := make(chan struct{})
	h.backend.set(func(f *fakeBackend) {
		f.refreshEntered = enteredCh
		f.refreshGate = gate
	})
	var once sync.Once
	return enteredCh, func() { once.Do(func() { close(gate) }) }
}

// switchJuror logs the current juror out and signs in another one with its own tokens.
func (h *harness) switchJuror(t *testing.T, accessToken, refreshToken string) {
	t.Helper()
	if err := h.coordinator.Logout(context.Background()); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	h.backend.set(func(f *fakeBackend) {
		f.validToken = accessToken
		f.refreshToken = refreshToken
	})
	err := h.coordinator.Login(context.Background(), LoginForm{FirstName: "Bea", SurName: "Two", AdminPassword: "secret"})
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}
}

func waitSignal(t *testing.T, signal <-chan struct{}, description string) {
	t.Helper()
	select {
	case <-signal:
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", description)
	}
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	err := h.coordinator.Login(context.Background(), LoginForm{FirstName: "Ada", SurName: "Lovelace", AdminPassword: "secret"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
}

func waitForState(t *testing.T, c *Coordinator, description string, condition func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		current := c.State()
		if condition(current) {
			return current
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last state %+v", description, current)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func expectNotice(t *testing.T, c *Coordinator, kind NoticeKind, contains string) Notice {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case notice := <-c.Notices():
			if notice.Kind == kind && strings.Contains(notice.Message, contains) {
				return notice
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s notice containing %q", kind, contains)
			return Notice{}
		}
	}
}

func drainNotices(c *Coordinator) []Notice {
	var drained []Notice
	for {
		select {
		case notice := <-c.Notices():
			drained = append(drained, notice)
		default:
			return drained
		}
	}
}
