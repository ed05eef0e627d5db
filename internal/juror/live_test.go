package juror

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/api"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/live"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/scoring"
)

func loginLive(t *testing.T, h *harness) {
	t.Helper()
	h.login(t)
	waitForState(t, h.coordinator, "live connected", func(s State) bool { return s.LiveConnected })
	deadline := time.Now().Add(waitTimeout)
	for {
		if _, sent := h.live.snapshot(); len(sent) > 0 && sent[0] == live.ActionInit {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("init was never sent")
		}
		time.Sleep(5 * time.Millisecond)
	}
	drainNotices(h.coordinator)
}

func TestLiveSnapshotReplacesBoard(t *testing.T) {
	h := newHarness(t)
	loginLive(t, h)

	h.live.push(live.Event{Type: live.EventSnapshot, Snapshot: &scoring.Snapshot{
		Participants: []scoring.Participant{{ID: "p3"}},
		Criteria:     []scoring.Criterion{{ID: "c1", MaxPoints: 10}},
		Scores:       []scoring.Score{{ParticipantID: "p3", CriterionID: "c1", Point: 4}},
	}, Discarded: 2})

	state := waitForState(t, h.coordinator, "pushed snapshot", func(s State) bool { return s.HasParticipant("p3") })
	if state.HasParticipant("p1") || state.SelectedParticipantID != "p3" {
		t.Fatalf("expected wholesale replacement with repaired selection, got %+v", state)
	}
	if got, _ := state.Committed(scoring.NewScoreKey("p3", "c1")); got != 4 {
		t.Fatalf("expected committed 4, got %d", got)
	}
	if state.ConnectionNote != noteLiveRefreshed || state.DataLoading {
		t.Fatalf("unexpected live flags %+v", state)
	}
}

func TestLiveSnapshotPreservesMatchingDraft(t *testing.T) {
	h := newHarness(t)
	loginLive(t, h)
	if err := h.coordinator.UpdateDraftScore("p1", "c1", 7); err != nil {
		t.Fatalf("draft failed: %v", err)
	}

	h.live.push(live.Event{Type: live.EventSnapshot, Snapshot: &scoring.Snapshot{
		Participants: []scoring.Participant{{ID: "p1"}},
		Criteria:     []scoring.Criterion{{ID: "c1", MaxPoints: 10}},
		Scores:       []scoring.Score{},
	}})

	state := waitForState(t, h.coordinator, "pushed snapshot", func(s State) bool { return !s.HasParticipant("p2") })
	if state.Drafts[keyP1C1] != 7 {
		t.Fatalf("expected draft 7 to survive, got %v", state.Drafts)
	}
}

func TestLivePathCommitsOptimistically(t *testing.T) {
	h := newHarness(t)
	loginLive(t, h)
	if err := h.coordinator.UpdateDraftScore("p1", "c1", 7); err != nil {
		t.Fatalf("draft failed: %v", err)
	}

	if err := h.coordinator.SubmitDraft(context.Background(), "p1", "c1"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	state := h.coordinator.State()
	if got, _ := state.Committed(keyP1C1); got != 7 {
		t.Fatalf("expected optimistic commit of 7, got %d", got)
	}
	if _, ok := state.Drafts[keyP1C1]; ok || state.SavingScore {
		t.Fatalf("expected draft cleared and saving false, got %+v", state)
	}
	if _, upserts, _ := h.backend.counts(); upserts != 0 {
		t.Fatalf("live path must not call the request path")
	}
	if _, sent := h.live.snapshot(); sent[len(sent)-1] != "upsertMyScore:p1:c1:7" {
		t.Fatalf("unexpected frames %v", sent)
	}

	h.live.push(live.Event{Type: live.EventAck, Action: live.ActionUpsertMyScore, Message: "ok"})
	expectNotice(t, h.coordinator, NoticeSuccess, "Points saved: ok")
	if got, _ := h.coordinator.State().Committed(keyP1C1); got != 7 {
		t.Fatalf("ack must keep the committed value, got %d", got)
	}
}

func TestLiveErrorRollsBackOptimisticCommit(t *testing.T) {
	h := newHarness(t)
	h.backend.set(func(f *fakeBackend) {
		f.scores = []scoring.Score{{ParticipantID: "p1", CriterionID: "c1", Point: 2}}
	})
	loginLive(t, h)
	waitForState(t, h.coordinator, "pulled score", func(s State) bool {
		point, ok := s.Committed(keyP1C1)
		return ok && point == 2
	})

	if err := h.coordinator.SubmitScore(context.Background(), "p1", "c1", 9); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	h.live.push(live.Event{Type: live.EventError, Action: live.ActionUpsertMyScore, Message: "Scoring closed."})

	notice := expectNotice(t, h.coordinator, NoticeError, "upsertMyScore: Scoring closed.")
	if notice.At.IsZero() {
		t.Fatalf("expected notice timestamp")
	}
	state := h.coordinator.State()
	if got, _ := state.Committed(keyP1C1); got != 2 {
		t.Fatalf("expected committed value rolled back to 2, got %d", got)
	}
	if state.Drafts[keyP1C1] != 9 {
		t.Fatalf("expected rejected point back in the draft, got %v", state.Drafts)
	}
	if state.ConnectionNote != noteLiveError || state.SavingScore {
		t.Fatalf("unexpected flags %+v", state)
	}
	if !state.LiveConnected {
		t.Fatalf("an error event must not close the channel")
	}
}

func TestLiveSendFailureFallsBackToRequestPath(t *testing.T) {
	h := newHarness(t)
	loginLive(t, h)
	h.live.set(func(f *fakeLive) { f.acceptSends = false })
	h.backend.set(func(f *fakeBackend) { f.upsertPoint = func(int) int { return 5 } })

	if err := h.coordinator.SubmitScore(context.Background(), "p1", "c1", 8); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if got, _ := h.coordinator.State().Committed(keyP1C1); got != 5 {
		t.Fatalf("expected server value 5, got %d", got)
	}
	if _, upserts, _ := h.backend.counts(); upserts != 1 {
		t.Fatalf("expected one request path upsert, got %d", upserts)
	}
}

func TestSlowLiveSendDoesNotBlockState(t *testing.T) {
	h := newHarness(t)
	loginLive(t, h)
	entered := make(chan struct{}, 1)
	gate := make(chan struct{})
	h.live.set(func(f *fakeLive) {
		f.sendEntered = entered
		f.sendGate = gate
		f.acceptSends = false
	})
	if err := h.coordinator.UpdateDraftScore("p1", "c1", 3); err != nil {
		t.Fatalf("draft failed: %v", err)
	}

	submitted := make(chan error, 1)
	go func() { submitted <- h.coordinator.SubmitScore(context.Background(), "p1", "c1", 6) }()
	waitSignal(t, entered, "live send")

	read := make(chan State, 1)
	go func() { read <- h.coordinator.State() }()
	select {
	case state := <-read:
		if got, _ := state.Committed(keyP1C1); got != 6 || !state.SavingScore {
			t.Fatalf("expected the reserved write to be visible while sending, got %+v", state)
		}
	case <-time.After(time.Second):
		t.Fatalf("state read blocked by an in-progress live send")
	}

	h.backend.set(func(f *fakeBackend) { f.upsertGate = make(chan struct{}) })
	close(gate)
	waitForState(t, h.coordinator, "reserved write undone", func(s State) bool {
		_, committed := s.Committed(keyP1C1)
		return !committed && s.Drafts[keyP1C1] == 3
	})
	h.backend.mu.Lock()
	close(h.backend.upsertGate)
	h.backend.mu.Unlock()

	if err := <-submitted; err != nil {
		t.Fatalf("request fallback failed: %v", err)
	}
	state := h.coordinator.State()
	if got, _ := state.Committed(keyP1C1); got != 6 || state.SavingScore {
		t.Fatalf("expected request path commit of 6, got %+v", state)
	}
	if _, ok := state.Drafts[keyP1C1]; ok {
		t.Fatalf("expected the draft to be cleared after the commit")
	}
}

func TestDisconnectSchedulesSingleReconnect(t *testing.T) {
	h := newHarness(t, withReconnectDelay(40*time.Millisecond))
	loginLive(t, h)

	h.live.push(live.Event{Type: live.EventDisconnected, Reason: "network"})
	h.live.push(live.Event{Type: live.EventDisconnected, Reason: "network"})
	expectNotice(t, h.coordinator, NoticeError, "Live connection lost: network")

	waitForState(t, h.coordinator, "reconnected", func(s State) bool { return s.LiveConnected })
	time.Sleep(100 * time.Millisecond)

	connects, _ := h.live.snapshot()
	if connects != 2 {
		t.Fatalf("expected exactly one reconnect, got %d connects", connects)
	}
	if refreshes, _, _ := h.backend.counts(); refreshes != 1 {
		t.Fatalf("expected reconnect to refresh once, got %d", refreshes)
	}
	h.live.mu.Lock()
	lastToken := h.live.tokens[len(h.live.tokens)-1]
	h.live.mu.Unlock()
	if lastToken != "access-r1" {
		t.Fatalf("expected reconnect with the refreshed token, got %s", lastToken)
	}
}

func TestReconnectRefreshFailureForcesLogout(t *testing.T) {
	h := newHarness(t)
	loginLive(t, h)
	h.backend.set(func(f *fakeBackend) { f.refreshErr = unauthorizedError() })

	h.live.push(live.Event{Type: live.EventDisconnected, Reason: "network"})
	expectNotice(t, h.coordinator, NoticeSessionExpired, "log in again")
	state := waitForState(t, h.coordinator, "signed out", func(s State) bool { return !s.Authenticated })
	if state.LiveConnected || len(state.Participants) != 0 {
		t.Fatalf("expected reset state, got %+v", state)
	}
	if _, ok := h.manager.ReadSession(context.Background()); ok {
		t.Fatalf("expected session cleared")
	}
}

func TestLogoutCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t, withReconnectDelay(60*time.Millisecond))
	loginLive(t, h)

	h.live.push(live.Event{Type: live.EventDisconnected, Reason: "network"})
	expectNotice(t, h.coordinator, NoticeError, "Live connection lost")
	if err := h.coordinator.Logout(context.Background()); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	if connects, _ := h.live.snapshot(); connects != 1 {
		t.Fatalf("expected no reconnect after logout, got %d connects", connects)
	}
	if refreshes, _, _ := h.backend.counts(); refreshes != 0 {
		t.Fatalf("expected no refresh after logout, got %d", refreshes)
	}
}

func TestDisconnectWithoutDataFallsBackToPull(t *testing.T) {
	h := newHarness(t, withReconnectDelay(time.Hour))
	h.backend.set(func(f *fakeBackend) { f.listErr = api.NewError(api.StatusTransport, "offline", nil) })
	loginLive(t, h)
	if len(h.coordinator.State().Participants) != 0 {
		t.Fatalf("expected the initial pull to fail")
	}
	_, _, listsBefore := h.backend.counts()

	h.backend.set(func(f *fakeBackend) { f.listErr = nil })
	h.live.push(live.Event{Type: live.EventDisconnected, Reason: "network"})

	waitForState(t, h.coordinator, "fallback pull", func(s State) bool { return s.HasParticipant("p1") })
	if _, _, listsAfter := h.backend.counts(); listsAfter <= listsBefore {
		t.Fatalf("expected an immediate request path pull")
	}
}

func TestRefreshDataReconnectsWhenDown(t *testing.T) {
	h := newHarness(t, withReconnectDelay(time.Hour))
	loginLive(t, h)
	h.live.push(live.Event{Type: live.EventDisconnected, Reason: "network"})
	waitForState(t, h.coordinator, "disconnected", func(s State) bool { return !s.LiveConnected })

	if err := h.coordinator.RefreshData(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	waitForState(t, h.coordinator, "reconnected", func(s State) bool { return s.LiveConnected })
	if connects, _ := h.live.snapshot(); connects != 2 {
		t.Fatalf("expected manual refresh to reconnect once, got %d", connects)
	}
}
