package juror

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/api"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/live"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/metrics"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/scoring"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/session"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	noteLiveConnected    = "Live connected"
	noteLiveRefreshed    = "Live data refreshed"
	noteLiveError        = "Live error"
	noteLiveDisconnected = "Live disconnected"

	messageLiveLostFmt     = "Live connection lost: %s"
	messageLiveError       = "Live channel error."
	messageOperationFailed = "Operation failed."
)

// FetchSnapshot pulls participants, criteria and the juror's scores as one authorized unit.
// Any failing list fails the whole fetch.
func (c *Coordinator) FetchSnapshot(ctx context.Context) (scoring.Snapshot, error) {
	return session.Authorized(ctx, c.sessions, func(ctx context.Context, accessToken string) (scoring.Snapshot, error) {
		var snapshot scoring.Snapshot
		group, groupCtx := errgroup.WithContext(ctx)
		group.Go(func() error {
			participants, err := c.api.Participants(groupCtx, accessToken)
			snapshot.Participants = participants
			return err
		})
		group.Go(func() error {
			criteria, err := c.api.Criteria(groupCtx, accessToken)
			snapshot.Criteria = criteria
			return err
		})
		group.Go(func() error {
			scores, err := c.api.MyScores(groupCtx, accessToken)
			snapshot.Scores = scores
			return err
		})
		if err := group.Wait(); err != nil {
			return scoring.Snapshot{}, err
		}
		return snapshot, nil
	})
}

// RefreshData reloads over the request path and reopens the live channel when it is down.
func (c *Coordinator) RefreshData(ctx context.Context) error {
	current := c.State()
	if !current.Authenticated {
		return c.CheckLoginStatus(ctx)
	}
	err := c.loadSnapshot(ctx, true)
	if !c.State().LiveConnected {
		c.connectLive(ctx)
	}
	return err
}

// SelectParticipant changes the selected participant.
func (c *Coordinator) SelectParticipant(participantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.HasParticipant(participantID) {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, participantID)
	}
	c.mutateLocked(func(s *State) { s.SelectedParticipantID = participantID })
	return nil
}

// UpdateDraftScore records a local edit clamped into the criterion's range.
func (c *Coordinator) UpdateDraftScore(participantID, criterionID string, point int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	criterion, ok := c.state.Criterion(criterionID)
	if !ok {
		return fmt.Errorf("%w: %s", scoring.ErrUnknownCriterion, criterionID)
	}
	key := scoring.NewScoreKey(participantID, criterionID)
	clamped := criterion.Clamp(point)
	c.mutateLocked(func(s *State) { s.Drafts[key] = clamped })
	return nil
}

func (c *Coordinator) loadSnapshot(ctx context.Context, showLoader bool) error {
	epoch := c.currentEpoch()
	if showLoader {
		c.updateIfEpoch(epoch, func(s *State) { s.DataLoading = true })
	}

	snapshot, err := c.FetchSnapshot(ctx)
	if err != nil {
		if !c.updateIfEpoch(epoch, func(s *State) { s.DataLoading = false }) {
			return nil
		}
		c.logError(opLoadSnapshot, "fetch_failed", err)
		c.handleRemoteError(ctx, err)
		return err
	}

	applied := c.applySnapshotIfEpoch(epoch, snapshot, metrics.SourcePull, func(s *State) {
		s.DataLoading = false
	})
	if !applied {
		c.logger.Debug("stale snapshot discarded", zap.String("operation", opLoadSnapshot))
	}
	return nil
}

func (c *Coordinator) applySnapshotIfEpoch(epoch uint64, snapshot scoring.Snapshot, source string, after func(*State)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.closed {
		return false
	}
	c.pendingLive = nil
	c.mutateLocked(func(s *State) {
		s.Board = s.Board.ApplySnapshot(snapshot)
		if after != nil {
			after(s)
		}
	})
	c.metrics.SnapshotsApplied.WithLabelValues(source).Inc()
	return true
}

// handleRemoteError turns a session-ending failure into a forced logout and anything else into a notice.
func (c *Coordinator) handleRemoteError(ctx context.Context, err error) {
	if api.IsUnauthorized(err) {
		c.forceLogout(ctx, messageSessionExpired)
		return
	}
	c.notify(NoticeError, api.MessageOf(err))
}

func (c *Coordinator) handleLiveEvent(ctx context.Context, event live.Event) {
	c.mu.Lock()
	active := c.shouldReconnect
	epoch := c.epoch
	c.mu.Unlock()
	if !active {
		c.logger.Debug("live event outside session ignored", zap.String("type", string(event.Type)))
		return
	}

	switch event.Type {
	case live.EventConnected:
		c.update(func(s *State) {
			s.LiveConnected = true
			s.ConnectionNote = noteLiveConnected
		})
		if !event.Confirmed && !c.live.SendInit() {
			c.logger.Warn("live init not sent", zap.String("operation", opHandleLive))
		}

	case live.EventSnapshot:
		if event.Snapshot == nil {
			return
		}
		if event.Discarded > 0 {
			c.metrics.DiscardedElements.Add(float64(event.Discarded))
		}
		c.applySnapshotIfEpoch(epoch, *event.Snapshot, metrics.SourcePush, func(s *State) {
			s.DataLoading = false
			s.SavingScore = false
			s.LiveConnected = true
			s.ConnectionNote = noteLiveRefreshed
		})

	case live.EventAck:
		if event.Action != live.ActionUpsertMyScore {
			return
		}
		c.mu.Lock()
		if len(c.pendingLive) > 0 {
			c.pendingLive = c.pendingLive[1:]
		}
		c.mutateLocked(func(s *State) { s.SavingScore = false })
		c.mu.Unlock()
		c.notify(NoticeSuccess, savedMessage(event.Message))

	case live.EventError:
		c.mu.Lock()
		if event.Action == live.ActionUpsertMyScore {
			c.rollbackLiveWriteLocked()
			c.metrics.ScoreSubmissions.WithLabelValues(metrics.PathLive, metrics.OutcomeFailure).Inc()
		}
		c.mutateLocked(func(s *State) {
			s.SavingScore = false
			s.ConnectionNote = noteLiveError
		})
		c.mu.Unlock()
		c.notify(NoticeError, liveErrorMessage(event.Action, event.Message))

	case live.EventDisconnected:
		c.metrics.LiveDisconnects.Inc()
		var empty bool
		c.mu.Lock()
		c.mutateLocked(func(s *State) {
			s.LiveConnected = false
			s.ConnectionNote = noteLiveDisconnected
			empty = len(s.Participants) == 0
		})
		c.mu.Unlock()
		c.notify(NoticeError, fmt.Sprintf(messageLiveLostFmt, event.Reason))
		c.scheduleReconnect(ctx)
		if empty {
			go func() { _ = c.loadSnapshot(ctx, true) }()
		}
	}
}

// rollbackLiveWriteLocked undoes the oldest optimistic live commit the server rejected. The
// committed value is restored only if nothing newer replaced it, and the rejected point
// returns to the draft unless the juror already edited it again.
func (c *Coordinator) rollbackLiveWriteLocked() {
	if len(c.pendingLive) == 0 {
		return
	}
	rejected := c.pendingLive[0]
	c.pendingLive = c.pendingLive[1:]
	c.mutateLocked(func(s *State) {
		if committed, ok := s.Scores[rejected.key]; ok && committed == rejected.point {
			if rejected.hadPrevious {
				s.Scores[rejected.key] = rejected.previous
			} else {
				delete(s.Scores, rejected.key)
			}
		}
		if _, edited := s.Drafts[rejected.key]; !edited {
			s.Drafts[rejected.key] = rejected.point
		}
	})
}

// scheduleReconnect arms at most one delayed reconnect attempt.
func (c *Coordinator) scheduleReconnect(ctx context.Context) {
	c.mu.Lock()
	if !c.shouldReconnect || c.reconnectCancel != nil {
		c.mu.Unlock()
		return
	}
	cancel := make(chan struct{})
	c.reconnectCancel = cancel
	epoch := c.epoch
	c.mu.Unlock()

	go func() {
		timer := time.NewTimer(c.reconnectDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-cancel:
			return
		case <-ctx.Done():
			return
		}

		c.mu.Lock()
		if c.reconnectCancel == cancel {
			c.reconnectCancel = nil
		}
		c.mu.Unlock()
		if !c.sessionActive(epoch) {
			return
		}

		c.metrics.ReconnectAttempts.Inc()
		err := c.sessions.Refresh(ctx)
		if !c.sessionActive(epoch) {
			c.logger.Debug("reconnect outcome discarded after logout", zap.String("operation", opReconnect))
			return
		}
		if err != nil {
			c.logError(opReconnect, "refresh_failed", err)
			c.forceLogout(ctx, messageSessionExpired)
			return
		}
		c.connectLive(ctx)
	}()
}

// sessionActive reports whether the session that was current at epoch is still signed in.
func (c *Coordinator) sessionActive(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shouldReconnect && c.epoch == epoch && !c.closed
}

func savedMessage(detail string) string {
	if detail == "" {
		return messageSaved
	}
	return fmt.Sprintf(messageSavedFmt, detail)
}

func liveErrorMessage(action, message string) string {
	if action == "" {
		if message == "" {
			return messageLiveError
		}
		return message
	}
	if message == "" {
		message = messageOperationFailed
	}
	return action + ": " + message
}
