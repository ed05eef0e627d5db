package juror

import (
	"context"
	"fmt"
	"slices"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/api"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/live"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/metrics"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/scoring"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/session"
	"go.uber.org/zap"
)

const (
	messageUnknownCriterion = "The criterion does not exist."
	messagePointRangeFmt    = "Points must be in the range 0..%d."
	messageInvalidScore     = "Select a participant and a criterion before saving."
	messageSaved            = "Points saved."
	messageSavedFmt         = "Points saved: %s"
)

// SubmitDraft submits the draft value of a pair, falling back to its committed value and then zero.
func (c *Coordinator) SubmitDraft(ctx context.Context, participantID, criterionID string) error {
	point := c.State().EffectivePoint(scoring.NewScoreKey(participantID, criterionID))
	return c.SubmitScore(ctx, participantID, criterionID, point)
}

// SubmitScore saves one point value. The live channel is tried first and committed optimistically
// once the frame is accepted; otherwise the request path commits the server's value.
func (c *Coordinator) SubmitScore(ctx context.Context, participantID, criterionID string, point int) error {
	request := api.UpsertScoreRequest{ParticipantID: participantID, CriterionID: criterionID, Point: point}
	key := scoring.NewScoreKey(participantID, criterionID)

	c.mu.Lock()
	if !c.state.Authenticated {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	if err := c.validate.StructPartial(request, "ParticipantID", "CriterionID"); err != nil {
		c.notifyLocked(NoticeError, messageInvalidScore)
		c.mu.Unlock()
		return newServiceError(opSubmitScore, "invalid_request", err)
	}
	criterion, ok := c.state.Criterion(criterionID)
	if !ok {
		c.notifyLocked(NoticeError, messageUnknownCriterion)
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", scoring.ErrUnknownCriterion, criterionID)
	}
	if err := criterion.ValidatePoint(point); err != nil {
		c.notifyLocked(NoticeError, fmt.Sprintf(messagePointRangeFmt, criterion.MaxPoints))
		c.mu.Unlock()
		return err
	}
	if c.state.SavingScore {
		c.mu.Unlock()
		return ErrSubmissionInFlight
	}
	c.mutateLocked(func(s *State) { s.SavingScore = true })
	epoch := c.epoch

	if c.state.LiveConnected && c.live != nil {
		// reserved before the frame goes out so an early ack or error finds it
		write := c.reserveLiveWriteLocked(key, point)
		c.mu.Unlock()

		sent := c.live.SendUpsertMyScore(participantID, criterionID, point)

		c.mu.Lock()
		if c.epoch != epoch {
			c.mu.Unlock()
			if sent {
				return nil
			}
			return ErrNotAuthenticated
		}
		if sent {
			c.mutateLocked(func(s *State) { s.SavingScore = false })
			c.mu.Unlock()
			c.metrics.ScoreSubmissions.WithLabelValues(metrics.PathLive, metrics.OutcomeSuccess).Inc()
			return nil
		}
		c.undoLiveWriteLocked(write)
		c.logger.Info("live path unavailable, using request path",
			zap.String("operation", opSubmitScore),
			zap.Stringer("score_key", key),
			zap.Error(live.ErrNotConnected))
	}
	c.mu.Unlock()

	saved, err := session.Authorized(ctx, c.sessions, func(ctx context.Context, accessToken string) (scoring.Score, error) {
		return c.api.UpsertMyScore(ctx, accessToken, request)
	})
	if err != nil {
		c.metrics.ScoreSubmissions.WithLabelValues(metrics.PathRequest, metrics.OutcomeFailure).Inc()
		if !c.updateIfEpoch(epoch, func(s *State) { s.SavingScore = false }) {
			return err
		}
		c.logError(opSubmitScore, "upsert_failed", err, zap.Stringer("score_key", key))
		c.handleRemoteError(ctx, err)
		return err
	}

	c.metrics.ScoreSubmissions.WithLabelValues(metrics.PathRequest, metrics.OutcomeSuccess).Inc()
	committed := c.updateIfEpoch(epoch, func(s *State) {
		s.Scores[key] = saved.Point
		delete(s.Drafts, key)
		s.SavingScore = false
	})
	if committed {
		c.notify(NoticeSuccess, messageSaved)
	}
	return nil
}

// reserveLiveWriteLocked commits point optimistically and queues the write for ack or rollback.
func (c *Coordinator) reserveLiveWriteLocked(key scoring.ScoreKey, point int) pendingWrite {
	c.nextWrite++
	previous, hadPrevious := c.state.Committed(key)
	draft, hadDraft := c.state.Drafts[key]
	write := pendingWrite{
		seq:         c.nextWrite,
		key:         key,
		point:       point,
		previous:    previous,
		hadPrevious: hadPrevious,
		draft:       draft,
		hadDraft:    hadDraft,
	}
	c.pendingLive = append(c.pendingLive, write)
	c.mutateLocked(func(s *State) {
		s.Scores[key] = point
		delete(s.Drafts, key)
	})
	return write
}

// undoLiveWriteLocked reverts a reserved write whose frame was never sent. A write already
// consumed by a snapshot or a rollback is left alone.
func (c *Coordinator) undoLiveWriteLocked(write pendingWrite) {
	index := slices.IndexFunc(c.pendingLive, func(p pendingWrite) bool { return p.seq == write.seq })
	if index < 0 {
		return
	}
	c.pendingLive = slices.Delete(c.pendingLive, index, index+1)
	c.mutateLocked(func(s *State) {
		if committed, ok := s.Scores[write.key]; ok && committed == write.point {
			if write.hadPrevious {
				s.Scores[write.key] = write.previous
			} else {
				delete(s.Scores, write.key)
			}
		}
		if _, edited := s.Drafts[write.key]; !edited && write.hadDraft {
			s.Drafts[write.key] = write.draft
		}
	})
}
