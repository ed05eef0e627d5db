package scoring

import "maps"

// Board is the juror's reconciled view: the latest snapshot plus local drafts and selection.
type Board struct {
	Participants          []Participant
	Criteria              []Criterion
	Scores                map[ScoreKey]int
	Drafts                map[ScoreKey]int
	SelectedParticipantID string
}

// Clone returns a copy whose maps can be mutated without affecting b.
// Slices are shared; they are only ever replaced wholesale.
func (b Board) Clone() Board {
	cloned := b
	cloned.Scores = cloneOrEmpty(b.Scores)
	cloned.Drafts = cloneOrEmpty(b.Drafts)
	return cloned
}

// Criterion looks a criterion up by id.
func (b Board) Criterion(criterionID string) (Criterion, bool) {
	for _, criterion := range b.Criteria {
		if criterion.ID == criterionID {
			return criterion, true
		}
	}
	return Criterion{}, false
}

// HasParticipant reports whether participantID is part of the board.
func (b Board) HasParticipant(participantID string) bool {
	for _, participant := range b.Participants {
		if participant.ID == participantID {
			return true
		}
	}
	return false
}

// Committed returns the committed point for key, if any.
func (b Board) Committed(key ScoreKey) (int, bool) {
	point, ok := b.Scores[key]
	return point, ok
}

// EffectivePoint returns the draft value, else the committed value, else zero.
func (b Board) EffectivePoint(key ScoreKey) int {
	if point, ok := b.Drafts[key]; ok {
		return point
	}
	if point, ok := b.Scores[key]; ok {
		return point
	}
	return 0
}

// ApplySnapshot replaces participants, criteria and committed scores with the snapshot's,
// prunes drafts whose participant or criterion disappeared, and repairs the selection.
func (b Board) ApplySnapshot(snapshot Snapshot) Board {
	participantIDs := make(map[string]struct{}, len(snapshot.Participants))
	for _, participant := range snapshot.Participants {
		participantIDs[participant.ID] = struct{}{}
	}
	criterionIDs := make(map[string]struct{}, len(snapshot.Criteria))
	for _, criterion := range snapshot.Criteria {
		criterionIDs[criterion.ID] = struct{}{}
	}

	scores := make(map[ScoreKey]int, len(snapshot.Scores))
	for _, score := range snapshot.Scores {
		scores[score.Key()] = score.Point
	}

	drafts := make(map[ScoreKey]int, len(b.Drafts))
	for key, point := range b.Drafts {
		if _, ok := participantIDs[key.ParticipantID]; !ok {
			continue
		}
		if _, ok := criterionIDs[key.CriterionID]; !ok {
			continue
		}
		drafts[key] = point
	}

	selected := b.SelectedParticipantID
	if _, ok := participantIDs[selected]; !ok || selected == "" {
		selected = ""
		if len(snapshot.Participants) > 0 {
			selected = snapshot.Participants[0].ID
		}
	}

	return Board{
		Participants:          snapshot.Participants,
		Criteria:              snapshot.Criteria,
		Scores:                scores,
		Drafts:                drafts,
		SelectedParticipantID: selected,
	}
}

func cloneOrEmpty(source map[ScoreKey]int) map[ScoreKey]int {
	if source == nil {
		return make(map[ScoreKey]int)
	}
	return maps.Clone(source)
}
