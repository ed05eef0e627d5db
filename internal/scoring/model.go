package scoring

import (
	"errors"
	"fmt"
)

const scoreKeySeparator = "|"

var (
	// ErrUnknownCriterion indicates that a criterion id is not part of the current snapshot.
	ErrUnknownCriterion = errors.New("scoring: unknown criterion")
	// ErrPointOutOfRange indicates that a point value lies outside [0, maxPoints].
	ErrPointOutOfRange = errors.New("scoring: point out of range")
)

// Participant is a competitor that jurors score.
type Participant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Surname    string `json:"surname"`
	SchoolName string `json:"schoolName"`
}

// Criterion is a scoring dimension with an inclusive point ceiling.
type Criterion struct {
	ID           string `json:"id"`
	CategoryID   string `json:"categoryId"`
	CategoryName string `json:"categoryName"`
	Name         string `json:"name"`
	MaxPoints    int    `json:"maxPoints"`
}

// ValidatePoint reports whether point lies within [0, MaxPoints].
func (c Criterion) ValidatePoint(point int) error {
	if point < 0 || point > c.MaxPoints {
		return fmt.Errorf("%w: %d not in 0..%d", ErrPointOutOfRange, point, c.MaxPoints)
	}
	return nil
}

// Clamp forces point into [0, MaxPoints].
func (c Criterion) Clamp(point int) int {
	if point < 0 {
		return 0
	}
	if point > c.MaxPoints {
		return max(c.MaxPoints, 0)
	}
	return point
}

// Score is a committed point value of the current juror.
type Score struct {
	ID            string `json:"id"`
	JurorID       string `json:"jurorId"`
	ParticipantID string `json:"participantId"`
	CriterionID   string `json:"criterionId"`
	Point         int    `json:"point"`
}

// Key returns the composite identity of the score.
func (s Score) Key() ScoreKey {
	return ScoreKey{ParticipantID: s.ParticipantID, CriterionID: s.CriterionID}
}

// ScoreKey identifies one (participant, criterion) pair.
type ScoreKey struct {
	ParticipantID string
	CriterionID   string
}

// NewScoreKey builds a key from its two ids.
func NewScoreKey(participantID, criterionID string) ScoreKey {
	return ScoreKey{ParticipantID: participantID, CriterionID: criterionID}
}

// String joins the ids with "|" for logs.
func (k ScoreKey) String() string {
	return k.ParticipantID + scoreKeySeparator + k.CriterionID
}

// Snapshot is a complete replacement set of participants, criteria and committed scores.
type Snapshot struct {
	Participants []Participant
	Criteria     []Criterion
	Scores       []Score
}

