package live

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/scoring"
)

// looseString reads a JSON string as is and any other value as its literal text. null is empty.
type looseString string

func (s *looseString) UnmarshalJSON(raw []byte) error {
	trimmed := bytes.TrimSpace(raw)
	if isNull(trimmed) {
		*s = ""
		return nil
	}
	if trimmed[0] != '"' {
		*s = looseString(trimmed)
		return nil
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err != nil {
		return err
	}
	*s = looseString(text)
	return nil
}

// looseInt reads a JSON number or numeric string, truncating fractions toward zero.
// Anything else reads as 0.
type looseInt int

func (n *looseInt) UnmarshalJSON(raw []byte) error {
	text := string(bytes.TrimSpace(raw))
	if strings.HasPrefix(text, `"`) {
		var unquoted string
		if err := json.Unmarshal([]byte(text), &unquoted); err != nil {
			return err
		}
		text = strings.TrimSpace(unquoted)
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(value) {
		*n = 0
		return nil
	}
	*n = looseInt(math.Max(math.MinInt32, math.Min(math.MaxInt32, math.Trunc(value))))
	return nil
}

type wireParticipant struct {
	ID         looseString `json:"id"`
	Name       looseString `json:"name"`
	Surname    looseString `json:"surname"`
	SchoolName looseString `json:"schoolName"`
}

func (w wireParticipant) participant() scoring.Participant {
	return scoring.Participant{
		ID:         string(w.ID),
		Name:       string(w.Name),
		Surname:    string(w.Surname),
		SchoolName: string(w.SchoolName),
	}
}

type wireCriterion struct {
	ID           looseString `json:"id"`
	CategoryID   looseString `json:"categoryId"`
	CategoryName looseString `json:"categoryName"`
	Name         looseString `json:"name"`
	MaxPoints    looseInt    `json:"maxPoints"`
}

func (w wireCriterion) criterion() scoring.Criterion {
	return scoring.Criterion{
		ID:           string(w.ID),
		CategoryID:   string(w.CategoryID),
		CategoryName: string(w.CategoryName),
		Name:         string(w.Name),
		MaxPoints:    int(w.MaxPoints),
	}
}

type wireScore struct {
	ID            looseString `json:"id"`
	JurorID       looseString `json:"jurorId"`
	ParticipantID looseString `json:"participantId"`
	CriterionID   looseString `json:"criterionId"`
	Point         looseInt    `json:"point"`
}

func (w wireScore) score() scoring.Score {
	return scoring.Score{
		ID:            string(w.ID),
		JurorID:       string(w.JurorID),
		ParticipantID: string(w.ParticipantID),
		CriterionID:   string(w.CriterionID),
		Point:         int(w.Point),
	}
}
