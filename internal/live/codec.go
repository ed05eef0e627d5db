package live

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/scoring"
)

// Inbound message types.
const (
	TypeConnected = "connected"
	TypeSnapshot  = "snapshot"
	TypeAck       = "ack"
	TypeError     = "error"
)

// Outbound actions.
const (
	ActionInit          = "init"
	ActionUpsertMyScore = "upsertMyScore"
)

// Envelope is one inbound message after decoding.
type Envelope struct {
	Type    string
	Action  string
	Message string
	// Snapshot is set only for TypeSnapshot.
	Snapshot *scoring.Snapshot
	// Discarded counts snapshot elements skipped as malformed.
	Discarded int
}

type inboundEnvelope struct {
	Type    looseString     `json:"type"`
	Action  looseString     `json:"action"`
	Message looseString     `json:"message"`
	Payload json.RawMessage `json:"payload"`
}

type snapshotPayload struct {
	Participants json.RawMessage `json:"participants"`
	Criteria     json.RawMessage `json:"criteria"`
	Scores       json.RawMessage `json:"scores"`
}

type outboundEnvelope struct {
	Action string `json:"action"`
	Data   any    `json:"data"`
}

// UpsertScoreData is the payload of the upsertMyScore action.
type UpsertScoreData struct {
	ParticipantID string `json:"participantId"`
	CriterionID   string `json:"criterionId"`
	Point         int    `json:"point"`
}

// Decode parses one inbound text frame. ok is false when the frame is not a JSON object.
// Snapshot arrays are decoded element by element; malformed elements are skipped and counted.
// Scalar fields are coerced: numbers read as strings and numeric strings read as integers.
func Decode(frame []byte) (Envelope, bool) {
	var inbound inboundEnvelope
	if err := json.Unmarshal(frame, &inbound); err != nil {
		return Envelope{}, false
	}
	envelope := Envelope{
		Type:    string(inbound.Type),
		Action:  string(inbound.Action),
		Message: string(inbound.Message),
	}
	if envelope.Type != TypeSnapshot {
		return envelope, true
	}

	var payload snapshotPayload
	if !isNull(inbound.Payload) {
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			envelope.Discarded++
		}
	}

	snapshot := scoring.Snapshot{}
	var discarded int
	snapshot.Participants, discarded = decodeList(payload.Participants, wireParticipant.participant, func(p scoring.Participant) bool {
		return strings.TrimSpace(p.ID) != ""
	})
	envelope.Discarded += discarded
	snapshot.Criteria, discarded = decodeList(payload.Criteria, wireCriterion.criterion, func(c scoring.Criterion) bool {
		return strings.TrimSpace(c.ID) != "" && c.MaxPoints >= 0
	})
	envelope.Discarded += discarded
	snapshot.Scores, discarded = decodeList(payload.Scores, wireScore.score, func(s scoring.Score) bool {
		return strings.TrimSpace(s.ParticipantID) != "" && strings.TrimSpace(s.CriterionID) != ""
	})
	envelope.Discarded += discarded

	envelope.Snapshot = &snapshot
	return envelope, true
}

// decodeList returns the elements of raw that decode, convert and pass keep. A missing array
// is empty; a non-array value counts as one discard.
func decodeList[W, T any](raw json.RawMessage, convert func(W) T, keep func(T) bool) ([]T, int) {
	items := []T{}
	if isNull(raw) {
		return items, 0
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return items, 1
	}
	discarded := 0
	for _, element := range elements {
		if !isObject(element) {
			discarded++
			continue
		}
		var wire W
		if err := json.Unmarshal(element, &wire); err != nil {
			discarded++
			continue
		}
		item := convert(wire)
		if !keep(item) {
			discarded++
			continue
		}
		items = append(items, item)
	}
	return items, discarded
}

// EncodeAction builds an outbound frame.
func EncodeAction(action string, data any) ([]byte, error) {
	if data == nil {
		data = struct{}{}
	}
	return json.Marshal(outboundEnvelope{Action: action, Data: data})
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
