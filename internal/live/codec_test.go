package live

import (
	"encoding/json"
	"testing"
)

func TestDecodeSkipsMalformedSnapshotElements(t *testing.T) {
	frame := []byte(`{
		"type": "snapshot",
		"payload": {
			"participants": [{"id": "p1", "name": "Ada"}, 5, {"id": ""}, {"id": "p2", "name": 7}],
			"criteria": [{"id": "c1", "maxPoints": 10}, {"id": "c2", "maxPoints": -1}, "x"],
			"scores": [{"participantId": "p1", "criterionId": "c1", "point": 4}, {"participantId": "p1"}]
		}
	}`)

	envelope, ok := Decode(frame)
	if !ok {
		t.Fatalf("expected frame to decode")
	}
	if envelope.Snapshot == nil {
		t.Fatalf("expected a snapshot")
	}
	if len(envelope.Snapshot.Participants) != 2 || envelope.Snapshot.Participants[1].Name != "7" {
		t.Fatalf("unexpected participants %+v", envelope.Snapshot.Participants)
	}
	if len(envelope.Snapshot.Criteria) != 1 || envelope.Snapshot.Criteria[0].MaxPoints != 10 {
		t.Fatalf("unexpected criteria %+v", envelope.Snapshot.Criteria)
	}
	if len(envelope.Snapshot.Scores) != 1 || envelope.Snapshot.Scores[0].Point != 4 {
		t.Fatalf("unexpected scores %+v", envelope.Snapshot.Scores)
	}
	if envelope.Discarded != 5 {
		t.Fatalf("expected 5 discarded elements, got %d", envelope.Discarded)
	}
}

func TestDecodeCoercesScalarFields(t *testing.T) {
	frame := []byte(`{
		"type": "snapshot",
		"message": 42,
		"payload": {
			"participants": [{"id": 12, "name": "Ada", "surname": null}],
			"criteria": [
				{"id": "c1", "maxPoints": "10"},
				{"id": "c2", "maxPoints": 7.9},
				{"id": "c3", "maxPoints": "many"},
				{"id": "c4", "maxPoints": "-3"}
			],
			"scores": [
				{"participantId": 12, "criterionId": "c1", "point": 7.0},
				{"participantId": "12", "criterionId": "c2", "point": " 3 "}
			]
		}
	}`)

	envelope, ok := Decode(frame)
	if !ok || envelope.Snapshot == nil {
		t.Fatalf("expected a snapshot, got %+v ok=%v", envelope, ok)
	}
	if envelope.Message != "42" {
		t.Fatalf("expected numeric message as text, got %q", envelope.Message)
	}
	participants := envelope.Snapshot.Participants
	if len(participants) != 1 || participants[0].ID != "12" || participants[0].Surname != "" {
		t.Fatalf("unexpected participants %+v", participants)
	}
	criteria := envelope.Snapshot.Criteria
	if len(criteria) != 3 {
		t.Fatalf("expected 3 criteria, got %+v", criteria)
	}
	for index, want := range []int{10, 7, 0} {
		if criteria[index].MaxPoints != want {
			t.Fatalf("criterion %s: expected max %d, got %d", criteria[index].ID, want, criteria[index].MaxPoints)
		}
	}
	scores := envelope.Snapshot.Scores
	if len(scores) != 2 || scores[0].Point != 7 || scores[0].ParticipantID != "12" || scores[1].Point != 3 {
		t.Fatalf("unexpected scores %+v", scores)
	}
	if envelope.Discarded != 1 {
		t.Fatalf("expected only the negative ceiling discarded, got %d", envelope.Discarded)
	}
}

func TestDecodeNonStringControlFieldsKeepFrame(t *testing.T) {
	envelope, ok := Decode([]byte(`{"type":"error","action":"upsertMyScore","message":{"code":3}}`))
	if !ok {
		t.Fatalf("expected frame to decode")
	}
	if envelope.Type != TypeError || envelope.Message != `{"code":3}` {
		t.Fatalf("unexpected error frame %+v", envelope)
	}
}

func TestDecodeMissingArraysYieldEmptySnapshot(t *testing.T) {
	for name, frame := range map[string]string{
		"no payload":   `{"type":"snapshot"}`,
		"null payload": `{"type":"snapshot","payload":null}`,
		"empty object": `{"type":"snapshot","payload":{}}`,
	} {
		t.Run(name, func(t *testing.T) {
			envelope, ok := Decode([]byte(frame))
			if !ok || envelope.Snapshot == nil {
				t.Fatalf("expected an empty snapshot, got %+v ok=%v", envelope, ok)
			}
			if envelope.Snapshot.Participants == nil || len(envelope.Snapshot.Participants) != 0 {
				t.Fatalf("expected empty non-nil participants")
			}
			if envelope.Discarded != 0 {
				t.Fatalf("expected no discards, got %d", envelope.Discarded)
			}
		})
	}
}

func TestDecodeNonArrayCountsAsDiscard(t *testing.T) {
	envelope, ok := Decode([]byte(`{"type":"snapshot","payload":{"participants":{"id":"p1"}}}`))
	if !ok {
		t.Fatalf("expected frame to decode")
	}
	if len(envelope.Snapshot.Participants) != 0 || envelope.Discarded != 1 {
		t.Fatalf("expected empty participants with one discard, got %+v", envelope)
	}
}

func TestDecodeControlMessages(t *testing.T) {
	envelope, ok := Decode([]byte(`{"type":"ack","action":"upsertMyScore","message":"saved"}`))
	if !ok || envelope.Type != TypeAck || envelope.Action != ActionUpsertMyScore || envelope.Message != "saved" {
		t.Fatalf("unexpected ack %+v", envelope)
	}
	if envelope.Snapshot != nil {
		t.Fatalf("ack must not carry a snapshot")
	}

	if _, ok := Decode([]byte(`not json`)); ok {
		t.Fatalf("expected garbage to be rejected")
	}
	if _, ok := Decode([]byte(`[1,2]`)); ok {
		t.Fatalf("expected non-object frame to be rejected")
	}
}

func TestEncodeAction(t *testing.T) {
	frame, err := EncodeAction(ActionInit, nil)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if string(frame) != `{"action":"init","data":{}}` {
		t.Fatalf("unexpected init frame %s", frame)
	}

	frame, err = EncodeAction(ActionUpsertMyScore, UpsertScoreData{ParticipantID: "p1", CriterionID: "c1", Point: 7})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var decoded struct {
		Action string          `json:"action"`
		Data   UpsertScoreData `json:"data"`
	}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("frame is not json: %v", err)
	}
	if decoded.Action != ActionUpsertMyScore || decoded.Data.Point != 7 || decoded.Data.CriterionID != "c1" {
		t.Fatalf("unexpected upsert frame %s", frame)
	}
}
