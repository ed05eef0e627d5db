package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/scoring"
)

func TestPrintBoard(t *testing.T) {
	board := scoring.Board{
		Participants: []scoring.Participant{{ID: "p1", Name: "Ada", Surname: "Lovelace"}},
		Criteria:     []scoring.Criterion{{ID: "c1", Name: "Style", MaxPoints: 10}, {ID: "c2", Name: "Pace", MaxPoints: 5}},
		Scores:       map[scoring.ScoreKey]int{scoring.NewScoreKey("p1", "c1"): 7},
		Drafts:       map[scoring.ScoreKey]int{scoring.NewScoreKey("p1", "c2"): 3},
	}

	var out bytes.Buffer
	if err := printBoard(&out, board); err != nil {
		t.Fatalf("printBoard failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %q", out.String())
	}
	if !strings.Contains(lines[1], "Style [c1]") || !strings.Contains(lines[1], "7") {
		t.Fatalf("unexpected committed row %q", lines[1])
	}
	if !strings.Contains(lines[2], "- (draft 3)") {
		t.Fatalf("unexpected draft row %q", lines[2])
	}
}
