package juror

import (
	"time"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/scoring"
)

// State is the presentation-facing projection of the coordinator. Values handed out are
// copies; mutating their maps has no effect on the coordinator.
type State struct {
	scoring.Board

	Starting          bool
	Authenticated     bool
	JurorDisplayName  string
	LoginEnabled      bool
	LoginStatusLoaded bool
	LoginInProgress   bool
	DataLoading       bool
	SavingScore       bool
	LiveConnected     bool
	ConnectionNote    string
}

func initialState() State {
	return State{
		Board:        scoring.Board{}.Clone(),
		Starting:     true,
		LoginEnabled: true,
	}
}

// Clone copies s including its maps.
func (s State) Clone() State {
	s.Board = s.Board.Clone()
	return s
}

// signedOut keeps only what survives a logout.
func (s State) signedOut() State {
	next := initialState()
	next.Starting = false
	next.LoginEnabled = s.LoginEnabled
	next.LoginStatusLoaded = s.LoginStatusLoaded
	return next
}

// NoticeKind classifies a transient user-facing message.
type NoticeKind string

const (
	NoticeInfo           NoticeKind = "info"
	NoticeSuccess        NoticeKind = "success"
	NoticeError          NoticeKind = "error"
	NoticeSessionExpired NoticeKind = "session_expired"
)

// Notice is a toast-style message.
type Notice struct {
	Kind    NoticeKind
	Message string
	At      time.Time
}

type pendingWrite struct {
	seq         uint64
	key         scoring.ScoreKey
	point       int
	previous    int
	hadPrevious bool
	draft       int
	hadDraft    bool
}
