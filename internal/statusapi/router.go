// Package statusapi exposes the headless client's state and metrics over HTTP.
package statusapi

import (
	"errors"
	"net/http"
	"sort"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/juror"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/scoring"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	errMissingStateSource = errors.New("state source dependency required")
	errMissingGatherer    = errors.New("metrics gatherer dependency required")
)

// StateSource yields the current coordinator state.
type StateSource interface {
	State() juror.State
}

// Dependencies wires the status surface.
type Dependencies struct {
	States   StateSource
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// StateView is the JSON projection of juror.State.
type StateView struct {
	Starting          bool                  `json:"starting"`
	Authenticated     bool                  `json:"authenticated"`
	JurorDisplayName  string                `json:"jurorDisplayName"`
	LoginEnabled      bool                  `json:"loginEnabled"`
	LoginStatusLoaded bool                  `json:"loginStatusLoaded"`
	LoginInProgress   bool                  `json:"loginInProgress"`
	DataLoading       bool                  `json:"dataLoading"`
	SavingScore       bool                  `json:"savingScore"`
	LiveConnected     bool                  `json:"liveConnected"`
	ConnectionNote    string                `json:"connectionNote"`
	SelectedID        string                `json:"selectedParticipantId"`
	Participants      []scoring.Participant `json:"participants"`
	Criteria          []scoring.Criterion   `json:"criteria"`
	Points            []PointView           `json:"points"`
}

// PointView is one (participant, criterion) entry with a committed or draft value.
type PointView struct {
	ParticipantID string `json:"participantId"`
	CriterionID   string `json:"criterionId"`
	Committed     *int   `json:"committed,omitempty"`
	Draft         *int   `json:"draft,omitempty"`
}

// NewStateView projects a state for serialization.
func NewStateView(state juror.State) StateView {
	view := StateView{
		Starting:          state.Starting,
		Authenticated:     state.Authenticated,
		JurorDisplayName:  state.JurorDisplayName,
		LoginEnabled:      state.LoginEnabled,
		LoginStatusLoaded: state.LoginStatusLoaded,
		LoginInProgress:   state.LoginInProgress,
		DataLoading:       state.DataLoading,
		SavingScore:       state.SavingScore,
		LiveConnected:     state.LiveConnected,
		ConnectionNote:    state.ConnectionNote,
		SelectedID:        state.SelectedParticipantID,
		Participants:      append([]scoring.Participant{}, state.Participants...),
		Criteria:          append([]scoring.Criterion{}, state.Criteria...),
		Points:            []PointView{},
	}

	points := make(map[scoring.ScoreKey]*PointView)
	entry := func(key scoring.ScoreKey) *PointView {
		if existing, ok := points[key]; ok {
			return existing
		}
		created := &PointView{ParticipantID: key.ParticipantID, CriterionID: key.CriterionID}
		points[key] = created
		return created
	}
	for key, point := range state.Scores {
		value := point
		entry(key).Committed = &value
	}
	for key, point := range state.Drafts {
		value := point
		entry(key).Draft = &value
	}
	for _, point := range points {
		view.Points = append(view.Points, *point)
	}
	sort.Slice(view.Points, func(i, j int) bool {
		if view.Points[i].ParticipantID != view.Points[j].ParticipantID {
			return view.Points[i].ParticipantID < view.Points[j].ParticipantID
		}
		return view.Points[i].CriterionID < view.Points[j].CriterionID
	})
	return view
}

// NewHTTPHandler builds the gin router serving /healthz, /state and /metrics.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.States == nil {
		return nil, errMissingStateSource
	}
	if deps.Gatherer == nil {
		return nil, errMissingGatherer
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, NewStateView(deps.States.State()))
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(logger),
	})))

	return router, nil
}
