package stubserver

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/api"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/scoring"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const roleJuror = "JUROR"

// Failure messages returned in {"message": ...} bodies.
const (
	messageLoginDisabled    = "Juror login through the web is disabled."
	messageInvalidLogin     = "Invalid login details or token."
	messageInvalidRequest   = "Invalid data. Check the form and the point range."
	messageUnknownCriterion = "Criterion not found."
	messageUnknownPartic    = "Participant not found."
	messagePointRangeFmt    = "Points must be in the range 0..%d."
	messageUnknownAction    = "Unsupported action."
)

// backendError is a failure with the HTTP status the REST surface reports for it.
type backendError struct {
	status  int
	message string
}

func (e *backendError) Error() string {
	return e.message
}

func statusOf(err error) (int, string) {
	var target *backendError
	if errors.As(err, &target) {
		return target.status, target.message
	}
	return http.StatusInternalServerError, err.Error()
}

type juror struct {
	ID        string
	FirstName string
	SurName   string
}

// backend holds the stub's scoring data in memory.
type backend struct {
	mu            sync.Mutex
	validate      *validator.Validate
	adminPassword string
	loginEnabled  bool
	jurors        map[string]juror
	participants  []scoring.Participant
	criteria      []scoring.Criterion
	scores        map[string]map[scoring.ScoreKey]scoring.Score
	refreshCalls  int
}

func newBackend(adminPassword string, loginEnabled bool, participants []scoring.Participant, criteria []scoring.Criterion) *backend {
	return &backend{
		validate:      validator.New(),
		adminPassword: adminPassword,
		loginEnabled:  loginEnabled,
		jurors:        make(map[string]juror),
		participants:  append([]scoring.Participant{}, participants...),
		criteria:      append([]scoring.Criterion{}, criteria...),
		scores:        make(map[string]map[scoring.ScoreKey]scoring.Score),
	}
}

func (b *backend) setLoginEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loginEnabled = enabled
}

func (b *backend) isLoginEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loginEnabled
}

// login returns the juror for the name pair, registering it on first use.
func (b *backend) login(request api.LoginRequest) (juror, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loginEnabled {
		return juror{}, &backendError{status: http.StatusForbidden, message: messageLoginDisabled}
	}
	if err := b.validate.Struct(request); err != nil {
		return juror{}, &backendError{status: http.StatusBadRequest, message: messageInvalidRequest}
	}
	if request.AdminPassword != b.adminPassword {
		return juror{}, &backendError{status: http.StatusUnauthorized, message: messageInvalidLogin}
	}

	name := strings.ToLower(strings.TrimSpace(request.FirstName) + " " + strings.TrimSpace(request.SurName))
	for _, existing := range b.jurors {
		if strings.ToLower(existing.FirstName+" "+existing.SurName) == name {
			return existing, nil
		}
	}
	registered := juror{
		ID:        uuid.NewString(),
		FirstName: strings.TrimSpace(request.FirstName),
		SurName:   strings.TrimSpace(request.SurName),
	}
	b.jurors[registered.ID] = registered
	return registered, nil
}

func (b *backend) jurorByID(id string) (juror, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	found, ok := b.jurors[id]
	return found, ok
}

func (b *backend) recordRefresh() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshCalls++
}

func (b *backend) refreshCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshCalls
}

func (b *backend) listParticipants() []scoring.Participant {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]scoring.Participant{}, b.participants...)
}

func (b *backend) listCriteria() []scoring.Criterion {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]scoring.Criterion{}, b.criteria...)
}

func (b *backend) listScores(jurorID string) []scoring.Score {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scoresLocked(jurorID)
}

func (b *backend) scoresLocked(jurorID string) []scoring.Score {
	owned := b.scores[jurorID]
	scores := make([]scoring.Score, 0, len(owned))
	for _, score := range owned {
		scores = append(scores, score)
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].ParticipantID != scores[j].ParticipantID {
			return scores[i].ParticipantID < scores[j].ParticipantID
		}
		return scores[i].CriterionID < scores[j].CriterionID
	})
	return scores
}

func (b *backend) snapshot(jurorID string) scoring.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return scoring.Snapshot{
		Participants: append([]scoring.Participant{}, b.participants...),
		Criteria:     append([]scoring.Criterion{}, b.criteria...),
		Scores:       b.scoresLocked(jurorID),
	}
}

// upsert validates and stores one point value for the juror.
func (b *backend) upsert(jurorID string, request api.UpsertScoreRequest) (scoring.Score, error) {
	if err := b.validate.Struct(request); err != nil {
		return scoring.Score{}, &backendError{status: http.StatusBadRequest, message: messageInvalidRequest}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	participantKnown := false
	for _, participant := range b.participants {
		if participant.ID == request.ParticipantID {
			participantKnown = true
			break
		}
	}
	if !participantKnown {
		return scoring.Score{}, &backendError{status: http.StatusNotFound, message: messageUnknownPartic}
	}
	var criterion *scoring.Criterion
	for index := range b.criteria {
		if b.criteria[index].ID == request.CriterionID {
			criterion = &b.criteria[index]
			break
		}
	}
	if criterion == nil {
		return scoring.Score{}, &backendError{status: http.StatusNotFound, message: messageUnknownCriterion}
	}
	if err := criterion.ValidatePoint(request.Point); err != nil {
		return scoring.Score{}, &backendError{status: http.StatusBadRequest, message: fmt.Sprintf(messagePointRangeFmt, criterion.MaxPoints)}
	}

	owned := b.scores[jurorID]
	if owned == nil {
		owned = make(map[scoring.ScoreKey]scoring.Score)
		b.scores[jurorID] = owned
	}
	key := scoring.NewScoreKey(request.ParticipantID, request.CriterionID)
	score, exists := owned[key]
	if !exists {
		score = scoring.Score{
			ID:            uuid.NewString(),
			JurorID:       jurorID,
			ParticipantID: request.ParticipantID,
			CriterionID:   request.CriterionID,
		}
	}
	score.Point = request.Point
	owned[key] = score
	return score, nil
}

// DefaultParticipants seeds a stub started without fixtures.
func DefaultParticipants() []scoring.Participant {
	return []scoring.Participant{
		{ID: "p-1", Name: "Ada", Surname: "Lovelace", SchoolName: "Analytical School"},
		{ID: "p-2", Name: "Grace", Surname: "Hopper", SchoolName: "Compiler Academy"},
		{ID: "p-3", Name: "Alan", Surname: "Turing", SchoolName: "Bletchley College"},
	}
}

// DefaultCriteria seeds a stub started without fixtures.
func DefaultCriteria() []scoring.Criterion {
	return []scoring.Criterion{
		{ID: "c-1", CategoryID: "k-1", CategoryName: "Performance", Name: "Technique", MaxPoints: 10},
		{ID: "c-2", CategoryID: "k-1", CategoryName: "Performance", Name: "Artistry", MaxPoints: 10},
		{ID: "c-3", CategoryID: "k-2", CategoryName: "Presentation", Name: "Stage presence", MaxPoints: 5},
	}
}
