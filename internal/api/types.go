package api

// LoginStatus reports whether juror login is administratively enabled.
type LoginStatus struct {
	Enabled bool `json:"enabled"`
}

// LoginRequest carries juror credentials.
type LoginRequest struct {
	FirstName     string `json:"firstName" validate:"required"`
	SurName       string `json:"surName" validate:"required"`
	AdminPassword string `json:"adminPassword" validate:"required"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	JurorName    string `json:"jurorName"`
	JurorSurname string `json:"jurorSurname"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RefreshRequest carries the refresh token in the body as well as the bearer header.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse carries a renewed access token.
type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// UpsertScoreRequest sets the juror's point for one participant and criterion.
type UpsertScoreRequest struct {
	ParticipantID string `json:"participantId" validate:"required"`
	CriterionID   string `json:"criterionId" validate:"required"`
	Point         int    `json:"point" validate:"gte=0"`
}
