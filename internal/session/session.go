package session

import "strings"

// RoleJuror is the only role this client accepts.
const RoleJuror = "JUROR"

// Persisted field names.
const (
	FieldAccessToken  = "access_token"
	FieldRefreshToken = "refresh_token"
	FieldRole         = "role"
	FieldJurorName    = "juror_name"
	FieldJurorSurname = "juror_surname"
)

// Fields lists every persisted field; a session exists only when all are non-blank.
var Fields = []string{
	FieldAccessToken,
	FieldRefreshToken,
	FieldRole,
	FieldJurorName,
	FieldJurorSurname,
}

// Session is the authenticated juror's token pair and display identity.
type Session struct {
	AccessToken  string
	RefreshToken string
	Role         string
	JurorName    string
	JurorSurname string
}

// Valid reports whether every field is non-blank.
func (s Session) Valid() bool {
	for _, value := range []string{s.AccessToken, s.RefreshToken, s.Role, s.JurorName, s.JurorSurname} {
		if strings.TrimSpace(value) == "" {
			return false
		}
	}
	return true
}

// DisplayName joins first name and surname.
func (s Session) DisplayName() string {
	return strings.TrimSpace(s.JurorName + " " + s.JurorSurname)
}

func (s Session) toFields() map[string]string {
	return map[string]string{
		FieldAccessToken:  s.AccessToken,
		FieldRefreshToken: s.RefreshToken,
		FieldRole:         s.Role,
		FieldJurorName:    s.JurorName,
		FieldJurorSurname: s.JurorSurname,
	}
}

func fromFields(values map[string]string) Session {
	return Session{
		AccessToken:  values[FieldAccessToken],
		RefreshToken: values[FieldRefreshToken],
		Role:         values[FieldRole],
		JurorName:    values[FieldJurorName],
		JurorSurname: values[FieldJurorSurname],
	}
}
