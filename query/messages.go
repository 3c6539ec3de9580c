package query

import "strings"

const (
	TypeStatus          = "warden.query.status"
	TypeValidateSession = "warden.query.session.validate"
)

type StatusMessage struct{}

func (StatusMessage) Type() string { return TypeStatus }

func (StatusMessage) Validate() error { return nil }

type ValidateSessionMessage struct {
	Token string `json:"token"`
}

func (ValidateSessionMessage) Type() string { return TypeValidateSession }

func (m ValidateSessionMessage) Validate() error {
	if strings.TrimSpace(m.Token) == "" {
		return queryValidationError("token", "token is required")
	}
	return nil
}
