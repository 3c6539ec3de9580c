package command

import "strings"

const (
	TypeRenewCertificate = "warden.command.certificate.renew"
	TypeRevokeSession    = "warden.command.session.revoke"
	TypeRevokeIdentity   = "warden.command.identity.revoke"
	TypeSweepStore       = "warden.command.store.sweep"
	TypeSetLogLevel      = "warden.command.log_level.set"
	TypeShutdown         = "warden.command.shutdown"
)

// RenewCertificateMessage forces a renewal check. An empty domain runs the
// pass over every configured domain.
type RenewCertificateMessage struct {
	Domain string `json:"domain,omitempty"`
}

func (RenewCertificateMessage) Type() string { return TypeRenewCertificate }

func (m RenewCertificateMessage) Validate() error { return nil }

type RevokeSessionMessage struct {
	Token string `json:"token"`
}

func (RevokeSessionMessage) Type() string { return TypeRevokeSession }

func (m RevokeSessionMessage) Validate() error {
	if strings.TrimSpace(m.Token) == "" {
		return commandValidationError("token", "token is required")
	}
	return nil
}

type RevokeIdentityMessage struct {
	Identity string `json:"identity"`
}

func (RevokeIdentityMessage) Type() string { return TypeRevokeIdentity }

func (m RevokeIdentityMessage) Validate() error {
	if strings.TrimSpace(m.Identity) == "" {
		return commandValidationError("identity", "identity is required")
	}
	return nil
}

type SweepStoreMessage struct{}

func (SweepStoreMessage) Type() string { return TypeSweepStore }

func (SweepStoreMessage) Validate() error { return nil }

type SetLogLevelMessage struct {
	Level string `json:"level"`
}

func (SetLogLevelMessage) Type() string { return TypeSetLogLevel }

func (m SetLogLevelMessage) Validate() error {
	if strings.TrimSpace(m.Level) == "" {
		return commandValidationError("level", "log level is required")
	}
	return nil
}

type ShutdownMessage struct{}

func (ShutdownMessage) Type() string { return TypeShutdown }

func (ShutdownMessage) Validate() error { return nil }
