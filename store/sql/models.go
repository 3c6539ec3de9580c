package sqlstore

import (
	"time"

	"github.com/goliatone/go-warden/core"
	"github.com/uptrace/bun"
)

type sessionRecord struct {
	bun.BaseModel `bun:"table:warden_sessions,alias:ws"`

	ID           string            `bun:"id,pk"`
	SecretDigest []byte            `bun:"secret_digest,notnull"`
	Identity     string            `bun:"identity,notnull"`
	Claims       map[string]string `bun:"claims,type:jsonb,notnull"`
	Origin       string            `bun:"origin,notnull"`
	Revoked      bool              `bun:"revoked,notnull"`
	RevokedAt    *time.Time        `bun:"revoked_at,nullzero"`
	IssuedAt     time.Time         `bun:"issued_at,notnull"`
	ExpiresAt    time.Time         `bun:"expires_at,notnull"`
	CreatedAt    time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newSessionRecord(session core.Session, now time.Time) *sessionRecord {
	cloned := session.Clone()
	return &sessionRecord{
		ID:           cloned.TokenID,
		SecretDigest: cloned.SecretDigest,
		Identity:     cloned.Identity,
		Claims:       cloned.Claims,
		Origin:       string(cloned.Origin),
		Revoked:      cloned.Revoked,
		RevokedAt:    cloned.RevokedAt,
		IssuedAt:     cloned.IssuedAt,
		ExpiresAt:    cloned.ExpiresAt,
		UpdatedAt:    now,
	}
}

func (r *sessionRecord) toDomain() core.Session {
	if r == nil {
		return core.Session{}
	}
	session := core.Session{
		TokenID:      r.ID,
		SecretDigest: append([]byte(nil), r.SecretDigest...),
		Identity:     r.Identity,
		Claims:       r.Claims,
		Origin:       core.SessionOrigin(r.Origin),
		Revoked:      r.Revoked,
		RevokedAt:    r.RevokedAt,
		IssuedAt:     r.IssuedAt,
		ExpiresAt:    r.ExpiresAt,
	}
	return session.Clone()
}
