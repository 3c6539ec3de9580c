// Package sqlstore persists warden sessions through bun repositories. It is
// the durable backend: sessions survive process restarts, and the sweep runs
// as one bounded DELETE.
package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-warden/core"
	"github.com/uptrace/bun"
)

type SessionStore struct {
	db   *bun.DB
	repo repository.Repository[*sessionRecord]
}

func NewSessionStore(db *bun.DB) (*SessionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*sessionRecord](db, sessionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid session repository wiring: %w", err)
		}
	}
	return &SessionStore{db: db, repo: repo}, nil
}

// Put inserts or replaces the record addressed by the session's token id.
func (s *SessionStore) Put(ctx context.Context, session core.Session) error {
	if s == nil || s.db == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: session store is not configured")
	}
	tokenID := strings.TrimSpace(session.TokenID)
	if tokenID == "" {
		return fmt.Errorf("sqlstore: session token id is required")
	}

	record := newSessionRecord(session, time.Now().UTC())
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model(record).
			Column("secret_digest", "identity", "claims", "origin", "revoked", "revoked_at", "issued_at", "expires_at", "updated_at").
			Where("id = ?", tokenID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if rows, rowsErr := res.RowsAffected(); rowsErr == nil && rows > 0 {
			return nil
		}
		_, err = s.repo.CreateTx(ctx, tx, record)
		return err
	})
}

func (s *SessionStore) Get(ctx context.Context, tokenID string) (core.Session, error) {
	if s == nil || s.repo == nil {
		return core.Session{}, fmt.Errorf("sqlstore: session store is not configured")
	}
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return core.Session{}, core.ErrSessionNotFound
	}

	records, _, err := s.repo.List(ctx,
		repository.SelectBy("id", "=", tokenID),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Session{}, err
	}
	if len(records) == 0 {
		return core.Session{}, core.ErrSessionNotFound
	}
	return records[0].toDomain(), nil
}

func (s *SessionStore) Delete(ctx context.Context, tokenID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: session store is not configured")
	}
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return core.ErrSessionNotFound
	}

	res, err := s.db.NewDelete().
		Model((*sessionRecord)(nil)).
		Where("id = ?", tokenID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if rows, rowsErr := res.RowsAffected(); rowsErr == nil && rows == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

// SweepExpired removes revoked records and records past expiry plus grace in
// one statement.
func (s *SessionStore) SweepExpired(ctx context.Context, now time.Time, grace time.Duration) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: session store is not configured")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if grace < 0 {
		grace = 0
	}

	res, err := s.db.NewDelete().
		Model((*sessionRecord)(nil)).
		Where("revoked = ? OR expires_at <= ?", true, now.Add(-grace)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	rows, rowsErr := res.RowsAffected()
	if rowsErr != nil {
		return 0, rowsErr
	}
	return int(rows), nil
}

var _ core.SessionStore = (*SessionStore)(nil)
