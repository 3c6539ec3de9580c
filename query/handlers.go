package query

import (
	"context"

	"github.com/goliatone/go-warden/core"
)

type StatusReader interface {
	Status(ctx context.Context) (core.StatusReport, error)
}

type SessionValidator interface {
	ValidateSession(ctx context.Context, bearer string) (core.ValidationResult, error)
}

type StatusQuery struct {
	reader StatusReader
}

func NewStatusQuery(reader StatusReader) *StatusQuery {
	return &StatusQuery{reader: reader}
}

func (q *StatusQuery) Query(ctx context.Context, msg StatusMessage) (core.StatusReport, error) {
	if q == nil || q.reader == nil {
		return core.StatusReport{}, queryDependencyError("query: status reader is required")
	}
	return q.reader.Status(ctx)
}

type ValidateSessionQuery struct {
	validator SessionValidator
}

func NewValidateSessionQuery(validator SessionValidator) *ValidateSessionQuery {
	return &ValidateSessionQuery{validator: validator}
}

func (q *ValidateSessionQuery) Query(ctx context.Context, msg ValidateSessionMessage) (core.ValidationResult, error) {
	if q == nil || q.validator == nil {
		return core.ValidationResult{}, queryDependencyError("query: session validator is required")
	}
	return q.validator.ValidateSession(ctx, msg.Token)
}
