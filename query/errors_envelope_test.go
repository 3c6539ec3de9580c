package query

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-warden/core"
)

func TestValidateSessionMessage_ValidateReturnsRichError(t *testing.T) {
	err := (ValidateSessionMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.WardenErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.WardenErrorBadInput, rich.TextCode)
	}
}

func TestStatusQuery_NilReaderReturnsRichError(t *testing.T) {
	var qry *StatusQuery
	_, err := qry.Query(context.Background(), StatusMessage{})
	if err == nil {
		t.Fatalf("expected query dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.WardenErrorInternal {
		t.Fatalf("expected %q text code, got %q", core.WardenErrorInternal, rich.TextCode)
	}
}
