package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-warden/core"
)

var (
	_ gocmd.Querier[StatusMessage, core.StatusReport]              = (*StatusQuery)(nil)
	_ gocmd.Querier[ValidateSessionMessage, core.ValidationResult] = (*ValidateSessionQuery)(nil)
)
