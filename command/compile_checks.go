package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[RenewCertificateMessage] = (*RenewCertificateCommand)(nil)
	_ gocmd.Commander[RevokeSessionMessage]    = (*RevokeSessionCommand)(nil)
	_ gocmd.Commander[RevokeIdentityMessage]   = (*RevokeIdentityCommand)(nil)
	_ gocmd.Commander[SweepStoreMessage]       = (*SweepStoreCommand)(nil)
	_ gocmd.Commander[SetLogLevelMessage]      = (*SetLogLevelCommand)(nil)
	_ gocmd.Commander[ShutdownMessage]         = (*ShutdownCommand)(nil)
)
