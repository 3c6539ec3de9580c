package core

import (
	"sync/atomic"
)

// certificateHolder publishes the active snapshot for one domain through an
// atomic pointer. Readers on the TLS handshake path load without locks and
// always observe a fully-published snapshot; a swap never tears. The replaced
// snapshot stays intact for sessions still holding it.
type certificateHolder struct {
	current atomic.Pointer[CertificateSnapshot]
}

func (h *certificateHolder) Snapshot() *CertificateSnapshot {
	if h == nil {
		return nil
	}
	return h.current.Load()
}

func (h *certificateHolder) Publish(next *CertificateSnapshot) *CertificateSnapshot {
	if h == nil {
		return nil
	}
	return h.current.Swap(next)
}
