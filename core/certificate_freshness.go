package core

import (
	"time"
)

const (
	DefaultCertificateRenewWithin        = 30 * 24 * time.Hour
	DefaultCertificateExpiringSoonWindow = 7 * 24 * time.Hour
)

// CertificateFreshness captures expiry state derived from a published snapshot.
type CertificateFreshness struct {
	ExpiresAt      *time.Time
	HasSnapshot    bool
	IsActive       bool
	IsExpired      bool
	IsExpiringSoon bool
	TimeToExpiry   time.Duration
}

// ResolveCertificateFreshness evaluates expiry flags for a snapshot.
func ResolveCertificateFreshness(now time.Time, snapshot *CertificateSnapshot, expiringSoonWindow time.Duration) CertificateFreshness {
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}
	if expiringSoonWindow <= 0 {
		expiringSoonWindow = DefaultCertificateExpiringSoonWindow
	}

	freshness := CertificateFreshness{}
	if snapshot == nil {
		return freshness
	}
	freshness.HasSnapshot = true
	freshness.IsActive = snapshot.State == CertificateStateActive || snapshot.State == CertificateStateRenewing
	if snapshot.ExpiresAt.IsZero() {
		return freshness
	}
	expiresAt := snapshot.ExpiresAt.UTC()
	freshness.ExpiresAt = &expiresAt
	freshness.TimeToExpiry = expiresAt.Sub(now)
	if !expiresAt.After(now) {
		freshness.IsExpired = true
		return freshness
	}
	freshness.IsExpiringSoon = !expiresAt.After(now.Add(expiringSoonWindow))
	return freshness
}

// ShouldRenewCertificate reports whether renewal should run now: there is no
// usable snapshot, the snapshot expired, or expiry falls inside the renewal
// lead window.
func ShouldRenewCertificate(now time.Time, freshness CertificateFreshness, renewWithin time.Duration) bool {
	if !freshness.HasSnapshot || freshness.IsExpired {
		return true
	}
	if freshness.ExpiresAt == nil {
		return false
	}
	if renewWithin <= 0 {
		renewWithin = DefaultCertificateRenewWithin
	}
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}
	return !freshness.ExpiresAt.UTC().After(now.Add(renewWithin))
}
