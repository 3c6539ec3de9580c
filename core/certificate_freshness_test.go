package core

import (
	"testing"
	"time"
)

func TestResolveCertificateFreshness(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		snapshot *CertificateSnapshot
		has      bool
		expired  bool
		soon     bool
	}{
		{
			name: "no_snapshot",
		},
		{
			name: "healthy",
			snapshot: &CertificateSnapshot{
				State:     CertificateStateActive,
				ExpiresAt: now.Add(60 * 24 * time.Hour),
			},
			has: true,
		},
		{
			name: "expired",
			snapshot: &CertificateSnapshot{
				State:     CertificateStateActive,
				ExpiresAt: now.Add(-time.Minute),
			},
			has:     true,
			expired: true,
		},
		{
			name: "expiring_soon",
			snapshot: &CertificateSnapshot{
				State:     CertificateStateActive,
				ExpiresAt: now.Add(3 * 24 * time.Hour),
			},
			has:  true,
			soon: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			freshness := ResolveCertificateFreshness(now, tc.snapshot, DefaultCertificateExpiringSoonWindow)
			if freshness.HasSnapshot != tc.has || freshness.IsExpired != tc.expired || freshness.IsExpiringSoon != tc.soon {
				t.Fatalf("expected has=%t expired=%t soon=%t, got has=%t expired=%t soon=%t",
					tc.has, tc.expired, tc.soon, freshness.HasSnapshot, freshness.IsExpired, freshness.IsExpiringSoon)
			}
		})
	}
}

func TestShouldRenewCertificate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name        string
		freshness   CertificateFreshness
		renewWithin time.Duration
		want        bool
	}{
		{
			name: "missing_snapshot",
			want: true,
		},
		{
			name: "expired",
			freshness: CertificateFreshness{
				HasSnapshot: true,
				IsExpired:   true,
			},
			want: true,
		},
		{
			name: "outside_lead_window",
			freshness: CertificateFreshness{
				HasSnapshot: true,
				ExpiresAt:   ptrTime(now.Add(60 * 24 * time.Hour)),
			},
			renewWithin: 30 * 24 * time.Hour,
			want:        false,
		},
		{
			name: "inside_lead_window",
			freshness: CertificateFreshness{
				HasSnapshot: true,
				ExpiresAt:   ptrTime(now.Add(20 * 24 * time.Hour)),
			},
			renewWithin: 30 * 24 * time.Hour,
			want:        true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ShouldRenewCertificate(now, tc.freshness, tc.renewWithin)
			if got != tc.want {
				t.Fatalf("expected %t, got %t", tc.want, got)
			}
		})
	}
}

func ptrTime(value time.Time) *time.Time {
	return &value
}
