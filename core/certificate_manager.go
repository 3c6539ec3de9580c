package core

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// renewalCall is one in-flight renewal. Late joiners wait on done and read
// the shared outcome instead of starting a second authority exchange.
type renewalCall struct {
	done     chan struct{}
	snapshot *CertificateSnapshot
	err      error
}

// ActiveCertificate returns the published snapshot for a domain, nil when
// none has been issued yet. The returned value is immutable; callers may
// hold it across a swap.
func (s *Service) ActiveCertificate(domain string) *CertificateSnapshot {
	if s == nil {
		return nil
	}
	return s.holder(domain).Snapshot()
}

// GetCertificate is the tls.Config callback the host's listener consumes.
// It reads the atomic snapshot cell: no locks, no I/O on the handshake path.
func (s *Service) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if s == nil {
		return nil, fmt.Errorf("core: service is nil")
	}
	domain := ""
	if hello != nil {
		domain = strings.TrimSpace(strings.ToLower(hello.ServerName))
	}
	if domain == "" && len(s.config.Certificates.Domains) == 1 {
		domain = s.config.Certificates.Domains[0]
	}
	snapshot := s.holder(domain).Snapshot()
	if snapshot == nil || snapshot.TLS == nil {
		return nil, fmt.Errorf("%w: %q", ErrCertificateNotFound, domain)
	}
	return snapshot.TLS, nil
}

// ChallengeHandler returns the plain-HTTP handler the edge layer must mount
// unauthenticated for the authority's domain validation fetches.
func (s *Service) ChallengeHandler() *ChallengeHandler {
	if s == nil {
		return nil
	}
	return NewChallengeHandler(s.challengeSolver, s.logger)
}

// EnsureActive guarantees a valid Active certificate for the domain,
// renewing through the authority when none exists or expiry falls inside
// the renewal lead window. Concurrent triggers for the same domain share a
// single authority exchange. When renewal fails but a still-valid snapshot
// is published, that snapshot keeps serving and the result carries it
// alongside the error.
func (s *Service) EnsureActive(ctx context.Context, domain string) (result RenewalResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"domain": domain}
	defer func() {
		fields["renewed"] = result.Renewed
		s.observeOperation(ctx, startedAt, "certificate_ensure_active", err, fields)
	}()

	domain = strings.TrimSpace(strings.ToLower(domain))
	if domain == "" {
		err = s.mapError(fmt.Errorf("core: domain is required"))
		return RenewalResult{}, err
	}
	if s.authority == nil {
		err = s.mapError(fmt.Errorf("core: certificate authority is not configured"))
		return RenewalResult{Domain: domain}, err
	}

	holder := s.holder(domain)
	now := s.now()
	current := holder.Snapshot()
	freshness := ResolveCertificateFreshness(now, current, s.config.Certificates.RenewWithin)
	if !ShouldRenewCertificate(now, freshness, s.config.Certificates.RenewWithin) {
		result = RenewalResult{Domain: domain, Renewed: false, Snapshot: current}
		return result, nil
	}

	s.renewMu.Lock()
	if call, inFlight := s.renewals[domain]; inFlight {
		s.renewMu.Unlock()
		select {
		case <-call.done:
			result = RenewalResult{Domain: domain, Renewed: call.err == nil, Snapshot: call.snapshot}
			err = call.err
			return result, err
		case <-ctx.Done():
			err = s.mapError(ctx.Err())
			return RenewalResult{Domain: domain}, err
		}
	}
	call := &renewalCall{done: make(chan struct{})}
	s.renewals[domain] = call
	s.renewMu.Unlock()

	snapshot, attempts, renewErr := s.renewWithRetry(ctx, domain, holder)

	call.snapshot = snapshot
	call.err = renewErr
	s.renewMu.Lock()
	delete(s.renewals, domain)
	s.renewMu.Unlock()
	close(call.done)

	s.recordCertificateOutcome(domain, holder.Snapshot(), renewErr)
	if renewErr != nil {
		surviving := holder.Snapshot()
		if surviving != nil && surviving.TimeToExpiry(s.now()) > 0 {
			// Old certificate still valid: renewal failure is non-fatal.
			s.logError(ctx, "certificate renewal failed, serving previous certificate", map[string]any{
				"domain":     domain,
				"expires_at": surviving.ExpiresAt.Format(time.RFC3339),
				"error":      renewErr.Error(),
			})
			result = RenewalResult{Domain: domain, Renewed: false, Attempts: attempts, Snapshot: surviving}
			err = renewErr
			return result, err
		}
		s.logError(ctx, "certificate renewal failed with no valid certificate, TLS is down for domain", map[string]any{
			"domain": domain,
			"error":  renewErr.Error(),
		})
		result = RenewalResult{Domain: domain, Renewed: false, Attempts: attempts}
		err = renewErr
		return result, err
	}

	result = RenewalResult{Domain: domain, Renewed: true, Attempts: attempts, Snapshot: snapshot}
	return result, nil
}

func (s *Service) renewWithRetry(ctx context.Context, domain string, holder *certificateHolder) (*CertificateSnapshot, int, error) {
	maxAttempts := s.config.Certificates.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		snapshot, err := s.renewOnce(ctx, domain, holder)
		if err == nil {
			return snapshot, attempt, nil
		}
		lastErr = err

		if isPermanentRenewalError(err) {
			return nil, attempt, err
		}
		if attempt == maxAttempts {
			break
		}
		delay := s.backoffScheduler.NextDelay(attempt)
		if waitErr := waitWithContext(ctx, delay); waitErr != nil {
			return nil, attempt, s.mapError(waitErr)
		}
	}
	return nil, maxAttempts, lastErr
}

// renewOnce runs one full order: key, challenge, validation poll, issuance,
// snapshot validation, atomic publish.
func (s *Service) renewOnce(ctx context.Context, domain string, holder *certificateHolder) (*CertificateSnapshot, error) {
	unlock := func() {}
	if s.renewalLocker != nil {
		handle, lockErr := s.renewalLocker.Acquire(ctx, domain, s.config.Certificates.LockTTL)
		if lockErr != nil {
			return nil, s.mapError(lockErr)
		}
		unlock = func() { _ = handle.Unlock(ctx) }
	}
	defer unlock()

	keyPEM, err := generateCertificateKey()
	if err != nil {
		return nil, s.mapError(err)
	}

	requestCtx, cancel := boundedContext(ctx, s.config.Certificates.RequestTimeout)
	order, err := s.authority.BeginOrder(requestCtx, domain)
	cancel()
	if err != nil {
		return nil, s.mapError(err)
	}

	challenge := order.Challenge
	challenge.Domain = domain
	if err := s.challengeSolver.Register(challenge); err != nil {
		return nil, s.mapError(err)
	}
	defer func() { _ = s.challengeSolver.Expire(challenge.Token) }()

	requestCtx, cancel = boundedContext(ctx, s.config.Certificates.RequestTimeout)
	err = s.authority.AcceptChallenge(requestCtx, order)
	cancel()
	if err != nil {
		return nil, s.mapError(err)
	}

	pollCtx, cancel := boundedContext(ctx, s.config.Certificates.PollTimeout)
	err = s.authority.AwaitAuthorization(pollCtx, order)
	cancel()
	if err != nil {
		return nil, s.mapError(err)
	}

	requestCtx, cancel = boundedContext(ctx, s.config.Certificates.RequestTimeout)
	issued, err := s.authority.Finalize(requestCtx, order, keyPEM)
	cancel()
	if err != nil {
		return nil, s.mapError(err)
	}

	snapshot, err := buildCertificateSnapshot(domain, issued, keyPEM, s.now())
	if err != nil {
		return nil, s.mapError(err)
	}

	if err := s.challengeSolver.Satisfy(challenge.Token); err != nil {
		s.logError(ctx, "challenge transition to satisfied failed", map[string]any{
			"domain": domain,
			"token":  challenge.Token,
			"error":  err.Error(),
		})
	}

	// Publish replaces the whole snapshot pointer; readers holding the
	// previous value keep a consistent certificate for in-flight sessions.
	holder.Publish(snapshot)
	return snapshot, nil
}

func (s *Service) holder(domain string) *certificateHolder {
	domain = strings.TrimSpace(strings.ToLower(domain))
	s.holdersMu.Lock()
	defer s.holdersMu.Unlock()
	h, ok := s.holders[domain]
	if !ok {
		h = &certificateHolder{}
		s.holders[domain] = h
	}
	return h
}

func (s *Service) recordCertificateOutcome(domain string, snapshot *CertificateSnapshot, renewErr error) {
	status := CertificateStatus{Domain: domain}
	if snapshot != nil {
		status.State = snapshot.State
		status.IssuedAt = snapshot.IssuedAt
		status.ExpiresAt = snapshot.ExpiresAt
		status.TimeToExpiry = snapshot.TimeToExpiry(s.now())
	}
	if renewErr != nil {
		status.LastError = renewErr.Error()
	} else {
		status.LastRenewedAt = s.now()
	}
	s.statusMu.Lock()
	if renewErr != nil {
		if previous, ok := s.certStatus[domain]; ok {
			status.LastRenewedAt = previous.LastRenewedAt
		}
	}
	s.certStatus[domain] = status
	s.statusMu.Unlock()
}

// isPermanentRenewalError separates outcomes no retry can fix (domain
// ownership rejected, malformed order) from transient infrastructure
// failures worth backing off on.
func isPermanentRenewalError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryBadInput, goerrors.CategoryValidation, goerrors.CategoryAuth, goerrors.CategoryAuthz:
			return true
		}
		switch strings.TrimSpace(strings.ToUpper(richErr.TextCode)) {
		case WardenErrorChallengeFailed:
			return true
		}
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "rejected") || strings.Contains(msg, "unauthorized domain")
}

func buildCertificateSnapshot(domain string, issued IssuedCertificate, keyPEM []byte, now time.Time) (*CertificateSnapshot, error) {
	if len(issued.CertificatePEM) == 0 {
		return nil, fmt.Errorf("core: authority returned an empty certificate chain for %q", domain)
	}
	tlsCert, err := tls.X509KeyPair(issued.CertificatePEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("core: certificate/key pair mismatch for %q: %w", domain, err)
	}
	leaf := tlsCert.Leaf
	if leaf == nil {
		leaf, err = x509.ParseCertificate(tlsCert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("core: parse issued certificate for %q: %w", domain, err)
		}
		tlsCert.Leaf = leaf
	}

	issuedAt := issued.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = leaf.NotBefore.UTC()
	}
	expiresAt := issued.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = leaf.NotAfter.UTC()
	}

	snapshot := &CertificateSnapshot{
		Domain:         domain,
		Leaf:           leaf,
		CertificatePEM: append([]byte(nil), issued.CertificatePEM...),
		PrivateKeyPEM:  append([]byte(nil), keyPEM...),
		TLS:            &tlsCert,
		IssuedAt:       issuedAt,
		ExpiresAt:      expiresAt,
		State:          CertificateStateActive,
	}
	if err := snapshot.Validate(now); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func generateCertificateKey() ([]byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("core: generate certificate key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("core: encode certificate key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

func boundedContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
