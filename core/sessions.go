package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// IssueSession mints a bearer credential for an already-authenticated
// identity. The returned token is the only copy of the secret; the store
// keeps its digest. Issuance counts against the identity's rate window.
func (s *Service) IssueSession(ctx context.Context, req IssueRequest) (result IssuedSession, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"identity": req.Identity, "origin": string(req.Origin)}
	defer func() {
		s.observeOperation(ctx, startedAt, "session_issue", err, fields)
	}()

	identity := strings.TrimSpace(req.Identity)
	if identity == "" {
		err = s.mapError(s.errorFactory("core: identity is required", goerrors.CategoryBadInput))
		return IssuedSession{}, err
	}
	if storeErr := s.requireSessionStore(); storeErr != nil {
		err = storeErr
		return IssuedSession{}, err
	}

	now := s.now()
	if s.rateTracker != nil && s.config.RateLimit.Window > 0 {
		decision := s.rateTracker.Record(identity, now)
		if !decision.Allowed {
			err = ensureWardenErrorEnvelope(
				goerrors.New("rate limit exceeded", goerrors.CategoryRateLimit).
					WithTextCode(WardenErrorRateLimited).
					WithMetadata(map[string]any{
						"identity": identity,
						"retry_in": decision.RetryIn.String(),
					}),
			)
			return IssuedSession{}, err
		}
	}

	bearer, tokenID, digest, genErr := generateSessionToken()
	if genErr != nil {
		err = s.mapError(genErr)
		return IssuedSession{}, err
	}

	origin := req.Origin
	if origin == "" {
		origin = SessionOriginLocal
	}
	session := Session{
		TokenID:      tokenID,
		SecretDigest: digest,
		Identity:     identity,
		Claims:       copyStringMap(req.Claims),
		IssuedAt:     now,
		ExpiresAt:    now.Add(s.clampSessionTTL(req.TTL)),
		Origin:       origin,
	}
	if putErr := s.sessionStore.Put(ctx, session); putErr != nil {
		err = NewUnavailableError(WardenErrorStoreUnavailable, putErr)
		return IssuedSession{}, err
	}
	if s.rateTracker != nil {
		s.rateTracker.Link(identity, tokenID)
	}

	fields["token_id"] = tokenID
	result = IssuedSession{Token: bearer, Session: session.Clone()}
	return result, nil
}

// ValidateSession checks a bearer token and returns the identity it proves.
// Every authentication failure surfaces as the same uniform unauthorized
// error; the precise cause (malformed, unknown, digest mismatch, expired,
// revoked) travels only in the internal text code. Store outages are the one
// distinct failure: the caller must not treat an infrastructure fault as a
// bad credential.
func (s *Service) ValidateSession(ctx context.Context, bearer string) (result ValidationResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		s.observeOperation(ctx, startedAt, "session_validate", err, fields)
	}()

	session, verr := s.lookupSession(ctx, bearer)
	if verr != nil {
		err = verr
		return ValidationResult{}, err
	}
	fields["identity"] = session.Identity

	result = ValidationResult{
		Identity:  session.Identity,
		Claims:    copyStringMap(session.Claims),
		ExpiresAt: session.ExpiresAt,
		Origin:    session.Origin,
	}
	return result, nil
}

// RefreshSession extends a still-valid session without reissuing its token.
// Disabled unless the configuration opts in; a revoked or expired session
// can never be refreshed back to life.
func (s *Service) RefreshSession(ctx context.Context, req RefreshSessionRequest) (result ValidationResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		s.observeOperation(ctx, startedAt, "session_refresh", err, fields)
	}()

	if !s.config.Sessions.AllowRefresh {
		err = s.mapError(s.errorFactory("core: session refresh is disabled", goerrors.CategoryBadInput))
		return ValidationResult{}, err
	}

	session, verr := s.lookupSession(ctx, req.Token)
	if verr != nil {
		err = verr
		return ValidationResult{}, err
	}
	fields["identity"] = session.Identity

	session.ExpiresAt = s.now().Add(s.clampSessionTTL(req.TTL))
	if putErr := s.sessionStore.Put(ctx, session); putErr != nil {
		err = NewUnavailableError(WardenErrorStoreUnavailable, putErr)
		return ValidationResult{}, err
	}

	result = ValidationResult{
		Identity:  session.Identity,
		Claims:    copyStringMap(session.Claims),
		ExpiresAt: session.ExpiresAt,
		Origin:    session.Origin,
	}
	return result, nil
}

// RevokeSession invalidates one bearer token. Revoking an unknown or
// already-revoked token succeeds: the caller's goal (the token no longer
// works) already holds.
func (s *Service) RevokeSession(ctx context.Context, bearer string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		s.observeOperation(ctx, startedAt, "session_revoke", err, fields)
	}()

	if storeErr := s.requireSessionStore(); storeErr != nil {
		err = storeErr
		return err
	}
	tokenID, _, ok := parseBearerToken(bearer)
	if !ok {
		err = NewUnauthorizedError(WardenErrorTokenInvalid, nil)
		return err
	}

	session, getErr := s.sessionStore.Get(ctx, tokenID)
	if getErr != nil {
		if errors.Is(getErr, ErrSessionNotFound) {
			return nil
		}
		err = NewUnavailableError(WardenErrorStoreUnavailable, getErr)
		return err
	}
	fields["identity"] = session.Identity

	if delErr := s.sessionStore.Delete(ctx, tokenID); delErr != nil && !errors.Is(delErr, ErrSessionNotFound) {
		err = NewUnavailableError(WardenErrorStoreUnavailable, delErr)
		return err
	}
	if s.rateTracker != nil {
		s.rateTracker.Unlink(session.Identity, tokenID)
	}
	return nil
}

// RevokeIdentity invalidates every session linked to an identity in one
// pass: the tracker yields the linked token ids, each record is deleted,
// and the identity's links are cleared. Used when an account is compromised
// or disabled.
func (s *Service) RevokeIdentity(ctx context.Context, identity string) (revoked int, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"identity": identity}
	defer func() {
		fields["revoked"] = revoked
		s.observeOperation(ctx, startedAt, "identity_revoke", err, fields)
	}()

	identity = strings.TrimSpace(identity)
	if identity == "" {
		err = s.mapError(s.errorFactory("core: identity is required", goerrors.CategoryBadInput))
		return 0, err
	}
	if storeErr := s.requireSessionStore(); storeErr != nil {
		err = storeErr
		return 0, err
	}
	if s.rateTracker == nil {
		err = s.mapError(fmt.Errorf("core: rate tracker is not configured"))
		return 0, err
	}

	tokenIDs := s.rateTracker.UnlinkAll(identity)
	var lastErr error
	for _, tokenID := range tokenIDs {
		if delErr := s.sessionStore.Delete(ctx, tokenID); delErr != nil && !errors.Is(delErr, ErrSessionNotFound) {
			lastErr = delErr
			continue
		}
		revoked++
	}
	if lastErr != nil {
		err = NewUnavailableError(WardenErrorStoreUnavailable, lastErr)
		return revoked, err
	}
	return revoked, nil
}

// ExchangeFederated delegates authentication to an external identity
// provider, then mints a local session for the asserted identity. The
// exchange runs under the configured wait budget so a stalled provider
// cannot pin the caller indefinitely.
func (s *Service) ExchangeFederated(ctx context.Context, req ExchangeRequest) (result IssuedSession, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"provider": req.Provider}
	defer func() {
		s.observeOperation(ctx, startedAt, "session_exchange_federated", err, fields)
	}()

	if s.federation == nil {
		err = s.mapError(fmt.Errorf("core: federation exchanger is not configured"))
		return IssuedSession{}, err
	}
	if strings.TrimSpace(req.Provider) == "" {
		err = s.mapError(s.errorFactory("core: federation provider is required", goerrors.CategoryBadInput))
		return IssuedSession{}, err
	}
	if strings.TrimSpace(req.Code) == "" {
		err = s.mapError(s.errorFactory("core: authorization code is required", goerrors.CategoryBadInput))
		return IssuedSession{}, err
	}

	exchangeCtx, cancel := boundedContext(ctx, s.config.Federation.WaitTimeout)
	assertion, exErr := s.federation.Exchange(exchangeCtx, req)
	cancel()
	if exErr != nil {
		err = s.mapError(exErr)
		return IssuedSession{}, err
	}
	if strings.TrimSpace(assertion.Subject) == "" {
		err = ensureWardenErrorEnvelope(
			goerrors.New("federation assertion has no subject", goerrors.CategoryExternal).
				WithTextCode(WardenErrorFederationRejected),
		)
		return IssuedSession{}, err
	}

	ttl := req.TTL
	if !assertion.ExpiresAt.IsZero() {
		if remaining := assertion.ExpiresAt.Sub(s.now()); remaining > 0 && (ttl <= 0 || remaining < ttl) {
			ttl = remaining
		}
	}
	claims := copyStringMap(assertion.Claims)
	claims["provider"] = assertion.Provider

	result, err = s.IssueSession(ctx, IssueRequest{
		Identity: assertion.Provider + ":" + assertion.Subject,
		Claims:   claims,
		TTL:      ttl,
		Origin:   SessionOriginFederated,
	})
	return result, err
}

// SweepExpiredSessions removes records past expiry plus grace. Validation
// already rejects expired sessions; the sweep only reclaims storage.
func (s *Service) SweepExpiredSessions(ctx context.Context) (result SweepResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		fields["removed"] = result.Removed
		s.observeOperation(ctx, startedAt, "session_sweep", err, fields)
	}()

	if storeErr := s.requireSessionStore(); storeErr != nil {
		err = storeErr
		return SweepResult{}, err
	}

	now := s.now()
	removed, sweepErr := s.sessionStore.SweepExpired(ctx, now, s.config.Sessions.SweepGrace)
	if sweepErr != nil {
		err = NewUnavailableError(WardenErrorStoreUnavailable, sweepErr)
		return SweepResult{}, err
	}
	result = SweepResult{Removed: removed, SweptAt: now}
	s.statusMu.Lock()
	s.lastSweep = result
	s.statusMu.Unlock()
	return result, nil
}

// Status assembles the diagnostics report served over the bridge.
func (s *Service) Status(ctx context.Context) (StatusReport, error) {
	if s == nil {
		return StatusReport{}, fmt.Errorf("core: service is nil")
	}
	report := StatusReport{
		ServiceName: s.config.ServiceName,
		GeneratedAt: s.now(),
	}

	s.statusMu.Lock()
	domains := make([]string, 0, len(s.certStatus))
	for domain := range s.certStatus {
		domains = append(domains, domain)
	}
	sort.Strings(domains)
	for _, domain := range domains {
		report.Certificates = append(report.Certificates, s.certStatus[domain])
	}
	report.Sessions.LastSweepAt = s.lastSweep.SweptAt
	report.Sessions.LastSweepRemoved = s.lastSweep.Removed
	s.statusMu.Unlock()

	if s.rateTracker != nil {
		stats := s.rateTracker.Stats()
		report.Sessions.TrackedIdentities = stats.Identities
		report.Sessions.LinkedTokens = stats.Tokens
	}
	return report, nil
}

// lookupSession resolves and verifies a bearer token against the store.
// The failure reason never varies the external shape of the error.
func (s *Service) lookupSession(ctx context.Context, bearer string) (Session, error) {
	if storeErr := s.requireSessionStore(); storeErr != nil {
		return Session{}, storeErr
	}
	tokenID, secret, ok := parseBearerToken(bearer)
	if !ok {
		return Session{}, NewUnauthorizedError(WardenErrorTokenInvalid, nil)
	}

	session, getErr := s.sessionStore.Get(ctx, tokenID)
	if getErr != nil {
		if errors.Is(getErr, ErrSessionNotFound) {
			return Session{}, NewUnauthorizedError(WardenErrorTokenInvalid, nil)
		}
		return Session{}, NewUnavailableError(WardenErrorStoreUnavailable, getErr)
	}
	if !digestsEqual(session.SecretDigest, secretDigest(secret)) {
		return Session{}, NewUnauthorizedError(WardenErrorTokenInvalid, nil)
	}
	if session.Revoked {
		return Session{}, NewUnauthorizedError(WardenErrorTokenRevoked, nil)
	}
	if session.Expired(s.now()) {
		return Session{}, NewUnauthorizedError(WardenErrorTokenExpired, nil)
	}
	return session, nil
}

func (s *Service) clampSessionTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = s.config.Sessions.DefaultTTL
	}
	if maxTTL := s.config.Sessions.MaxTTL; maxTTL > 0 && ttl > maxTTL {
		ttl = maxTTL
	}
	return ttl
}

func (s *Service) requireSessionStore() error {
	if s == nil || s.sessionStore == nil {
		return NewUnavailableError(WardenErrorStoreUnavailable, fmt.Errorf("core: session store is not configured"))
	}
	return nil
}
