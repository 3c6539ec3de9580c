// Package identity exchanges federated authorization codes for normalized
// identity assertions. Provider wire formats stay inside this package; the
// session layer only ever sees provider, subject and claims.
package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-warden/core"
)

const (
	defaultRequestTimeout    = 10 * time.Second
	maxProviderResponseBytes = 1 << 20 // 1 MiB

	googleTokenURL    = "https://oauth2.googleapis.com/token"
	googleUserinfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	githubTokenURL    = "https://github.com/login/oauth/access_token"
	githubUserinfoURL = "https://api.github.com/user"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type claimsNormalizer func(payload map[string]any) (subject string, claims map[string]string)

type providerConfig struct {
	name         string
	tokenURL     string
	userinfoURL  string
	clientID     string
	clientSecret string
	redirectURI  string
	timeout      time.Duration
	normalize    claimsNormalizer
}

type Option func(*Exchanger)

func WithHTTPClient(client HTTPDoer) Option {
	return func(e *Exchanger) {
		if client != nil {
			e.httpClient = client
		}
	}
}

func WithClock(nowFn func() time.Time) Option {
	return func(e *Exchanger) {
		if nowFn != nil {
			e.nowFn = nowFn
		}
	}
}

// Exchanger verifies authorization codes against configured identity
// providers over their OAuth token and userinfo endpoints.
type Exchanger struct {
	providers  map[string]providerConfig
	httpClient HTTPDoer
	nowFn      func() time.Time
}

func NewExchanger(cfg core.FederationConfig, opts ...Option) (*Exchanger, error) {
	exchanger := &Exchanger{
		providers:  map[string]providerConfig{},
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
	for _, provider := range cfg.Providers {
		name := normalizeProviderName(provider.Name)
		if name == "" {
			continue
		}
		resolved, err := resolveProviderConfig(name, provider)
		if err != nil {
			return nil, err
		}
		exchanger.providers[name] = resolved
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(exchanger)
	}
	return exchanger, nil
}

func resolveProviderConfig(name string, provider core.FederationProviderConfig) (providerConfig, error) {
	resolved := providerConfig{
		name:         name,
		tokenURL:     strings.TrimSpace(provider.TokenURL),
		userinfoURL:  strings.TrimSpace(provider.UserinfoURL),
		clientID:     strings.TrimSpace(provider.ClientID),
		clientSecret: provider.ClientSecret,
		redirectURI:  strings.TrimSpace(provider.RedirectURI),
		timeout:      provider.Timeout,
		normalize:    normalizeOIDCClaims,
	}

	kind := strings.TrimSpace(strings.ToLower(provider.Kind))
	if kind == "" {
		kind = name
	}
	switch kind {
	case "google", "oidc":
		if resolved.tokenURL == "" {
			resolved.tokenURL = googleTokenURL
		}
		if resolved.userinfoURL == "" {
			resolved.userinfoURL = googleUserinfoURL
		}
	case "github":
		if resolved.tokenURL == "" {
			resolved.tokenURL = githubTokenURL
		}
		if resolved.userinfoURL == "" {
			resolved.userinfoURL = githubUserinfoURL
		}
		resolved.normalize = normalizeGitHubClaims
	}

	if resolved.tokenURL == "" {
		return providerConfig{}, fmt.Errorf("identity: provider %q requires a token url", name)
	}
	if resolved.timeout <= 0 {
		resolved.timeout = defaultRequestTimeout
	}
	return resolved, nil
}

// Exchange swaps the authorization code for provider tokens, resolves the
// subject from the id_token claims when present or the userinfo endpoint
// otherwise, and returns the normalized assertion.
func (e *Exchanger) Exchange(ctx context.Context, req core.ExchangeRequest) (core.IdentityAssertion, error) {
	if e == nil {
		return core.IdentityAssertion{}, goerrors.New("identity: exchanger is not configured", goerrors.CategoryOperation).
			WithTextCode(core.WardenErrorInternal)
	}

	name := normalizeProviderName(req.Provider)
	provider, ok := e.providers[name]
	if !ok {
		return core.IdentityAssertion{}, goerrors.New(
			fmt.Sprintf("identity: unknown federation provider %q", req.Provider),
			goerrors.CategoryBadInput,
		).WithTextCode(core.WardenErrorBadInput)
	}

	token, err := e.exchangeCode(ctx, provider, req)
	if err != nil {
		return core.IdentityAssertion{}, err
	}

	subject, claims := e.resolveSubject(ctx, provider, token)
	if subject == "" {
		return core.IdentityAssertion{}, goerrors.New(
			fmt.Sprintf("identity: provider %q returned no subject", name),
			goerrors.CategoryExternal,
		).WithTextCode(core.WardenErrorFederationRejected)
	}

	assertion := core.IdentityAssertion{
		Provider: name,
		Subject:  subject,
		Claims:   claims,
	}
	if token.ExpiresIn > 0 {
		assertion.ExpiresAt = e.now().Add(time.Duration(token.ExpiresIn) * time.Second)
	}
	return assertion, nil
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	IDToken          string `json:"id_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e *Exchanger) exchangeCode(ctx context.Context, provider providerConfig, req core.ExchangeRequest) (tokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", req.Code)
	if provider.clientID != "" {
		form.Set("client_id", provider.clientID)
	}
	if provider.clientSecret != "" {
		form.Set("client_secret", provider.clientSecret)
	}
	redirectURI := strings.TrimSpace(req.RedirectURI)
	if redirectURI == "" {
		redirectURI = provider.redirectURI
	}
	if redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}

	requestCtx, cancel := context.WithTimeout(ctx, provider.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodPost, provider.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, unreachableError(provider.name, "build token request", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	res, err := e.httpClient.Do(httpReq)
	if err != nil {
		return tokenResponse{}, unreachableError(provider.name, "token exchange", err)
	}
	defer res.Body.Close()

	body, err := readBoundedBody(res.Body)
	if err != nil {
		return tokenResponse{}, unreachableError(provider.name, "read token response", err)
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return tokenResponse{}, unreachableError(provider.name, "decode token response", err)
	}

	if res.StatusCode >= http.StatusInternalServerError {
		return tokenResponse{}, unreachableError(provider.name, "token exchange",
			fmt.Errorf("status %d", res.StatusCode))
	}
	if res.StatusCode >= http.StatusBadRequest || token.ErrorCode != "" {
		detail := token.ErrorCode
		if detail == "" {
			detail = fmt.Sprintf("status %d", res.StatusCode)
		}
		return tokenResponse{}, rejectedError(provider.name, detail)
	}
	if strings.TrimSpace(token.AccessToken) == "" && strings.TrimSpace(token.IDToken) == "" {
		return tokenResponse{}, rejectedError(provider.name, "empty token response")
	}
	return token, nil
}

// resolveSubject prefers id_token claims; the userinfo endpoint is the
// fallback for providers that issue opaque access tokens.
func (e *Exchanger) resolveSubject(ctx context.Context, provider providerConfig, token tokenResponse) (string, map[string]string) {
	if idToken := strings.TrimSpace(token.IDToken); idToken != "" {
		if payload, err := decodeJWTPayload(idToken); err == nil {
			if subject, claims := provider.normalize(payload); subject != "" {
				return subject, claims
			}
		}
	}
	if provider.userinfoURL == "" || strings.TrimSpace(token.AccessToken) == "" {
		return "", nil
	}

	payload, err := e.fetchUserinfo(ctx, provider, token.AccessToken)
	if err != nil {
		return "", nil
	}
	return provider.normalize(payload)
}

func (e *Exchanger) fetchUserinfo(ctx context.Context, provider providerConfig, accessToken string) (map[string]any, error) {
	requestCtx, cancel := context.WithTimeout(ctx, provider.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, provider.userinfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	res, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := readBoundedBody(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("identity: userinfo endpoint returned status %d", res.StatusCode)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("identity: decode userinfo response: %w", err)
	}
	return payload, nil
}

func (e *Exchanger) now() time.Time {
	if e != nil && e.nowFn != nil {
		return e.nowFn()
	}
	return time.Now().UTC()
}

func unreachableError(provider, op string, cause error) error {
	return goerrors.Wrap(cause, goerrors.CategoryExternal,
		fmt.Sprintf("identity: provider %q unreachable during %s", provider, op)).
		WithTextCode(core.WardenErrorFederationUnreachable)
}

func rejectedError(provider, detail string) error {
	return goerrors.New(
		fmt.Sprintf("identity: provider %q rejected the exchange: %s", provider, detail),
		goerrors.CategoryExternal,
	).WithTextCode(core.WardenErrorFederationRejected)
}

func readBoundedBody(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxProviderResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxProviderResponseBytes {
		return nil, fmt.Errorf("identity: provider response exceeds %d bytes", maxProviderResponseBytes)
	}
	return data, nil
}

func decodeJWTPayload(token string) (map[string]any, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("identity: invalid id_token format")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("identity: decode id_token payload: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, fmt.Errorf("identity: decode id_token claims: %w", err)
	}
	return payload, nil
}

func normalizeOIDCClaims(payload map[string]any) (string, map[string]string) {
	subject := strings.TrimSpace(readString(payload["sub"]))
	claims := map[string]string{}
	for key, source := range map[string]string{
		"email":  "email",
		"name":   "name",
		"locale": "locale",
	} {
		if value := strings.TrimSpace(readString(payload[source])); value != "" {
			claims[key] = value
		}
	}
	return subject, claims
}

func normalizeGitHubClaims(payload map[string]any) (string, map[string]string) {
	subject := strings.TrimSpace(readString(payload["id"]))
	if subject == "" {
		subject = strings.TrimSpace(readString(payload["login"]))
	}
	claims := map[string]string{}
	if email := strings.TrimSpace(readString(payload["email"])); email != "" {
		claims["email"] = email
	}
	name := strings.TrimSpace(readString(payload["name"]))
	if name == "" {
		name = strings.TrimSpace(readString(payload["login"]))
	}
	if name != "" {
		claims["name"] = name
	}
	return subject, claims
}

func normalizeProviderName(value string) string {
	return strings.TrimSpace(strings.ToLower(value))
}

func readString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return strconv.FormatInt(int64(typed), 10)
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

var _ core.FederationExchanger = (*Exchanger)(nil)
