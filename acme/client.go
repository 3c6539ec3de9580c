// Package acmeclient implements the certificate authority protocol against an
// ACME v2 directory (RFC 8555) using HTTP-01 domain validation. The client
// registers its account lazily on first use so construction never touches the
// network.
package acmeclient

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-warden/core"
	xacme "golang.org/x/crypto/acme"
)

const defaultChallengeTTL = 10 * time.Minute

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithClock(nowFn func() time.Time) Option {
	return func(c *Client) {
		if nowFn != nil {
			c.nowFn = nowFn
		}
	}
}

// Client talks to one ACME directory on behalf of one account.
type Client struct {
	directoryURL string
	contactEmail string
	challengeTTL time.Duration
	keys         core.AccountKeyProvider
	httpClient   *http.Client
	nowFn        func() time.Time

	mu         sync.Mutex
	inner      *xacme.Client
	registered bool
}

func New(cfg core.CertificatesConfig, keys core.AccountKeyProvider, opts ...Option) (*Client, error) {
	directoryURL := strings.TrimSpace(cfg.DirectoryURL)
	if directoryURL == "" {
		return nil, fmt.Errorf("acmeclient: directory url is required")
	}
	if keys == nil {
		return nil, fmt.Errorf("acmeclient: account key provider is required")
	}

	client := &Client{
		directoryURL: directoryURL,
		contactEmail: strings.TrimSpace(cfg.ContactEmail),
		challengeTTL: cfg.ChallengeTTL,
		keys:         keys,
		nowFn:        func() time.Time { return time.Now().UTC() },
	}
	if client.challengeTTL <= 0 {
		client.challengeTTL = defaultChallengeTTL
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(client)
	}
	return client, nil
}

// BeginOrder opens an order for the domain and extracts its HTTP-01
// challenge, ready for the responder to publish.
func (c *Client) BeginOrder(ctx context.Context, domain string) (core.CertificateOrder, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return core.CertificateOrder{}, goerrors.New("acme order domain is required", goerrors.CategoryBadInput).
			WithTextCode(core.WardenErrorBadInput)
	}

	client, err := c.ensureClient(ctx)
	if err != nil {
		return core.CertificateOrder{}, err
	}

	order, err := client.AuthorizeOrder(ctx, xacme.DomainIDs(domain))
	if err != nil {
		return core.CertificateOrder{}, c.authorityError("authorize order", err)
	}
	if len(order.AuthzURLs) == 0 {
		return core.CertificateOrder{}, goerrors.New(
			fmt.Sprintf("acme order for %q carries no authorizations", domain),
			goerrors.CategoryExternal,
		).WithTextCode(core.WardenErrorAuthorityUnreachable)
	}

	authzURL := order.AuthzURLs[0]
	authz, err := client.GetAuthorization(ctx, authzURL)
	if err != nil {
		return core.CertificateOrder{}, c.authorityError("load authorization", err)
	}

	var httpChallenge *xacme.Challenge
	for _, candidate := range authz.Challenges {
		if candidate.Type == "http-01" {
			httpChallenge = candidate
			break
		}
	}
	if httpChallenge == nil {
		return core.CertificateOrder{}, goerrors.New(
			fmt.Sprintf("authority offers no http-01 challenge for %q", domain),
			goerrors.CategoryValidation,
		).WithTextCode(core.WardenErrorChallengeFailed)
	}

	response, err := client.HTTP01ChallengeResponse(httpChallenge.Token)
	if err != nil {
		return core.CertificateOrder{}, c.authorityError("build challenge response", err)
	}

	now := c.now()
	return core.CertificateOrder{
		Domain: domain,
		Challenge: core.Challenge{
			Domain:    domain,
			Token:     httpChallenge.Token,
			Response:  response,
			Path:      core.ChallengePath(httpChallenge.Token),
			State:     core.ChallengeStateIssued,
			IssuedAt:  now,
			NotAfter:  now.Add(c.challengeTTL),
			UpdatedAt: now,
		},
		OrderURL:     order.URI,
		AuthzURL:     authzURL,
		ChallengeURL: httpChallenge.URI,
	}, nil
}

// AcceptChallenge tells the authority the challenge response is published
// and validation may start.
func (c *Client) AcceptChallenge(ctx context.Context, order core.CertificateOrder) error {
	client, err := c.ensureClient(ctx)
	if err != nil {
		return err
	}

	challenge, err := client.GetChallenge(ctx, order.ChallengeURL)
	if err != nil {
		return c.authorityError("load challenge", err)
	}
	if _, err := client.Accept(ctx, challenge); err != nil {
		return c.authorityError("accept challenge", err)
	}
	return nil
}

// AwaitAuthorization blocks until the authority validates the challenge or
// the context deadline fires.
func (c *Client) AwaitAuthorization(ctx context.Context, order core.CertificateOrder) error {
	client, err := c.ensureClient(ctx)
	if err != nil {
		return err
	}

	authz, err := client.WaitAuthorization(ctx, order.AuthzURL)
	if err != nil {
		return c.authorityError("await authorization", err)
	}
	if authz.Status != xacme.StatusValid {
		return goerrors.New(
			fmt.Sprintf("challenge failed for %q: authorization status %s", order.Domain, authz.Status),
			goerrors.CategoryValidation,
		).WithTextCode(core.WardenErrorChallengeFailed)
	}
	return nil
}

// Finalize submits the CSR for the domain's private key and downloads the
// issued chain.
func (c *Client) Finalize(ctx context.Context, order core.CertificateOrder, keyPEM []byte) (core.IssuedCertificate, error) {
	client, err := c.ensureClient(ctx)
	if err != nil {
		return core.IssuedCertificate{}, err
	}

	signer, err := parseCertificateKey(keyPEM)
	if err != nil {
		return core.IssuedCertificate{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid certificate key").
			WithTextCode(core.WardenErrorBadInput)
	}

	csr, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		DNSNames: []string{order.Domain},
	}, signer)
	if err != nil {
		return core.IssuedCertificate{}, goerrors.Wrap(err, goerrors.CategoryOperation, "build certificate request").
			WithTextCode(core.WardenErrorInternal)
	}

	ready, err := client.WaitOrder(ctx, order.OrderURL)
	if err != nil {
		return core.IssuedCertificate{}, c.authorityError("await order", err)
	}

	chain, _, err := client.CreateOrderCert(ctx, ready.FinalizeURL, csr, true)
	if err != nil {
		return core.IssuedCertificate{}, c.authorityError("finalize order", err)
	}
	if len(chain) == 0 {
		return core.IssuedCertificate{}, goerrors.New(
			fmt.Sprintf("authority returned an empty chain for %q", order.Domain),
			goerrors.CategoryExternal,
		).WithTextCode(core.WardenErrorAuthorityUnreachable)
	}

	var certPEM []byte
	for _, der := range chain {
		certPEM = append(certPEM, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})...)
	}

	leaf, err := x509.ParseCertificate(chain[0])
	if err != nil {
		return core.IssuedCertificate{}, goerrors.Wrap(err, goerrors.CategoryExternal, "parse issued certificate").
			WithTextCode(core.WardenErrorAuthorityUnreachable)
	}

	return core.IssuedCertificate{
		Domain:         order.Domain,
		CertificatePEM: certPEM,
		IssuedAt:       leaf.NotBefore,
		ExpiresAt:      leaf.NotAfter,
	}, nil
}

func (c *Client) ensureClient(ctx context.Context) (*xacme.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inner == nil {
		key, err := c.keys.AccountKey(ctx)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "load acme account key").
				WithTextCode(core.WardenErrorInternal)
		}
		c.inner = &xacme.Client{
			Key:          key,
			DirectoryURL: c.directoryURL,
			HTTPClient:   c.httpClient,
		}
	}
	if c.registered {
		return c.inner, nil
	}

	account := &xacme.Account{}
	if c.contactEmail != "" {
		account.Contact = []string{"mailto:" + c.contactEmail}
	}
	if _, err := c.inner.Register(ctx, account, xacme.AcceptTOS); err != nil && !errors.Is(err, xacme.ErrAccountAlreadyExists) {
		return nil, c.authorityError("register account", err)
	}
	c.registered = true
	return c.inner, nil
}

// authorityError classifies a raw ACME failure: context expiry while the
// authority validates maps to a timeout, authority rejections are permanent
// challenge failures, everything else is a transient reachability problem.
func (c *Client) authorityError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "validation timeout during "+op).
			WithTextCode(core.WardenErrorValidationTimeout)
	}

	var authzErr *xacme.AuthorizationError
	if errors.As(err, &authzErr) {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "challenge rejected during "+op).
			WithTextCode(core.WardenErrorChallengeFailed)
	}

	var acmeErr *xacme.Error
	if errors.As(err, &acmeErr) && acmeErr.StatusCode >= 400 && acmeErr.StatusCode < 500 {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "authority rejected "+op).
			WithTextCode(core.WardenErrorChallengeFailed)
	}

	return goerrors.Wrap(err, goerrors.CategoryExternal, "authority unreachable during "+op).
		WithTextCode(core.WardenErrorAuthorityUnreachable)
}

func (c *Client) now() time.Time {
	if c.nowFn != nil {
		return c.nowFn()
	}
	return time.Now().UTC()
}

func parseCertificateKey(keyPEM []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("acmeclient: key pem is empty")
	}
	switch block.Type {
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("acmeclient: unsupported pkcs8 key type %T", key)
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("acmeclient: unsupported key pem block %q", block.Type)
	}
}

var _ core.CertificateAuthority = (*Client)(nil)
