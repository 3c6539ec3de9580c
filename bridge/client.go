package bridge

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/goccy/go-json"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-warden/core"
	"github.com/google/uuid"
)

const defaultDialTimeout = 5 * time.Second

// Client issues one request per connection against a bridge server.
type Client struct {
	socketPath    string
	maxFrameBytes int
	dialTimeout   time.Duration
}

type ClientOption func(*Client)

func WithDialTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.dialTimeout = timeout
		}
	}
}

func NewClient(cfg core.BridgeConfig, opts ...ClientOption) (*Client, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("bridge: socket path is required")
	}
	maxFrame := cfg.MaxFrameBytes
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}

	client := &Client{
		socketPath:    cfg.SocketPath,
		maxFrameBytes: maxFrame,
		dialTimeout:   defaultDialTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Call sends one typed request and waits for the matching response. A wire
// error body comes back as a categorized error carrying the server's text
// code.
func (c *Client) Call(ctx context.Context, messageType string, payload any) (json.RawMessage, error) {
	if messageType == "" {
		return nil, fmt.Errorf("bridge: message type is required")
	}

	encoded, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		encoded = nil
	}

	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("bridge: set deadline: %w", err)
		}
	}

	envelope := Envelope{
		ID:      uuid.NewString(),
		Type:    messageType,
		Payload: encoded,
	}
	if err := WriteFrame(conn, envelope, c.maxFrameBytes); err != nil {
		return nil, err
	}

	response, err := ReadResponse(conn, c.maxFrameBytes)
	if err != nil {
		if isEOF(err) {
			return nil, fmt.Errorf("bridge: server closed the connection: %w", err)
		}
		return nil, err
	}
	if response.ID != envelope.ID {
		return nil, fmt.Errorf("bridge: response id %q does not match request %q", response.ID, envelope.ID)
	}
	if !response.OK {
		return nil, remoteError(response.Error)
	}
	return response.Payload, nil
}

func remoteError(body *ErrorBody) error {
	if body == nil {
		return fmt.Errorf("bridge: request failed without an error body")
	}
	err := goerrors.New(body.Message, categoryForTextCode(body.TextCode)).
		WithTextCode(body.TextCode)
	err.Code = body.Code
	return err
}

func categoryForTextCode(textCode string) goerrors.Category {
	switch textCode {
	case core.WardenErrorBadInput:
		return goerrors.CategoryBadInput
	case core.WardenErrorTokenInvalid, core.WardenErrorTokenExpired,
		core.WardenErrorTokenRevoked:
		return goerrors.CategoryAuth
	case core.WardenErrorRateLimited:
		return goerrors.CategoryRateLimit
	case core.WardenErrorRenewalInFlight:
		return goerrors.CategoryConflict
	case core.WardenErrorStoreUnavailable, core.WardenErrorAuthorityUnreachable,
		core.WardenErrorFederationUnreachable, core.WardenErrorFederationRejected,
		core.WardenErrorValidationTimeout:
		return goerrors.CategoryExternal
	default:
		return goerrors.CategoryInternal
	}
}
