package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-warden/core"
)

const defaultShutdownGrace = 5 * time.Second

// Handler resolves one envelope into a response payload. Returned errors
// travel back to the client as the wire error body; the connection stays
// open.
type Handler func(ctx context.Context, envelope Envelope) (any, error)

// Server accepts local connections on a filesystem socket and feeds each
// decoded envelope to the handler. A frame that cannot be read or decoded
// terminates only the connection it arrived on.
type Server struct {
	socketPath    string
	maxFrameBytes int
	handler       Handler
	logger        core.Logger

	running  atomic.Bool
	listener net.Listener
	wg       sync.WaitGroup
}

type ServerOption func(*Server)

func WithServerLogger(logger core.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewServer(cfg core.BridgeConfig, handler Handler, opts ...ServerOption) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("bridge: socket path is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("bridge: handler is required")
	}
	maxFrame := cfg.MaxFrameBytes
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}

	server := &Server{
		socketPath:    cfg.SocketPath,
		maxFrameBytes: maxFrame,
		handler:       handler,
		logger:        glog.Ensure(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(server)
		}
	}
	return server, nil
}

// Start binds the socket and runs the accept loop until Shutdown. A stale
// socket file from a previous run is removed before binding.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("bridge: prepare socket directory: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("bridge: remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("bridge: listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener
	s.running.Store(true)
	s.logger.Info("bridge listening", "socket", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("bridge accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// Shutdown stops accepting, closes the listener, and waits for in-flight
// connections up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Error("bridge listener close failed", "error", err)
		}
	}

	if ctx.Done() == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultShutdownGrace)
		defer cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bridge: shutdown wait: %w", ctx.Err())
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		envelope, err := ReadEnvelope(conn, s.maxFrameBytes)
		if err != nil {
			// EOF is the peer hanging up; anything else is a protocol
			// violation and this connection cannot be trusted further.
			if !isConnectionDone(err) {
				s.logger.Error("bridge dropping connection", "error", err)
			}
			return
		}

		response := s.dispatch(ctx, envelope)
		if err := WriteFrame(conn, response, s.maxFrameBytes); err != nil {
			s.logger.Error("bridge write failed", "error", err)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, envelope Envelope) Response {
	result, err := s.handler(ctx, envelope)
	if err != nil {
		return Response{ID: envelope.ID, OK: false, Error: errorBodyFor(err)}
	}

	response := Response{ID: envelope.ID, OK: true}
	if result != nil {
		payload, marshalErr := marshalPayload(result)
		if marshalErr != nil {
			s.logger.Error("bridge response encode failed", "type", envelope.Type, "error", marshalErr)
			return Response{ID: envelope.ID, OK: false, Error: &ErrorBody{
				Code:     http.StatusInternalServerError,
				TextCode: core.WardenErrorInternal,
				Message:  "response could not be encoded",
			}}
		}
		response.Payload = payload
	}
	return response
}

func errorBodyFor(err error) *ErrorBody {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		body := &ErrorBody{
			Code:     richErr.Code,
			TextCode: richErr.TextCode,
			Message:  richErr.Message,
		}
		if body.Message == "" {
			body.Message = richErr.Error()
		}
		return body
	}
	return &ErrorBody{
		Code:     http.StatusInternalServerError,
		TextCode: core.WardenErrorInternal,
		Message:  err.Error(),
	}
}

func isConnectionDone(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		isEOF(err)
}
