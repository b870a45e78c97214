package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/msimon/crowdauth/identity"
)

// NatsConfig holds the NATS connection settings shared by the services.
type NatsConfig struct {
	// NatsURL is the NATS server URL. The NATS_URL environment variable overrides it.
	NatsURL string

	// NatsCredentials is the path to the credentials file for connecting to NATS.
	// Mutually exclusive with NatsNkey.
	NatsCredentials string

	// NatsNkey is the path to the nkey seed file for NATS authentication.
	// Mutually exclusive with NatsCredentials.
	NatsNkey string
}

func (c NatsConfig) withDefaults() (NatsConfig, error) {
	if c.NatsCredentials != "" && c.NatsNkey != "" {
		return c, errors.New("NatsCredentials and NatsNkey are mutually exclusive")
	}
	if c.NatsURL == "" {
		c.NatsURL = nats.DefaultURL
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		c.NatsURL = url
	}
	return c, nil
}

func (c NatsConfig) connect(name string, extra ...nats.Option) (*nats.Conn, error) {
	opts := append([]nats.Option{nats.Name(name)}, extra...)
	if c.NatsCredentials != "" {
		opts = append(opts, nats.UserCredentials(c.NatsCredentials))
	} else if c.NatsNkey != "" {
		opt, err := nats.NkeyOptionFromSeed(c.NatsNkey)
		if err != nil {
			return nil, fmt.Errorf("loading nkey from %s: %w", c.NatsNkey, err)
		}
		opts = append(opts, opt)
	}

	nc, err := nats.Connect(c.NatsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return nc, nil
}

// listener is the request/reply lifecycle shared by Service and DebugService:
// connect, subscribe, block until stopped, then drain the connection.
type listener struct {
	name    string
	nats    NatsConfig
	subject string
	queue   string
	logger  Logger
	handler func(ctx context.Context, data []byte) any

	nc *nats.Conn

	ready   chan struct{}
	done    chan struct{}
	drained chan struct{}
	mu      sync.Mutex
	stopped bool
}

func newListener(name, subject, queue string, cfg NatsConfig, logger Logger) *listener {
	return &listener{
		name:    name,
		nats:    cfg,
		subject: subject,
		queue:   queue,
		logger:  logger,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
}

// Start connects to NATS and begins handling requests.
// This method blocks until Stop is called or the context is cancelled.
func (l *listener) Start(ctx context.Context) error {
	nc, err := l.nats.connect(l.name, nats.ClosedHandler(func(*nats.Conn) {
		close(l.drained)
	}))
	if err != nil {
		return err
	}
	l.nc = nc

	// In-flight requests finish while the connection drains.
	reqCtx := context.WithoutCancel(ctx)
	_, err = nc.QueueSubscribe(l.subject, l.queue, func(msg *nats.Msg) {
		l.handleRequest(reqCtx, msg)
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("subscribing to %s: %w", l.subject, err)
	}
	if err := nc.Flush(); err != nil {
		nc.Close()
		return fmt.Errorf("flushing subscription to %s: %w", l.subject, err)
	}
	close(l.ready)

	l.logger.Info("%s started, listening on %s", l.name, l.subject)

	select {
	case <-ctx.Done():
		l.logger.Info("context cancelled, shutting down")
	case <-l.done:
		l.logger.Info("stop requested, shutting down")
	}

	return l.shutdown()
}

// Ready is closed once the subscription is active.
func (l *listener) Ready() <-chan struct{} {
	return l.ready
}

// Stop signals the service to shut down gracefully.
func (l *listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return nil
	}
	l.stopped = true
	close(l.done)
	return nil
}

func (l *listener) shutdown() error {
	// Drain delivers every queued request to its handler and flushes the
	// replies before the connection closes.
	if err := l.nc.Drain(); err != nil {
		l.logger.Warn("error draining connection: %v", err)
		l.nc.Close()
	}
	<-l.drained

	l.logger.Info("%s stopped", l.name)
	return nil
}

func (l *listener) handleRequest(ctx context.Context, msg *nats.Msg) {
	data, err := json.Marshal(l.handler(ctx, msg.Data))
	if err != nil {
		l.logger.Warn("failed to encode response: %v", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		l.logger.Warn("failed to send response: %v", err)
	}
}

// ErrorInfo is the error member of service responses.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes returned by the services.
const (
	CodeInvalidRequest       = "invalid_request"
	CodeInvalidIdentity      = "invalid_identity"
	CodeAuthenticationFailed = "authentication_failed"
)

// errorInfo maps an Authenticate or Plan error onto a response error.
// Only validation messages are passed through to the caller.
func errorInfo(err error) *ErrorInfo {
	if isValidation(err) {
		var verr *identity.ValidationError
		errors.As(err, &verr)
		return &ErrorInfo{Code: CodeInvalidIdentity, Message: verr.Error()}
	}
	return &ErrorInfo{Code: CodeAuthenticationFailed, Message: "authentication failed"}
}
