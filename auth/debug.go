package auth

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/msimon/crowdauth/identity"
)

// DefaultDebugSubject is the NATS subject for plan requests.
const DefaultDebugSubject = "crowdauth.debug"

// DebugConfig holds configuration for the debug service.
type DebugConfig struct {
	NatsConfig

	// Subject is the request subject. Default: "crowdauth.debug"
	Subject string
}

type debugRequest struct {
	AuthID   string           `json:"authId,omitempty"`
	Identity *identity.Record `json:"identity,omitempty"`
}

type debugResponse struct {
	Plan  *Plan      `json:"plan,omitempty"`
	Error *ErrorInfo `json:"error,omitempty"`
}

// DebugService answers plan requests over NATS: it shows which group
// changes an authentication would make without making them.
type DebugService struct {
	*listener
	authenticator *Authenticator
	config        DebugConfig
	logger        Logger
}

// DebugOption configures a DebugService.
type DebugOption func(*DebugService)

// WithDebugLogger sets a custom logger for the debug service.
func WithDebugLogger(l Logger) DebugOption {
	return func(s *DebugService) {
		s.logger = l
	}
}

// NewDebugService creates a new DebugService.
func NewDebugService(authenticator *Authenticator, config DebugConfig, opts ...DebugOption) (*DebugService, error) {
	if authenticator == nil {
		return nil, errors.New("authenticator is required")
	}
	nc, err := config.NatsConfig.withDefaults()
	if err != nil {
		return nil, err
	}
	config.NatsConfig = nc
	if config.Subject == "" {
		config.Subject = DefaultDebugSubject
	}

	s := &DebugService{
		authenticator: authenticator,
		config:        config,
		logger:        defaultLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.listener = newListener("crowdauth-debug", config.Subject, DefaultQueueGroup, config.NatsConfig, s.logger)
	s.listener.handler = func(ctx context.Context, data []byte) any {
		return s.handle(ctx, data)
	}
	return s, nil
}

func (s *DebugService) handle(ctx context.Context, data []byte) debugResponse {
	var req debugRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return debugResponse{Error: &ErrorInfo{Code: CodeInvalidRequest, Message: "failed to parse debug request"}}
	}

	plan, err := s.authenticator.Plan(ctx, Input{AuthID: req.AuthID, Record: req.Identity})
	if err != nil {
		s.logger.Warn("plan failed: %v", err)
		return debugResponse{Error: errorInfo(err)}
	}
	return debugResponse{Plan: &plan}
}
