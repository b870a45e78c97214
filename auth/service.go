package auth

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/msimon/crowdauth/directory"
	"github.com/msimon/crowdauth/identity"
)

const (
	// DefaultSubject is the NATS subject for authenticate requests.
	DefaultSubject = "crowdauth.authenticate"

	// DefaultQueueGroup spreads requests over all running instances.
	DefaultQueueGroup = "crowdauth"
)

// ServiceConfig holds configuration for the authenticate service.
type ServiceConfig struct {
	NatsConfig

	// Subject is the request subject. Default: "crowdauth.authenticate"
	Subject string

	// QueueGroup is the subscription queue group. Default: "crowdauth"
	QueueGroup string
}

// AuthenticateRequest is the JSON body of an authenticate request. Identity
// takes precedence over AuthID.
type AuthenticateRequest struct {
	AuthID   string           `json:"authId,omitempty"`
	Identity *identity.Record `json:"identity,omitempty"`
}

// FailureInfo describes a group operation that failed during the sync.
type FailureInfo struct {
	Op    Op     `json:"op"`
	Group string `json:"group"`
	Error string `json:"error"`
}

// AuthenticateResponse is the JSON reply to an authenticate request.
type AuthenticateResponse struct {
	Session  *directory.Session `json:"session,omitempty"`
	Failures []FailureInfo      `json:"failures,omitempty"`
	Error    *ErrorInfo         `json:"error,omitempty"`
}

// Service answers authenticate requests over NATS request/reply.
type Service struct {
	*listener
	authenticator *Authenticator
	config        ServiceConfig
	logger        Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets a custom logger for the service.
func WithServiceLogger(l Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

// NewService creates a new Service.
func NewService(authenticator *Authenticator, config ServiceConfig, opts ...ServiceOption) (*Service, error) {
	if authenticator == nil {
		return nil, errors.New("authenticator is required")
	}
	nc, err := config.NatsConfig.withDefaults()
	if err != nil {
		return nil, err
	}
	config.NatsConfig = nc
	if config.Subject == "" {
		config.Subject = DefaultSubject
	}
	if config.QueueGroup == "" {
		config.QueueGroup = DefaultQueueGroup
	}

	s := &Service{
		authenticator: authenticator,
		config:        config,
		logger:        defaultLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.listener = newListener("crowdauth-authenticate", config.Subject, config.QueueGroup, config.NatsConfig, s.logger)
	s.listener.handler = func(ctx context.Context, data []byte) any {
		return s.handle(ctx, data)
	}
	return s, nil
}

// handle decodes one request and authenticates it.
func (s *Service) handle(ctx context.Context, data []byte) AuthenticateResponse {
	var req AuthenticateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.logger.Warn("failed to decode authenticate request: %v", err)
		return AuthenticateResponse{Error: &ErrorInfo{Code: CodeInvalidRequest, Message: "failed to parse authenticate request"}}
	}

	s.logger.Debug("authenticate request received")

	result, err := s.authenticator.Authenticate(ctx, Input{AuthID: req.AuthID, Record: req.Identity})
	if err != nil {
		return AuthenticateResponse{Error: errorInfo(err)}
	}

	resp := AuthenticateResponse{Session: result.Session}
	for _, f := range result.Sync.Failures() {
		resp.Failures = append(resp.Failures, FailureInfo{Op: f.Op, Group: f.Group, Error: f.Err.Error()})
	}
	return resp
}
