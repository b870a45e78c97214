package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrStrategyNotFound is returned when an explicit strategy id cannot be resolved.
	ErrStrategyNotFound = errors.New("authentication strategy not found")

	// ErrStrategyAmbiguous is returned when several strategies are configured and
	// the request does not name one.
	ErrStrategyAmbiguous = errors.New("authentication strategy is ambiguous")
)

// Envelope is the optional JSON wrapper of an auth identifier:
//
//	{ "strategy": "corp-sso", "token": "<jwt>" }
//
// Identifiers that are not an envelope are passed unchanged to the only
// configured strategy.
type Envelope struct {
	Strategy string `json:"strategy,omitempty"`
	Token    string `json:"token"`
}

// StrategyManager routes auth identifiers to one of several strategies.
type StrategyManager struct {
	ids        []string
	strategies map[string]Strategy
}

var _ Strategy = (*StrategyManager)(nil)

// NewStrategyManager constructs a StrategyManager.
func NewStrategyManager(strategies map[string]Strategy) (*StrategyManager, error) {
	if len(strategies) == 0 {
		return nil, fmt.Errorf("no authentication strategies configured")
	}

	m := &StrategyManager{strategies: make(map[string]Strategy, len(strategies))}
	for id, s := range strategies {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("authentication strategy id cannot be empty")
		}
		if s == nil {
			return nil, fmt.Errorf("authentication strategy %q is nil", id)
		}
		m.strategies[id] = s
		m.ids = append(m.ids, id)
	}
	sort.Strings(m.ids)
	return m, nil
}

// IDs returns the configured strategy ids in sorted order.
func (m *StrategyManager) IDs() []string {
	return append([]string(nil), m.ids...)
}

// Select resolves the strategy and the token it should verify.
func (m *StrategyManager) Select(authID string) (string, Strategy, string, error) {
	env, ok := parseEnvelope(authID)
	if ok && env.Strategy != "" {
		s, found := m.strategies[env.Strategy]
		if !found {
			return "", nil, "", fmt.Errorf("%w: %s", ErrStrategyNotFound, env.Strategy)
		}
		return env.Strategy, s, env.Token, nil
	}

	token := authID
	if ok {
		token = env.Token
	}
	if len(m.ids) != 1 {
		return "", nil, "", fmt.Errorf("%w: %d strategies configured", ErrStrategyAmbiguous, len(m.ids))
	}
	id := m.ids[0]
	return id, m.strategies[id], token, nil
}

// GetAuthInfo selects a strategy and delegates to it.
func (m *StrategyManager) GetAuthInfo(ctx context.Context, authID string) (*Record, error) {
	id, s, token, err := m.Select(authID)
	if err != nil {
		return nil, err
	}
	r, err := s.GetAuthInfo(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", id, err)
	}
	return r, nil
}

func parseEnvelope(authID string) (Envelope, bool) {
	trimmed := strings.TrimSpace(authID)
	if !strings.HasPrefix(trimmed, "{") {
		return Envelope{}, false
	}
	var env Envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return Envelope{}, false
	}
	return env, true
}
