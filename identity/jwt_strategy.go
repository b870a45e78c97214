package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultUsernameClaim   = "preferred_username"
	defaultGroupsClaimPath = "groups"
)

// JwtStrategyConfig holds configuration for JwtStrategy.
type JwtStrategyConfig struct {
	// ID names the strategy for envelope routing.
	ID string `json:"id" yaml:"id"`
	// Issuer is the expected JWT issuer (iss claim).
	Issuer string `json:"issuer" yaml:"issuer"`
	// PublicKey is the PEM-encoded public key for JWT signature verification (base64-encoded PEM block).
	PublicKey string `json:"publicKey" yaml:"publicKey"`
	// UsernameClaim names the claim holding the username. Falls back to "sub".
	// Default: "preferred_username"
	UsernameClaim string `json:"usernameClaim,omitempty" yaml:"usernameClaim,omitempty"`
	// GroupsClaimPath is the path to groups in JWT claims (dot-separated).
	// Default: "groups"
	GroupsClaimPath string `json:"groupsClaimPath,omitempty" yaml:"groupsClaimPath,omitempty"`
}

// JwtStrategy verifies externally issued ID tokens and maps their claims onto
// an identity record.
type JwtStrategy struct {
	issuer          string
	publicKey       any
	usernameClaim   string
	groupsClaimPath []string
}

var _ Strategy = (*JwtStrategy)(nil)

// NewJwtStrategy creates a JwtStrategy from the given configuration.
func NewJwtStrategy(cfg JwtStrategyConfig) (*JwtStrategy, error) {
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	pubKey, err := parsePublicKey(cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}

	usernameClaim := cfg.UsernameClaim
	if usernameClaim == "" {
		usernameClaim = defaultUsernameClaim
	}
	groupsPath := cfg.GroupsClaimPath
	if groupsPath == "" {
		groupsPath = defaultGroupsClaimPath
	}

	return &JwtStrategy{
		issuer:          cfg.Issuer,
		publicKey:       pubKey,
		usernameClaim:   usernameClaim,
		groupsClaimPath: strings.Split(groupsPath, "."),
	}, nil
}

// parsePublicKey parses a PEM-encoded public key.
// pemDataB64 is base64 encoded.
func parsePublicKey(pemDataB64 string) (any, error) {
	pemData, err := base64.StdEncoding.DecodeString(pemDataB64)
	if err != nil {
		return nil, errors.New("failed to decode base64 PEM block")
	}
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		return pub, nil
	}
	if rsaPub, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return rsaPub, nil
	}
	return nil, errors.New("unsupported public key format")
}

// GetAuthInfo verifies the token in authID and returns the identity from its claims.
func (p *JwtStrategy) GetAuthInfo(_ context.Context, authID string) (*Record, error) {
	token, err := p.parseAndVerify(authID)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidTokenType
	}

	if issuer, _ := claims["iss"].(string); issuer != p.issuer {
		return nil, ErrInvalidCredentials
	}

	username := stringClaim(claims, p.usernameClaim)
	if username == "" {
		username = stringClaim(claims, "sub")
	}
	if username == "" {
		return nil, fmt.Errorf("%w: token has no %s or sub claim", ErrInvalidCredentials, p.usernameClaim)
	}

	groups, err := extractGroups(claims, p.groupsClaimPath)
	if err != nil {
		return nil, err
	}

	attrs := make(map[string]string)
	if sub := stringClaim(claims, "sub"); sub != "" {
		attrs["sub"] = sub
	}

	return &Record{
		GivenName:   stringClaim(claims, "given_name"),
		FamilyName:  stringClaim(claims, "family_name"),
		DisplayName: stringClaim(claims, "name"),
		Email:       stringClaim(claims, "email"),
		Username:    username,
		Groups:      groups,
		Attributes:  attrs,
	}, nil
}

func (p *JwtStrategy) parseAndVerify(tokenString string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		switch p.publicKey.(type) {
		case *rsa.PublicKey:
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
		case *ecdsa.PublicKey:
			if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
		}
		return p.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if !token.Valid {
		return nil, ErrInvalidCredentials
	}
	return token, nil
}

func stringClaim(claims jwt.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}

// extractGroups reads the groups array at the given claim path.
// A missing claim yields no groups.
func extractGroups(claims jwt.MapClaims, path []string) ([]string, error) {
	var current any = map[string]any(claims)
	for i, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("invalid claim path at %q", strings.Join(path[:i], "."))
		}
		current, ok = m[key]
		if !ok {
			return nil, nil
		}
	}

	raw, ok := current.([]any)
	if !ok {
		return nil, fmt.Errorf("groups claim is not an array")
	}

	groups := make([]string, 0, len(raw))
	for _, g := range raw {
		if s, ok := g.(string); ok && s != "" {
			groups = append(groups, s)
		}
	}
	return groups, nil
}
