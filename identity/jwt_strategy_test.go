package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testIssuer = "https://auth.example.com"

// generateTestKeyPair generates an RSA key pair for testing.
func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	return privateKey, encodePublicKey(t, &privateKey.PublicKey)
}

func encodePublicKey(t *testing.T, pub any) string {
	t.Helper()

	pubKeyBytes, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("marshaling public key: %v", err)
	}
	pubKeyPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubKeyBytes})
	return base64.StdEncoding.EncodeToString(pubKeyPEM)
}

// createTestJWT creates a signed JWT for testing.
func createTestJWT(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()

	tokenString, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("signing JWT: %v", err)
	}
	return tokenString
}

func newTestJwtStrategy(t *testing.T, publicKey string, cfg JwtStrategyConfig) *JwtStrategy {
	t.Helper()

	cfg.Issuer = testIssuer
	cfg.PublicKey = publicKey
	s, err := NewJwtStrategy(cfg)
	if err != nil {
		t.Fatalf("creating strategy: %v", err)
	}
	return s
}

func TestJwtStrategy_GetAuthInfo_Success(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t)
	s := newTestJwtStrategy(t, publicKey, JwtStrategyConfig{})

	token := createTestJWT(t, jwt.SigningMethodRS256, privateKey, jwt.MapClaims{
		"iss":                testIssuer,
		"sub":                "user-123",
		"exp":                time.Now().Add(time.Hour).Unix(),
		"preferred_username": "alice",
		"given_name":         "Alice",
		"family_name":        "Liddell",
		"name":               "Alice Liddell",
		"email":              "alice@example.com",
		"groups":             []any{"one", "two", 3},
	})

	r, err := s.GetAuthInfo(context.Background(), token)
	if err != nil {
		t.Fatalf("GetAuthInfo() error = %v", err)
	}

	want := &Record{
		GivenName:   "Alice",
		FamilyName:  "Liddell",
		DisplayName: "Alice Liddell",
		Email:       "alice@example.com",
		Username:    "alice",
		Groups:      []string{"one", "two"},
		Attributes:  map[string]string{"sub": "user-123"},
	}
	if !reflect.DeepEqual(r, want) {
		t.Errorf("GetAuthInfo() = %+v, want %+v", r, want)
	}
	if err := Validate(r); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestJwtStrategy_GetAuthInfo_SubFallback(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t)
	s := newTestJwtStrategy(t, publicKey, JwtStrategyConfig{})

	token := createTestJWT(t, jwt.SigningMethodRS256, privateKey, jwt.MapClaims{
		"iss": testIssuer,
		"sub": "user-123",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	r, err := s.GetAuthInfo(context.Background(), token)
	if err != nil {
		t.Fatalf("GetAuthInfo() error = %v", err)
	}
	if r.Username != "user-123" {
		t.Errorf("Username = %q, want %q", r.Username, "user-123")
	}
	if len(r.Groups) != 0 {
		t.Errorf("Groups = %v, want none", r.Groups)
	}
}

func TestJwtStrategy_GetAuthInfo_CustomClaims(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t)
	s := newTestJwtStrategy(t, publicKey, JwtStrategyConfig{
		UsernameClaim:   "upn",
		GroupsClaimPath: "resource_access.crowd.groups",
	})

	token := createTestJWT(t, jwt.SigningMethodRS256, privateKey, jwt.MapClaims{
		"iss": testIssuer,
		"sub": "user-123",
		"upn": "a/b=c",
		"exp": time.Now().Add(time.Hour).Unix(),
		"resource_access": map[string]any{
			"crowd": map[string]any{"groups": []any{"admins"}},
		},
	})

	r, err := s.GetAuthInfo(context.Background(), token)
	if err != nil {
		t.Fatalf("GetAuthInfo() error = %v", err)
	}
	if r.Username != "a/b=c" {
		t.Errorf("Username = %q, want %q", r.Username, "a/b=c")
	}
	if !reflect.DeepEqual(r.Groups, []string{"admins"}) {
		t.Errorf("Groups = %v, want [admins]", r.Groups)
	}
}

func TestJwtStrategy_GetAuthInfo_ECDSA(t *testing.T) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating EC key: %v", err)
	}
	s := newTestJwtStrategy(t, encodePublicKey(t, &privateKey.PublicKey), JwtStrategyConfig{})

	token := createTestJWT(t, jwt.SigningMethodES256, privateKey, jwt.MapClaims{
		"iss": testIssuer,
		"sub": "ec-user",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := s.GetAuthInfo(context.Background(), token); err != nil {
		t.Fatalf("GetAuthInfo() error = %v", err)
	}
}

func TestJwtStrategy_GetAuthInfo_Rejected(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t)
	otherKey, _ := generateTestKeyPair(t)
	s := newTestJwtStrategy(t, publicKey, JwtStrategyConfig{})

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{
			name: "wrong issuer",
			token: createTestJWT(t, jwt.SigningMethodRS256, privateKey, jwt.MapClaims{
				"iss": "https://unknown-issuer.com",
				"sub": "user-123",
				"exp": time.Now().Add(time.Hour).Unix(),
			}),
			wantErr: ErrInvalidCredentials,
		},
		{
			name: "expired",
			token: createTestJWT(t, jwt.SigningMethodRS256, privateKey, jwt.MapClaims{
				"iss": testIssuer,
				"sub": "user-123",
				"exp": time.Now().Add(-time.Hour).Unix(),
			}),
			wantErr: ErrInvalidCredentials,
		},
		{
			name: "wrong key",
			token: createTestJWT(t, jwt.SigningMethodRS256, otherKey, jwt.MapClaims{
				"iss": testIssuer,
				"sub": "user-123",
				"exp": time.Now().Add(time.Hour).Unix(),
			}),
			wantErr: ErrInvalidCredentials,
		},
		{
			name: "hmac signed",
			token: createTestJWT(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{
				"iss": testIssuer,
				"sub": "user-123",
			}),
			wantErr: ErrInvalidCredentials,
		},
		{
			name: "no username",
			token: createTestJWT(t, jwt.SigningMethodRS256, privateKey, jwt.MapClaims{
				"iss": testIssuer,
				"exp": time.Now().Add(time.Hour).Unix(),
			}),
			wantErr: ErrInvalidCredentials,
		},
		{
			name:    "malformed",
			token:   "not-a-jwt",
			wantErr: ErrInvalidCredentials,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.GetAuthInfo(context.Background(), tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("GetAuthInfo() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestJwtStrategy_GetAuthInfo_GroupsNotArray(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t)
	s := newTestJwtStrategy(t, publicKey, JwtStrategyConfig{})

	token := createTestJWT(t, jwt.SigningMethodRS256, privateKey, jwt.MapClaims{
		"iss":    testIssuer,
		"sub":    "user-123",
		"exp":    time.Now().Add(time.Hour).Unix(),
		"groups": "one",
	})
	if _, err := s.GetAuthInfo(context.Background(), token); err == nil {
		t.Error("GetAuthInfo() expected error for non-array groups claim")
	}
}

func TestNewJwtStrategy_Errors(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)

	tests := []struct {
		name string
		cfg  JwtStrategyConfig
	}{
		{"missing issuer", JwtStrategyConfig{PublicKey: publicKey}},
		{"invalid base64", JwtStrategyConfig{Issuer: testIssuer, PublicKey: "%%%"}},
		{"not pem", JwtStrategyConfig{Issuer: testIssuer, PublicKey: base64.StdEncoding.EncodeToString([]byte("nope"))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewJwtStrategy(tt.cfg); err == nil {
				t.Error("NewJwtStrategy() expected error")
			}
		})
	}
}
