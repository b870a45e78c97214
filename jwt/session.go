package jwt

import (
	"errors"
	"fmt"
	"io"
	"time"

	natsjwt "github.com/nats-io/jwt/v2"
	"github.com/nats-io/nkeys"
)

// DefaultSessionTTL is used when a SessionIssuer is created without a TTL.
const DefaultSessionTTL = time.Hour

// IssuedSession is a freshly minted session token with its validity window.
type IssuedSession struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SessionIssuer mints session tokens as NATS user JWTs signed by an account key.
// The JWT subject is an ephemeral user key; the directory username is carried in
// the name claim.
type SessionIssuer struct {
	signer Signer
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionIssuer creates a SessionIssuer. A zero ttl means DefaultSessionTTL.
func NewSessionIssuer(signer Signer, ttl time.Duration) (*SessionIssuer, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must not be negative")
	}
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionIssuer{signer: signer, ttl: ttl, now: time.Now}, nil
}

// Issue creates a signed session token for username.
func (i *SessionIssuer) Issue(username string) (*IssuedSession, error) {
	if username == "" {
		return nil, errors.New("username is required")
	}

	subject, err := nkeys.CreateUser()
	if err != nil {
		return nil, fmt.Errorf("generating session key: %w", err)
	}
	subjectPub, err := subject.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("getting session public key: %w", err)
	}

	// JWT timestamps have second granularity.
	issuedAt := i.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(i.ttl)

	claims := natsjwt.NewUserClaims(subjectPub)
	claims.Name = username
	claims.Expires = expiresAt.Unix()

	token, err := claims.Encode(NewSignerAdapter(i.signer))
	if err != nil {
		return nil, fmt.Errorf("encoding session JWT: %w", err)
	}

	return &IssuedSession{Token: token, IssuedAt: issuedAt, ExpiresAt: expiresAt}, nil
}

// SignerAdapter adapts a Signer interface to nkeys.KeyPair for JWT encoding.
type SignerAdapter struct {
	signer Signer
}

// NewSignerAdapter creates a new SignerAdapter from a Signer.
func NewSignerAdapter(s Signer) SignerAdapter {
	return SignerAdapter{signer: s}
}

func (s SignerAdapter) Seed() ([]byte, error) {
	return nil, fmt.Errorf("seed not available")
}

func (s SignerAdapter) PublicKey() (string, error) {
	return s.signer.PublicKey(), nil
}

func (s SignerAdapter) PrivateKey() ([]byte, error) {
	return nil, fmt.Errorf("private key not available")
}

func (s SignerAdapter) Sign(input []byte) ([]byte, error) {
	return s.signer.Sign(input)
}

func (s SignerAdapter) Verify(input, sig []byte) error {
	return fmt.Errorf("verify not implemented")
}

func (s SignerAdapter) Wipe() {}

func (s SignerAdapter) Open(input []byte, sender string) ([]byte, error) {
	return nil, fmt.Errorf("open not implemented")
}

func (s SignerAdapter) Seal(input []byte, recipient string) ([]byte, error) {
	return nil, fmt.Errorf("seal not implemented")
}

func (s SignerAdapter) SealWithRand(input []byte, recipient string, rr io.Reader) ([]byte, error) {
	return nil, fmt.Errorf("seal with rand not implemented")
}
