package directory

import "encoding/base64"

// keyToken encodes a name as a NATS KV key token. KV keys only permit a small
// character set, so names are stored base64url-encoded without padding.
func keyToken(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

// decodeKeyToken reverses keyToken.
func decodeKeyToken(token string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
