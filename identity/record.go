// Package identity provides the normalized identity record produced by
// authentication strategies, its validation, and the strategies themselves.
package identity

// Record is the normalized result of authenticating an external identity.
// Groups are bare names; the reconciler applies the managed prefix.
type Record struct {
	GivenName   string            `json:"givenName,omitempty"`
	FamilyName  string            `json:"familyName,omitempty"`
	DisplayName string            `json:"displayName"`
	Email       string            `json:"email"`
	Username    string            `json:"username"`
	Groups      []string          `json:"groups,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}
