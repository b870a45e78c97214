package auth

// DefaultGroupPrefix marks the groups owned by the reconciler.
const DefaultGroupPrefix = "crowd-authenticator:"

// Settings configures an Authenticator. Zero fields are replaced by their
// defaults at construction and the settings are not changed afterwards.
type Settings struct {
	// PasswordStrategy generates passwords for new users.
	// Default: DefaultPasswordStrategy
	PasswordStrategy PasswordStrategy

	// GroupPrefix selects the managed groups. Identity groups are added with
	// this prefix and managed groups missing from the identity are removed.
	// Default: "crowd-authenticator:"
	GroupPrefix string

	// DefaultGroups are added verbatim (unprefixed) when the user lacks them.
	DefaultGroups []string
}

func (s Settings) withDefaults() Settings {
	if s.PasswordStrategy == nil {
		s.PasswordStrategy = DefaultPasswordStrategy
	}
	if s.GroupPrefix == "" {
		s.GroupPrefix = DefaultGroupPrefix
	}
	s.DefaultGroups = append([]string{}, s.DefaultGroups...)
	return s
}
