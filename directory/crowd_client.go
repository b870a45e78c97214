package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// crowdAPIPath is the usermanagement REST root below the base URL.
	crowdAPIPath = "/rest/usermanagement/1"

	defaultCrowdTimeout = 30 * time.Second
)

// Crowd reason codes that map onto sentinel errors. INVALID_USER and
// INVALID_GROUP only do so once a lookup confirms the entity exists.
const (
	reasonUserNotFound  = "USER_NOT_FOUND"
	reasonGroupNotFound = "GROUP_NOT_FOUND"
	reasonInvalidGroup  = "INVALID_GROUP"
	reasonInvalidUser   = "INVALID_USER"
)

// CrowdClientConfig holds configuration for CrowdClient.
type CrowdClientConfig struct {
	// BaseURL is the Crowd server root, e.g. "https://crowd.example.com/crowd".
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`

	// ApplicationName and ApplicationPassword authenticate this application to Crowd.
	ApplicationName     string `json:"applicationName" yaml:"applicationName"`
	ApplicationPassword string `json:"applicationPassword" yaml:"applicationPassword"`

	// RetryMax is the number of transport-level retries. Default: 0.
	RetryMax int `json:"retryMax,omitempty" yaml:"retryMax,omitempty"`

	// Timeout bounds every single HTTP attempt, as a duration string. Default: "30s".
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// GetTimeout returns the request timeout, defaulting to 30s.
func (c *CrowdClientConfig) GetTimeout() time.Duration {
	if c.Timeout == "" {
		return defaultCrowdTimeout
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return defaultCrowdTimeout
	}
	return d
}

// CrowdClient implements Client against the Crowd usermanagement REST API.
type CrowdClient struct {
	baseURL string
	appName string
	appPass string
	client  *retryablehttp.Client
}

var _ Client = (*CrowdClient)(nil)

// NewCrowdClient creates a new CrowdClient from the given configuration.
func NewCrowdClient(cfg CrowdClientConfig) (*CrowdClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("crowd client: baseUrl is required")
	}
	if cfg.ApplicationName == "" {
		return nil, fmt.Errorf("crowd client: applicationName is required")
	}
	if cfg.RetryMax < 0 {
		return nil, fmt.Errorf("crowd client: retryMax must not be negative")
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.HTTPClient.Timeout = cfg.GetTimeout()
	rc.Logger = nil
	// Hand the last response back so Crowd's error body can be decoded.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &CrowdClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/") + crowdAPIPath,
		appName: cfg.ApplicationName,
		appPass: cfg.ApplicationPassword,
		client:  rc,
	}, nil
}

// crowdUser is the Crowd wire form of a user.
type crowdUser struct {
	Name        string         `json:"name"`
	FirstName   string         `json:"first-name,omitempty"`
	LastName    string         `json:"last-name,omitempty"`
	DisplayName string         `json:"display-name,omitempty"`
	Email       string         `json:"email,omitempty"`
	Active      bool           `json:"active"`
	Password    *crowdPassword `json:"password,omitempty"`
}

type crowdPassword struct {
	Value string `json:"value"`
}

type crowdGroup struct {
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
	Active bool   `json:"active,omitempty"`
}

type crowdGroupList struct {
	Groups []crowdGroup `json:"groups"`
}

type crowdSession struct {
	Token       string `json:"token"`
	CreatedDate int64  `json:"created-date"`
	ExpiryDate  int64  `json:"expiry-date"`
}

type crowdError struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (u *crowdUser) toUser() *User {
	return &User{
		Username:    u.Name,
		GivenName:   u.FirstName,
		FamilyName:  u.LastName,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Active:      u.Active,
	}
}

// GetUser fetches a user by name.
func (c *CrowdClient) GetUser(ctx context.Context, username string, expand bool) (*User, error) {
	q := url.Values{"username": {username}}
	if expand {
		q.Set("expand", "attributes")
	}
	var out crowdUser
	if err := c.do(ctx, http.MethodGet, "/user", q, nil, &out); err != nil {
		return nil, err
	}
	return out.toUser(), nil
}

// CreateUser creates a new user. The password is only ever sent here.
func (c *CrowdClient) CreateUser(ctx context.Context, user *User) (*User, error) {
	if user == nil {
		return nil, errors.New("crowd client: user is nil")
	}
	in := crowdUser{
		Name:        user.Username,
		FirstName:   user.GivenName,
		LastName:    user.FamilyName,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		Active:      user.Active,
		Password:    &crowdPassword{Value: user.Password},
	}
	var out crowdUser
	if err := c.do(ctx, http.MethodPost, "/user", nil, in, &out); err != nil {
		return nil, confirmExists(err, reasonInvalidUser, ErrUserExists, func() error {
			_, err := c.GetUser(ctx, user.Username, false)
			return err
		})
	}
	if out.Name == "" {
		// Some Crowd versions answer 201 with an empty body.
		created := *user
		created.Password = ""
		return &created, nil
	}
	return out.toUser(), nil
}

// CreateGroup creates a group. Crowd answers INVALID_GROUP both for an
// existing group and for a rejected one; only the former is ErrGroupExists.
func (c *CrowdClient) CreateGroup(ctx context.Context, name string) error {
	in := crowdGroup{Name: name, Type: "GROUP", Active: true}
	if err := c.do(ctx, http.MethodPost, "/group", nil, in, nil); err != nil {
		return confirmExists(err, reasonInvalidGroup, ErrGroupExists, func() error {
			return c.do(ctx, http.MethodGet, "/group", url.Values{"groupname": {name}}, nil, nil)
		})
	}
	return nil
}

// ListUserGroups returns the user's direct group memberships.
func (c *CrowdClient) ListUserGroups(ctx context.Context, username string) ([]string, error) {
	var out crowdGroupList
	if err := c.do(ctx, http.MethodGet, "/user/group/direct", url.Values{"username": {username}}, nil, &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Groups))
	for _, g := range out.Groups {
		names = append(names, g.Name)
	}
	return names, nil
}

// AddUserToGroup adds a direct membership.
func (c *CrowdClient) AddUserToGroup(ctx context.Context, username, group string) error {
	return c.do(ctx, http.MethodPost, "/user/group/direct", url.Values{"username": {username}}, crowdGroup{Name: group}, nil)
}

// RemoveUserFromGroup removes a direct membership.
func (c *CrowdClient) RemoveUserFromGroup(ctx context.Context, username, group string) error {
	q := url.Values{"username": {username}, "groupname": {group}}
	return c.do(ctx, http.MethodDelete, "/user/group/direct", q, nil, nil)
}

// CreateSession opens an unvalidated session for the user.
func (c *CrowdClient) CreateSession(ctx context.Context, username string) (*Session, error) {
	body := map[string]string{"username": username}
	var out crowdSession
	if err := c.do(ctx, http.MethodPost, "/session", url.Values{"validate-password": {"false"}}, body, &out); err != nil {
		return nil, err
	}
	return &Session{
		Token:     out.Token,
		CreatedAt: time.UnixMilli(out.CreatedDate).UTC(),
		ExpiresAt: time.UnixMilli(out.ExpiryDate).UTC(),
	}, nil
}

// do sends a request and decodes a JSON response into out (if non-nil).
// Names travel in the query, encoded by url.Values.
func (c *CrowdClient) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("crowd client: encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("crowd client: building request: %w", err)
	}
	req.SetBasicAuth(c.appName, c.appPass)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// With the passthrough error handler a final 5xx comes back together with
	// an error; the response still carries Crowd's reason.
	resp, err := c.client.Do(req)
	if resp == nil {
		if err == nil {
			err = errors.New("no response")
		}
		return fmt.Errorf("crowd client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("crowd client: reading response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("crowd client: decoding response: %w", err)
	}
	return nil
}

// confirmExists attaches sentinel to a Crowd rejection with the given reason
// when lookup finds the entity. Any other rejection keeps only its reason.
func confirmExists(err error, reason string, sentinel error, lookup func() error) error {
	var de *Error
	if !errors.As(err, &de) || de.Reason != reason {
		return err
	}
	if lookup() == nil {
		de.err = sentinel
	}
	return err
}

func decodeError(resp *http.Response) error {
	var ce crowdError
	data, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(data, &ce)

	e := &Error{StatusCode: resp.StatusCode, Reason: ce.Reason, Message: ce.Message}
	switch ce.Reason {
	case reasonUserNotFound:
		e.err = ErrUserNotFound
	case reasonGroupNotFound:
		e.err = ErrGroupNotFound
	}
	return e
}
