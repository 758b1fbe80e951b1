// ABOUTME: Minimal XRPC client for the AT Protocol session endpoints
// ABOUTME: Covers createSession, refreshSession, deleteSession, getSession and getProfile

package atproto

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidCredentials indicates the PDS rejected the identifier/password pair.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrServiceUnreachable indicates the PDS could not be reached at all.
var ErrServiceUnreachable = errors.New("service unreachable")

// ErrExpiredToken indicates the presented token is no longer accepted.
var ErrExpiredToken = errors.New("token expired")

// ProtocolError is a non-auth error response from the PDS, carrying the XRPC
// error code and message verbatim.
type ProtocolError struct {
	Status  int
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("xrpc error %s (status %d): %s", e.Code, e.Status, e.Message)
}

// Session is the result of a successful createSession or refreshSession call.
type Session struct {
	Handle     string `json:"handle"`
	DID        string `json:"did"`
	AccessJWT  string `json:"accessJwt"`
	RefreshJWT string `json:"refreshJwt"`
}

// Profile is the subset of app.bsky.actor.getProfile the deck cares about.
type Profile struct {
	Handle      string  `json:"handle"`
	DID         string  `json:"did"`
	DisplayName *string `json:"displayName,omitempty"`
	Avatar      *string `json:"avatar,omitempty"`
}

// Client is the capability the authenticator needs from the wire protocol.
// The core is agnostic to the transport behind it.
type Client interface {
	CreateSession(ctx context.Context, service, identifier, password string) (*Session, error)
	RefreshSession(ctx context.Context, service, refreshJWT string) (*Session, error)
	DeleteSession(ctx context.Context, service, refreshJWT string) error
	CheckSession(ctx context.Context, service, accessJWT string) error
	GetProfile(ctx context.Context, service, accessJWT, actor string) (*Profile, error)
}

// XRPCClient implements Client over plain HTTP against a PDS.
type XRPCClient struct {
	httpClient *http.Client
}

// NewXRPCClient creates a client with the given request timeout.
func NewXRPCClient(timeout time.Duration) *XRPCClient {
	return &XRPCClient{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// xrpcError is the standard XRPC error response body.
type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CreateSession performs com.atproto.server.createSession with an identifier
// (handle or email) and an app password.
func (c *XRPCClient) CreateSession(ctx context.Context, service, identifier, password string) (*Session, error) {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var session Session
	if err := c.call(ctx, service, "com.atproto.server.createSession", "", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// RefreshSession performs com.atproto.server.refreshSession. The refresh JWT
// is presented as the bearer token; a fresh token pair comes back.
func (c *XRPCClient) RefreshSession(ctx context.Context, service, refreshJWT string) (*Session, error) {
	var session Session
	if err := c.call(ctx, service, "com.atproto.server.refreshSession", refreshJWT, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// DeleteSession revokes the refresh token server-side.
func (c *XRPCClient) DeleteSession(ctx context.Context, service, refreshJWT string) error {
	return c.call(ctx, service, "com.atproto.server.deleteSession", refreshJWT, nil, nil)
}

// CheckSession performs com.atproto.server.getSession as a liveness probe for
// an access token.
func (c *XRPCClient) CheckSession(ctx context.Context, service, accessJWT string) error {
	u, err := endpoint(service, "com.atproto.server.getSession")
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodGet, u, accessJWT, nil, nil)
}

// GetProfile fetches display name and avatar for an actor (handle or DID).
func (c *XRPCClient) GetProfile(ctx context.Context, service, accessJWT, actor string) (*Profile, error) {
	u, err := endpoint(service, "app.bsky.actor.getProfile")
	if err != nil {
		return nil, err
	}
	u += "?actor=" + url.QueryEscape(actor)

	var profile Profile
	if err := c.do(ctx, http.MethodGet, u, accessJWT, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// call issues an XRPC procedure (POST) against the given service.
func (c *XRPCClient) call(ctx context.Context, service, method, bearer string, body, out any) error {
	u, err := endpoint(service, method)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, u, bearer, body, out)
}

func (c *XRPCClient) do(ctx context.Context, httpMethod, u, bearer string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, u, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Context cancellation stays visible to the caller; everything else
		// (DNS, refused connection, client timeout) is unreachable service.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrServiceUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// decodeError maps an XRPC error response to the package's typed errors.
func decodeError(resp *http.Response) error {
	var xerr xrpcError
	_ = json.NewDecoder(resp.Body).Decode(&xerr)

	switch xerr.Error {
	case "AuthenticationRequired", "InvalidLogin":
		return ErrInvalidCredentials
	case "ExpiredToken":
		return ErrExpiredToken
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrInvalidCredentials
	}

	code := xerr.Error
	if code == "" {
		code = "Unknown"
	}
	return &ProtocolError{
		Status:  resp.StatusCode,
		Code:    code,
		Message: xerr.Message,
	}
}

// endpoint joins a service base URL with an XRPC method name.
func endpoint(service, method string) (string, error) {
	base, err := url.Parse(service)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid service url %q", service)
	}
	return strings.TrimSuffix(base.String(), "/") + "/xrpc/" + method, nil
}

// Ensure XRPCClient implements Client.
var _ Client = (*XRPCClient)(nil)
