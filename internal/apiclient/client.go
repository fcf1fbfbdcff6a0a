// Package apiclient talks to the PagePulse REST API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/types"
	"golang.org/x/oauth2"
)

const defaultTimeout = 15 * time.Second

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
	log     *log.Logger
	token   string
}

// New returns an anonymous client for the API rooted at baseURL.
func New(baseURL string, l *log.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: defaultTimeout},
		log:     l,
	}, nil
}

// WithToken returns a copy of c that authenticates every request with token.
func (c *Client) WithToken(token string) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.http)
	hc := oauth2.NewClient(ctx, ts)
	hc.Timeout = defaultTimeout

	return &Client{
		baseURL: c.baseURL,
		http:    hc,
		log:     c.log,
		token:   token,
	}
}

func (c *Client) Token() string {
	return c.token
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.Printf("failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(se); err != nil || se.Message == "" {
			se.StatusCode = resp.StatusCode
			se.Message = strings.ToLower(http.StatusText(resp.StatusCode))
		}
		return se
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *Client) Register(ctx context.Context, username, email, password string) (types.AuthResponse, error) {
	var res types.AuthResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/register", nil, registerRequest{
		Email:    email,
		Username: username,
		Password: password,
	}, &res)
	return res, err
}

func (c *Client) Login(ctx context.Context, email, password string) (types.AuthResponse, error) {
	var res types.AuthResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, loginRequest{Email: email, Password: password}, &res)
	return res, err
}

// Session returns the user the client's token belongs to.
func (c *Client) Session(ctx context.Context) (types.User, error) {
	var u types.User
	err := c.do(ctx, http.MethodGet, "/api/auth/session", nil, nil, &u)
	return u, err
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/auth/logout", nil, nil, nil)
}

func (c *Client) FetchUser(ctx context.Context, id string) (types.User, error) {
	var u types.User
	err := c.do(ctx, http.MethodGet, "/api/users/"+id, nil, nil, &u)
	return u, err
}

func (c *Client) SearchUsers(ctx context.Context, q string, limit int) ([]types.User, error) {
	query := url.Values{"q": {q}}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var users []types.User
	err := c.do(ctx, http.MethodGet, "/api/users", query, nil, &users)
	return users, err
}
