// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package table appends rows to a Feishu/Lark Bitable table.
//
// A run resolves its destination once through Open, which authenticates,
// follows a wiki link to the underlying table app when needed, and checks
// that the reference names a table. Rows are then added one call at a time
// through the returned Sink. The tenant access token is cached until shortly
// before it expires.
package table

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
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/arxiv-digest/internal/httputil"
	"github.com/pdiddy/arxiv-digest/pkg/types"
)

var (
	// ErrAuth reports a failure to obtain a tenant access token.
	ErrAuth = errors.New("table auth failed")

	// ErrDestination reports a destination reference that does not resolve
	// to an app token and table ID.
	ErrDestination = errors.New("table destination unresolved")
)

// APIError is a non-zero code returned by the open API.
type APIError struct {
	Op   string
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: code %d: %s", e.Op, e.Code, e.Msg)
}

const (
	defaultAPIBase    = "https://open.feishu.cn/open-apis"
	defaultUserIDType = "open_id"

	// tokenMargin is subtracted from the advertised token lifetime.
	tokenMargin = 5 * time.Minute
)

// Client is an open API client bound to one application.
type Client struct {
	cfg    types.TableConfig
	http   *httputil.Client
	logger zerolog.Logger
	now    func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient returns a Client for cfg.
func NewClient(cfg types.TableConfig, logger zerolog.Logger) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.UserIDType == "" {
		cfg.UserIDType = defaultUserIDType
	}
	return &Client{
		cfg:    cfg,
		http:   httputil.NewClient(cfg.Timeout, cfg.MaxRetries, 0, logger),
		logger: logger,
		now:    time.Now,
	}
}

// Destination identifies the table rows are appended to.
type Destination struct {
	AppToken string
	TableID  string
	ViewID   string
}

// reference is a parsed destination link before wiki resolution.
type reference struct {
	token   string
	wiki    bool
	tableID string
	viewID  string
}

// parseReference splits a table link such as
// https://example.feishu.cn/base/<app>?table=<tbl>&view=<vew> or
// https://example.feishu.cn/wiki/<node>?table=<tbl>.
func parseReference(ref string) (reference, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return reference{}, fmt.Errorf("%w: parsing %q: %v", ErrDestination, ref, err)
	}

	path := strings.TrimRight(u.Path, "/")
	token := path[strings.LastIndex(path, "/")+1:]
	if token == "" {
		return reference{}, fmt.Errorf("%w: no app token in %q", ErrDestination, ref)
	}

	q := u.Query()
	r := reference{
		token:   token,
		wiki:    strings.Contains(u.Path, "/wiki/"),
		tableID: q.Get("table"),
		viewID:  q.Get("view"),
	}
	if r.tableID == "" {
		return reference{}, fmt.Errorf("%w: no table parameter in %q", ErrDestination, ref)
	}
	return r, nil
}

// Open resolves the configured destination and returns a Sink bound to it.
// Every failure is fatal for the caller: ErrAuth when no token can be
// obtained, ErrDestination when the reference cannot be resolved.
func (c *Client) Open(ctx context.Context) (*Sink, error) {
	ref, err := parseReference(c.cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	if _, err := c.Token(ctx); err != nil {
		return nil, err
	}

	dest := Destination{AppToken: ref.token, TableID: ref.tableID, ViewID: ref.viewID}
	if ref.wiki {
		objToken, err := c.wikiObjectToken(ctx, ref.token)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDestination, err)
		}
		dest.AppToken = objToken
	}

	c.logger.Info().
		Str("app_token", dest.AppToken).
		Str("table_id", dest.TableID).
		Msg("table destination resolved")

	return &Sink{client: c, dest: dest}, nil
}

// Token returns a tenant access token, reusing the cached one until it is
// within tokenMargin of expiry.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	var resp struct {
		Code   int    `json:"code"`
		Msg    string `json:"msg"`
		Token  string `json:"tenant_access_token"`
		Expire int    `json:"expire"`
	}
	payload := map[string]string{"app_id": c.cfg.AppID, "app_secret": c.cfg.AppSecret}
	if err := c.call(ctx, http.MethodPost, "/auth/v3/tenant_access_token/internal", "", payload, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("%w: %v", ErrAuth, &APIError{Op: "tenant_access_token", Code: resp.Code, Msg: resp.Msg})
	}
	if resp.Token == "" {
		return "", fmt.Errorf("%w: empty tenant_access_token", ErrAuth)
	}

	c.token = resp.Token
	c.tokenExpiry = c.now().Add(time.Duration(resp.Expire)*time.Second - tokenMargin)
	return c.token, nil
}

func (c *Client) wikiObjectToken(ctx context.Context, nodeToken string) (string, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return "", err
	}

	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			Node *struct {
				ObjToken string `json:"obj_token"`
				ObjType  string `json:"obj_type"`
				Title    string `json:"title"`
			} `json:"node"`
		} `json:"data"`
	}
	path := "/wiki/v2/spaces/get_node?token=" + url.QueryEscape(nodeToken)
	if err := c.call(ctx, http.MethodGet, path, token, nil, &resp); err != nil {
		return "", fmt.Errorf("getting wiki node: %w", err)
	}
	if resp.Code != 0 {
		return "", &APIError{Op: "get_node", Code: resp.Code, Msg: resp.Msg}
	}
	if resp.Data.Node == nil || resp.Data.Node.ObjToken == "" {
		return "", fmt.Errorf("wiki node %s has no object token", nodeToken)
	}

	c.logger.Debug().
		Str("node_token", nodeToken).
		Str("obj_type", resp.Data.Node.ObjType).
		Str("title", resp.Data.Node.Title).
		Msg("wiki node resolved")
	return resp.Data.Node.ObjToken, nil
}

// createRecord adds one row and returns its record ID, which may be empty.
func (c *Client) createRecord(ctx context.Context, dest Destination, fields map[string]any) (string, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return "", err
	}

	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			Record struct {
				RecordID string `json:"record_id"`
			} `json:"record"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/bitable/v1/apps/%s/tables/%s/records?user_id_type=%s",
		url.PathEscape(dest.AppToken), url.PathEscape(dest.TableID), url.QueryEscape(c.cfg.UserIDType))
	if err := c.call(ctx, http.MethodPost, path, token, map[string]any{"fields": fields}, &resp); err != nil {
		return "", fmt.Errorf("creating record: %w", err)
	}
	if resp.Code != 0 {
		return "", &APIError{Op: "create_record", Code: resp.Code, Msg: resp.Msg}
	}
	return resp.Data.Record.RecordID, nil
}

// call sends a JSON request under the API base and decodes the JSON reply
// into out. Non-2xx statuses are errors carrying the response body.
func (c *Client) call(ctx context.Context, method, path, token string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.APIBase, "/")+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	c.logger.Debug().Str("method", method).Str("path", strings.SplitN(path, "?", 2)[0]).Msg("table API request")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Sink appends rows to a resolved destination.
type Sink struct {
	client *Client
	dest   Destination
}

// Destination returns the resolved destination.
func (s *Sink) Destination() Destination { return s.dest }

// AppendRow creates one record with fields and returns its record ID. A
// missing record ID in an otherwise successful reply is returned as "".
func (s *Sink) AppendRow(ctx context.Context, fields map[string]any) (string, error) {
	return s.client.createRecord(ctx, s.dest, fields)
}
