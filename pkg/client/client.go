// Package client is the directory listing client for one resource collection.
//
// Reads are retried on transport failures and server errors. Mutations are
// issued exactly once. A response whose envelope has err=true is returned
// as an *APIError.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fruitsalade/projectfiles/pkg/logger"
	"github.com/fruitsalade/projectfiles/pkg/models"
	"github.com/fruitsalade/projectfiles/pkg/protocol"
	"github.com/fruitsalade/projectfiles/pkg/retry"
)

// Client talks to one collection of one project.
type Client struct {
	baseURL     string
	collection  models.Collection
	httpClient  *http.Client
	retryConfig retry.Config

	mu        sync.RWMutex
	online    bool
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	ProjectID   string
	Collection  models.CollectionKind
	Timeout     time.Duration // per request
	RetryConfig retry.Config  // reads only
	AuthToken   string
}

// Listing is one directory: its children and the breadcrumb path to it.
type Listing struct {
	Nodes []models.Node
	Path  []models.Node
}

// Current returns the listed directory, the last path element.
func (l *Listing) Current() models.Node {
	if len(l.Path) == 0 {
		return models.Node{ID: models.RootID, Kind: models.KindFolder}
	}
	return l.Path[len(l.Path)-1]
}

// APIError is returned when the server answers with err=true.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed (%d)", e.Op, e.Status)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
}

// AsAPIError checks if an error is an APIError and returns it.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	if cfg.RetryConfig.OnRetry == nil {
		cfg.RetryConfig.OnRetry = func(attempt int, err error, wait time.Duration) {
			logger.Debug("retrying read",
				logger.Int("attempt", attempt),
				logger.Duration("wait", wait),
				logger.Err(err))
		}
	}
	if cfg.Collection == "" {
		cfg.Collection = models.CollectionFiles
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		collection: models.Collection{ProjectID: cfg.ProjectID, Kind: cfg.Collection},
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		online:      true,
		authToken:   cfg.AuthToken,
	}
}

// Collection returns the collection this client is scoped to.
func (c *Client) Collection() models.Collection {
	return c.collection
}

// SetAuthToken sets the bearer token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authToken
}

// applyAuth adds the auth header to a request if a token is set.
func (c *Client) applyAuth(req *http.Request) {
	if t := c.token(); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}
}

// IsOnline returns true if the last request reached the server.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	changed := c.online != online
	c.online = online
	c.mu.Unlock()
	if !changed {
		return
	}
	if online {
		logger.Info("server is back online", logger.String("server", c.baseURL))
	} else {
		logger.Warn("server is offline", logger.String("server", c.baseURL))
	}
}

// collectionURL returns the base URL of the collection endpoints.
func (c *Client) collectionURL() string {
	return fmt.Sprintf("%s/api/v1/projects/%s/%s",
		c.baseURL, url.PathEscape(c.collection.ProjectID), c.collection.Kind)
}

func nodeURL(base, id string, suffix ...string) string {
	u := base + "/nodes/" + url.PathEscape(id)
	for _, s := range suffix {
		u += "/" + s
	}
	return u
}

// Ping checks that the server is up and its metadata store reachable.
func (c *Client) Ping(ctx context.Context) (*protocol.HealthResponse, error) {
	var out protocol.HealthResponse
	if err := c.do(ctx, "ping", http.MethodGet, c.baseURL+"/health", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListChildren lists the direct children of parentID with the path to it.
func (c *Client) ListChildren(ctx context.Context, parentID string) (*Listing, error) {
	q := url.Values{}
	q.Set("parent", parentID)

	var out protocol.ListResponse
	if err := c.do(ctx, "list", http.MethodGet, c.collectionURL()+"/nodes?"+q.Encode(), nil, &out, true); err != nil {
		return nil, err
	}
	if len(out.Path) == 0 {
		return nil, fmt.Errorf("list %q: response has no path", parentID)
	}
	return &Listing{Nodes: out.Nodes, Path: out.Path}, nil
}

// ListAll returns every node of the collection, flat.
func (c *Client) ListAll(ctx context.Context) ([]models.Node, error) {
	q := url.Values{}
	q.Set("depth", protocol.DepthAll)

	var out protocol.ListResponse
	if err := c.do(ctx, "list all", http.MethodGet, c.collectionURL()+"/nodes?"+q.Encode(), nil, &out, true); err != nil {
		return nil, err
	}
	return out.Nodes, nil
}

// CreateFolder creates a folder under parentID.
func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (*models.Node, error) {
	body := protocol.CreateFolderRequest{Name: name, ParentID: parentID}
	var out protocol.NodeResponse
	if err := c.do(ctx, "create folder", http.MethodPost, c.collectionURL()+"/folders", body, &out, false); err != nil {
		return nil, err
	}
	return out.Node, nil
}

// RegisterFile records the metadata of a file stored by the upload transport.
func (c *Client) RegisterFile(ctx context.Context, req protocol.RegisterFileRequest) (*models.Node, error) {
	var out protocol.NodeResponse
	if err := c.do(ctx, "register file", http.MethodPost, c.collectionURL()+"/files", req, &out, false); err != nil {
		return nil, err
	}
	return out.Node, nil
}

// Move reparents one node.
func (c *Client) Move(ctx context.Context, id, parentID string) error {
	var out protocol.OKResponse
	return c.do(ctx, "move", http.MethodPut, nodeURL(c.collectionURL(), id, "parent"),
		protocol.MoveRequest{ParentID: parentID}, &out, false)
}

// ChangeAccess sets the access of one node. The server cascades it to descendants.
func (c *Client) ChangeAccess(ctx context.Context, id string, access models.Access) error {
	var out protocol.OKResponse
	return c.do(ctx, "change access", http.MethodPut, nodeURL(c.collectionURL(), id, "access"),
		protocol.AccessRequest{Access: access}, &out, false)
}

// Edit renames a node and/or changes its description.
func (c *Client) Edit(ctx context.Context, id string, req protocol.EditRequest) (*models.Node, error) {
	var out protocol.NodeResponse
	if err := c.do(ctx, "edit", http.MethodPatch, nodeURL(c.collectionURL(), id), req, &out, false); err != nil {
		return nil, err
	}
	return out.Node, nil
}

// Delete removes a node and its whole subtree.
func (c *Client) Delete(ctx context.Context, id string) error {
	var out protocol.OKResponse
	return c.do(ctx, "delete", http.MethodDelete, nodeURL(c.collectionURL(), id), nil, &out, false)
}

// DownloadURL asks the server for a signed download link.
// With increment set the server also bumps the file's download count.
func (c *Client) DownloadURL(ctx context.Context, id string, increment bool) (string, error) {
	u := nodeURL(c.collectionURL(), id, "download")
	retryable := true
	if increment {
		u += "?increment=1"
		retryable = false
	}
	var out protocol.DownloadURLResponse
	if err := c.do(ctx, "download url", http.MethodGet, u, nil, &out, retryable); err != nil {
		return "", err
	}
	return out.URL, nil
}

// SuggestTags returns the collection's tags starting with prefix.
func (c *Client) SuggestTags(ctx context.Context, prefix string) ([]string, error) {
	q := url.Values{}
	q.Set("prefix", prefix)
	var out protocol.TagsResponse
	if err := c.do(ctx, "suggest tags", http.MethodGet, c.collectionURL()+"/tags?"+q.Encode(), nil, &out, true); err != nil {
		return nil, err
	}
	return out.Tags, nil
}

// do performs one JSON round trip and decodes the envelope into out.
func (c *Client) do(ctx context.Context, op, method, u string, body any, out protocol.Enveloped, retryable bool) error {
	cfg := retry.Once()
	if retryable {
		cfg = c.retryConfig
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
	}

	return retry.Do(ctx, cfg, func() error {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, rd)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%s: %w", op, ctx.Err())
			}
			c.setOnline(false)
			return retry.Retryable(fmt.Errorf("%s: %w", op, err))
		}
		defer resp.Body.Close()
		c.setOnline(true)

		*out.Status() = protocol.Envelope{}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			err = fmt.Errorf("%s: decode response (%d): %w", op, resp.StatusCode, err)
			if resp.StatusCode >= 500 {
				return retry.Retryable(err)
			}
			return err
		}

		if env := out.Status(); env.Err {
			apiErr := &APIError{Op: op, Status: resp.StatusCode, Message: env.ErrMsg}
			if resp.StatusCode >= 500 {
				return retry.Retryable(apiErr)
			}
			return apiErr
		}
		return nil
	})
}
