// Package notion encapsulates access to the external record store holding
// subscription application records.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tg_member_bot/internal/config"
	"tg_member_bot/internal/domain"
	"tg_member_bot/internal/logging"
	"tg_member_bot/internal/retry"
)

const (
	defaultBaseURL = "https://api.notion.com"
	apiVersion     = "2022-06-28"

	requestTimeout = 15 * time.Second
	queryPageSize  = 50

	errorBodyLimit = 512
)

// Property names in the applications database.
const (
	propUserID    = "tg_id"
	propUsername  = "tg_username"
	propStatus    = "status"
	propDiscord   = "discord"
	propEmail     = "email"
	propExpiresAt = "expires_at"
	propTitle     = "Name"
)

// httpDoer is the subset of http.Client behavior the client relies on,
// allowing lightweight stubbing in tests without a live endpoint.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the HTTP client for the record-store API. All calls run under the
// shared retry policy and a bounded per-call timeout.
type Client struct {
	httpClient httpDoer
	baseURL    string
	token      string
	databaseID string
	policy     retry.Policy
	logger     *logrus.Entry
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API host; used in tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(doer httpDoer) Option {
	return func(c *Client) {
		c.httpClient = doer
	}
}

// WithPolicy overrides the retry policy.
func WithPolicy(policy retry.Policy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

// NewClient constructs a record-store client from configuration.
func NewClient(cfg config.Config, logger *logrus.Entry, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.NotionToken) == "" {
		return nil, errors.New("record store token is required")
	}
	if strings.TrimSpace(cfg.NotionDatabaseID) == "" {
		return nil, errors.New("record store database id is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	client := &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    defaultBaseURL,
		token:      cfg.NotionToken,
		databaseID: cfg.NotionDatabaseID,
		policy:     retry.DefaultPolicy(),
		logger:     logger,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

type queryPayload struct {
	Filter   json.RawMessage `json:"filter,omitempty"`
	Sorts    []querySort     `json:"sorts"`
	PageSize int             `json:"page_size"`
}

type querySort struct {
	Timestamp string `json:"timestamp"`
	Direction string `json:"direction"`
}

type queryResponse struct {
	Results []page `json:"results"`
}

// QueryByUserID fetches the user's application records, newest first.
//
// The identifier property may be stored as text or as a number depending on
// the deployment, so filter shapes are tried in a fixed fallback order:
// rich_text equality, number equality, then one unfiltered page matched
// client-side. A 400 means the store rejected the filter shape and the next
// shape is tried; any other failure surfaces.
func (c *Client) QueryByUserID(ctx context.Context, userID string) ([]domain.Record, error) {
	if c == nil {
		return nil, errors.New("record store client is not initialized")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	for _, shape := range filterShapes(userID) {
		pages, err := c.query(ctx, shape.filter)
		if err != nil {
			if isFilterRejection(err) {
				c.logger.WithFields(logging.Fields{
					"event":        "store_filter_rejected",
					"filter_shape": shape.name,
				}).Debug("filter shape rejected, trying next")
				continue
			}
			return nil, fmt.Errorf("query records: %w", err)
		}

		records := recordsFromPages(pages)
		if shape.clientSide {
			records = matchUserID(records, userID)
		}
		if len(records) > 0 {
			return records, nil
		}
	}

	return nil, nil
}

type filterShape struct {
	name       string
	filter     json.RawMessage
	clientSide bool
}

func filterShapes(userID string) []filterShape {
	shapes := []filterShape{
		{
			name:   "rich_text",
			filter: mustFilter(propUserID, "rich_text", userID),
		},
	}

	if num, err := strconv.ParseFloat(userID, 64); err == nil {
		raw, _ := json.Marshal(map[string]any{
			"property": propUserID,
			"number":   map[string]any{"equals": num},
		})
		shapes = append(shapes, filterShape{name: "number", filter: raw})
	}

	// Last resort: one unfiltered page, matched client-side.
	shapes = append(shapes, filterShape{name: "unfiltered", clientSide: true})

	return shapes
}

func mustFilter(property, kind, value string) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"property": property,
		kind:       map[string]any{"equals": value},
	})
	return raw
}

func matchUserID(records []domain.Record, userID string) []domain.Record {
	matched := make([]domain.Record, 0, len(records))
	for _, rec := range records {
		if rec.UserID == userID {
			matched = append(matched, rec)
		}
	}
	return matched
}

func (c *Client) query(ctx context.Context, filter json.RawMessage) ([]page, error) {
	payload := queryPayload{
		Filter:   filter,
		Sorts:    []querySort{{Timestamp: "created_time", Direction: "descending"}},
		PageSize: queryPageSize,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	var parsed queryResponse
	endpoint := fmt.Sprintf("%s/v1/databases/%s/query", c.baseURL, c.databaseID)
	err = c.policy.Do(ctx, func() error {
		return c.send(ctx, http.MethodPost, endpoint, body, &parsed)
	})
	if err != nil {
		return nil, err
	}

	return parsed.Results, nil
}

// CreateLead records a minimal pending application for a first-contact user.
// Optional capability; deployments where the store is strictly admin-written
// leave it disabled in configuration.
func (c *Client) CreateLead(ctx context.Context, userID, username string) error {
	if c == nil {
		return errors.New("record store client is not initialized")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user id is required")
	}

	title := strings.TrimSpace(username)
	if title == "" {
		title = userID
	}

	payload := map[string]any{
		"parent": map[string]any{"database_id": c.databaseID},
		"properties": map[string]any{
			propTitle: map[string]any{
				"title": []map[string]any{
					{"text": map[string]any{"content": title}},
				},
			},
			propUserID: map[string]any{
				"rich_text": []map[string]any{
					{"text": map[string]any{"content": userID}},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode lead: %w", err)
	}

	endpoint := c.baseURL + "/v1/pages"
	err = c.policy.Do(ctx, func() error {
		return c.send(ctx, http.MethodPost, endpoint, body, nil)
	})
	if err != nil {
		return fmt.Errorf("create lead: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"event":   "lead_created",
		"user_id": userID,
	}).Info("created first-contact record")

	return nil
}

// Ping verifies the store is reachable and the token is accepted; used by the
// health probe.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return errors.New("record store client is not initialized")
	}

	return c.send(ctx, http.MethodGet, c.baseURL+"/v1/users/me", nil, nil)
}

func (c *Client) send(ctx context.Context, method, endpoint string, body []byte, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(callCtx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &retry.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func isFilterRejection(err error) bool {
	var statusErr *retry.StatusError
	return errors.As(err, &statusErr) && statusErr.Code == http.StatusBadRequest
}
