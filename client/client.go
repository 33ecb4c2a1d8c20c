// Package client talks to the board API. It implements the contract the
// engine consumes: create/update/move/delete per entity type plus full board
// fetches, with responses classified into the engine's error taxonomy.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

const maxResponseSize = 4 * 1024 * 1024 // 4 MiB

// Client is an HTTP implementation of the board API contract.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *log.Logger
}

// New creates a client for the given API base URL. The bearer token is passed
// through opaquely; session management happens elsewhere.
func New(baseURL, token string, timeout time.Duration, logger *log.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CreateEntity posts a new entity and returns the server's record, which
// carries the authoritative id.
func (c *Client) CreateEntity(ctx context.Context, entityType string, payload any, idempotencyKey string) (json.RawMessage, error) {
	body, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	return c.do(ctx, http.MethodPost, c.entityPath(entityType, ""), body, idempotencyKey, entityType, "")
}

// UpdateEntity patches an entity. When force is set the server applies the
// patch even over a newer version (conflict resolution re-issue).
func (c *Client) UpdateEntity(ctx context.Context, entityType, id string, patch domain.Patch, idempotencyKey string, force bool) (json.RawMessage, error) {
	body, err := sonic.ConfigStd.Marshal(patch)
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	path := c.entityPath(entityType, id)
	if force {
		path += "?force=true"
	}
	return c.do(ctx, http.MethodPatch, path, body, idempotencyKey, entityType, id)
}

// MoveTask atomically changes a task's column and position.
func (c *Client) MoveTask(ctx context.Context, id, targetColumnID string, targetPosition int, idempotencyKey string) (json.RawMessage, error) {
	body, err := sonic.ConfigStd.Marshal(domain.MoveEventData{ColumnID: targetColumnID, Position: targetPosition})
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	path := fmt.Sprintf("%s/api/tasks/%s/move", c.baseURL, url.PathEscape(id))
	return c.do(ctx, http.MethodPost, path, body, idempotencyKey, domain.EntityTask, id)
}

// DeleteEntity removes an entity.
func (c *Client) DeleteEntity(ctx context.Context, entityType, id string, idempotencyKey string) error {
	_, err := c.do(ctx, http.MethodDelete, c.entityPath(entityType, id), nil, idempotencyKey, entityType, id)
	return err
}

// FetchBoard returns the full authoritative state of one board.
func (c *Client) FetchBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error) {
	raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/api/boards/%s/snapshot", c.baseURL, url.PathEscape(boardID)), nil, "", domain.EntityBoard, boardID)
	if err != nil {
		return domain.BoardSnapshot{}, err
	}
	var snap domain.BoardSnapshot
	if err := sonic.ConfigStd.Unmarshal(raw, &snap); err != nil {
		return domain.BoardSnapshot{}, &ValidationError{Message: fmt.Sprintf("malformed snapshot: %v", err)}
	}
	return snap, nil
}

func (c *Client) entityPath(entityType, id string) string {
	path := fmt.Sprintf("%s/api/%ss", c.baseURL, entityType)
	if id != "" {
		path += "/" + url.PathEscape(id)
	}
	return path
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, idempotencyKey, entityType, entityID string) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, path, reader)
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, c.classify(resp.StatusCode, data, entityType, entityID)
}

// classify maps a non-2xx response onto the error taxonomy.
func (c *Client) classify(status int, body []byte, entityType, entityID string) error {
	switch {
	case status == http.StatusConflict:
		return &ConflictError{EntityType: entityType, EntityID: entityID, Remote: json.RawMessage(body)}
	case status == http.StatusNotFound || status == http.StatusGone:
		return &StaleReferenceError{EntityType: entityType, EntityID: entityID}
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return &TransientError{Status: status}
	default:
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = "status " + strconv.Itoa(status)
		}
		return &ValidationError{Status: status, Message: msg}
	}
}
