// Package backend implements the HTTP client for the dashboard backend
// service. Read endpoints carry an explicit silent flag through to the
// server so background fetches never produce read receipts.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/engetsu-hub/chatwork-ai-manager/internal/config"
	"github.com/engetsu-hub/chatwork-ai-manager/internal/domain"
)

// Client implements domain.Backend over HTTP.
type Client struct {
	baseURL string
	wsURL   string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

var _ domain.Backend = (*Client)(nil)

func New(cfg config.BackendConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		wsURL:   cfg.WSURL,
		token:   cfg.Token,
		http:    sharedHTTPClient(time.Duration(cfg.TimeoutSeconds) * time.Second),
		logger:  logger,
	}
}

// sharedHTTPClient returns an HTTP client with connection pooling sized for
// the poll loop's concurrent fetches.
func sharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// WSURL returns the push channel endpoint for the sync engine's dialer.
func (c *Client) WSURL() string { return c.wsURL }

// get fetches and decodes a JSON response, retrying transient failures.
func (c *Client) get(ctx context.Context, path string, out any) error {
	resp, err := doWithRetry(ctx, c.http, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		c.setHeaders(req)
		return req, nil
	}, c.logger)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("GET %s: HTTP %d: %s", path, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode response: %w", path, err)
	}
	return nil
}

// send performs a write request. Writes are never retried; a duplicate post
// is worse than a failed one.
func (c *Client) send(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s %s: marshal payload: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, data)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) Rooms(ctx context.Context) ([]domain.Room, error) {
	var resp struct {
		Rooms []domain.Room `json:"rooms"`
	}
	if err := c.get(ctx, "/api/rooms", &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func (c *Client) RoomCategories(ctx context.Context) (map[domain.Category][]domain.Room, error) {
	var resp struct {
		Categories map[domain.Category][]domain.Room `json:"categories"`
	}
	if err := c.get(ctx, "/api/rooms/categories", &resp); err != nil {
		return nil, err
	}
	return resp.Categories, nil
}

func (c *Client) RoomMembers(ctx context.Context, roomID string) ([]domain.Member, error) {
	var resp struct {
		Members []domain.Member `json:"members"`
	}
	if err := c.get(ctx, "/api/rooms/"+url.PathEscape(roomID)+"/members", &resp); err != nil {
		return nil, err
	}
	return resp.Members, nil
}

func (c *Client) Messages(ctx context.Context, roomID string, silent bool) ([]domain.Message, error) {
	path := "/api/messages/" + url.PathEscape(roomID)
	if silent {
		path += "?silent=1"
	}
	var resp struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) LatestMessages(ctx context.Context, limit int) ([]domain.Message, error) {
	var resp struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := c.get(ctx, "/api/messages/latest?limit="+strconv.Itoa(limit), &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) Status(ctx context.Context) (domain.StatusSummary, error) {
	var resp struct {
		System domain.StatusSummary `json:"system"`
	}
	if err := c.get(ctx, "/api/status", &resp); err != nil {
		return domain.StatusSummary{}, err
	}
	return resp.System, nil
}

func (c *Client) Alerts(ctx context.Context) ([]domain.Alert, error) {
	var resp struct {
		PendingAlerts []domain.Alert `json:"pending_alerts"`
	}
	if err := c.get(ctx, "/api/alerts", &resp); err != nil {
		return nil, err
	}
	return resp.PendingAlerts, nil
}

func (c *Client) MarkReplied(ctx context.Context, roomID, messageID string) error {
	payload := map[string]string{"room_id": roomID, "message_id": messageID}
	return c.send(ctx, http.MethodPost, "/api/alerts/mark-replied", payload, nil)
}

func (c *Client) PostMessage(ctx context.Context, roomID, body string) error {
	payload := map[string]string{"body": body}
	return c.send(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/messages", payload, nil)
}

func (c *Client) PostReaction(ctx context.Context, roomID, messageID, emoji string) error {
	payload := map[string]string{"room_id": roomID, "message_id": messageID, "emoji": emoji}
	return c.send(ctx, http.MethodPost, "/api/messages/reaction", payload, nil)
}

func (c *Client) PostQuote(ctx context.Context, roomID, body string) error {
	payload := map[string]string{"room_id": roomID, "body": body}
	return c.send(ctx, http.MethodPost, "/api/messages/quote", payload, nil)
}

func (c *Client) CreateRoom(ctx context.Context, name string, memberIDs []int64) (string, error) {
	payload := map[string]any{"name": name, "member_ids": memberIDs}
	var resp struct {
		RoomID string `json:"room_id"`
	}
	if err := c.send(ctx, http.MethodPost, "/api/rooms", payload, &resp); err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

func (c *Client) MonitoredRooms(ctx context.Context) ([]string, error) {
	var resp struct {
		RoomIDs []string `json:"room_ids"`
	}
	if err := c.get(ctx, "/api/rooms/monitored", &resp); err != nil {
		return nil, err
	}
	return resp.RoomIDs, nil
}

func (c *Client) SetMonitoredRooms(ctx context.Context, roomIDs []string) error {
	payload := map[string][]string{"room_ids": roomIDs}
	return c.send(ctx, http.MethodPut, "/api/rooms/monitored", payload, nil)
}
