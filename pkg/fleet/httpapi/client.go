// Package httpapi implements the fleet collaborator interfaces against the
// fleet management REST API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/telemetry/tracing"
)

const serviceName = "fleet-api"

// Config configures the REST client.
type Config struct {
	BaseURL             string
	APIKey              string
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *Config {
	return &Config{
		Timeout:             10 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Client talks to the fleet management API.
//
// Endpoints:
//
//	GET  /v1/entities/{type}/{id}          snapshot
//	GET  /v1/entities/{type}?k=v           target ids
//	POST /v1/notifications                 send notification
//	POST /v1/work-orders                   create work order
//	PUT  /v1/entities/{type}/{id}/status   update status
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New creates a client. A nil config uses DefaultConfig with no base URL,
// which fails.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("fleet api base url cannot be empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid fleet api base url: %w", err)
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Transport: transport, Timeout: cfg.Timeout},
		logger:  slog.Default().With("component", "fleet.httpapi"),
		tracer:  otel.Tracer("fleetguard/warden/fleet"),
	}, nil
}

type snapshotResponse struct {
	Attributes map[string]interface{} `json:"attributes"`
	CapturedAt time.Time              `json:"captured_at"`
}

type targetsResponse struct {
	IDs []string `json:"ids"`
}

type idResponse struct {
	ID string `json:"id"`
}

// GetSnapshot implements fleet.SnapshotProvider.
func (c *Client) GetSnapshot(ctx context.Context, entityType fleet.EntityType, entityID string) (*fleet.Snapshot, error) {
	path := fmt.Sprintf("/v1/entities/%s/%s", url.PathEscape(string(entityType)), url.PathEscape(entityID))

	var resp snapshotResponse
	if err := c.do(ctx, "get_snapshot", http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}

	captured := resp.CapturedAt
	if captured.IsZero() {
		captured = time.Now()
	}
	return &fleet.Snapshot{
		Ref:        fleet.EntityRef{Type: entityType, ID: entityID},
		Attributes: resp.Attributes,
		CapturedAt: captured,
	}, nil
}

// ListTargets implements fleet.SnapshotProvider.
func (c *Client) ListTargets(ctx context.Context, scope fleet.Scope) ([]string, error) {
	q := url.Values{}
	keys := make([]string, 0, len(scope.Filter))
	for k := range scope.Filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, scope.Filter[k])
	}
	if scope.TenantID != "" {
		q.Set("tenant_id", scope.TenantID)
	}

	path := "/v1/entities/" + url.PathEscape(string(scope.EntityType))
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp targetsResponse
	if err := c.do(ctx, "list_targets", http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

// Send implements fleet.Notifier.
func (c *Client) Send(ctx context.Context, n fleet.Notification) (string, error) {
	var resp idResponse
	if err := c.do(ctx, "send", http.MethodPost, "/v1/notifications", n, n.IdempotencyKey, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Create implements fleet.WorkOrderService.
func (c *Client) Create(ctx context.Context, req fleet.WorkOrderRequest) (string, error) {
	var resp idResponse
	if err := c.do(ctx, "create_work_order", http.MethodPost, "/v1/work-orders", req, req.IdempotencyKey, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// UpdateStatus implements fleet.StatusUpdater.
func (c *Client) UpdateStatus(ctx context.Context, u fleet.StatusUpdate) error {
	path := fmt.Sprintf("/v1/entities/%s/%s/status", url.PathEscape(string(u.EntityType)), url.PathEscape(u.EntityID))
	body := map[string]string{"status": u.Status, "reason": u.Reason, "tenant_id": u.TenantID}
	return c.do(ctx, "update_status", http.MethodPut, path, body, u.IdempotencyKey, nil)
}

// Collaborators returns the client wired as every side-effecting service.
func (c *Client) Collaborators() fleet.Collaborators {
	return fleet.Collaborators{Notifier: c, WorkOrders: c, Status: c}
}

func (c *Client) do(ctx context.Context, op, method, path string, body interface{}, idempotencyKey string, out interface{}) (err error) {
	ctx, span := c.tracer.Start(ctx, "fleet.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("fleet.operation", op),
			attribute.String(tracing.AttrHTTPMethod, method),
		),
	)
	defer func() {
		tracing.SetError(span, err)
		span.End()
	}()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	tracing.Inject(ctx, req.Header)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("fleet api request failed", "operation", op, "error", err)
		return fleet.NewCollaboratorError(serviceName, op, 0, classify(err))
	}
	defer resp.Body.Close()

	c.logger.Debug("fleet api request",
		"operation", op,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return fmt.Errorf("%s: %w", path, fleet.ErrEntityNotFound)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fleet.NewCollaboratorError(serviceName, op, resp.StatusCode, fleet.ErrEntityNotFound)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fleet.NewCollaboratorError(serviceName, op, resp.StatusCode, errors.New(strings.TrimSpace(string(msg))))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

// classify marks transport-level failures as transient unless the caller's
// context was cancelled.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", fleet.ErrTransient, err)
}
