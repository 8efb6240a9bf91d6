// Package resthttp provides the REST implementation of the engine's
// Transport. Each queued item maps to one HTTP call against the backend;
// the item's id travels as an Idempotency-Key header so server-side retries
// are safe.
package resthttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	syncengine "github.com/kinetra/sync-engine"
	syncErrors "github.com/kinetra/sync-engine/errors"
)

var _ syncengine.Transport = (*Transport)(nil)

// Config holds the transport's connection settings.
type Config struct {
	// BaseURL is the backend's root URL. A bare host gets an http scheme.
	BaseURL string

	// Timeout bounds each request. Defaults to 15 seconds.
	Timeout time.Duration

	// AuthToken, when set, is sent as a bearer token on every request.
	AuthToken string
}

// Transport sends sync items to the backend over REST.
type Transport struct {
	client *resty.Client
	logger *slog.Logger
}

// Option customises a Transport.
type Option func(*Transport)

// WithLogger sets the transport's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger.With("component", "transport")
	}
}

// New constructs a REST transport from cfg.
func New(cfg Config, opts ...Option) (*Transport, error) {
	baseURL, err := normalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid transport base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.AuthToken != "" {
		client.SetAuthToken(cfg.AuthToken)
	}

	t := &Transport{
		client: client,
		logger: slog.Default().With("component", "transport"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty address")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("address must include host and scheme")
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// collectionPath maps an entity type to its REST collection.
func collectionPath(entityType syncengine.EntityType) (string, error) {
	switch entityType {
	case syncengine.EntitySession:
		return "/sessions", nil
	case syncengine.EntityExerciseResult:
		return "/exercise-results", nil
	default:
		return "", fmt.Errorf("unknown entity type %q", entityType)
	}
}

// Send performs the remote call for item. Create POSTs to the collection,
// update PUTs and delete DELETEs the item resource. The response status is
// folded into the engine's error taxonomy; a 409 response body is expected to
// carry the server's copy of the contested item.
func (t *Transport) Send(ctx context.Context, item syncengine.SyncItem) error {
	collection, err := collectionPath(item.EntityType)
	if err != nil {
		return syncErrors.NewValidationError(syncErrors.OpSend, err)
	}

	req := t.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", item.ID)

	var resp *resty.Response
	switch item.OperationType {
	case syncengine.OperationCreate:
		resp, err = req.SetBody(item.Data).Post(collection)
	case syncengine.OperationUpdate:
		resp, err = req.SetBody(item.Data).Put(collection + "/" + item.ID)
	case syncengine.OperationDelete:
		resp, err = req.Delete(collection + "/" + item.ID)
	default:
		return syncErrors.NewValidationError(syncErrors.OpSend,
			fmt.Errorf("unknown operation type %q", item.OperationType))
	}
	if err != nil {
		return syncErrors.NewNetworkError(syncErrors.OpSend, err)
	}

	if resp.StatusCode() == http.StatusConflict {
		return t.conflictError(item, resp)
	}

	sendErr := syncErrors.ClassifyHTTPStatus(syncErrors.OpSend,
		resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	if sendErr != nil {
		t.logger.Debug("send rejected",
			"id", item.ID, "status", resp.StatusCode())
	}
	return sendErr
}

// conflictError builds a conflict error carrying the server's copy of the
// item, parsed from the 409 response body. A body that is not a sync item is
// passed through raw; the service dead-letters the item in that case.
func (t *Transport) conflictError(item syncengine.SyncItem, resp *resty.Response) error {
	cause := fmt.Errorf("http %d: version conflict for %s", resp.StatusCode(), item.ID)

	metadata := map[string]interface{}{"entityType": string(item.EntityType)}
	if server, err := syncengine.UnmarshalItem(resp.Body()); err == nil && server.ID != "" {
		metadata["serverItem"] = server
	} else {
		t.logger.Warn("conflict response body is not a sync item", "id", item.ID)
	}
	return syncErrors.NewConflictError(syncErrors.OpSend, cause, metadata)
}

// Close releases the underlying HTTP client's idle connections.
func (t *Transport) Close() error {
	t.client.GetClient().CloseIdleConnections()
	return nil
}
