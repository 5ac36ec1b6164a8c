// Package apply implements the apply-mutation collaborator over HTTP. Each
// queued client mutation is posted to the entity backend; a 409 response means
// the server-side copy diverged and carries the server's version.
package apply

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"sync_server/core/domain"
	"sync_server/core/port/out"
	"sync_server/pkg/httputil"
	"sync_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
)

const maxErrorBodySize = 4 << 10

// HTTPApplyAdapter posts mutations to the entity backend behind a circuit
// breaker. A tripped breaker fails fast so a dead backend does not stall
// dispatch cycles on timeouts.
type HTTPApplyAdapter struct {
	baseURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
}

func NewHTTPApplyAdapter(baseURL string, cfg *httputil.ClientConfig) *HTTPApplyAdapter {
	cbSettings := gobreaker.Settings{
		Name:        "apply-backend",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &HTTPApplyAdapter{
		baseURL: baseURL,
		client:  httputil.NewOptimizedClient(cfg),
		cb:      gobreaker.NewCircuitBreaker(cbSettings),
	}
}

// =============================================================================
// Wire types
// =============================================================================

type applyRequest struct {
	UserID          string          `json:"user_id"`
	EntityID        string          `json:"entity_id,omitempty"`
	Operation       string          `json:"operation"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	ClientTimestamp time.Time       `json:"client_timestamp"`
}

type conflictResponse struct {
	RemoteData      json.RawMessage `json:"remote_data"`
	RemoteTimestamp time.Time       `json:"remote_timestamp"`
	RemoteDeviceID  string          `json:"remote_device_id"`
}

// =============================================================================
// ApplyPort
// =============================================================================

func (a *HTTPApplyAdapter) Apply(ctx context.Context, item *domain.QueueItem) error {
	// A divergence is a successful round trip as far as the breaker is
	// concerned; only transport and backend failures count against it.
	result, err := a.cb.Execute(func() (interface{}, error) {
		applyErr := a.doApply(ctx, item)
		var ce *out.ConflictError
		if errors.As(applyErr, &ce) {
			return ce, nil
		}
		return nil, applyErr
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("apply backend unavailable: %w", err)
	}
	if err != nil {
		return err
	}
	if ce, ok := result.(*out.ConflictError); ok {
		return ce
	}
	return nil
}

func (a *HTTPApplyAdapter) doApply(ctx context.Context, item *domain.QueueItem) error {
	body, err := json.Marshal(&applyRequest{
		UserID:          item.UserID,
		EntityID:        item.EntityID,
		Operation:       string(item.OperationType),
		Payload:         item.Payload,
		ClientTimestamp: item.ClientTimestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal apply request: %w", err)
	}

	url := fmt.Sprintf("%s/internal/v1/apply/%s", a.baseURL, item.EntityType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build apply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("apply request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil

	case resp.StatusCode == http.StatusConflict:
		var conflict conflictResponse
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBodySize)).Decode(&conflict); decodeErr != nil {
			return fmt.Errorf("decode conflict response: %w", decodeErr)
		}
		return &out.ConflictError{
			RemoteData:      conflict.RemoteData,
			RemoteTimestamp: conflict.RemoteTimestamp,
			RemoteDeviceID:  conflict.RemoteDeviceID,
		}

	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return fmt.Errorf("apply backend returned %d: %s", resp.StatusCode, snippet)
	}
}

// IsAvailable reports whether the breaker currently lets requests through.
func (a *HTTPApplyAdapter) IsAvailable() bool {
	return a.cb.State() != gobreaker.StateOpen
}

var _ out.ApplyPort = (*HTTPApplyAdapter)(nil)
