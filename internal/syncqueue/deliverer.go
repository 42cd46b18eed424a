package syncqueue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/lucasew/edgecache/internal/fetcher"
)

// IdempotencyHeader carries the record id on every delivery attempt.
const IdempotencyHeader = "Idempotency-Key"

// Deliverer sends one record to the origin. A nil error means the origin
// acknowledged it with a 2xx.
type Deliverer interface {
	Deliver(ctx context.Context, route Route, rec Record) error
}

// DeliveryError is a non-2xx answer to a delivery.
type DeliveryError struct {
	ID         string
	StatusCode int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery of %s rejected with status %d", e.ID, e.StatusCode)
}

// HTTPDeliverer replays records as JSON requests through a fetcher.
type HTTPDeliverer struct {
	Network fetcher.Fetcher
}

func (d *HTTPDeliverer) Deliver(ctx context.Context, route Route, rec Record) error {
	req, err := http.NewRequestWithContext(ctx, route.Method, route.Path, bytes.NewReader(rec.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, rec.ID)

	resp, err := d.Network.Fetch(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{ID: rec.ID, StatusCode: resp.StatusCode}
	}
	return nil
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, route Route, rec Record) error

func (f DelivererFunc) Deliver(ctx context.Context, route Route, rec Record) error {
	return f(ctx, route, rec)
}
