package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnknownTag is returned for a tag with no registered request shape.
	ErrUnknownTag = errors.New("unknown sync tag")

	// ErrInvalidPayload is returned when a payload is not valid JSON.
	ErrInvalidPayload = errors.New("payload is not valid JSON")
)

// Route is the mutating request a tag's records are replayed as.
type Route struct {
	Method string
	Path   string
}

// DefaultRoutes maps the known tags to their origin endpoint.
var DefaultRoutes = map[string]Route{
	"sync-favorites": {Method: http.MethodPost, Path: "/api/favorites"},
}

// DefaultConcurrency bounds how many records of one replay are in flight.
const DefaultConcurrency = 4

// Metrics is the subset of metrics the queue records.
type Metrics interface {
	Delivered(tag, result string)
	SetPending(tag string, n int)
}

// Options tunes a Queue.
type Options struct {
	Routes      map[string]Route
	Concurrency int
	Metrics     Metrics
}

// ReplayReport summarises one replay of a tag.
type ReplayReport struct {
	Tag       string `json:"tag"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Pending   int    `json:"pending"`
}

// Queue stores mutations made while offline and replays them to the origin.
// Delivery is at least once: a record is deleted only after a 2xx, so a lost
// acknowledgement replays it again.
type Queue struct {
	store       Store
	deliverer   Deliverer
	routes      map[string]Route
	concurrency int
	metrics     Metrics

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewQueue(store Store, deliverer Deliverer, opts Options) *Queue {
	if opts.Routes == nil {
		opts.Routes = DefaultRoutes
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Queue{
		store:       store,
		deliverer:   deliverer,
		routes:      opts.Routes,
		concurrency: opts.Concurrency,
		metrics:     opts.Metrics,
		inflight:    make(map[string]struct{}),
	}
}

// Tags lists the registered tags in lexical order.
func (q *Queue) Tags() []string {
	return slices.Sorted(maps.Keys(q.routes))
}

// Route returns the request shape of tag.
func (q *Queue) Route(tag string) (Route, error) {
	r, ok := q.routes[tag]
	if !ok {
		return Route{}, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	return r, nil
}

// Enqueue durably stores payload under tag. A store failure is returned to
// the caller: the mutation was not saved.
func (q *Queue) Enqueue(ctx context.Context, tag string, payload json.RawMessage) (Record, error) {
	if _, err := q.Route(tag); err != nil {
		return Record{}, err
	}
	if !json.Valid(payload) {
		return Record{}, ErrInvalidPayload
	}
	rec := Record{
		ID:        uuid.NewString(),
		Tag:       tag,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := q.store.Put(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("enqueue %s: %w", tag, err)
	}
	slog.Info("Queued pending write", "tag", tag, "id", rec.ID)
	q.updatePending(ctx, tag)
	return rec, nil
}

// List returns the pending records of tag, oldest first.
func (q *Queue) List(ctx context.Context, tag string) ([]Record, error) {
	if _, err := q.Route(tag); err != nil {
		return nil, err
	}
	return q.store.List(ctx, tag)
}

func (q *Queue) claim(tag, id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := tag + "/" + id
	if _, busy := q.inflight[key]; busy {
		return false
	}
	q.inflight[key] = struct{}{}
	return true
}

func (q *Queue) release(tag, id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, tag+"/"+id)
}

// Replay delivers every pending record of tag. Records are independent: one
// failure neither stops nor reorders the others. Records already being
// delivered by a concurrent replay are skipped.
func (q *Queue) Replay(ctx context.Context, tag string) (ReplayReport, error) {
	report := ReplayReport{Tag: tag}
	route, err := q.Route(tag)
	if err != nil {
		return report, err
	}
	recs, err := q.store.List(ctx, tag)
	if err != nil {
		return report, fmt.Errorf("replay %s: list: %w", tag, err)
	}

	var delivered, failed, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.concurrency)
	for _, rec := range recs {
		if !q.claim(tag, rec.ID) {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			defer q.release(tag, rec.ID)
			switch q.replayOne(gctx, route, tag, rec.ID) {
			case resultDelivered:
				delivered.Add(1)
			case resultFailed:
				failed.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Delivered = int(delivered.Load())
	report.Failed = int(failed.Load())
	report.Skipped = int(skipped.Load())
	if n, err := q.store.Count(ctx, tag); err == nil {
		report.Pending = n
		q.setPending(tag, n)
	}
	slog.Info("Replayed pending writes", "tag", tag, "delivered", report.Delivered,
		"failed", report.Failed, "skipped", report.Skipped, "pending", report.Pending)
	return report, nil
}

type replayResult int

const (
	resultSkipped replayResult = iota
	resultDelivered
	resultFailed
)

func (q *Queue) replayOne(ctx context.Context, route Route, tag, id string) replayResult {
	// Another replay may have delivered it between List and claim.
	rec, err := q.store.Get(ctx, tag, id)
	if errors.Is(err, ErrRecordNotFound) {
		return resultSkipped
	}
	if err != nil {
		slog.Warn("Failed to read pending write", "tag", tag, "id", id, "error", err)
		q.delivered(tag, "error")
		return resultFailed
	}

	if err := q.deliverer.Deliver(ctx, route, rec); err != nil {
		slog.Warn("Pending write not delivered, keeping it", "tag", tag, "id", id, "attempts", rec.Attempts+1, "error", err)
		if markErr := q.store.MarkFailed(ctx, tag, id, err.Error()); markErr != nil && !errors.Is(markErr, ErrRecordNotFound) {
			slog.Warn("Failed to record delivery attempt", "tag", tag, "id", id, "error", markErr)
		}
		q.delivered(tag, "failed")
		return resultFailed
	}

	if err := q.store.Delete(ctx, tag, id); err != nil {
		// The record will be delivered again; the idempotency key lets the
		// origin drop the duplicate.
		slog.Warn("Delivered pending write but failed to delete it", "tag", tag, "id", id, "error", err)
	}
	q.delivered(tag, "ok")
	return resultDelivered
}

// ReplayAll replays every registered tag.
func (q *Queue) ReplayAll(ctx context.Context) ([]ReplayReport, error) {
	var reports []ReplayReport
	var errs []error
	for _, tag := range q.Tags() {
		r, err := q.Replay(ctx, tag)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		reports = append(reports, r)
	}
	return reports, errors.Join(errs...)
}

func (q *Queue) updatePending(ctx context.Context, tag string) {
	if q.metrics == nil {
		return
	}
	if n, err := q.store.Count(ctx, tag); err == nil {
		q.metrics.SetPending(tag, n)
	}
}

func (q *Queue) setPending(tag string, n int) {
	if q.metrics != nil {
		q.metrics.SetPending(tag, n)
	}
}

func (q *Queue) delivered(tag, result string) {
	if q.metrics != nil {
		q.metrics.Delivered(tag, result)
	}
}
