package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lucasew/edgecache/internal/fetcher"
)

type delivery struct {
	method, path, key, contentType, body string
}

// originServer records deliveries and answers with status.
type originServer struct {
	*httptest.Server
	status atomic.Int32

	mu         sync.Mutex
	deliveries []delivery
}

func newOriginServer(t *testing.T) *originServer {
	o := &originServer{}
	o.status.Store(http.StatusCreated)
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		o.mu.Lock()
		o.deliveries = append(o.deliveries, delivery{
			method:      r.Method,
			path:        r.URL.Path,
			key:         r.Header.Get(IdempotencyHeader),
			contentType: r.Header.Get("Content-Type"),
			body:        string(body),
		})
		o.mu.Unlock()
		w.WriteHeader(int(o.status.Load()))
	}))
	t.Cleanup(o.Close)
	return o
}

func (o *originServer) deliverer(t *testing.T) *HTTPDeliverer {
	u, err := url.Parse(o.URL)
	if err != nil {
		t.Fatal(err)
	}
	return &HTTPDeliverer{Network: fetcher.NewHTTPFetcher(o.Client(), u)}
}

func (o *originServer) received() []delivery {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]delivery(nil), o.deliveries...)
}

func TestQueue_RoundTrip(t *testing.T) {
	ctx := context.Background()
	origin := newOriginServer(t)
	store := NewMemoryStore()
	q := NewQueue(store, origin.deliverer(t), Options{})

	ids := make(map[string]string)
	for i := 0; i < 3; i++ {
		payload := json.RawMessage(fmt.Sprintf(`{"auctionId":%d}`, i))
		rec, err := q.Enqueue(ctx, "sync-favorites", payload)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if rec.ID == "" {
			t.Fatal("record has no id")
		}
		ids[rec.ID] = string(payload)
	}

	// Origin rejects: every record stays, attempts are counted.
	origin.status.Store(http.StatusInternalServerError)
	report, err := q.Replay(ctx, "sync-favorites")
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if report.Failed != 3 || report.Delivered != 0 || report.Pending != 3 {
		t.Errorf("failing replay report = %+v", report)
	}
	recs, _ := store.List(ctx, "sync-favorites")
	for _, rec := range recs {
		if rec.Attempts != 1 || rec.LastError == "" {
			t.Errorf("record %s attempts=%d lastError=%q", rec.ID, rec.Attempts, rec.LastError)
		}
	}

	// Origin accepts: every record is delivered and removed.
	origin.status.Store(http.StatusOK)
	report, err = q.Replay(ctx, "sync-favorites")
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if report.Delivered != 3 || report.Failed != 0 || report.Pending != 0 {
		t.Errorf("succeeding replay report = %+v", report)
	}
	if n, _ := store.Count(ctx, "sync-favorites"); n != 0 {
		t.Errorf("pending after delivery = %d", n)
	}

	got := origin.received()
	if len(got) != 6 {
		t.Fatalf("origin saw %d deliveries, want 6", len(got))
	}
	accepted := got[3:]
	for _, d := range accepted {
		if d.method != http.MethodPost || d.path != "/api/favorites" {
			t.Errorf("delivery went to %s %s", d.method, d.path)
		}
		if d.contentType != "application/json" {
			t.Errorf("content-type = %q", d.contentType)
		}
		want, ok := ids[d.key]
		if !ok {
			t.Errorf("idempotency key %q is not a record id", d.key)
			continue
		}
		if d.body != want {
			t.Errorf("body for %s = %s, want %s", d.key, d.body, want)
		}
		delete(ids, d.key)
	}
	if len(ids) != 0 {
		t.Errorf("records never delivered: %v", ids)
	}

	// Nothing left to send.
	report, _ = q.Replay(ctx, "sync-favorites")
	if report.Delivered != 0 || len(origin.received()) != 6 {
		t.Errorf("empty replay delivered again: %+v", report)
	}
}

func TestQueue_OfflineKeepsRecords(t *testing.T) {
	ctx := context.Background()
	offline := fetcher.Func(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return nil, fmt.Errorf("%w: no route to host", fetcher.ErrNetwork)
	})
	store := NewMemoryStore()
	q := NewQueue(store, &HTTPDeliverer{Network: offline}, Options{})

	if _, err := q.Enqueue(ctx, "sync-favorites", json.RawMessage(`{"auctionId":1}`)); err != nil {
		t.Fatal(err)
	}
	report, err := q.Replay(ctx, "sync-favorites")
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if report.Failed != 1 || report.Pending != 1 {
		t.Errorf("report = %+v", report)
	}
}

type failingStore struct {
	*MemoryStore
	err error
}

func (s *failingStore) Put(ctx context.Context, rec Record) error {
	return s.err
}

func TestQueue_EnqueueErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("Store Failure Propagates", func(t *testing.T) {
		diskFull := errors.New("disk full")
		q := NewQueue(&failingStore{MemoryStore: NewMemoryStore(), err: diskFull}, &HTTPDeliverer{}, Options{})
		if _, err := q.Enqueue(ctx, "sync-favorites", json.RawMessage(`{}`)); !errors.Is(err, diskFull) {
			t.Errorf("err = %v, want disk full", err)
		}
	})

	t.Run("Unknown Tag", func(t *testing.T) {
		q := NewQueue(NewMemoryStore(), &HTTPDeliverer{}, Options{})
		if _, err := q.Enqueue(ctx, "sync-bids", json.RawMessage(`{}`)); !errors.Is(err, ErrUnknownTag) {
			t.Errorf("Enqueue err = %v, want ErrUnknownTag", err)
		}
		if _, err := q.Replay(ctx, "sync-bids"); !errors.Is(err, ErrUnknownTag) {
			t.Errorf("Replay err = %v, want ErrUnknownTag", err)
		}
	})

	t.Run("Invalid Payload", func(t *testing.T) {
		q := NewQueue(NewMemoryStore(), &HTTPDeliverer{}, Options{})
		if _, err := q.Enqueue(ctx, "sync-favorites", json.RawMessage(`{not json`)); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("err = %v, want ErrInvalidPayload", err)
		}
	})
}

// gatedDeliverer blocks every delivery until release is closed.
type gatedDeliverer struct {
	started chan string
	release chan struct{}
	mu      sync.Mutex
	counts  map[string]int
}

func (d *gatedDeliverer) Deliver(ctx context.Context, route Route, rec Record) error {
	d.started <- rec.ID
	<-d.release
	d.mu.Lock()
	d.counts[rec.ID]++
	d.mu.Unlock()
	return nil
}

func TestQueue_ConcurrentReplaySkipsInFlight(t *testing.T) {
	ctx := context.Background()
	d := &gatedDeliverer{started: make(chan string, 2), release: make(chan struct{}), counts: map[string]int{}}
	store := NewMemoryStore()
	q := NewQueue(store, d, Options{Concurrency: 2})

	for i := 0; i < 2; i++ {
		if _, err := q.Enqueue(ctx, "sync-favorites", json.RawMessage(`{}`)); err != nil {
			t.Fatal(err)
		}
	}

	first := make(chan ReplayReport)
	go func() {
		r, _ := q.Replay(ctx, "sync-favorites")
		first <- r
	}()
	<-d.started
	<-d.started

	second, err := q.Replay(ctx, "sync-favorites")
	if err != nil {
		t.Fatalf("second Replay: %v", err)
	}
	if second.Skipped != 2 || second.Delivered != 0 {
		t.Errorf("second replay = %+v, want both skipped", second)
	}

	close(d.release)
	if r := <-first; r.Delivered != 2 {
		t.Errorf("first replay = %+v", r)
	}
	for id, n := range d.counts {
		if n != 1 {
			t.Errorf("record %s delivered %d times", id, n)
		}
	}
}

// vanishingStore lists records that Get no longer finds, like a record
// deleted by another replay after the listing.
type vanishingStore struct {
	*MemoryStore
}

func (s *vanishingStore) Get(ctx context.Context, tag, id string) (Record, error) {
	return Record{}, ErrRecordNotFound
}

func TestQueue_RereadsBeforeDelivery(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	d := DelivererFunc(func(ctx context.Context, route Route, rec Record) error {
		calls.Add(1)
		return nil
	})
	store := &vanishingStore{MemoryStore: NewMemoryStore()}
	q := NewQueue(store, d, Options{})
	if _, err := q.Enqueue(ctx, "sync-favorites", json.RawMessage(`{}`)); err != nil {
		t.Fatal(err)
	}

	report, err := q.Replay(ctx, "sync-favorites")
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 0 || report.Skipped != 1 {
		t.Errorf("calls=%d report=%+v, want the vanished record skipped", calls.Load(), report)
	}
}

func TestScheduler(t *testing.T) {
	if _, err := NewScheduler(NewQueue(NewMemoryStore(), &HTTPDeliverer{}, Options{}), "not a schedule"); err == nil {
		t.Error("NewScheduler accepted an invalid schedule")
	}

	origin := newOriginServer(t)
	q := NewQueue(NewMemoryStore(), origin.deliverer(t), Options{})
	if _, err := q.Enqueue(context.Background(), "sync-favorites", json.RawMessage(`{"auctionId":7}`)); err != nil {
		t.Fatal(err)
	}
	s, err := NewScheduler(q, "@every 1s")
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for len(origin.received()) == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(origin.received()) == 0 {
		t.Fatal("scheduled replay never delivered")
	}
}
