package edgecache

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient(t *testing.T) {
	var lastBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		lastBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		switch r.Method + " " + r.URL.Path {
		case "POST /_edgecache/queue/sync-favorites":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"abc"}`))
		case "GET /_edgecache/queue/sync-favorites":
			_, _ = w.Write([]byte(`[{"id":"abc","tag":"sync-favorites","payload":{"auctionId":1},"attempts":2}]`))
		case "POST /_edgecache/sync/sync-favorites":
			_, _ = w.Write([]byte(`{"tag":"sync-favorites","delivered":1,"failed":0,"skipped":0,"pending":0}`))
		case "POST /_edgecache/sync/sync-bids":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"unknown sync tag: \"sync-bids\""}`))
		case "POST /_edgecache/push":
			_, _ = w.Write([]byte(`{"windows":2}`))
		case "GET /_edgecache/partitions":
			_, _ = w.Write([]byte(`[{"name":"aucsafe-static-v2","entries":5,"current":true}]`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
		}
	}))
	defer ts.Close()

	c := NewClient(nil, ts.URL+"/")

	t.Run("Enqueue", func(t *testing.T) {
		id, err := c.Enqueue(t.Context(), "sync-favorites", map[string]int{"auctionId": 1})
		if err != nil || id != "abc" {
			t.Fatalf("Enqueue = %q, %v", id, err)
		}
		if lastBody != `{"auctionId":1}` {
			t.Errorf("sent body %s", lastBody)
		}
	})

	t.Run("Enqueue Raw", func(t *testing.T) {
		if _, err := c.Enqueue(t.Context(), "sync-favorites", json.RawMessage(`{"auctionId":2}`)); err != nil {
			t.Fatal(err)
		}
		if lastBody != `{"auctionId":2}` {
			t.Errorf("sent body %s", lastBody)
		}
	})

	t.Run("Pending", func(t *testing.T) {
		recs, err := c.Pending(t.Context(), "sync-favorites")
		if err != nil || len(recs) != 1 || recs[0].Attempts != 2 {
			t.Fatalf("Pending = %+v, %v", recs, err)
		}
	})

	t.Run("Sync", func(t *testing.T) {
		r, err := c.Sync(t.Context(), "sync-favorites")
		if err != nil || r.Delivered != 1 {
			t.Fatalf("Sync = %+v, %v", r, err)
		}
	})

	t.Run("Sync Unknown Tag", func(t *testing.T) {
		_, err := c.Sync(t.Context(), "sync-bids")
		if !errors.Is(err, ErrUnknownTag) {
			t.Errorf("err = %v, want ErrUnknownTag", err)
		}
		var statusErr *HTTPStatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
			t.Errorf("err = %v, want HTTPStatusError 404", err)
		}
	})

	t.Run("Push", func(t *testing.T) {
		r, err := c.Push(t.Context(), PushMessage{Title: "Outbid", URL: "/auctions/1"})
		if err != nil || r.Windows != 2 {
			t.Fatalf("Push = %+v, %v", r, err)
		}
		if lastBody != `{"title":"Outbid","url":"/auctions/1"}` {
			t.Errorf("sent body %s", lastBody)
		}
	})

	t.Run("Partitions", func(t *testing.T) {
		parts, err := c.Partitions(t.Context())
		if err != nil || len(parts) != 1 || !parts[0].Current {
			t.Fatalf("Partitions = %+v, %v", parts, err)
		}
	})
}

func TestNewClient_Env(t *testing.T) {
	t.Setenv("EDGECACHE_SERVER", "http://cache.internal:9000/")
	if c := NewClient(nil, ""); c.Server != "http://cache.internal:9000" {
		t.Errorf("server = %q", c.Server)
	}
	if c := NewClient(nil, "http://explicit"); c.Server != "http://explicit" {
		t.Errorf("server = %q", c.Server)
	}
	t.Setenv("EDGECACHE_SERVER", "")
	if c := NewClient(nil, ""); c.Server != DefaultServer {
		t.Errorf("server = %q", c.Server)
	}
}
