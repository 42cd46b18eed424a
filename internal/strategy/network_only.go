package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lucasew/edgecache/internal/fetcher"
)

// OfflineMessage is the error text of the synthesized offline response.
const OfflineMessage = "You are offline"

type offlineBody struct {
	Error   string `json:"error"`
	Offline bool   `json:"offline"`
}

// NetworkOnly always goes to the network and never touches a partition.
// A transport failure becomes a 503 JSON response instead of an error.
type NetworkOnly struct {
	Network fetcher.Fetcher
}

func (s *NetworkOnly) Handle(ctx context.Context, req *Request) (*Result, error) {
	resp, err := s.Network.Fetch(ctx, req.HTTP)
	if err != nil {
		slog.Info("Network unreachable, answering with offline stub", "key", req.Key, "error", err)
		return &Result{Response: OfflineResponse(req.HTTP), Source: SourceOfflineStub}, nil
	}
	return &Result{Response: resp, Source: SourceNetwork}, nil
}

// OfflineResponse builds the 503 {"error":"You are offline","offline":true} response.
func OfflineResponse(req *http.Request) *http.Response {
	body, _ := json.Marshal(offlineBody{Error: OfflineMessage, Offline: true})
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        "503 Service Unavailable",
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
