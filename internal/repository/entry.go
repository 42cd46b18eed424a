package repository

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/lucasew/edgecache/internal/hashutil"
)

// Entry is a response snapshot stored under a request key.
type Entry struct {
	Key      string
	Status   int
	Header   http.Header
	Body     []byte
	Digest   string
	Seq      int64
	StoredAt time.Time
}

// NewEntry reads resp fully and turns it into an Entry. The response body is
// consumed and closed; callers serve the snapshot instead.
func NewEntry(key string, resp *http.Response) (*Entry, error) {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return NewEntryFromBytes(key, resp.StatusCode, resp.Header, body)
}

// NewEntryFromBytes builds an Entry and computes its digest.
func NewEntryFromBytes(key string, status int, header http.Header, body []byte) (*Entry, error) {
	digest, err := hashutil.Digest(hashutil.DefaultAlgo, body)
	if err != nil {
		return nil, err
	}
	h := header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Del("Content-Length")
	return &Entry{
		Key:      key,
		Status:   status,
		Header:   h,
		Body:     body,
		Digest:   digest,
		StoredAt: time.Now(),
	}, nil
}

// OK reports a 2xx status, the only responses worth caching.
func (e *Entry) OK() bool {
	return e.Status >= 200 && e.Status <= 299
}

// Valid checks the body against the stored digest.
func (e *Entry) Valid() bool {
	return hashutil.Verify(e.Digest, e.Body)
}

// Response materialises a fresh *http.Response for req. Each call gets its own
// body reader so one snapshot can be served many times.
func (e *Entry) Response(req *http.Request) *http.Response {
	h := e.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Set("Content-Length", strconv.Itoa(len(e.Body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Header = e.Header.Clone()
	c.Body = bytes.Clone(e.Body)
	return &c
}

// Checked returns e, or ErrCorrupt if its body does not match the digest.
func Checked(e *Entry, partition string) (*Entry, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("%w: %s in %s", ErrCorrupt, e.Key, partition)
	}
	return e, nil
}
