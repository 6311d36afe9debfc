package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/syncspace/internal/thing"
)

// maxResponseBytes caps how much of a reply body is read.
const maxResponseBytes = 32 << 20

// HTTP sends requests as JSON POSTs to a single endpoint.
type HTTP struct {
	url    string
	reg    *thing.Registry
	client *http.Client
	header http.Header
	log    *slog.Logger
}

var _ Remote = (*HTTP)(nil)

// HTTPOption configures an HTTP remote.
type HTTPOption func(*HTTP)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithTimeout bounds every round trip.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) { h.client.Timeout = d }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) HTTPOption {
	return func(h *HTTP) { h.header.Add(key, value) }
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTP) { h.log = l }
}

// NewHTTP creates a client for the endpoint url. Replies are decoded
// against reg.
func NewHTTP(url string, reg *thing.Registry, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		url:    url,
		reg:    reg,
		client: &http.Client{Timeout: 30 * time.Second},
		header: make(http.Header),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Send posts req and decodes the reply.
func (h *HTTP) Send(ctx context.Context, req *Request) (*Response, error) {
	body, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range h.header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("X-Request-Id", req.ID)

	start := time.Now()
	hresp, err := h.client.Do(hreq)
	if err != nil {
		return nil, &TransportError{Retryable: !errors.Is(err, context.Canceled), Err: err}
	}
	defer hresp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(hresp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{StatusCode: hresp.StatusCode, Retryable: true, Err: err}
	}
	h.log.Debug("remote: round trip", "request_id", req.ID, "status", hresp.StatusCode, "elapsed", time.Since(start))

	if hresp.StatusCode < 200 || hresp.StatusCode > 299 {
		return nil, &TransportError{
			StatusCode: hresp.StatusCode,
			Retryable:  retryableStatus(hresp.StatusCode),
			Err:        fmt.Errorf("%s: %s", hresp.Status, bytes.TrimSpace(data)),
		}
	}
	return DecodeResponse(h.reg, data, req)
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// Handler serves the JSON protocol by delegating to a Remote. Useful for
// local fakes and tests.
func Handler(reg *thing.Registry, r Remote) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, hr *http.Request) {
		if hr.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		data, err := io.ReadAll(io.LimitReader(hr.Body, maxResponseBytes))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req, err := DecodeRequest(reg, data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := r.Send(hr.Context(), req)
		if err != nil {
			status := http.StatusInternalServerError
			var te *TransportError
			if errors.As(err, &te) && te.StatusCode != 0 {
				status = te.StatusCode
			}
			http.Error(w, err.Error(), status)
			return
		}
		out, err := EncodeResponse(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(out)
	})
}
