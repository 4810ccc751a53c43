package stream

import (
	"context"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// ErrUnexpectedStatus is returned when the stream endpoint answers with a non-200 status.
var ErrUnexpectedStatus = errors.New("unexpected status from stream endpoint")

// Sink receives what a transport reads. Calls for one connection are made
// from a single goroutine, in wire order.
type Sink interface {
	Opened()
	Frame(data string)
	KeepAlive()
}

// Transport opens one stream connection and pumps it into sink until the
// stream ends. It returns nil when the server closed the stream cleanly and
// a non-nil error otherwise. Cancelling ctx must make Stream return.
type Transport interface {
	Stream(ctx context.Context, url string, sink Sink) error
}

// HTTPTransport reads server-sent events over a long-lived HTTP GET.
type HTTPTransport struct {
	client *http.Client
	header http.Header
	logger *zap.SugaredLogger
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient sets the HTTP client. It must not carry an overall timeout.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		t.client = c
	}
}

// WithHeader adds a request header sent on every connection.
func WithHeader(key, value string) HTTPOption {
	return func(t *HTTPTransport) {
		t.header.Add(key, value)
	}
}

// WithTransportLogger sets the logger used for connection diagnostics.
func WithTransportLogger(l *zap.SugaredLogger) HTTPOption {
	return func(t *HTTPTransport) {
		t.logger = l
	}
}

// NewHTTPTransport creates an SSE transport.
func NewHTTPTransport(opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		client: &http.Client{},
		header: make(http.Header),
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Stream implements Transport.
func (t *HTTPTransport) Stream(ctx context.Context, url string, sink Sink) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build stream request")
	}
	for k, vs := range t.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "open stream")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Wrapf(ErrUnexpectedStatus, "%s: %s", resp.Status, string(body))
	}

	t.logger.Debugw("Stream opened", "url", url, "content_type", resp.Header.Get("Content-Type"))
	sink.Opened()

	reader := newSSEReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if ev.Comment {
			sink.KeepAlive()
			continue
		}
		if ev.Event != "" && ev.Event != "message" {
			t.logger.Debugw("Named event", "event", ev.Event, "id", ev.ID)
		}
		sink.Frame(ev.Data)
	}
}
