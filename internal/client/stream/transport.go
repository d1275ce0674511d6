package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tunelog/notify/internal/pkg/sse"
)

// Transport errors
var (
	ErrUnauthorized = errors.New("stream rejected credential")
	ErrReadTimeout  = errors.New("stream idle timeout")
	ErrNotStream    = errors.New("response is not an event stream")
)

// Transport opens one server-push connection authenticated with token
type Transport interface {
	Open(ctx context.Context, token string) (Conn, error)
}

// Conn is a single live event stream. Close unblocks a pending Next.
type Conn interface {
	Next() (sse.Frame, error)
	Close() error
}

// HTTPTransport opens text/event-stream connections over HTTP, passing the
// credential as the "token" query parameter.
type HTTPTransport struct {
	streamURL   string
	client      *http.Client
	readTimeout time.Duration
}

// NewHTTPTransport builds a transport for streamURL. connectTimeout bounds the
// dial and the wait for response headers; readTimeout is the longest silence
// tolerated on an open stream (server keepalives reset it). Zero disables the
// corresponding limit.
func NewHTTPTransport(streamURL string, connectTimeout, readTimeout time.Duration) *HTTPTransport {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if connectTimeout > 0 {
		base.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext
		base.ResponseHeaderTimeout = connectTimeout
	}
	return &HTTPTransport{
		streamURL: streamURL,
		// no Client.Timeout: it would cut the stream after a fixed lifetime
		client:      &http.Client{Transport: base},
		readTimeout: readTimeout,
	}
}

// Open implements Transport
func (t *HTTPTransport) Open(ctx context.Context, token string) (Conn, error) {
	u, err := url.Parse(t.streamURL)
	if err != nil {
		return nil, fmt.Errorf("parse stream url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	connCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("open stream: http status %d", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		resp.Body.Close()
		cancel()
		return nil, ErrNotStream
	}

	c := &httpConn{body: resp.Body, cancel: cancel}
	var body io.Reader = resp.Body
	if t.readTimeout > 0 {
		c.watchdog = time.AfterFunc(t.readTimeout, func() {
			c.timedOut.Store(true)
			cancel()
		})
		body = &idleReader{r: resp.Body, timer: c.watchdog, timeout: t.readTimeout}
	}
	c.reader = sse.NewReader(body)
	return c, nil
}

type httpConn struct {
	reader   *sse.Reader
	body     io.ReadCloser
	cancel   context.CancelFunc
	watchdog *time.Timer
	timedOut atomic.Bool
	once     sync.Once
}

func (c *httpConn) Next() (sse.Frame, error) {
	f, err := c.reader.Next()
	if err != nil && c.timedOut.Load() {
		return sse.Frame{}, ErrReadTimeout
	}
	return f, err
}

func (c *httpConn) Close() error {
	var err error
	c.once.Do(func() {
		if c.watchdog != nil {
			c.watchdog.Stop()
		}
		c.cancel()
		err = c.body.Close()
	})
	return err
}

// idleReader pushes the watchdog back every time bytes arrive
type idleReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}
