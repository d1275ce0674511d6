package stream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunelog/notify/internal/pkg/sse"
)

func TestHTTPTransport_StreamsEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		sw, err := sse.NewWriter(w)
		require.NoError(t, err)
		_ = sw.Send("connected", map[string]string{"status": "connected"})
		_ = sw.Send("notification", map[string]interface{}{"id": "n1", "kind": "follow", "created_at": "2026-01-10T12:00:00Z"})
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL+"/api/v1/notifications/stream", time.Second, 0)
	conn, err := tr.Open(context.Background(), "tok")
	require.NoError(t, err)
	defer conn.Close()

	f, err := conn.Next()
	require.NoError(t, err)
	assert.Equal(t, "connected", f.Event)

	f, err = conn.Next()
	require.NoError(t, err)
	assert.Equal(t, "notification", f.Event)
	assert.Contains(t, f.Data, `"id":"n1"`)

	_, err = conn.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestHTTPTransport_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, time.Second, 0)
	_, err := tr.Open(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestHTTPTransport_NotAnEventStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, time.Second, 0)
	_, err := tr.Open(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrNotStream)
}

func TestHTTPTransport_ReadTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw, err := sse.NewWriter(w)
		require.NoError(t, err)
		_ = sw.Send("connected", map[string]string{"status": "connected"})
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	tr := NewHTTPTransport(srv.URL, time.Second, 50*time.Millisecond)
	conn, err := tr.Open(context.Background(), "tok")
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Next()
	require.NoError(t, err)

	_, err = conn.Next()
	assert.ErrorIs(t, err, ErrReadTimeout)
}

func TestHTTPTransport_CloseUnblocksNext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = sse.NewWriter(w)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	tr := NewHTTPTransport(srv.URL, time.Second, 0)
	conn, err := tr.Open(context.Background(), "tok")
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := conn.Next()
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, conn.Close())

	select {
	case err := <-errc:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
}
