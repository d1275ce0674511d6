package sse

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_HeadersAndEncoding(t *testing.T) {
	rec := httptest.NewRecorder()

	w, err := NewWriter(rec)
	require.NoError(t, err)
	require.NoError(t, w.Send("connected", map[string]string{"status": "connected"}))
	require.NoError(t, w.Send("ping", "keepalive"))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.True(t, rec.Flushed)

	body := rec.Body.String()
	assert.Contains(t, body, "event:connected\n")
	assert.Contains(t, body, `data:{"status":"connected"}`)
	assert.Contains(t, body, "event:ping\n")
}

func TestWriterReader_RoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)
	require.NoError(t, w.Send("notification", map[string]string{"id": "n1"}))
	require.NoError(t, w.Send("ping", map[string]int{"timestamp": 7}))

	r := NewReader(strings.NewReader(rec.Body.String()))

	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "notification", f.Event)
	assert.JSONEq(t, `{"id":"n1"}`, f.Data)

	f, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "ping", f.Event)
	assert.JSONEq(t, `{"timestamp":7}`, f.Data)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_CommentsCRLFAndMultilineData(t *testing.T) {
	stream := ": keepalive\r\n\r\n" +
		"id: 9\r\nevent: notification\r\ndata: {\"a\":\r\ndata: 1}\r\n\r\n" +
		"data: bare\n\n"

	r := NewReader(strings.NewReader(stream))

	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "9", f.ID)
	assert.Equal(t, "notification", f.Event)
	assert.Equal(t, "{\"a\":\n1}", f.Data)

	f, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "bare", f.Data)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_IncompleteBlockAtEOF(t *testing.T) {
	r := NewReader(strings.NewReader("event: notification\ndata: {}\n"))

	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}
