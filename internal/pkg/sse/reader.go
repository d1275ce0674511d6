package sse

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	ginsse "github.com/gin-contrib/sse"
)

// Frame is one decoded server-sent event
type Frame struct {
	ID    string
	Event string
	Data  string
}

// Reader splits a text/event-stream body into frames
type Reader struct {
	br    *bufio.Reader
	block bytes.Buffer
}

// NewReader wraps an event-stream body
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// Next blocks until the next complete event arrives. Blocks holding only
// comments are skipped. io.EOF is returned when the server closes the stream.
func (r *Reader) Next() (Frame, error) {
	for {
		line, err := r.br.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return Frame{}, io.EOF
			}
			return Frame{}, err
		}

		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
		if line != "" {
			r.block.WriteString(line)
			r.block.WriteByte('\n')
			continue
		}
		if r.block.Len() == 0 {
			continue
		}

		r.block.WriteByte('\n')
		events, err := ginsse.Decode(&r.block)
		r.block.Reset()
		if err != nil {
			return Frame{}, fmt.Errorf("decode event block: %w", err)
		}
		if len(events) == 0 {
			continue
		}

		ev := events[0]
		return Frame{
			ID:    ev.Id,
			Event: ev.Event,
			Data:  dataString(ev.Data),
		}, nil
	}
}

func dataString(v interface{}) string {
	switch d := v.(type) {
	case nil:
		return ""
	case string:
		return d
	case []byte:
		return string(d)
	default:
		return fmt.Sprint(d)
	}
}
