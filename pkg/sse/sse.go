// Package sse writes and reads the JSON-per-event stream used by chat
// responses. Every event is one line `data: <json>` followed by a blank line.
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const ContentType = "text/event-stream"

// SetHeaders prepares w for streaming.
func SetHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter flushes after every event when w supports it.
func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// WriteEvent encodes v as a single data line.
func (sw *Writer) WriteEvent(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

// Reader splits a stream into event payloads. Partial lines are buffered
// across reads and a final line without a terminator still counts.
type Reader struct {
	r    *bufio.Reader
	data []string
	done bool
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the payload of the next event, or io.EOF after the last one.
func (sr *Reader) Next() ([]byte, error) {
	for !sr.done {
		line, err := sr.r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if errors.Is(err, io.EOF) {
			sr.done = true
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(sr.data) > 0 {
				return sr.flush(), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}
		sr.data = append(sr.data, strings.TrimPrefix(value, " "))
	}

	if len(sr.data) > 0 {
		return sr.flush(), nil
	}
	return nil, io.EOF
}

func (sr *Reader) flush() []byte {
	payload := []byte(strings.Join(sr.data, "\n"))
	sr.data = sr.data[:0]
	return bytes.TrimSpace(payload)
}

// Decode reads the next event into v.
func (sr *Reader) Decode(v any) error {
	payload, err := sr.Next()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("malformed event %q: %w", payload, err)
	}
	return nil
}
