// Package sse implements the server-sent-events framing used by the setup
// and chat streams: newline-delimited "data: <json>" frames, flushed as they
// are produced.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DoneSentinel terminates the chat stream. The setup stream does not use a
// sentinel; its consumers detect completion by stream closure.
const DoneSentinel = "[DONE]"

// Writer emits SSE frames over an HTTP response.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter prepares w for event streaming and returns a frame writer.
// Returns an error if the response cannot be flushed incrementally.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &Writer{w: w, flusher: flusher}, nil
}

// SendJSON writes one "data: <json>" frame and flushes it.
func (w *Writer) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling sse frame: %w", err)
	}
	return w.sendRaw(string(data))
}

// SendDone writes the [DONE] sentinel frame.
func (w *Writer) SendDone() error {
	return w.sendRaw(DoneSentinel)
}

func (w *Writer) sendRaw(payload string) error {
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

// Reader consumes an SSE byte stream chunk by chunk. A frame split across
// chunk boundaries is buffered: the incomplete trailing line is carried
// forward to the next read, never dropped.
type Reader struct {
	r       io.Reader
	chunk   []byte
	carry   string
	pending []string
	eof     bool
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, chunk: make([]byte, 4096)}
}

// Next returns the payload of the next "data: " frame. Non-data lines and
// blank separators are skipped. Returns io.EOF when the stream closes.
func (r *Reader) Next() (string, error) {
	for {
		if len(r.pending) > 0 {
			line := r.pending[0]
			r.pending = r.pending[1:]
			if payload, ok := strings.CutPrefix(line, "data: "); ok {
				return payload, nil
			}
			continue
		}
		if r.eof {
			return "", io.EOF
		}

		n, err := r.r.Read(r.chunk)
		if n > 0 {
			buf := r.carry + string(r.chunk[:n])
			lines := strings.Split(buf, "\n")
			// The last element is an incomplete line (or "" after a final
			// newline); hold it back for the next chunk.
			r.carry = lines[len(lines)-1]
			r.pending = lines[:len(lines)-1]
		}
		if err != nil {
			if err != io.EOF {
				return "", err
			}
			r.eof = true
			if r.carry != "" {
				r.pending = append(r.pending, r.carry)
				r.carry = ""
			}
		}
	}
}
