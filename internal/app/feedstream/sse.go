package feedstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/a-h/templ"
)

var errStreamingUnsupported = errors.New("streaming unsupported")

// sseWriter emits Datastar patch events on a text/event-stream response.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

// patchElements replaces the element matched by selector with the rendered component.
func (s *sseWriter) patchElements(ctx context.Context, selector, mode string, c templ.Component) error {
	var buf bytes.Buffer
	if err := c.Render(ctx, &buf); err != nil {
		return err
	}
	elements := strings.ReplaceAll(buf.String(), "\n", "")

	var ev strings.Builder
	ev.WriteString("event: datastar-patch-elements\n")
	fmt.Fprintf(&ev, "data: selector %s\n", selector)
	fmt.Fprintf(&ev, "data: mode %s\n", mode)
	fmt.Fprintf(&ev, "data: elements %s\n\n", elements)
	return s.write(ev.String())
}

// patchSignals merges a JSON object into the page signals.
func (s *sseWriter) patchSignals(signalsJSON string) error {
	return s.write("event: datastar-patch-signals\ndata: signals " + signalsJSON + "\n\n")
}

func (s *sseWriter) comment(text string) error {
	return s.write(": " + text + "\n\n")
}

func (s *sseWriter) write(payload string) error {
	if _, err := s.w.Write([]byte(payload)); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
