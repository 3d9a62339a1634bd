package intercept

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/tfkr-ae/mimic/domain"
)

// ErrNoContent is returned when asked to serve a mapping without content.
var ErrNoContent = errors.New("mapping has no content")

// framingHeaders describe the upstream body and are never copied onto substituted content.
var framingHeaders = []string{"Content-Length", "Content-Encoding", "Transfer-Encoding"}

// HeaderTracker is implemented by response writers that know whether the status line
// and headers already went out to the client.
type HeaderTracker interface {
	HeadersWritten() bool
}

// WriteMimicked writes the mapping content as a 200 response. Upstream headers, if any,
// are copied without their framing headers. When w reports the headers as already
// written only the body is written.
func WriteMimicked(w http.ResponseWriter, mapping *domain.Mapping, upstream http.Header) error {
	if mapping == nil || len(mapping.Content) == 0 {
		return ErrNoContent
	}

	if tracker, ok := w.(HeaderTracker); !ok || !tracker.HeadersWritten() {
		header := w.Header()
		for key, values := range upstream {
			header[key] = append([]string(nil), values...)
		}
		for _, key := range framingHeaders {
			header.Del(key)
		}
		header.Set("Content-Type", DetectContentType(mapping.Content))
		header.Set("Content-Length", strconv.Itoa(len(mapping.Content)))
		w.WriteHeader(http.StatusOK)
	}

	_, err := w.Write(mapping.Content)
	return err
}

// trackingWriter records whether WriteHeader (or Write) has gone through.
type trackingWriter struct {
	http.ResponseWriter
	written bool
}

func (w *trackingWriter) WriteHeader(status int) {
	w.written = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *trackingWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

func (w *trackingWriter) HeadersWritten() bool { return w.written }

func (w *trackingWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// TrackHeaders wraps w so that WriteMimicked can tell whether headers were flushed.
func TrackHeaders(w http.ResponseWriter) http.ResponseWriter {
	if _, ok := w.(HeaderTracker); ok {
		return w
	}
	return &trackingWriter{ResponseWriter: w}
}
