package mimic

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// responseWriter is an http.ResponseWriter over a martian *http.Response, so that
// the net/http response synthesis in intercept can fill in a proxied response.
type responseWriter struct {
	res     *http.Response
	body    bytes.Buffer
	written bool
}

func newResponseWriter(res *http.Response) *responseWriter {
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	return &responseWriter{res: res}
}

func (w *responseWriter) Header() http.Header {
	return w.res.Header
}

func (w *responseWriter) WriteHeader(status int) {
	if w.written {
		return
	}
	w.written = true
	w.res.StatusCode = status
	w.res.Status = fmt.Sprintf("%d %s", status, http.StatusText(status))
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(b)
}

// HeadersWritten reports whether the status line has been set.
func (w *responseWriter) HeadersWritten() bool {
	return w.written
}

// finish swaps the response body for the written bytes.
func (w *responseWriter) finish() {
	if w.res.Body != nil {
		w.res.Body.Close()
	}
	w.res.Body = io.NopCloser(bytes.NewReader(w.body.Bytes()))
	w.res.ContentLength = int64(w.body.Len())
	w.res.TransferEncoding = nil
	w.res.Uncompressed = false
}
