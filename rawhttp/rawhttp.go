// Package rawhttp holds helpers for mapping bodies travelling through the control plane:
// decoding compressed uploads and producing a readable view of stored content.
package rawhttp

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/beevik/etree"
	"github.com/gabriel-vasile/mimetype"
	"github.com/yosssi/gohtml"
)

var (
	ErrUnsupportedEncoding = errors.New("unsupported content encoding")
	ErrBodyTooLarge        = errors.New("body too large")
)

// Format names the structure Prettify recognised.
type Format string

const (
	FormatNone Format = ""
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
	FormatHTML Format = "html"
)

// Prettify indents JSON, XML or HTML bodies. Bodies in any other format yield an empty
// result and FormatNone, which is not an error.
func Prettify(body []byte) ([]byte, Format, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return []byte{}, FormatNone, nil
	}

	if out, ok, err := prettyJSON(trimmed); ok || err != nil {
		return out, FormatJSON, err
	}
	if out, ok, err := prettyXML(trimmed); ok || err != nil {
		if isHTML(trimmed) {
			return out, FormatHTML, err
		}
		return out, FormatXML, err
	}
	if out, ok := prettyHTML(trimmed); ok {
		return out, FormatHTML, nil
	}
	return []byte{}, FormatNone, nil
}

func prettyJSON(body []byte) ([]byte, bool, error) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, false, nil
	}
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, false, fmt.Errorf("remarshalling JSON : %w", err)
	}
	return out, true, nil
}

func prettyXML(body []byte) ([]byte, bool, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil || doc.Root() == nil {
		return nil, false, nil
	}
	doc.Indent(1)

	var out bytes.Buffer
	if _, err := doc.WriteTo(&out); err != nil {
		return nil, false, fmt.Errorf("writing indented XML : %w", err)
	}
	return out.Bytes(), true, nil
}

func prettyHTML(body []byte) ([]byte, bool) {
	if !isHTML(body) && !(bytes.HasPrefix(body, []byte("<")) && !bytes.HasPrefix(body, []byte("<?xml"))) {
		return nil, false
	}
	out := gohtml.FormatBytes(body)
	if len(out) == 0 || bytes.Equal(out, body) {
		return nil, false
	}
	return out, true
}

func isHTML(body []byte) bool {
	return strings.HasPrefix(mimetype.Detect(body).String(), "text/html")
}

// DecodeBody undoes a Content-Encoding. An empty or identity encoding returns the
// body unchanged. Stacked encodings are undone in reverse order.
func DecodeBody(body []byte, encoding string) ([]byte, error) {
	codings := strings.Split(encoding, ",")
	for i := len(codings) - 1; i >= 0; i-- {
		decoded, err := decodeOnce(body, strings.ToLower(strings.TrimSpace(codings[i])))
		if err != nil {
			return nil, err
		}
		body = decoded
	}
	return body, nil
}

func decodeOnce(body []byte, coding string) ([]byte, error) {
	var reader io.Reader
	switch coding {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("opening gzip body : %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(bytes.NewReader(body))
	case "deflate":
		fl := flate.NewReader(bytes.NewReader(body))
		defer fl.Close()
		reader = fl
	default:
		return nil, fmt.Errorf("%w : %s", ErrUnsupportedEncoding, coding)
	}

	decoded, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decoding %s body : %w", coding, err)
	}
	return decoded, nil
}

// ReadBody reads at most limit bytes from r and decodes them with encoding. A limit of
// zero or less reads everything.
func ReadBody(r io.Reader, encoding string, limit int64) ([]byte, error) {
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading body : %w", err)
	}
	if limit > 0 && int64(len(raw)) > limit {
		return nil, ErrBodyTooLarge
	}
	return DecodeBody(raw, encoding)
}
