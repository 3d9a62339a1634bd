package intercept

import (
	"bytes"
	"encoding/json"

	"github.com/gabriel-vasile/mimetype"
)

var scriptTokens = [][]byte{
	[]byte("function"),
	[]byte("const "),
	[]byte("let "),
	[]byte("var "),
	[]byte("=>"),
	[]byte("//"),
	[]byte("/*"),
	[]byte("console."),
	[]byte("document."),
	[]byte("window."),
	[]byte("import "),
	[]byte("export "),
}

// DetectContentType sniffs the Content-Type of substituted content.
func DetectContentType(content []byte) string {
	text := bytes.TrimSpace(content)
	if len(text) == 0 {
		return "text/plain; charset=utf-8"
	}

	if json.Valid(text) {
		return "application/json"
	}

	lower := bytes.ToLower(text)
	if bytes.HasPrefix(lower, []byte("<!")) || bytes.Contains(lower, []byte("<html")) {
		return "text/html; charset=utf-8"
	}

	detected := mimetype.Detect(content)
	switch {
	case detected.Is("image/png"):
		return "image/png"
	case detected.Is("image/jpeg"):
		return "image/jpeg"
	}

	for _, token := range scriptTokens {
		if bytes.Contains(text, token) {
			return "application/javascript; charset=utf-8"
		}
	}
	return "text/plain; charset=utf-8"
}
