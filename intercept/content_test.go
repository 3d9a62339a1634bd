package intercept

import "testing"

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		want    string
	}{
		{name: "should detect a JSON object", content: []byte(`{"users":[]}`), want: "application/json"},
		{name: "should detect a JSON array with surrounding whitespace", content: []byte("\n  [1, 2]\n"), want: "application/json"},
		{name: "should detect an HTML doctype", content: []byte("<!DOCTYPE html><html></html>"), want: "text/html; charset=utf-8"},
		{name: "should detect an html tag", content: []byte("<html><body>hi</body></html>"), want: "text/html; charset=utf-8"},
		{name: "should detect PNG magic", content: []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR// "), want: "image/png"},
		{name: "should detect JPEG magic", content: []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), want: "image/jpeg"},
		{name: "should detect script tokens", content: []byte("console.log('mocked')\n// done"), want: "application/javascript; charset=utf-8"},
		{name: "should detect a console call", content: []byte("console.log(1)"), want: "application/javascript; charset=utf-8"},
		{name: "should detect arrow functions", content: []byte("window.x = () => 1"), want: "application/javascript; charset=utf-8"},
		{name: "should fall back to plain text", content: []byte("hello world"), want: "text/plain; charset=utf-8"},
		{name: "should fall back to plain text for empty content", content: nil, want: "text/plain; charset=utf-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectContentType(tt.content); got != tt.want {
				t.Fatalf("\nwanted:\n%s\ngot:\n%s", tt.want, got)
			}
		})
	}
}
