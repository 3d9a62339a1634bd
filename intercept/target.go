package intercept

import (
	"net"
	"net/http"
	"strings"
)

// TargetURL extracts the absolute URL a proxied request is aimed at, or "" when
// none can be derived. Absolute-form request targets are used as is, "/http://..."
// paths are unwrapped, and origin-form requests are rebuilt from the Host header
// unless it names the local machine.
func TargetURL(req *http.Request) string {
	if req == nil || req.URL == nil || req.Method == http.MethodConnect {
		return ""
	}

	if req.URL.IsAbs() && (req.URL.Scheme == "http" || req.URL.Scheme == "https") {
		return req.URL.String()
	}

	uri := req.RequestURI
	if uri == "" {
		uri = req.URL.RequestURI()
	}
	if strings.HasPrefix(uri, "/http://") || strings.HasPrefix(uri, "/https://") {
		return uri[1:]
	}

	if req.Host == "" || isLocalHost(req.Host) {
		return ""
	}
	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + req.Host + req.URL.RequestURI()
}

func isLocalHost(hostPort string) bool {
	host, _, err := net.SplitHostPort(hostPort)
	if err != nil {
		host = hostPort
	}
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
