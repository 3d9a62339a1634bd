package mimic

import (
	"errors"
	"fmt"
	"net"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ErrChromeNotFound is returned when no Chrome or Chromium executable could be located.
var ErrChromeNotFound = errors.New("chrome not found")

// getChromePath returns the first Chrome executable found, trying customPaths before the OS defaults.
func getChromePath(customPaths []string) string {
	paths := append([]string{}, customPaths...)
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			`/Applications/Google Chrome.app/Contents/MacOS/Google Chrome`,
			`/Applications/Chromium.app/Contents/MacOS/Chromium`,
		)
	case "windows":
		paths = append(paths,
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		)
	case "linux":
		paths = append(paths,
			`/usr/bin/google-chrome`,
			`/usr/bin/google-chrome-stable`,
			`/usr/bin/chromium`,
			`/usr/bin/chromium-browser`,
			`/snap/bin/chromium`,
		)
	}

	for _, path := range paths {
		if _, err := exec.LookPath(path); err == nil {
			return path
		}
	}
	return ""
}

// chromeFlags builds the arguments that point Chrome at the proxy and trust its CA by SPKI hash.
func (proxy *Proxy) chromeFlags() []string {
	return []string{
		fmt.Sprintf("--user-data-dir=%s", filepath.Join(proxy.ConfigDir, "chrome-profile")),
		fmt.Sprintf("--proxy-server=http://%s", net.JoinHostPort(proxy.Addr, proxy.Port)),
		fmt.Sprintf("--ignore-certificate-errors-spki-list=%s", proxy.SPKIHash),
		"--disable-background-networking",
		"--disable-default-apps",
		"--disable-sync",
		"--no-first-run",
		"--disable-component-update",
		"--proxy-bypass-list=<-loopback>",
		"about:blank",
	}
}

// StartChrome launches an isolated Chrome profile that routes through the proxy.
// The proxy must be listening (GetListener) and its CA loaded (WithTLS).
func (proxy *Proxy) StartChrome() (*exec.Cmd, error) {
	if proxy.Port == "" || proxy.SPKIHash == "" {
		return nil, errors.New("proxy is not listening or has no certificate")
	}

	var customPaths []string
	if proxy.Config != nil {
		customPaths = proxy.Config.ChromePaths
	}
	chromePath := getChromePath(customPaths)
	if chromePath == "" {
		return nil, ErrChromeNotFound
	}

	cmd := exec.Command(chromePath, proxy.chromeFlags()...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting chrome : %w", err)
	}
	proxy.Logger.Info("chrome started", "path", chromePath, "pid", cmd.Process.Pid)
	return cmd, nil
}
