package engine

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

const (
	defaultLaunchTimeout = 30 * time.Second
	devtoolsPollInterval = 200 * time.Millisecond
)

// defaultLaunchArgs keep a service-managed Chromium quiet and deterministic.
// Flags supplied by the caller win when they collide with these.
var defaultLaunchArgs = []string{
	"--no-first-run",
	"--no-default-browser-check",
	"--disable-gpu",
	"--disable-background-networking",
	"--hide-scrollbars",
	"--mute-audio",
}

// executableNames are tried on PATH in order during auto-discovery.
var executableNames = []string{
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"chrome",
	"headless_shell",
}

// Launch starts a local Chromium with remote debugging enabled, waits for it
// to expose its devtools endpoint and attaches to it.
func (e *Chromium) Launch(ctx context.Context, opts LaunchOptions) (Handle, error) {
	execPath, err := ResolveExecutable(opts.ExecutablePath)
	if err != nil {
		return nil, err
	}

	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate debugging port: %w", err)
	}

	dataDir, err := os.MkdirTemp("", "rasterd-profile-")
	if err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}

	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--user-data-dir=" + dataDir,
	}
	if opts.Headless {
		args = append(args, "--headless")
	}
	args = mergeLaunchArgs(args, opts.ExtraArgs, opts.ProxyServer)

	cmd := exec.Command(execPath, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(dataDir)
		return nil, fmt.Errorf("failed to start %s: %w", execPath, err)
	}

	e.log.WithField("executable", execPath).WithField("port", port).Info("launched browser")

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultLaunchTimeout
	}
	discoveryURL := fmt.Sprintf("http://127.0.0.1:%d", port)

	ws, err := e.waitForDevtools(ctx, discoveryURL, timeout)
	if err != nil {
		killProcess(cmd)
		_ = os.RemoveAll(dataDir)
		return nil, fmt.Errorf("browser never exposed devtools on %s: %w", discoveryURL, err)
	}

	pw, err := e.driver()
	if err != nil {
		killProcess(cmd)
		_ = os.RemoveAll(dataDir)
		return nil, err
	}

	browser, err := pw.Chromium.ConnectOverCDP(ws)
	if err != nil {
		killProcess(cmd)
		_ = os.RemoveAll(dataDir)
		return nil, classifyConnectError(ctx, ws, err)
	}

	return &chromiumHandle{
		browser:     browser,
		ws:          ws,
		proc:        cmd,
		userDataDir: dataDir,
		log:         e.log,
	}, nil
}

// waitForDevtools polls the discovery route until the freshly started browser
// answers with its websocket address.
func (e *Chromium) waitForDevtools(ctx context.Context, discoveryURL string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error

	for {
		ws, err := resolveWSEndpoint(ctx, discoveryURL, nil)
		if err == nil {
			return ws, nil
		}
		lastErr = err

		if time.Now().After(deadline) {
			return "", lastErr
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(devtoolsPollInterval):
		}
	}
}

// ResolveExecutable finds the browser binary to launch. An explicit path is
// validated as-is; otherwise PATH and conventional install locations are
// searched. Failure is terminal and never retried.
func ResolveExecutable(explicit string) (string, error) {
	if explicit != "" {
		info, err := os.Stat(explicit)
		if err != nil || info.IsDir() {
			return "", fmt.Errorf("%w: %s", ErrExecutableMissing, explicit)
		}
		return explicit, nil
	}

	for _, name := range executableNames {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	for _, path := range wellKnownPaths() {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w: no Chromium install on PATH or in conventional locations", ErrExecutableMissing)
}

func wellKnownPaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	default:
		return []string{
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/usr/bin/google-chrome",
			"/snap/bin/chromium",
		}
	}
}

// mergeLaunchArgs combines the fixed base flags, the built-in defaults, the
// caller's extra flags and the optional proxy flag. Precedence, highest
// first: base, extras, defaults. The proxy is appended only when no
// --proxy-server flag is present anywhere.
func mergeLaunchArgs(base, extras []string, proxyServer string) []string {
	seen := make(map[string]bool, len(base)+len(extras))
	for _, arg := range base {
		seen[flagName(arg)] = true
	}

	out := base
	for _, arg := range extras {
		name := flagName(arg)
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, arg)
	}
	for _, arg := range defaultLaunchArgs {
		name := flagName(arg)
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, arg)
	}

	if proxyServer != "" && !seen["--proxy-server"] {
		out = append(out, "--proxy-server="+proxyServer)
	}

	return out
}

func flagName(arg string) string {
	if i := strings.IndexByte(arg, '='); i >= 0 {
		return arg[:i]
	}
	return arg
}

// freePort grabs an OS-assigned loopback port and releases it for the
// browser to bind.
func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := ln.Close(); err != nil {
		return 0, err
	}
	return port, nil
}

// killProcess tears down a browser process we failed to attach to.
func killProcess(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
	_, _ = cmd.Process.Wait()
}
