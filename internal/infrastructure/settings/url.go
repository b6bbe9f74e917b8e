package settings

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"camstream/internal/core/domain"
)

// Endpoints resolves the signaling websocket URL and the health base URL.
// When the preferences name a custom server it replaces the host of the
// configured defaults; the secure flag picks wss/https over ws/http.
func Endpoints(prefs domain.Preferences, defaultSignaling, defaultHealth string) (signalingURL, healthURL string, err error) {
	if !prefs.CustomServerEnabled || prefs.CustomServerURL == "" {
		return defaultSignaling, defaultHealth, nil
	}

	raw := prefs.CustomServerURL
	if !strings.Contains(raw, "://") {
		raw = "//" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid custom server url %q: %w", prefs.CustomServerURL, err)
	}
	if u.Hostname() == "" {
		return "", "", fmt.Errorf("custom server url %q has no host", prefs.CustomServerURL)
	}

	host := u.Hostname()
	port := u.Port()
	if prefs.CustomServerPort > 0 {
		port = strconv.Itoa(prefs.CustomServerPort)
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	wsScheme, httpScheme := "ws", "http"
	if prefs.SecureConnection {
		wsScheme, httpScheme = "wss", "https"
	}

	path := strings.TrimSuffix(u.Path, "/")
	signaling := url.URL{Scheme: wsScheme, Host: host, Path: path + "/ws"}
	health := url.URL{Scheme: httpScheme, Host: host, Path: path}
	return signaling.String(), health.String(), nil
}
