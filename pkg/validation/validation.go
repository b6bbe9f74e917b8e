package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// SessionCodeRegex validates session code format
	SessionCodeRegex = regexp.MustCompile(`^[0-9]{6}$`)
)

// ValidateSessionCode validates a numeric session code
func ValidateSessionCode(code string) error {
	if code == "" {
		return fmt.Errorf("session code is required")
	}
	if !SessionCodeRegex.MatchString(code) {
		return fmt.Errorf("invalid session code format (must be 6 digits)")
	}
	return nil
}

// ValidateRole validates a signaling role name
func ValidateRole(role string) error {
	switch role {
	case "broadcaster", "viewer":
		return nil
	case "":
		return fmt.Errorf("role is required")
	default:
		return fmt.Errorf("invalid role %q (must be broadcaster or viewer)", role)
	}
}

// ValidateSDP performs a structural check of a session description
func ValidateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("SDP cannot be empty")
	}
	if !strings.HasPrefix(sdp, "v=") {
		return fmt.Errorf("invalid SDP format: must start with 'v='")
	}
	for _, field := range []string{"o=", "s=", "t="} {
		if !strings.Contains(sdp, field) {
			return fmt.Errorf("invalid SDP format: missing required field '%s'", field)
		}
	}
	return nil
}

// ValidateCandidate checks that an ICE candidate line is present
func ValidateCandidate(candidate string) error {
	if strings.TrimSpace(candidate) == "" {
		return fmt.Errorf("candidate cannot be empty")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidatePort validates a TCP port number
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}
