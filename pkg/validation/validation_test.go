package validation

import "testing"

func TestValidateSessionCode(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr bool
	}{
		{"valid", "042917", false},
		{"empty", "", true},
		{"too short", "12345", true},
		{"too long", "1234567", true},
		{"letters", "12a456", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionCode(tt.code)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSessionCode(%q) error = %v, wantErr %v", tt.code, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRole(t *testing.T) {
	for _, role := range []string{"broadcaster", "viewer"} {
		if err := ValidateRole(role); err != nil {
			t.Errorf("ValidateRole(%q) unexpected error: %v", role, err)
		}
	}
	for _, role := range []string{"", "publisher"} {
		if err := ValidateRole(role); err == nil {
			t.Errorf("ValidateRole(%q) expected error", role)
		}
	}
}

func TestValidateSDP(t *testing.T) {
	tests := []struct {
		name    string
		sdp     string
		wantErr bool
	}{
		{"valid", "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n", false},
		{"empty", "", true},
		{"wrong prefix", "o=- 1 2 IN IP4 127.0.0.1\r\nv=0\r\n", true},
		{"missing timing", "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSDP(tt.sdp)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSDP() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid ws", "ws://signal.example.com/ws", false},
		{"valid https", "https://example.com", false},
		{"empty", "", true},
		{"bad scheme", "ftp://example.com", true},
		{"no host", "ws:///ws", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePort(t *testing.T) {
	if err := ValidatePort(8081); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidatePort(0); err == nil {
		t.Error("expected error for port 0")
	}
	if err := ValidatePort(70000); err == nil {
		t.Error("expected error for port 70000")
	}
}
