package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "default", false},
		{"valid with numbers", "work123", false},
		{"valid with hyphen", "my-session", false},
		{"valid with underscore", "my_session", false},
		{"empty", "", true},
		{"uppercase", "Default", true},
		{"space", "my session", true},
		{"dot", "my.session", true},
		{"slash", "my/session", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("default")
	want := filepath.Join(home, ".chatsync", "sessions", "default")
	if got != want {
		t.Errorf("Dir(default) = %q, want %q", got, want)
	}
}

func TestFlagDBPath(t *testing.T) {
	got := FlagDBPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "flags.db")) {
		t.Errorf("FlagDBPath(test) = %q, want suffix sessions/test/flags.db", got)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "LOCK")) {
		t.Errorf("LockPath(test) = %q, want suffix sessions/test/LOCK", got)
	}
}

func TestResolvePrecedence(t *testing.T) {
	if got := Resolve("flagged", "from-env"); got != "flagged" {
		t.Errorf("Resolve with flag = %q, want flagged", got)
	}
	if got := Resolve("", "from-env"); got != "from-env" {
		t.Errorf("Resolve with env = %q, want from-env", got)
	}
}
