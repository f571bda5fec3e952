package workspace

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestResolveStaysInsideRoot(t *testing.T) {
	v, err := NewValidator("/ws")
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	tests := []struct {
		rel  string
		want string
	}{
		{"notes/todo.md", "/ws/notes/todo.md"},
		{"./notes/todo.md", "/ws/notes/todo.md"},
		{"notes//nested/../todo.md", "/ws/notes/todo.md"},
		{"a/b/c", "/ws/a/b/c"},
		{".", "/ws"},
	}

	for _, tt := range tests {
		got, err := v.Resolve(tt.rel)
		if err != nil {
			t.Errorf("Resolve(%q) error = %v, want nil", tt.rel, err)
			continue
		}
		if got != filepath.FromSlash(tt.want) {
			t.Errorf("Resolve(%q) = %q, want %q", tt.rel, got, tt.want)
		}
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	v, err := NewValidator("/ws")
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	escapes := []string{
		"..",
		"../etc/passwd",
		"a/../../etc/passwd",
		"notes/../../secret",
		"a/b/../../../x",
	}

	for _, rel := range escapes {
		_, err := v.Resolve(rel)
		if !errors.Is(err, ErrPathEscape) {
			t.Errorf("Resolve(%q) error = %v, want ErrPathEscape", rel, err)
		}
	}
}

func TestResolveRejectsMalformedInput(t *testing.T) {
	v, err := NewValidator("/ws")
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	malformed := []string{
		"",
		"   ",
		"/etc/passwd",
		"notes/\x00evil",
		`C:\Windows\system32`,
		`\\share\files`,
	}

	for _, rel := range malformed {
		_, err := v.Resolve(rel)
		if !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Resolve(%q) error = %v, want ErrInvalidPath", rel, err)
		}
	}
}

func TestResolveSiblingPrefixCollision(t *testing.T) {
	// /ws must never match /ws-backup even though it is a string prefix.
	v, err := NewValidator("/ws")
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	_, err = v.Resolve("../ws-backup/file")
	if !errors.Is(err, ErrPathEscape) {
		t.Errorf("Resolve sibling escape error = %v, want ErrPathEscape", err)
	}
}

func TestResolveDeniedPrefixes(t *testing.T) {
	v, err := NewValidator("/ws", "profile-images")
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	for _, rel := range []string{"profile-images", "profile-images/avatar.png"} {
		_, err := v.Resolve(rel)
		if !errors.Is(err, ErrPathEscape) {
			t.Errorf("Resolve(%q) error = %v, want ErrPathEscape", rel, err)
		}
	}

	// A sibling that shares the prefix string is allowed.
	if _, err := v.Resolve("profile-images-old/x"); err != nil {
		t.Errorf("Resolve(profile-images-old/x) error = %v, want nil", err)
	}
}

func TestNewValidatorRequiresAbsoluteRoot(t *testing.T) {
	for _, root := range []string{"", "relative/root"} {
		if _, err := NewValidator(root); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("NewValidator(%q) error = %v, want ErrInvalidPath", root, err)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{"notes/a.md", "notes/a.md", nil},
		{"./notes/a.md", "notes/a.md", nil},
		{"notes/./a.md", "notes/a.md", nil},
		{".", "", nil},
		{"a/b/../c", "a/c", nil},
		{"..", "", ErrPathEscape},
		{"", "", ErrInvalidPath},
		{"/abs", "", ErrInvalidPath},
	}

	for _, tt := range tests {
		got, err := Normalize(tt.in)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Normalize(%q) error = %v, want %v", tt.in, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("Normalize(%q) error = %v, want nil", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
