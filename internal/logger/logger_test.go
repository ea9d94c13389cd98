package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func capture(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = old }()

	fn()

	w.Close()
	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String()
}

func TestInfoSuccessWarnError(t *testing.T) {
	out := capture(t, func() {
		Info("TAG", "info message")
		Success("TAG", "success message")
		Warn("TAG", "warn message")
		Error("TAG", "error message")
	})
	for _, want := range []string{"info message", "success message", "warn message", "error message"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestBanner(t *testing.T) {
	out := capture(t, func() {
		Banner("v1.0.0")
		Banner("")
	})
	if !strings.Contains(out, "v1.0.0") {
		t.Errorf("banner missing version:\n%s", out)
	}
}

func TestSectionAndStats(t *testing.T) {
	out := capture(t, func() {
		Section("Catalog")
		Stats("Collections", 42)
	})
	if !strings.Contains(out, "Catalog") || !strings.Contains(out, "42") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestSetLevelUnknownKeepsLogging(t *testing.T) {
	SetLevel("not-a-level")
	out := capture(t, func() { Info("TAG", "still here") })
	if !strings.Contains(out, "still here") {
		t.Errorf("info suppressed after bad level:\n%s", out)
	}
}
