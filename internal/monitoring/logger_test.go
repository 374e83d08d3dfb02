package monitoring

import "testing"

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) { got = format })
	Logf("dataset build started")
	if got != "dataset build started" {
		t.Errorf("custom logger not invoked, got %q", got)
	}

	// nil installs a no-op logger rather than panicking
	SetLogger(nil)
	got = ""
	Logf("should be dropped")
	if got != "" {
		t.Errorf("no-op logger leaked output: %q", got)
	}
}

func TestLogfDefault(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf must not be nil by default")
	}
}
