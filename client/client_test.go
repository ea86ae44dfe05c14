package client

import "testing"

func TestTarget(t *testing.T) {
	tests := map[string]string{
		"":                   "unix:///tmp/recalld.sock",
		"/var/run/r.sock":    "unix:///var/run/r.sock",
		"unix:///tmp/x.sock": "unix:///tmp/x.sock",
		"localhost:50051":    "localhost:50051",
		"relative.sock":      "unix://relative.sock",
	}
	for in, want := range tests {
		if got := Target(in); got != want {
			t.Errorf("Target(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConnect_IsLazy(t *testing.T) {
	c, err := Connect("/nonexistent/recalld.sock")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
