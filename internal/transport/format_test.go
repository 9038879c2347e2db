package transport

import "testing"

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{-5, "0B"},
		{0, "0B"},
		{800, "800B"},
		{1024, "1.00KiB"},
		{1536, "1.50KiB"},
		{8 * 1024 * 1024, "8.00MiB"},
		{1 << 30, "1.00GiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatRate(t *testing.T) {
	if got := FormatRate(0); got != "0B/s" {
		t.Fatalf("expected 0B/s, got %q", got)
	}
	if got := FormatRate(2048); got != "2.00KiB/s" {
		t.Fatalf("expected 2.00KiB/s, got %q", got)
	}
}
