package executor

import (
	"strings"
	"testing"
)

func TestTailBuffer(t *testing.T) {
	tests := []struct {
		name   string
		limit  int
		writes []string
		want   string
	}{
		{
			name:   "under limit",
			limit:  16,
			writes: []string{"hello ", "world"},
			want:   "hello world",
		},
		{
			name:   "exactly at limit",
			limit:  5,
			writes: []string{"12345"},
			want:   "12345",
		},
		{
			name:   "single write over limit keeps tail",
			limit:  4,
			writes: []string{"abcdefgh"},
			want:   truncationMarker + "efgh",
		},
		{
			name:   "accumulated writes over limit keep tail",
			limit:  6,
			writes: []string{"abc", "def", "gh"},
			want:   truncationMarker + "cdefgh",
		},
		{
			name:   "huge write equals tail of it",
			limit:  3,
			writes: []string{strings.Repeat("x", 100) + "end"},
			want:   truncationMarker + "end",
		},
		{
			name:   "empty",
			limit:  8,
			writes: nil,
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := newTailBuffer(tt.limit)
			for _, w := range tt.writes {
				n, err := buf.Write([]byte(w))
				if err != nil {
					t.Fatalf("Write() error = %v", err)
				}
				if n != len(w) {
					t.Fatalf("Write() = %d, want %d", n, len(w))
				}
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTailBufferInterleavedTail(t *testing.T) {
	buf := newTailBuffer(10)

	for i := 0; i < 100; i++ {
		if _, err := buf.Write([]byte("0123456789")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if _, err := buf.Write([]byte("FINAL")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	want := truncationMarker + "56789FINAL"
	if got := buf.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
