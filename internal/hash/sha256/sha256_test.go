package sha256

import "testing"

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestHasherFullDigest(t *testing.T) {
	t.Parallel()

	got, err := New().Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if got != helloDigest {
		t.Fatalf("expected %s, got %s", helloDigest, got)
	}
}

func TestHasherTruncated(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		n    int
		want string
	}{
		{name: "thirty two", n: 32, want: helloDigest[:32]},
		{name: "clamped low", n: 2, want: helloDigest[:8]},
		{name: "clamped high", n: 500, want: helloDigest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NewTruncated(tc.n).Hash([]byte("hello world"))
			if err != nil {
				t.Fatalf("Hash() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestHasherRejectsEmptyContent(t *testing.T) {
	t.Parallel()

	if _, err := New().Hash(nil); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestHasherString(t *testing.T) {
	t.Parallel()

	if got := NewTruncated(32).String(); got != "sha256/32" {
		t.Fatalf("unexpected description %q", got)
	}
	if got := New().String(); got != "sha256/64" {
		t.Fatalf("unexpected description %q", got)
	}
}
