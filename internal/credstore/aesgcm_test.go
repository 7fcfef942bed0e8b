package credstore

import "testing"

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := New([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sealed, err := box.Seal([]byte("s3cret-enable-pw"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	opened, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(opened) != "s3cret-enable-pw" {
		t.Fatalf("unexpected plaintext: %q", opened)
	}
}

func TestOpenEmptyBlobReturnsNil(t *testing.T) {
	box, err := New([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	opened, err := box.Open(nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened != nil {
		t.Fatalf("expected nil, got %v", opened)
	}
}

func TestOpenRejectsShortCiphertext(t *testing.T) {
	box, err := New([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := box.Open([]byte("x")); err != ErrShortCiphertext {
		t.Fatalf("expected ErrShortCiphertext, got %v", err)
	}
}

func TestOpenDetectsTampering(t *testing.T) {
	box, err := New([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sealed, err := box.Seal([]byte("original"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xFF
	if _, err := box.Open(sealed); err == nil {
		t.Fatal("expected tampering to be detected")
	}
}
