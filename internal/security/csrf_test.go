package security

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCSRFCodec() (*CSRFCodec, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	return NewCSRFCodec("test-secret-0123456789abcdef0123").WithClock(clock.Now), clock
}

func decodeParts(t *testing.T, token string) []string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("decode token: %v", err)
	}
	return strings.Split(string(raw), ":")
}

func TestCSRFMintProducesFourPartToken(t *testing.T) {
	codec, clock := newTestCSRFCodec()
	token, err := codec.Mint("sess-123")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	parts := decodeParts(t, token)
	if len(parts) != 4 {
		t.Fatalf("expected 4 parts, got %d", len(parts))
	}
	if parts[0] != "sess-123" {
		t.Fatalf("unexpected session part %q", parts[0])
	}
	if len(parts[2]) != 32 {
		t.Fatalf("expected 16-byte hex nonce, got %q", parts[2])
	}
	if len(parts[3]) != 64 {
		t.Fatalf("expected sha256 hex signature, got %q", parts[3])
	}
	issued, ok := codec.IssuedAt(token)
	if !ok || !issued.Equal(clock.Now()) {
		t.Fatalf("unexpected issued at %v ok=%v", issued, ok)
	}
}

func TestCSRFVerifyScoping(t *testing.T) {
	codec, clock := newTestCSRFCodec()
	token, err := codec.Mint("S1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := codec.Verify(token, "S1"); err != nil {
		t.Fatalf("expected valid token for S1: %v", err)
	}
	if err := codec.Verify(token, "S2"); !errors.Is(err, ErrCSRFSessionMismatch) {
		t.Fatalf("expected session mismatch, got %v", err)
	}

	clock.Advance(CSRFTokenMaxAge)
	if err := codec.Verify(token, "S1"); err != nil {
		t.Fatalf("token at exactly max age should still verify: %v", err)
	}
	clock.Advance(time.Millisecond)
	if err := codec.Verify(token, "S1"); !errors.Is(err, ErrCSRFExpired) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestCSRFVerifyRejectsTamperedSignatureAtAnyPosition(t *testing.T) {
	codec, _ := newTestCSRFCodec()
	token, err := codec.Mint("S1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	parts := decodeParts(t, token)
	sig := parts[3]

	for _, pos := range []int{0, len(sig) / 2, len(sig) - 1} {
		flipped := []byte(sig)
		if flipped[pos] == 'a' {
			flipped[pos] = 'b'
		} else {
			flipped[pos] = 'a'
		}
		tampered := strings.Join([]string{parts[0], parts[1], parts[2], string(flipped)}, ":")
		encoded := base64.StdEncoding.EncodeToString([]byte(tampered))
		if err := codec.Verify(encoded, "S1"); !errors.Is(err, ErrCSRFBadSignature) {
			t.Fatalf("pos %d: expected bad signature, got %v", pos, err)
		}
	}
}

func TestCSRFVerifyRejectsForgedPayload(t *testing.T) {
	codec, _ := newTestCSRFCodec()
	token, _ := codec.Mint("S1")
	parts := decodeParts(t, token)
	forged := strings.Join([]string{parts[0], parts[1], strings.Repeat("0", 32), parts[3]}, ":")
	if err := codec.Verify(base64.StdEncoding.EncodeToString([]byte(forged)), "S1"); !errors.Is(err, ErrCSRFBadSignature) {
		t.Fatalf("expected bad signature for swapped nonce, got %v", err)
	}

	other := NewCSRFCodec("another-secret-0123456789abcdef01")
	otherToken, _ := other.Mint("S1")
	if err := codec.Verify(otherToken, "S1"); !errors.Is(err, ErrCSRFBadSignature) {
		t.Fatalf("expected token from another secret to fail, got %v", err)
	}
}

func TestCSRFVerifyMalformed(t *testing.T) {
	codec, _ := newTestCSRFCodec()
	cases := map[string]string{
		"empty":      "",
		"not base64": "%%%",
		"too few":    base64.StdEncoding.EncodeToString([]byte("S1:123:abc")),
		"too many":   base64.StdEncoding.EncodeToString([]byte("S1:123:abc:def:ghi")),
		"bad ts":     base64.StdEncoding.EncodeToString([]byte("S1:soon:abc:def")),
		"bad hex":    base64.StdEncoding.EncodeToString([]byte("S1:1772442000000:abc:zz")),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if err := codec.Verify(token, "S1"); err == nil {
				t.Fatal("expected verification failure")
			}
		})
	}
}

func TestCSRFMintRejectsSeparatorInSession(t *testing.T) {
	codec, _ := newTestCSRFCodec()
	if _, err := codec.Mint("a:b"); err == nil {
		t.Fatal("expected error for session id containing separator")
	}
}

func FuzzCSRFVerifyNeverPanics(f *testing.F) {
	codec, _ := newTestCSRFCodec()
	valid, _ := codec.Mint("S1")
	f.Add(valid, "S1")
	f.Add("", "")
	f.Add("Ojo6", "S1")
	f.Fuzz(func(t *testing.T, token, session string) {
		if err := codec.Verify(token, session); err == nil && session != "S1" {
			t.Fatalf("unexpected success for session %q", session)
		}
	})
}
