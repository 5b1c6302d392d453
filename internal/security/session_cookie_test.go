package security

import (
	"errors"
	"testing"
	"time"
)

func TestSessionCookieRoundTrip(t *testing.T) {
	codec, err := NewSessionCookieCodec("request-guard", "session-secret")
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	raw, err := codec.Encode("sess-123", time.Hour)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	id, err := codec.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if id != "sess-123" {
		t.Fatalf("expected sess-123, got %q", id)
	}
}

func TestSessionCookieRejectsForeignKeyAndExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	codec, _ := NewSessionCookieCodec("request-guard", "session-secret")
	codec.WithClock(clock.Now)
	other, _ := NewSessionCookieCodec("request-guard", "other-secret")

	raw, _ := other.Encode("sess-123", time.Hour)
	if _, err := codec.Decode(raw); !errors.Is(err, ErrInvalidSessionCookie) {
		t.Fatalf("expected invalid cookie for foreign key, got %v", err)
	}

	raw, _ = codec.Encode("sess-123", time.Minute)
	clock.Advance(2 * time.Minute)
	if _, err := codec.Decode(raw); !errors.Is(err, ErrInvalidSessionCookie) {
		t.Fatalf("expected invalid cookie after expiry, got %v", err)
	}
	if _, err := codec.Decode("garbage"); !errors.Is(err, ErrInvalidSessionCookie) {
		t.Fatalf("expected invalid cookie for garbage, got %v", err)
	}
}

func TestDeriveKeyIsPurposeBound(t *testing.T) {
	a, err := DeriveKey("secret", "session-cookie", 32)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, _ := DeriveKey("secret", "other", 32)
	if string(a) == string(b) {
		t.Fatal("expected distinct keys per purpose")
	}
	again, _ := DeriveKey("secret", "session-cookie", 32)
	if string(a) != string(again) {
		t.Fatal("expected deterministic derivation")
	}
	if _, err := DeriveKey("", "x", 32); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
