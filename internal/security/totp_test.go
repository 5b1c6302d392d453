package security

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestTOTPGenerateProducesURIAndQR(t *testing.T) {
	svc := NewTOTP("PO Management")
	key, err := svc.Generate("buyer@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(key.URL, "otpauth://totp/") {
		t.Fatalf("unexpected otpauth url %q", key.URL)
	}
	if !strings.HasPrefix(key.QRDataURL, "data:image/png;base64,") {
		t.Fatalf("unexpected qr payload prefix %q", key.QRDataURL[:32])
	}
	// 32 secret bytes encode to 52 base32 characters without padding.
	if len(key.Secret) != 52 {
		t.Fatalf("expected 52 char secret, got %d", len(key.Secret))
	}
	if _, err := svc.Generate("   "); err == nil {
		t.Fatal("expected error for empty account")
	}
}

func TestTOTPValidateWindow(t *testing.T) {
	svc := NewTOTP("PO Management")
	key, err := svc.Generate("buyer@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	issuedAt := time.Date(2026, 3, 2, 9, 0, 10, 0, time.UTC)
	code, err := svc.Code(key.Secret, issuedAt)
	if err != nil {
		t.Fatalf("code: %v", err)
	}

	for _, offset := range []time.Duration{0, 30 * time.Second, -30 * time.Second, 60 * time.Second, -60 * time.Second} {
		if _, ok := svc.Validate(key.Secret, code, issuedAt.Add(offset)); !ok {
			t.Fatalf("expected code valid at offset %v", offset)
		}
	}
	for _, offset := range []time.Duration{90 * time.Second, -90 * time.Second, 5 * time.Minute} {
		if _, ok := svc.Validate(key.Secret, code, issuedAt.Add(offset)); ok {
			t.Fatalf("expected code invalid at offset %v", offset)
		}
	}
}

func TestTOTPValidateReportsMatchedStep(t *testing.T) {
	svc := NewTOTP("PO Management")
	key, _ := svc.Generate("buyer@example.com")
	issuedAt := time.Date(2026, 3, 2, 9, 0, 10, 0, time.UTC)
	code, _ := svc.Code(key.Secret, issuedAt)

	step, ok := svc.Validate(key.Secret, code, issuedAt.Add(45*time.Second))
	if !ok {
		t.Fatal("expected valid code")
	}
	if want := issuedAt.Unix() / TOTPPeriod; step != want {
		t.Fatalf("expected step %d, got %d", want, step)
	}
}

func TestTOTPValidateRejectsGarbage(t *testing.T) {
	svc := NewTOTP("")
	key, _ := svc.Generate("x@example.com")
	now := time.Now()
	for _, code := range []string{"", "12345", "1234567", "abcdef"} {
		if _, ok := svc.Validate(key.Secret, code, now); ok {
			t.Fatalf("expected %q to be rejected", code)
		}
	}
	if _, ok := svc.Validate("", "123456", now); ok {
		t.Fatal("expected empty secret to be rejected")
	}
}

func TestGenerateBackupCodes(t *testing.T) {
	codes, err := GenerateBackupCodes(bytes.NewReader([]byte{0xa1, 0xb2, 0xc3, 0xd4, 0x00, 0x01, 0x02, 0x03}), 2)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if codes[0] != "A1B2C3D4" || codes[1] != "00010203" {
		t.Fatalf("unexpected codes %#v", codes)
	}

	random, err := GenerateBackupCodes(nil, 8)
	if err != nil {
		t.Fatalf("generate random: %v", err)
	}
	if len(random) != 8 {
		t.Fatalf("expected 8 codes, got %d", len(random))
	}
	for _, c := range random {
		if len(c) != 8 || strings.ToUpper(c) != c {
			t.Fatalf("unexpected code format %q", c)
		}
	}
}

func TestMatchBackupCode(t *testing.T) {
	codes := []string{"A1B2C3D4", "DEADBEEF", "A1B2C3D4"}
	if got := MatchBackupCode(codes, "DEADBEEF"); got != 1 {
		t.Fatalf("expected index 1, got %d", got)
	}
	if got := MatchBackupCode(codes, "A1B2C3D4"); got != 0 {
		t.Fatalf("expected first match, got %d", got)
	}
	if got := MatchBackupCode(codes, "a1b2c3d4"); got != -1 {
		t.Fatalf("expected exact match only, got %d", got)
	}
}
