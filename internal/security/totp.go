package security

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image/png"
	"io"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	TOTPPeriod     = 30
	TOTPSkew       = 2
	TOTPSecretSize = 32
	qrImageSize    = 256
)

type TOTPKey struct {
	Secret     string
	URL        string
	QRDataURL  string
	Issuer     string
	AccountKey string
}

// TOTP generates secrets and validates codes with a symmetric step tolerance.
type TOTP struct {
	issuer string
	skew   int
	rand   io.Reader
}

func NewTOTP(issuer string) *TOTP {
	if strings.TrimSpace(issuer) == "" {
		issuer = "PO Management"
	}
	return &TOTP{issuer: issuer, skew: TOTPSkew, rand: rand.Reader}
}

func (t *TOTP) Issuer() string { return t.issuer }

func (t *TOTP) Generate(accountName string) (*TOTPKey, error) {
	accountName = strings.TrimSpace(accountName)
	if accountName == "" {
		return nil, fmt.Errorf("totp account name cannot be empty")
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: accountName,
		Period:      TOTPPeriod,
		SecretSize:  TOTPSecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
		Rand:        t.rand,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}
	qr, err := qrDataURL(key)
	if err != nil {
		return nil, err
	}
	return &TOTPKey{
		Secret:     key.Secret(),
		URL:        key.URL(),
		QRDataURL:  qr,
		Issuer:     t.issuer,
		AccountKey: accountName,
	}, nil
}

// Validate reports whether code matches secret within ±skew steps of at, and
// returns the time-step counter the code belongs to.
func (t *TOTP) Validate(secret, code string, at time.Time) (int64, bool) {
	code = strings.TrimSpace(code)
	if secret == "" || len(code) != int(otp.DigitsSix) {
		return 0, false
	}
	opts := totp.ValidateOpts{Period: TOTPPeriod, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1}
	for offset := -t.skew; offset <= t.skew; offset++ {
		stepTime := at.Add(time.Duration(offset*TOTPPeriod) * time.Second)
		expected, err := totp.GenerateCodeCustom(secret, stepTime, opts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return stepTime.Unix() / TOTPPeriod, true
		}
	}
	return 0, false
}

// Code returns the code for secret at the given instant.
func (t *TOTP) Code(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    TOTPPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// GenerateBackupCodes returns n single-use codes, each 4 random bytes in upper-case hex.
func GenerateBackupCodes(r io.Reader, n int) ([]string, error) {
	if r == nil {
		r = rand.Reader
	}
	codes := make([]string, 0, n)
	buf := make([]byte, 4)
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("generate backup code: %w", err)
		}
		codes = append(codes, strings.ToUpper(hex.EncodeToString(buf)))
	}
	return codes, nil
}

// MatchBackupCode returns the index of code in codes, or -1. Every candidate
// is compared so the scan time does not depend on the match position.
func MatchBackupCode(codes []string, code string) int {
	idx := -1
	for i, c := range codes {
		if subtle.ConstantTimeCompare([]byte(c), []byte(code)) == 1 && idx < 0 {
			idx = i
		}
	}
	return idx
}

func qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(qrImageSize, qrImageSize)
	if err != nil {
		return "", fmt.Errorf("render totp qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode totp qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
