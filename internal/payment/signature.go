package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"slotbook/internal/domain"
)

const SignatureHeader = "Slot-Signature"

// Sign produces the header value for body at ts: t=<unix>,v1=<hex hmac>.
func Sign(body []byte, secret string, ts time.Time) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + unix + ",v1=" + computeMAC(unix, body, secret)
}

func computeMAC(unix string, body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unix))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against body. Any of several v1 entries may
// match, which lets the provider roll secrets. Timestamps further than
// tolerance from now are rejected to stop replays.
func VerifySignature(header string, body []byte, secret string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return fmt.Errorf("%w: no webhook secret configured", domain.ErrSignature)
	}

	var (
		unix       string
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			unix = v
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if unix == "" || len(signatures) == 0 {
		return fmt.Errorf("%w: malformed signature header", domain.ErrSignature)
	}

	sec, err := strconv.ParseInt(unix, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", domain.ErrSignature)
	}
	if tolerance > 0 {
		skew := now.Sub(time.Unix(sec, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", domain.ErrSignature)
		}
	}

	expected := []byte(computeMAC(unix, body, secret))
	for _, sig := range signatures {
		if hmac.Equal(expected, []byte(strings.ToLower(sig))) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", domain.ErrSignature)
}
