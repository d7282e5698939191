package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// HeaderSignature carries the delivery signature.
//
// The header value format is:
//
//	X-Signature: t={timestamp},v1={signature}
//
// Where signature = HMAC-SHA256(secret, "{timestamp}.{payload}")
const HeaderSignature = "X-Signature"

var (
	ErrMalformedHeader   = errors.New("webhook: malformed signature header")
	ErrSignatureMismatch = errors.New("webhook: signature mismatch")
)

// ComputeSignature computes the hex HMAC-SHA256 signature over
// "{timestamp}.{payload}".
func ComputeSignature(timestamp int64, payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader produces the X-Signature header value for a payload.
func SignatureHeader(timestamp int64, payload []byte, secret string) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, ComputeSignature(timestamp, payload, secret))
}

// Verify recomputes the signature from the header's timestamp and compares
// it in constant time. Consumers call this to authenticate deliveries.
func Verify(header string, payload []byte, secret string) error {
	timestamp, signature, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	expected := ComputeSignature(timestamp, payload, secret)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrSignatureMismatch
	}
	return nil
}

func parseSignatureHeader(header string) (timestamp int64, signature string, err error) {
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return 0, "", ErrMalformedHeader
		}
		switch k {
		case "t":
			timestamp, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, "", ErrMalformedHeader
			}
		case "v1":
			signature = v
		}
	}
	if timestamp == 0 || signature == "" {
		return 0, "", ErrMalformedHeader
	}
	return timestamp, signature, nil
}
