package webhook_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/loyalty/webhook"
)

func TestSignatureRoundTrip(t *testing.T) {
	payload := []byte(`{"id":"evt_1","event":"points.credited","data":{"amount":100}}`)
	secret := "whsec_test"
	timestamp := time.Now().Unix()

	header := webhook.SignatureHeader(timestamp, payload, secret)

	if err := webhook.Verify(header, payload, secret); err != nil {
		t.Fatalf("Verify error: %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	payload := []byte(`{"amount":100}`)
	secret := "whsec_test"
	header := webhook.SignatureHeader(time.Now().Unix(), payload, secret)

	err := webhook.Verify(header, []byte(`{"amount":999}`), secret)
	if !errors.Is(err, webhook.ErrSignatureMismatch) {
		t.Errorf("Verify tampered = %v, want ErrSignatureMismatch", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	payload := []byte(`{"amount":100}`)
	header := webhook.SignatureHeader(time.Now().Unix(), payload, "whsec_real")

	err := webhook.Verify(header, payload, "whsec_other")
	if !errors.Is(err, webhook.ErrSignatureMismatch) {
		t.Errorf("Verify wrong secret = %v, want ErrSignatureMismatch", err)
	}
}

func TestVerifyMalformedHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"Empty", ""},
		{"No signature", "t=1700000000"},
		{"No timestamp", "v1=abc123"},
		{"Bad timestamp", "t=yesterday,v1=abc123"},
		{"Garbage", "not a header"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := webhook.Verify(tt.header, []byte(`{}`), "whsec_test")
			if !errors.Is(err, webhook.ErrMalformedHeader) {
				t.Errorf("Verify(%q) = %v, want ErrMalformedHeader", tt.header, err)
			}
		})
	}
}

func TestComputeSignature(t *testing.T) {
	payload := []byte(`{"amount":100}`)

	sig := webhook.ComputeSignature(1700000000, payload, "whsec_test")
	if len(sig) != 64 {
		t.Errorf("Signature length = %d, want 64 hex chars", len(sig))
	}
	if sig != webhook.ComputeSignature(1700000000, payload, "whsec_test") {
		t.Error("Signature not deterministic")
	}
	if sig == webhook.ComputeSignature(1700000001, payload, "whsec_test") {
		t.Error("Timestamp not part of signed content")
	}
	if sig == webhook.ComputeSignature(1700000000, []byte(`{"amount":101}`), "whsec_test") {
		t.Error("Payload not part of signed content")
	}
	if sig == webhook.ComputeSignature(1700000000, payload, "whsec_else") {
		t.Error("Secret not part of signed content")
	}
}
