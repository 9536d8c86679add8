package core

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	SignaturePrefix = "sha256="

	HeaderSignature = "X-Agent-Signature"
	HeaderEvent     = "X-Agent-Event"
	HeaderDelivery  = "X-Agent-Delivery"
	HeaderTimestamp = "X-Agent-Timestamp"
)

// Sign returns "sha256=" + hex(HMAC-SHA256(secret, body)).
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares the presented signature against the expected one
// in constant time. The "sha256=" prefix is optional on input.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return fmt.Errorf("core: signature secret is required")
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return fmt.Errorf("core: signature is required")
	}
	presented, err := hex.DecodeString(strings.TrimPrefix(signature, SignaturePrefix))
	if err != nil {
		return fmt.Errorf("core: decode hex signature: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	if subtle.ConstantTimeCompare(presented, mac.Sum(nil)) != 1 {
		return fmt.Errorf("core: signature verification failed")
	}
	return nil
}
