package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACSignatureService_SignAndVerify(t *testing.T) {
	svc := NewHMACSignatureService()
	secretKey := "alert-secret"
	payload := `{"transaction_hash":"0xabc","kind":"investment"}`

	signature := svc.Sign(secretKey, payload)

	assert.Regexp(t, `^[0-9a-f]{64}$`, signature, "signature should be 64-char lowercase hex (SHA-256)")
	assert.True(t, svc.Verify(secretKey, payload, signature))
}

func TestHMACSignatureService_KnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	svc := NewHMACSignatureService()
	assert.Equal(t,
		"5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843",
		svc.Sign("Jefe", "what do ya want for nothing?"))
}

func TestHMACSignatureService_VerifyFails(t *testing.T) {
	svc := NewHMACSignatureService()
	signature := svc.Sign("correct-key", "original payload")

	assert.False(t, svc.Verify("wrong-key", "original payload", signature))
	assert.False(t, svc.Verify("correct-key", "tampered payload", signature))
	assert.False(t, svc.Verify("correct-key", "original payload", "invalidsignature"))
}
