package webhook_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackfi/pool-indexer/internal/webhook"
)

func TestSignPayload(t *testing.T) {
	t.Run("produces prefixed hex signature over exact bytes", func(t *testing.T) {
		secret := "test-webhook-secret"
		body := []byte(`{"event":"deposit","data":{"tx_hash":"0xabc"}}`)

		signature := webhook.SignPayload(secret, body)

		assert.Contains(t, signature, "sha256=")

		h := hmac.New(sha256.New, []byte(secret))
		h.Write(body)
		expected := "sha256=" + hex.EncodeToString(h.Sum(nil))
		assert.Equal(t, expected, signature)
	})

	t.Run("different bodies produce different signatures", func(t *testing.T) {
		secret := "test-webhook-secret"

		sig1 := webhook.SignPayload(secret, []byte(`{"a":1}`))
		sig2 := webhook.SignPayload(secret, []byte(`{"a":2}`))

		assert.NotEqual(t, sig1, sig2)
	})
}

func TestVerifySignature(t *testing.T) {
	secret := "test-webhook-secret"
	body := []byte(`{"event":"deposit"}`)

	t.Run("accepts a valid signature", func(t *testing.T) {
		header := webhook.SignPayload(secret, body)

		err := webhook.VerifySignature(secret, body, header)
		require.NoError(t, err)
	})

	t.Run("rejects a missing header", func(t *testing.T) {
		err := webhook.VerifySignature(secret, body, "")
		assert.ErrorContains(t, err, "missing signature header")
	})

	t.Run("rejects an unsupported algorithm prefix", func(t *testing.T) {
		err := webhook.VerifySignature(secret, body, "sha1=deadbeef")
		assert.ErrorContains(t, err, "unsupported signature algorithm")
	})

	t.Run("rejects a non-hex signature", func(t *testing.T) {
		err := webhook.VerifySignature(secret, body, "sha256=not-hex!")
		assert.ErrorContains(t, err, "malformed signature")
	})

	t.Run("rejects a tampered body", func(t *testing.T) {
		header := webhook.SignPayload(secret, body)

		err := webhook.VerifySignature(secret, []byte(`{"event":"withdrawal"}`), header)
		assert.ErrorContains(t, err, "signature mismatch")
	})

	t.Run("rejects the wrong secret", func(t *testing.T) {
		header := webhook.SignPayload("other-secret", body)

		err := webhook.VerifySignature(secret, body, header)
		assert.ErrorContains(t, err, "signature mismatch")
	})
}
