// README: HMAC signatures for gateway callbacks and webhooks.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Verifier checks gateway signatures. The callback signature covers "gatewayOrderID|paymentID";
// the webhook signature covers the raw request body.
type Verifier struct {
	secret        []byte
	webhookSecret []byte
}

// NewVerifier builds a verifier. An empty webhookSecret falls back to secret.
func NewVerifier(secret, webhookSecret string) *Verifier {
	if webhookSecret == "" {
		webhookSecret = secret
	}
	return &Verifier{secret: []byte(secret), webhookSecret: []byte(webhookSecret)}
}

func (v *Verifier) Sign(gatewayOrderID, paymentID string) string {
	return sign(v.secret, []byte(gatewayOrderID+"|"+paymentID))
}

func (v *Verifier) VerifyCallback(gatewayOrderID, paymentID, signature string) bool {
	return equal(v.Sign(gatewayOrderID, paymentID), signature)
}

func (v *Verifier) SignWebhook(body []byte) string {
	return sign(v.webhookSecret, body)
}

func (v *Verifier) VerifyWebhook(body []byte, signature string) bool {
	return equal(v.SignWebhook(body), signature)
}

func sign(key, msg []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

func equal(expected, got string) bool {
	return hmac.Equal([]byte(expected), []byte(got))
}
