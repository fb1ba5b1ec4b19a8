package media

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// Signer подписывает одноразовые upload URL.
// Подпись покрывает идентификатор гранта и срок действия, поэтому URL
// нельзя ни переиспользовать для другого гранта, ни продлить.
type Signer struct {
	secret []byte
}

// NewSigner creates a new upload URL signer
// secret should be a cryptographically secure random string
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign возвращает подпись для гранта с данным сроком действия
func (s *Signer) Sign(grantID string, expiresAt time.Time) string {
	return s.sign(fmt.Sprintf("%s.%d", grantID, expiresAt.Unix()))
}

// Verify проверяет подпись и срок действия upload URL
func (s *Signer) Verify(grantID string, expiresUnix int64, signature string, now time.Time) error {
	expected := s.sign(fmt.Sprintf("%s.%d", grantID, expiresUnix))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}

	if now.Unix() > expiresUnix {
		return ErrGrantExpired
	}

	return nil
}

// sign создает HMAC-SHA256 подпись
func (s *Signer) sign(data string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
