package admission

import (
	"crypto/subtle"

	"github.com/mediaqueue/jobqueue/internal/infrastructure/keygen"
)

// CheckSharedSecret constant-time compares the caller-supplied secret
// against the configured one. Returns false (and therefore 401) if either
// side is empty, so a misconfigured empty SharedSecret never behaves as
// "auth disabled" once this check is invoked — enforcement of whether to
// invoke it at all belongs to Config.AuthRequired.
func CheckSharedSecret(configured, supplied string) bool {
	if configured == "" || supplied == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(supplied)) == 1
}

// secretLabel returns a value safe to attach to logs or metrics labels
// for a supplied secret, without ever logging the raw value.
func secretLabel(secret string) string {
	if secret == "" {
		return ""
	}
	return keygen.HashSecret(secret)[:12]
}
