package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// PKCE verifier and challenge length bounds from RFC 7636.
const (
	pkceMinLength = 43
	pkceMaxLength = 128
)

// ComputeS256Challenge returns the S256 code challenge for a verifier.
func ComputeS256Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// ValidatePKCE reports whether the verifier hashes to the stored challenge.
//
// Only the S256 method is supported; the comparison is constant-time.
func ValidatePKCE(verifier, challenge, method string) bool {
	if method != "S256" {
		return false
	}
	if !validPKCEString(verifier) || !validPKCEString(challenge) {
		return false
	}
	computed := ComputeS256Challenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// ValidateCodeChallenge checks the format of a code challenge parameter.
func ValidateCodeChallenge(challenge string) bool {
	return validPKCEString(challenge)
}

// validPKCEString checks RFC 7636 length and unreserved-character rules.
func validPKCEString(value string) bool {
	if len(value) < pkceMinLength || len(value) > pkceMaxLength {
		return false
	}
	for _, r := range value {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '.' || r == '_' || r == '~':
		default:
			return false
		}
	}
	return true
}
