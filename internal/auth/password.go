// Package auth wraps password hashing so the rest of the server never
// touches bcrypt directly.
package auth

import "golang.org/x/crypto/bcrypt"

// Hash returns a bcrypt digest of the password.
func Hash(password string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Verify reports whether the password matches the stored digest.
func Verify(password, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}
