package tokens

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrWeakSecret means a signing secret is missing, short, a placeholder, or
// shared between access and refresh signing.
var ErrWeakSecret = errors.New("weak signing secret")

const MinSecretLength = 32

var placeholderSecrets = []string{
	"secret",
	"changeme",
	"change-me",
	"default",
	"supersecret",
	"your-secret-key",
	"your_secret_key",
	"your-super-secret-jwt-key",
	"jwt-secret",
	"jwt_secret",
	"refresh-secret",
	"refresh_secret",
	"test-jwt-secret",
	"test-refresh-secret",
}

// ValidateSecret checks one signing secret. name is used in the error only.
func ValidateSecret(name string, secret []byte) error {
	s := strings.TrimSpace(string(secret))
	switch {
	case s == "":
		return fmt.Errorf("%w: %s is not set", ErrWeakSecret, name)
	case isPlaceholder(s):
		return fmt.Errorf("%w: %s is a placeholder value", ErrWeakSecret, name)
	case len(secret) < MinSecretLength:
		return fmt.Errorf("%w: %s must be at least %d bytes", ErrWeakSecret, name, MinSecretLength)
	}
	return nil
}

func isPlaceholder(s string) bool {
	return slices.Contains(placeholderSecrets, strings.ToLower(s))
}
