// Package auth generates one-time passcodes for login-gated targets.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    6,
	Algorithm: otp.AlgorithmSHA1,
}

// Code generates the current 6-digit TOTP for secret.
func Code(secret string) (string, error) {
	return CodeAt(secret, time.Now().UTC())
}

// CodeAt generates the TOTP for secret valid at t.
func CodeAt(secret string, t time.Time) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("totp secret cannot be empty")
	}
	cleanSecret := strings.ToUpper(strings.ReplaceAll(secret, " ", ""))

	passcode, err := totp.GenerateCodeCustom(cleanSecret, t, totpOpts)
	if err != nil {
		return "", fmt.Errorf("failed to generate totp code: %w", err)
	}
	return passcode, nil
}
