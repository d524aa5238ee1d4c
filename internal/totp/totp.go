// Package totp derives time-based one-time codes for second-factor
// injection during will execution.
package totp

import (
	"time"

	"github.com/pquerna/otp/totp"
)

// Period is the code rotation interval in seconds.
const Period = 30

// Code returns the 6-digit code for secret at time t. The secret is the
// usual base32-encoded TOTP seed.
func Code(secret string, t time.Time) (string, error) {
	return totp.GenerateCode(secret, t)
}

// Now returns the code for the current time.
func Now(secret string) (string, error) {
	return Code(secret, time.Now())
}

// Verify reports whether code is valid for secret at time t, accepting the
// adjacent windows (±one period) to tolerate clock skew.
func Verify(secret, code string, t time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, t, totp.ValidateOpts{
		Period: Period,
		Skew:   1,
		Digits: 6,
	})
	return err == nil && ok
}
