// Package otp implements the optional second factor: TOTP codes from
// enrolled devices, with bcrypt-hashed single-use recovery codes as a
// fallback.
package otp

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/betagouv/magicauth/internal/model"
	"github.com/betagouv/magicauth/internal/store"
)

const (
	recoveryCodeCount = 10
	// 4 random bytes hex-encoded: 8 characters per code.
	recoveryCodeBytes = 4
)

// Verifier checks one-time codes for a user across all of their
// confirmed devices.
type Verifier struct {
	devices *store.OTPStore
	issuer  string
}

func NewVerifier(devices *store.OTPStore, issuer string) *Verifier {
	return &Verifier{devices: devices, issuer: issuer}
}

// HasDevice reports whether the user has at least one confirmed
// device. Users without devices skip the second-factor step entirely.
func (v *Verifier) HasDevice(userID int64) (bool, error) {
	devices, err := v.devices.ListConfirmedForUser(userID)
	if err != nil {
		return false, err
	}
	return len(devices) > 0, nil
}

// Verify reports whether the code matches any confirmed device, or
// failing that, an unused recovery code. A matching recovery code is
// consumed.
func (v *Verifier) Verify(userID int64, code string) (bool, error) {
	devices, err := v.devices.ListConfirmedForUser(userID)
	if err != nil {
		return false, err
	}
	for _, d := range devices {
		if totp.Validate(code, d.Secret) {
			return true, nil
		}
	}
	return v.verifyRecoveryCode(userID, code)
}

func (v *Verifier) verifyRecoveryCode(userID int64, code string) (bool, error) {
	if len(code) != recoveryCodeBytes*2 {
		return false, nil
	}
	codes, err := v.devices.ListUnusedRecoveryCodes(userID)
	if err != nil {
		return false, err
	}
	for _, c := range codes {
		if bcrypt.CompareHashAndPassword([]byte(c.CodeHash), []byte(code)) == nil {
			return v.devices.MarkRecoveryCodeUsed(c.ID)
		}
	}
	return false, nil
}

// Enroll creates an unconfirmed device and returns it along with the
// provisioning URI for the authenticator app. The shared secret is
// only exposed through the returned URI, at enrollment time.
func (v *Verifier) Enroll(user *model.User, deviceName string) (*model.OTPDevice, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      v.issuer,
		AccountName: user.Email,
	})
	if err != nil {
		return nil, "", fmt.Errorf("generate totp key: %w", err)
	}
	device, err := v.devices.CreateDevice(user.ID, deviceName, key.Secret())
	if err != nil {
		return nil, "", err
	}
	return device, key.URL(), nil
}

// Confirm activates a device with a first valid code from it.
func (v *Verifier) Confirm(userID, deviceID int64, code string) error {
	device, err := v.devices.GetDevice(deviceID, userID)
	if err != nil {
		return err
	}
	if device == nil {
		return fmt.Errorf("otp device %d not found", deviceID)
	}
	if !totp.Validate(code, device.Secret) {
		return fmt.Errorf("invalid confirmation code")
	}
	return v.devices.MarkConfirmed(device.ID)
}

// GenerateRecoveryCodes replaces the user's recovery codes and returns
// the plaintext codes. They are stored bcrypt-hashed and cannot be
// shown again.
func (v *Verifier) GenerateRecoveryCodes(userID int64) ([]string, error) {
	codes := make([]string, 0, recoveryCodeCount)
	hashes := make([]string, 0, recoveryCodeCount)
	for i := 0; i < recoveryCodeCount; i++ {
		buf := make([]byte, recoveryCodeBytes)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate recovery code: %w", err)
		}
		code := hex.EncodeToString(buf)
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash recovery code: %w", err)
		}
		codes = append(codes, code)
		hashes = append(hashes, string(hash))
	}
	if err := v.devices.ReplaceRecoveryCodes(userID, hashes); err != nil {
		return nil, err
	}
	return codes, nil
}
