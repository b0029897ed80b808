package otp

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/betagouv/magicauth/internal/database"
	"github.com/betagouv/magicauth/internal/model"
	"github.com/betagouv/magicauth/internal/store"
)

func setupVerifier(t *testing.T) (*Verifier, *store.OTPStore, *model.User) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	user, err := store.NewUserStore(db).Create("alice@example.com", "", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	devices := store.NewOTPStore(db)
	return NewVerifier(devices, "magicauth-test"), devices, user
}

func TestHasDeviceRequiresConfirmation(t *testing.T) {
	v, _, user := setupVerifier(t)

	has, err := v.HasDevice(user.ID)
	if err != nil {
		t.Fatalf("has device: %v", err)
	}
	if has {
		t.Error("user without devices should report false")
	}

	device, uri, err := v.Enroll(user, "phone")
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if uri == "" {
		t.Error("expected provisioning URI")
	}

	// Enrolled but unconfirmed devices do not trigger the OTP gate.
	has, _ = v.HasDevice(user.ID)
	if has {
		t.Error("unconfirmed device should not count")
	}

	code, err := totp.GenerateCode(device.Secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if err := v.Confirm(user.ID, device.ID, code); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	has, _ = v.HasDevice(user.ID)
	if !has {
		t.Error("confirmed device should count")
	}
}

func TestVerifyTOTPCode(t *testing.T) {
	v, devices, user := setupVerifier(t)

	device, _, err := v.Enroll(user, "phone")
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if err := devices.MarkConfirmed(device.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	code, err := totp.GenerateCode(device.Secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}

	ok, err := v.Verify(user.ID, code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Error("valid code rejected")
	}

	ok, err = v.Verify(user.ID, "000000")
	if err != nil {
		t.Fatalf("verify bad code: %v", err)
	}
	if ok {
		t.Error("bogus code accepted")
	}
}

func TestConfirmRejectsBadCode(t *testing.T) {
	v, _, user := setupVerifier(t)

	device, _, err := v.Enroll(user, "phone")
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if err := v.Confirm(user.ID, device.ID, "000000"); err == nil {
		t.Error("expected error for wrong confirmation code")
	}
}

func TestRecoveryCodeFallbackSingleUse(t *testing.T) {
	v, devices, user := setupVerifier(t)

	device, _, err := v.Enroll(user, "phone")
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if err := devices.MarkConfirmed(device.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	codes, err := v.GenerateRecoveryCodes(user.ID)
	if err != nil {
		t.Fatalf("generate recovery codes: %v", err)
	}
	if len(codes) != recoveryCodeCount {
		t.Fatalf("codes = %d, want %d", len(codes), recoveryCodeCount)
	}

	ok, err := v.Verify(user.ID, codes[0])
	if err != nil {
		t.Fatalf("verify recovery code: %v", err)
	}
	if !ok {
		t.Fatal("recovery code rejected")
	}

	ok, err = v.Verify(user.ID, codes[0])
	if err != nil {
		t.Fatalf("re-verify recovery code: %v", err)
	}
	if ok {
		t.Error("recovery code should be single-use")
	}
}
