package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/betagouv/magicauth/internal/auth"
	"github.com/betagouv/magicauth/internal/otp"
	"github.com/betagouv/magicauth/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// OTPHandler manages second-factor devices for authenticated users.
type OTPHandler struct {
	verifier *otp.Verifier
	devices  *store.OTPStore
	users    *store.UserStore
	logger   *slog.Logger
}

func NewOTPHandler(verifier *otp.Verifier, devices *store.OTPStore, users *store.UserStore, logger *slog.Logger) *OTPHandler {
	return &OTPHandler{verifier: verifier, devices: devices, users: users, logger: logger}
}

func (h *OTPHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	devices, err := h.devices.ListForUser(userID)
	if err != nil {
		h.logger.Error("list otp devices", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list devices"})
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

type createDeviceRequest struct {
	Name string `json:"name"`
}

// CreateDevice enrolls a new unconfirmed device. The provisioning URI
// is returned once and never stored in retrievable form.
func (h *OTPHandler) CreateDevice(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		req.Name = "authenticator"
	}

	// Enroll needs the account email for the provisioning URI.
	user, err := h.users.GetByID(ac.UserID)
	if err != nil || user == nil {
		h.logger.Error("otp enroll user lookup", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enroll device"})
		return
	}

	device, uri, err := h.verifier.Enroll(user, req.Name)
	if err != nil {
		h.logger.Error("enroll otp device", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enroll device"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"device":           device,
		"provisioning_uri": uri,
	})
}

type confirmDeviceRequest struct {
	Code string `json:"code"`
}

func (h *OTPHandler) ConfirmDevice(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	deviceID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid device id"})
		return
	}

	var req confirmDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if err := h.verifier.Confirm(userID, deviceID, strings.TrimSpace(req.Code)); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "confirmation code rejected"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

func (h *OTPHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	deviceID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid device id"})
		return
	}

	if err := h.devices.DeleteDevice(deviceID, userID); err != nil {
		h.logger.Error("delete otp device", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete device"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegenerateRecoveryCodes replaces the caller's recovery codes and
// returns the new plaintext set, which cannot be shown again.
func (h *OTPHandler) RegenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	codes, err := h.verifier.GenerateRecoveryCodes(userID)
	if err != nil {
		h.logger.Error("generate recovery codes", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate recovery codes"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recovery_codes": codes})
}
