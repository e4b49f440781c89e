package httpapi

import (
	"net/http"
	"strings"
)

type twoFactorGenerateResponse struct {
	Secret    string `json:"secret"`
	QRPayload string `json:"qr_payload"`
}

// handleTwoFactorGenerate produces a candidate secret. Nothing is persisted
// until the enable call confirms a code against it.
func (s *Server) handleTwoFactorGenerate(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	acct, err := s.accounts.Get(r.Context(), claims.Subject)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	provision, err := s.twoFactor.Provision(acct.Email)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, twoFactorGenerateResponse{
		Secret:    provision.Secret,
		QRPayload: provision.QRPayload,
	})
}

type twoFactorEnableRequest struct {
	Secret   string `json:"secret"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

func (s *Server) handleTwoFactorEnable(w http.ResponseWriter, r *http.Request) {
	var body twoFactorEnableRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	claims := ClaimsFrom(r.Context())
	codes, err := s.twoFactor.Enable(r.Context(), claims.Subject,
		strings.TrimSpace(body.Secret), body.Code, body.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

type twoFactorVerifyRequest struct {
	ChallengeToken string `json:"challenge_token"`
	Code           string `json:"code"`
}

func (s *Server) handleTwoFactorVerify(w http.ResponseWriter, r *http.Request) {
	var body twoFactorVerifyRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	pair, err := s.twoFactor.VerifyLogin(r.Context(),
		strings.TrimSpace(body.ChallengeToken), body.Code, s.client(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type twoFactorDisableRequest struct {
	Code     string `json:"code"`
	Password string `json:"password"`
}

func (s *Server) handleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	var body twoFactorDisableRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	claims := ClaimsFrom(r.Context())
	if err := s.twoFactor.Disable(r.Context(), claims.Subject, body.Code, body.Password); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type backupCodesRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleBackupCodes(w http.ResponseWriter, r *http.Request) {
	var body backupCodesRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	claims := ClaimsFrom(r.Context())
	codes, err := s.twoFactor.RegenerateBackupCodes(r.Context(), claims.Subject, body.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

func (s *Server) handleTwoFactorStatus(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	status, err := s.twoFactor.Status(r.Context(), claims.Subject)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
