package httpapi

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"medcabinet.org/internal/audit"
	"medcabinet.org/internal/auth"
	"medcabinet.org/internal/documents"
	"medcabinet.org/internal/obs"
)

type documentResponse struct {
	Success bool   `json:"success"`
	HTML    string `json:"html"`
	PDF     string `json:"pdf,omitempty"`
	Message string `json:"message,omitempty"`
}

func encodeRendered(out documents.Rendered) documentResponse {
	resp := documentResponse{
		Success: true,
		HTML:    base64.StdEncoding.EncodeToString([]byte(out.HTML)),
		Message: out.Message,
	}
	if len(out.PDF) > 0 {
		resp.PDF = base64.StdEncoding.EncodeToString(out.PDF)
	}
	return resp
}

func (a *API) handleCertificate(w http.ResponseWriter, r *http.Request) {
	var req documents.CertificateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, decodeStatus(err), msgInvalidBody)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	out, err := a.docs.Certificate(r.Context(), req.Certificate, req.Settings)
	if err != nil {
		a.documentFailed(w, r, "certificate", err)
		return
	}
	_ = audit.LogEvent(r.Context(), "document.certificate.generated", map[string]any{
		"certificate_id": req.Certificate.ID,
		"type":           string(req.Certificate.Type.Kind()),
		"pdf":            len(out.PDF) > 0,
	})
	writeJSON(w, http.StatusOK, encodeRendered(out))
}

func (a *API) handlePrescription(w http.ResponseWriter, r *http.Request) {
	var req documents.PrescriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, decodeStatus(err), msgInvalidBody)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	out, err := a.docs.Prescription(r.Context(), req.Prescription, req.Cabinet)
	if err != nil {
		a.documentFailed(w, r, "prescription", err)
		return
	}
	_ = audit.LogEvent(r.Context(), "document.prescription.generated", map[string]any{
		"prescription_id": req.Prescription.ID,
		"items":           len(req.Prescription.Items),
		"pdf":             len(out.PDF) > 0,
	})
	writeJSON(w, http.StatusOK, encodeRendered(out))
}

func (a *API) documentFailed(w http.ResponseWriter, r *http.Request, kind string, err error) {
	obs.Logger().Error().Err(err).
		Str("request_id", RequestIDFromContext(r)).
		Str("kind", kind).
		Msg("document generation failed")
	writeError(w, r, http.StatusInternalServerError, msgServerError)
}

// requireSession admits requests carrying a valid session token in
// X-Session-Token or a bearer header, and attaches the user to the context.
func (a *API) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-Session-Token"))
		if token == "" {
			token = bearerToken(r)
		}
		if token == "" {
			writeError(w, r, http.StatusUnauthorized, msgInvalidSession)
			return
		}
		user, ok, err := a.auth.Verify(r.Context(), token)
		switch {
		case err != nil && !errors.Is(err, auth.ErrInvalidInput):
			obs.Logger().Error().Err(err).Str("request_id", RequestIDFromContext(r)).Msg("session check failed")
			writeError(w, r, http.StatusInternalServerError, msgServerError)
			return
		case !ok:
			writeError(w, r, http.StatusUnauthorized, msgInvalidSession)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithUser(r.Context(), user)))
	})
}
