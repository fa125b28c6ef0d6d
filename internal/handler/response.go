package handler

import (
	"encoding/json"
	"net/http"

	"github.com/mathomhouse/mathom/internal/auth"
	"github.com/mathomhouse/mathom/internal/policy"
)

// Error codes carried in the response envelope. Clients branch on these,
// never on the message text.
const (
	CodeMissingFields      = "MISSING_FIELDS"
	CodeEmailExists        = "EMAIL_ALREADY_EXISTS"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodePermissionDenied   = "PERMISSION_DENIED"
	CodeNotFound           = "NOT_FOUND"
	CodeInternal           = "INTERNAL_SERVER_ERROR"
)

// ErrorBody is the error half of the response envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response is the envelope every API endpoint returns. Exactly one of
// Data and Error is set.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data"`
	Error   *ErrorBody `json:"error"`
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, Response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, Response{Success: false, Error: &ErrorBody{Code: code, Message: message}})
}

func writeEnvelope(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// writeDenied maps a policy denial to the flat client-facing error. The
// denial reason stays server-side.
func writeDenied(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, CodePermissionDenied, "permission denied")
}

func writeInternal(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
}

// policyAuth converts the request's auth context into the identity shape
// the policy engine evaluates.
func policyAuth(r *http.Request) *policy.Auth {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		return nil
	}
	return &policy.Auth{UID: ac.UID, Email: ac.Email}
}

// mergeDoc overlays the requested changes onto the existing document and
// returns the future state the policy engine judges. A null in changes
// clears the field rather than removing it, matching partial-update
// semantics.
func mergeDoc(existing policy.Doc, changes map[string]any) policy.Doc {
	future := make(policy.Doc, len(existing)+len(changes))
	for k, v := range existing {
		future[k] = v
	}
	for k, v := range changes {
		future[k] = v
	}
	return future
}
