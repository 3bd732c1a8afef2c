package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"tracelane/pkg/domain"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	resp := map[string]any{
		"request_id": NewRequestID(),
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	}
	WriteJSON(w, status, resp)
}

// WriteDomainError maps domain failure kinds onto stable wire codes.
// Anything unrecognized becomes a 500 INTERNAL.
func WriteDomainError(w http.ResponseWriter, err error) {
	status, code := Classify(err)
	WriteError(w, status, code, err.Error(), nil)
}

// Classify returns the HTTP status and wire code for a domain error.
// A declined signature is deliberately non-alarming: the request "succeeded"
// in the sense that the user made a choice.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "UNAUTHENTICATED"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "INSUFFICIENT_BALANCE"
	case errors.Is(err, domain.ErrTransitionInFlight):
		return http.StatusConflict, "TRANSITION_IN_FLIGHT"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, domain.ErrCommentRequired):
		return http.StatusBadRequest, "COMMENT_REQUIRED"
	case errors.Is(err, domain.ErrLowFunding):
		return http.StatusConflict, "LOW_FUNDING"
	case errors.Is(err, domain.ErrUserDeclinedSigning):
		return http.StatusOK, "USER_DECLINED"
	case errors.Is(err, domain.ErrChainRevert):
		return http.StatusBadGateway, "CHAIN_REVERT"
	case errors.Is(err, domain.ErrPatchReconciliation):
		return http.StatusBadGateway, "PATCH_RECONCILIATION"
	case errors.Is(err, domain.ErrNetwork):
		return http.StatusBadGateway, "NETWORK_ERROR"
	case errors.Is(err, domain.ErrTraceNotFound), errors.Is(err, domain.ErrCampaignNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	}
	return http.StatusInternalServerError, "INTERNAL"
}
