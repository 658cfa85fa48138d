// Package errhttp maps inventory sentinel errors to HTTP status codes.
// Add a case to statusForKind for each new failure kind.
package errhttp

import (
	"net/http"

	"github.com/ghuser/toolcrib/pkg/httpx"
	"github.com/ghuser/toolcrib/services/inventory/domain"
)

// WriteError maps err to an HTTP status code and writes a JSON
// {"error", "kind"} response with the full error message.
// Uses errors.Is() through domain.KindOf so wrapped sentinels are matched.
// Defaults to 500 Internal Server Error for unrecognized errors.
func WriteError(w http.ResponseWriter, err error) {
	WriteSafeError(w, err, false)
}

// WriteSafeError is WriteError that hides 5xx details when isProduction is set.
func WriteSafeError(w http.ResponseWriter, err error, isProduction bool) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)
	httpx.JSONErrorKind(w, status, httpx.SafeError(err, status, isProduction), kind)
}

// Status returns the HTTP status code err maps to.
func Status(err error) int {
	return statusForKind(domain.KindOf(err))
}

func statusForKind(kind string) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound // 404
	case domain.KindWrongKind,
		domain.KindInvalidQuantity,
		domain.KindInsufficientStock,
		domain.KindAlreadyReturned,
		domain.KindWrongOperation,
		domain.KindOverReturn,
		domain.KindMissingUser:
		return http.StatusBadRequest // 400
	case domain.KindInvalidEquipment:
		return http.StatusUnprocessableEntity // 422
	case domain.KindAlreadyExists,
		domain.KindInUse,
		domain.KindConcurrencyConflict:
		return http.StatusConflict // 409
	default:
		return http.StatusInternalServerError // 500
	}
}
