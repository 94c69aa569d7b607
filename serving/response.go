package serving

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/midnightos/treasury/models"
	"github.com/midnightos/treasury/tracking"
	logger "github.com/ndau/go-logger"
)

type apiError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, apiError{Error: message})
}

// statusFor maps every error kind to its HTTP status.
func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindValidation, models.KindInvalidState:
		return http.StatusBadRequest
	case models.KindInsufficientBalance, models.KindDuplicateVote:
		return http.StatusConflict
	case models.KindConflict, models.KindProvider, models.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with the status of its kind. Unclassified errors
// are logged and replaced by a generic message.
func writeError(w http.ResponseWriter, r *http.Request, log logger.Logger, err error) {
	trackingNumber := tracking.From(r.Context())
	kind := models.KindOf(err)
	status := statusFor(kind)

	body := apiError{Error: "internal error"}
	var e *models.Error
	if kind != models.KindInternal && errors.As(err, &e) {
		body.Error = e.Message
		body.Details = e.Details
		if kind == models.KindProvider && e.Unwrap() != nil && body.Details == "" {
			body.Details = e.Unwrap().Error()
		}
	}

	if status >= http.StatusInternalServerError {
		log.Errorf("%s | %s %s failed: %v", trackingNumber, r.Method, r.URL.Path, err)
	} else {
		log.Infof("%s | %s %s rejected: %v", trackingNumber, r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, body)
}
