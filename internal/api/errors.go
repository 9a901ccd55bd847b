package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/soaringjerry/Pulse/internal/services"
)

type errorBody struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Field   string   `json:"field,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

var serviceStatus = map[services.ErrorCode]int{
	services.ErrorInvalid:      http.StatusBadRequest,
	services.ErrorNotFound:     http.StatusNotFound,
	services.ErrorConflict:     http.StatusConflict,
	services.ErrorUnauthorized: http.StatusUnauthorized,
}

// writeErr maps engine and service errors onto HTTP statuses. Anything it
// does not recognise is logged and reported as a 500 without details.
func (rt *Router) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve  *services.ValidationError
		uo  *services.UnknownOptionError
		ut  *services.UnknownQuestionTypeError
		inc *services.IncompleteSubmissionError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid", Message: err.Error(), Field: ve.Field})
	case errors.As(err, &uo):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown_option", Message: err.Error(), Field: uo.QuestionID})
	case errors.As(err, &ut):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown_question_type", Message: err.Error(), Field: ut.QuestionID})
	case errors.As(err, &inc):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "incomplete", Message: err.Error(), Missing: inc.Missing})
	case services.IsConflict(err):
		writeJSON(w, http.StatusConflict, errorBody{Error: "conflict", Message: err.Error()})
	case errors.Is(err, services.ErrAccessDenied):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorBody{Error: "timeout", Message: "request timed out"})
	default:
		if se, ok := services.AsServiceError(err); ok {
			status, known := serviceStatus[se.Code]
			if !known {
				status = http.StatusBadRequest
			}
			writeJSON(w, status, errorBody{Error: string(se.Code), Message: se.Message})
			return
		}
		rt.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal error"})
	}
}
