package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apperrors "github.com/alexjbarnes/authcore/internal/errors"
)

// errorResponse is the JSON error body of every API endpoint.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Code             string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, errCode, description, code string) {
	writeJSON(w, status, errorResponse{
		Error:            errCode,
		ErrorDescription: description,
		Code:             code,
	})
}

// describe returns the message safe to show a caller. Errors outside
// the client taxonomy are logged and replaced with a generic message.
func describe(logger *slog.Logger, r *http.Request, err error) string {
	if apperrors.IsClientError(err) {
		return err.Error()
	}

	logger.Error("request failed",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)

	return "internal server error"
}

// writeError reports err using its taxonomy kind.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, metrics *Metrics, err error) {
	kind := apperrors.KindOf(err)
	metrics.oauthError(kind.Code)
	writeJSONError(w, kind.Status, kind.OAuth, describe(logger, r, err), kind.Code)
}
