package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"occrlend/core"
	nativecommon "occrlend/native/common"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: kind, Message: message})
}

// statusForKind maps the engine error taxonomy onto HTTP statuses.
func statusForKind(kind string) int {
	switch kind {
	case nativecommon.KindUnauthorized:
		return http.StatusForbidden
	case nativecommon.KindIdentityNotVerified:
		return http.StatusForbidden
	case nativecommon.KindInvalidAmount:
		return http.StatusBadRequest
	case nativecommon.KindExceedsLTV, nativecommon.KindInsufficientBalance, nativecommon.KindNotUnderwater:
		return http.StatusUnprocessableEntity
	case nativecommon.KindStaleOrInvalidPrice:
		return http.StatusServiceUnavailable
	case nativecommon.KindAlreadyConfigured:
		return http.StatusConflict
	case nativecommon.KindNotConfigured, nativecommon.KindPaused:
		return http.StatusServiceUnavailable
	case nativecommon.KindReentrant:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, core.ErrUnknownAsset) {
		writeError(w, http.StatusNotFound, nativecommon.KindInvalidAmount, err.Error())
		return
	}
	kind := nativecommon.Kind(err)
	status := statusForKind(kind)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		message = "internal error"
	}
	writeError(w, status, kind, message)
}
