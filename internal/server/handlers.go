package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

type APIHandler struct {
	source StatusSource
	logger *zap.Logger
}

func NewAPIHandler(source StatusSource, logger *zap.Logger) *APIHandler {
	return &APIHandler{source: source, logger: logger}
}

func (h *APIHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.logger, http.StatusOK, h.source.Snapshot())
}

func respondJSON(w http.ResponseWriter, logger *zap.Logger, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal response", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}
