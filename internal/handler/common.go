// Package handler provides the HTTP handlers for the cloud storage API.
package handler

import (
	"encoding/json"
	"net/http"

	"cirrus/pkg/errors"
	"cirrus/pkg/logger"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps the service error taxonomy to HTTP statuses.
func respondServiceError(w http.ResponseWriter, log logger.Logger, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, errors.ErrInvalidName), errors.Is(err, errors.ErrInvalidPath):
		status = http.StatusBadRequest
	case errors.Is(err, errors.ErrFolderNotFound),
		errors.Is(err, errors.ErrParentNotFound),
		errors.Is(err, errors.ErrFileNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errors.ErrFolderExists),
		errors.Is(err, errors.ErrFolderNotEmpty),
		errors.Is(err, errors.ErrFolderCycle):
		status = http.StatusConflict
	case errors.Is(err, errors.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, errors.ErrFileTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, errors.ErrFileTypeNotAllowed):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, errors.ErrInvalidRange):
		status = http.StatusRequestedRangeNotSatisfiable
	}

	if status == http.StatusInternalServerError {
		log.Error("internal error", logger.Fields{"error": err.Error()})
		respondError(w, status, "internal server error")
		return
	}

	respondError(w, status, err.Error())
}
