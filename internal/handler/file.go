package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"cirrus/internal/middleware"
	"cirrus/internal/storage"
	"cirrus/pkg/errors"
	"cirrus/pkg/logger"
	"cirrus/pkg/validator"
)

// FileHandler manages the file endpoints: upload, streaming download,
// move, rename, delete, and the upload configuration.
type FileHandler struct {
	service   *storage.Service
	validator *validator.Validator
	logger    logger.Logger
}

// NewFileHandler creates a FileHandler.
func NewFileHandler(service *storage.Service, val *validator.Validator, log logger.Logger) *FileHandler {
	return &FileHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

// Upload handles POST /files/upload: multipart files[] plus an optional
// virtual_folder_path. Every file is attempted independently; successes
// stay committed even when the response reports failures.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		respondError(w, http.StatusBadRequest, "No files provided")
		return
	}

	virtualPath := r.FormValue("virtual_folder_path")

	var reqs []*storage.UploadRequest
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()

	for _, hdr := range headers {
		src, err := hdr.Open()
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read %s", hdr.Filename))
			return
		}
		opened = append(opened, src)
		reqs = append(reqs, &storage.UploadRequest{
			Reader:            src,
			OriginalFilename:  hdr.Filename,
			MimeType:          hdr.Header.Get("Content-Type"),
			VirtualFolderPath: virtualPath,
		})
	}

	results, err := h.service.UploadMany(r.Context(), caller.UserID, reqs)
	if err != nil {
		// Partial failure: report every failed file while keeping the
		// committed successes visible.
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":    err.Error(),
			"uploaded": results,
		})
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"uploaded": results,
		"count":    len(results),
	})
}

// Download handles GET /files/{id}/download?action=download|preview|stream.
// Preview and stream honor Range requests; download forces an attachment
// with the original filename and always serves the whole file.
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid file ID")
		return
	}

	action := r.URL.Query().Get("action")
	rangeHeader := r.Header.Get("Range")
	if action == "download" {
		rangeHeader = ""
	}

	result, err := h.service.Stream(r.Context(), caller, id, rangeHeader)
	if err != nil {
		var rangeErr *storage.RangeNotSatisfiableError
		if errors.As(err, &rangeErr) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", rangeErr.Size))
		}
		respondServiceError(w, h.logger, err)
		return
	}
	defer result.Content.Close()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", result.File.MimeType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", result.ContentLength))
	if result.ContentRange != "" {
		w.Header().Set("Content-Range", result.ContentRange)
	}
	if action == "download" {
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", result.File.OriginalFilename))
	} else {
		w.Header().Set("Content-Disposition", "inline")
	}

	w.WriteHeader(result.Status)
	if _, err := io.Copy(w, result.Content); err != nil {
		// The client closing mid-stream lands here; nothing to send back.
		h.logger.Debug("stream interrupted", logger.Fields{
			"file_id": id.String(),
			"error":   err.Error(),
		})
	}
}

// List handles GET /files?virtual_folder_path=P.
func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var path *string
	if r.URL.Query().Has("virtual_folder_path") {
		p := r.URL.Query().Get("virtual_folder_path")
		path = &p
	}

	files, err := h.service.ListFiles(r.Context(), caller.UserID, path)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"files": files,
		"count": len(files),
	})
}

type moveFilesRequest struct {
	FileIDs         []uuid.UUID `json:"file_ids" validate:"required,min=1"`
	DestinationPath string      `json:"destination_path" validate:"vpath"`
}

// Move handles PUT /files/move: bulk catalog-only relocation.
func (h *FileHandler) Move(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req moveFilesRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			respondError(w, http.StatusBadRequest, "Request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	moved, err := h.service.MoveFiles(r.Context(), caller, req.FileIDs, req.DestinationPath)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"files": moved,
		"count": len(moved),
	})
}

type renameFileRequest struct {
	OriginalFilename string `json:"original_filename" validate:"required"`
}

// Rename handles PUT /files/{id}.
func (h *FileHandler) Rename(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid file ID")
		return
	}

	var req renameFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	renamed, err := h.service.RenameFile(r.Context(), caller, id, req.OriginalFilename)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, renamed)
}

// Delete handles DELETE /files/{id}.
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid file ID")
		return
	}

	if err := h.service.Delete(r.Context(), caller, id); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// UploadConfig handles GET /files/upload/config.
func (h *FileHandler) UploadConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.service.Config())
}

// Stats handles GET /files/stats.
func (h *FileHandler) Stats(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	usage, err := h.service.Usage(r.Context(), caller.UserID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, usage)
}
