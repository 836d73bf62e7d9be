package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"cirrus/internal/folder"
	"cirrus/internal/middleware"
	"cirrus/pkg/logger"
	"cirrus/pkg/validator"
)

// FolderHandler manages the virtual folder endpoints.
type FolderHandler struct {
	service   *folder.Service
	validator *validator.Validator
	logger    logger.Logger
}

// NewFolderHandler creates a FolderHandler.
func NewFolderHandler(service *folder.Service, val *validator.Validator, log logger.Logger) *FolderHandler {
	return &FolderHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

type createFolderRequest struct {
	Name       string `json:"name"`
	Path       string `json:"path" validate:"omitempty,vpath"`
	ParentPath string `json:"parent_path" validate:"omitempty,vpath"`
}

// CreateFolder handles POST /virtual-folders. With a full path it
// materializes every missing ancestor; with name plus parent_path it
// creates exactly one folder.
func (h *FolderHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req createFolderRequest
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

	if req.Name == "" && req.Path != "" {
		created, err := h.service.CreateFolderPath(r.Context(), caller.UserID, req.Path)
		if err != nil {
			respondServiceError(w, h.logger, err)
			return
		}
		respondJSON(w, http.StatusCreated, created)
		return
	}

	created, err := h.service.CreateFolder(r.Context(), caller.UserID, req.Name, req.ParentPath)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, created)
}

// GetFolders handles GET /virtual-folders. With parent_path it lists the
// contents at that path; without it, every owned folder shallowest-first.
func (h *FolderHandler) GetFolders(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	query := r.URL.Query()
	if !query.Has("parent_path") {
		h.hierarchy(w, r, caller.UserID)
		return
	}

	contents, err := h.service.GetFolderContents(r.Context(), caller.UserID, query.Get("parent_path"))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, contents)
}

// GetHierarchy handles GET /virtual-folders/hierarchy.
func (h *FolderHandler) GetHierarchy(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	h.hierarchy(w, r, caller.UserID)
}

func (h *FolderHandler) hierarchy(w http.ResponseWriter, r *http.Request, ownerID uuid.UUID) {
	folders, err := h.service.GetPathHierarchy(r.Context(), ownerID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"folders": folders,
		"count":   len(folders),
	})
}

type renameFolderRequest struct {
	Name string `json:"name" validate:"required,segname"`
}

// UpdateFolder handles PUT /virtual-folders/{id} (rename).
func (h *FolderHandler) UpdateFolder(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid folder ID")
		return
	}

	var req renameFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.service.RenameFolder(r.Context(), caller, id, req.Name)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

type moveFolderRequest struct {
	NewParentPath string `json:"new_parent_path" validate:"vpath"`
}

// MoveFolder handles POST /virtual-folders/{id}/move.
func (h *FolderHandler) MoveFolder(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid folder ID")
		return
	}

	var req moveFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	moved, err := h.service.MoveFolder(r.Context(), caller, id, req.NewParentPath)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, moved)
}

// DeleteFolder handles DELETE /virtual-folders/{id}: the shallow delete
// that refuses while subfolders or files remain.
func (h *FolderHandler) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid folder ID")
		return
	}

	if err := h.service.DeleteFolder(r.Context(), caller, id); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// DeleteFolderRecursive handles DELETE /folders?path=P: removes the
// folder and everything underneath it.
func (h *FolderHandler) DeleteFolderRecursive(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		respondError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	foldersDeleted, filesDeleted, err := h.service.DeleteFolderRecursive(r.Context(), caller, path)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":         true,
		"folders_deleted": foldersDeleted,
		"files_deleted":   filesDeleted,
	})
}
