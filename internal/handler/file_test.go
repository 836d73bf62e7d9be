package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cirrus/internal/domain"
	"cirrus/internal/middleware"
	"cirrus/internal/storage"
	"cirrus/pkg/config"
	"cirrus/pkg/errors"
	"cirrus/pkg/logger"
	"cirrus/pkg/validator"
)

const testSecret = "test-secret"

// --- In-memory stubs ---

type stubFileRepo struct {
	files map[uuid.UUID]*domain.File
}

func newStubFileRepo() *stubFileRepo {
	return &stubFileRepo{files: make(map[uuid.UUID]*domain.File)}
}

func (s *stubFileRepo) Create(ctx context.Context, file *domain.File) error {
	s.files[file.ID] = file
	return nil
}

func (s *stubFileRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.File, error) {
	if f, ok := s.files[id]; ok {
		return f, nil
	}
	return nil, errors.ErrFileNotFound
}

func (s *stubFileRepo) ListByFolder(ctx context.Context, ownerID uuid.UUID, folderID *uuid.UUID) ([]*domain.File, error) {
	var out []*domain.File
	for _, f := range s.files {
		if f.OwnerID != ownerID {
			continue
		}
		if (f.FolderID == nil) != (folderID == nil) {
			continue
		}
		if folderID != nil && *f.FolderID != *folderID {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *stubFileRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.File, error) {
	var out []*domain.File
	for _, f := range s.files {
		if f.OwnerID == ownerID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *stubFileRepo) UpdateFolder(ctx context.Context, id uuid.UUID, folderID *uuid.UUID) error {
	f, ok := s.files[id]
	if !ok {
		return errors.ErrFileNotFound
	}
	f.FolderID = folderID
	return nil
}

func (s *stubFileRepo) UpdateName(ctx context.Context, id uuid.UUID, name string) error {
	f, ok := s.files[id]
	if !ok {
		return errors.ErrFileNotFound
	}
	f.OriginalFilename = name
	return nil
}

func (s *stubFileRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	if _, ok := s.files[id]; !ok {
		return false, nil
	}
	delete(s.files, id)
	return true, nil
}

func (s *stubFileRepo) Usage(ctx context.Context, ownerID uuid.UUID) (int64, int64, error) {
	var count, size int64
	for _, f := range s.files {
		if f.OwnerID == ownerID {
			count++
			size += f.Size
		}
	}
	return count, size, nil
}

type stubFolderResolver struct {
	folders map[string]*domain.Folder
}

func newStubFolderResolver() *stubFolderResolver {
	return &stubFolderResolver{folders: make(map[string]*domain.Folder)}
}

func (s *stubFolderResolver) CreateFolderPath(ctx context.Context, ownerID uuid.UUID, fullPath string) (*domain.Folder, error) {
	if f, ok := s.folders[fullPath]; ok {
		return f, nil
	}
	f := &domain.Folder{ID: uuid.New(), OwnerID: ownerID, Path: fullPath}
	s.folders[fullPath] = f
	return f, nil
}

func (s *stubFolderResolver) ResolvePath(ctx context.Context, ownerID uuid.UUID, path string) (*domain.Folder, error) {
	if f, ok := s.folders[path]; ok {
		return f, nil
	}
	return nil, errors.ErrFolderNotFound
}

// --- Fixture ---

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()

	cfg := config.StorageConfig{
		RootPath:          t.TempDir(),
		MaxFileSize:       1 << 20,
		AllowedMimeTypes:  []string{"text/plain", "image/*"},
		BlockedExtensions: []string{".exe"},
	}
	disk, err := storage.NewDisk(cfg.RootPath)
	require.NoError(t, err)

	service := storage.NewService(newStubFileRepo(), newStubFolderResolver(), disk, cfg, logger.NewNop())
	fileHandler := NewFileHandler(service, validator.New(), logger.NewNop())

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.NewAuthMiddleware(testSecret).Authenticate)
	api.HandleFunc("/files", fileHandler.List).Methods("GET")
	api.HandleFunc("/files/upload", fileHandler.Upload).Methods("POST")
	api.HandleFunc("/files/upload/config", fileHandler.UploadConfig).Methods("GET")
	api.HandleFunc("/files/stats", fileHandler.Stats).Methods("GET")
	api.HandleFunc("/files/move", fileHandler.Move).Methods("PUT")
	api.HandleFunc("/files/{id}", fileHandler.Rename).Methods("PUT")
	api.HandleFunc("/files/{id}", fileHandler.Delete).Methods("DELETE")
	api.HandleFunc("/files/{id}/download", fileHandler.Download).Methods("GET")
	return r
}

func bearerToken(t *testing.T, userID uuid.UUID, userType string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":   userID.String(),
		"user_type": userType,
		"exp":       time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func multipartUpload(t *testing.T, folderPath string, names map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if folderPath != "" {
		require.NoError(t, w.WriteField("virtual_folder_path", folderPath))
	}
	for name, content := range names {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = io.WriteString(part, content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func uploadOne(t *testing.T, router *mux.Router, auth, name, content string) uuid.UUID {
	t.Helper()
	body, contentType := multipartUpload(t, "", map[string]string{name: content})
	req := httptest.NewRequest("POST", "/api/v1/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", auth)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Uploaded []struct {
			File struct {
				ID uuid.UUID `json:"id"`
			} `json:"file"`
		} `json:"uploaded"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Uploaded, 1)
	return resp.Uploaded[0].File.ID
}

// --- Tests ---

func TestUploadRequiresAuth(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest("POST", "/api/v1/files/upload", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadAndDownload(t *testing.T) {
	router := newTestRouter(t)
	auth := bearerToken(t, uuid.New(), "user")

	id := uploadOne(t, router, auth, "notes.txt", "0123456789")

	req := httptest.NewRequest("GET", "/api/v1/files/"+id.String()+"/download", nil)
	req.Header.Set("Authorization", auth)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789", rec.Body.String())
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "10", rec.Header().Get("Content-Length"))
	assert.Equal(t, "inline", rec.Header().Get("Content-Disposition"))
}

func TestDownloadRange(t *testing.T) {
	router := newTestRouter(t)
	auth := bearerToken(t, uuid.New(), "user")

	id := uploadOne(t, router, auth, "media.txt", "0123456789")

	req := httptest.NewRequest("GET", "/api/v1/files/"+id.String()+"/download?action=stream", nil)
	req.Header.Set("Authorization", auth)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "2345", rec.Body.String())
	assert.Equal(t, "bytes 2-5/10", rec.Header().Get("Content-Range"))
	assert.Equal(t, "4", rec.Header().Get("Content-Length"))
}

func TestDownloadUnsatisfiableRange(t *testing.T) {
	router := newTestRouter(t)
	auth := bearerToken(t, uuid.New(), "user")

	id := uploadOne(t, router, auth, "media.txt", "0123456789")

	req := httptest.NewRequest("GET", "/api/v1/files/"+id.String()+"/download", nil)
	req.Header.Set("Authorization", auth)
	req.Header.Set("Range", "bytes=100-")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */10", rec.Header().Get("Content-Range"))
}

func TestDownloadActionIgnoresRange(t *testing.T) {
	router := newTestRouter(t)
	auth := bearerToken(t, uuid.New(), "user")

	id := uploadOne(t, router, auth, "report.txt", "0123456789")

	req := httptest.NewRequest("GET", "/api/v1/files/"+id.String()+"/download?action=download", nil)
	req.Header.Set("Authorization", auth)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789", rec.Body.String())
	assert.Equal(t, `attachment; filename="report.txt"`, rec.Header().Get("Content-Disposition"))
}

func TestDownloadForeignFileForbidden(t *testing.T) {
	router := newTestRouter(t)
	owner := bearerToken(t, uuid.New(), "user")
	stranger := bearerToken(t, uuid.New(), "user")
	admin := bearerToken(t, uuid.New(), "admin")

	id := uploadOne(t, router, owner, "private.txt", "secret")

	req := httptest.NewRequest("GET", "/api/v1/files/"+id.String()+"/download", nil)
	req.Header.Set("Authorization", stranger)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest("GET", "/api/v1/files/"+id.String()+"/download", nil)
	req.Header.Set("Authorization", admin)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUploadPartialFailure(t *testing.T) {
	router := newTestRouter(t)
	auth := bearerToken(t, uuid.New(), "user")

	body, contentType := multipartUpload(t, "", map[string]string{
		"good.txt": "fine",
		"bad.exe":  "MZ",
	})
	req := httptest.NewRequest("POST", "/api/v1/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", auth)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Error    string            `json:"error"`
		Uploaded []json.RawMessage `json:"uploaded"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "bad.exe")
	assert.Len(t, resp.Uploaded, 1, "the valid file stays committed")
}

func TestDeleteFile(t *testing.T) {
	router := newTestRouter(t)
	auth := bearerToken(t, uuid.New(), "user")

	id := uploadOne(t, router, auth, "gone.txt", "x")

	req := httptest.NewRequest("DELETE", "/api/v1/files/"+id.String(), nil)
	req.Header.Set("Authorization", auth)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("GET", "/api/v1/files/"+id.String()+"/download", nil)
	req.Header.Set("Authorization", auth)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadConfigEndpoint(t *testing.T) {
	router := newTestRouter(t)
	auth := bearerToken(t, uuid.New(), "user")

	req := httptest.NewRequest("GET", "/api/v1/files/upload/config", nil)
	req.Header.Set("Authorization", auth)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var cfg storage.UploadConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, int64(1<<20), cfg.MaxFileSize)
	assert.Contains(t, cfg.BlockedFileExtensions, ".exe")
}
