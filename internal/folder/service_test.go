package folder

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"cirrus/internal/domain"
	"cirrus/pkg/errors"
	"cirrus/pkg/logger"
)

// --- Mocks ---

type MockFolderRepository struct {
	mock.Mock
}

func (m *MockFolderRepository) Create(ctx context.Context, folder *domain.Folder) error {
	args := m.Called(ctx, folder)
	return args.Error(0)
}

func (m *MockFolderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Folder, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Folder), args.Error(1)
}

func (m *MockFolderRepository) GetChild(ctx context.Context, ownerID uuid.UUID, parentID *uuid.UUID, name string) (*domain.Folder, error) {
	args := m.Called(ctx, ownerID, parentID, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Folder), args.Error(1)
}

func (m *MockFolderRepository) ListChildren(ctx context.Context, ownerID uuid.UUID, parentID *uuid.UUID) ([]*domain.Folder, error) {
	args := m.Called(ctx, ownerID, parentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Folder), args.Error(1)
}

func (m *MockFolderRepository) ListAll(ctx context.Context, ownerID uuid.UUID) ([]*domain.Folder, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Folder), args.Error(1)
}

func (m *MockFolderRepository) SubtreeIDs(ctx context.Context, rootID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, rootID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockFolderRepository) Update(ctx context.Context, folder *domain.Folder) error {
	args := m.Called(ctx, folder)
	return args.Error(0)
}

func (m *MockFolderRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockFolderRepository) CountChildren(ctx context.Context, id uuid.UUID) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockFolderRepository) DeleteSubtree(ctx context.Context, rootID uuid.UUID) (int, []*domain.File, error) {
	args := m.Called(ctx, rootID)
	if args.Get(1) == nil {
		return args.Int(0), nil, args.Error(2)
	}
	return args.Int(0), args.Get(1).([]*domain.File), args.Error(2)
}

type MockFileCatalog struct {
	mock.Mock
}

func (m *MockFileCatalog) ListByFolder(ctx context.Context, ownerID uuid.UUID, folderID *uuid.UUID) ([]*domain.File, error) {
	args := m.Called(ctx, ownerID, folderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.File), args.Error(1)
}

func (m *MockFileCatalog) CountByFolder(ctx context.Context, ownerID uuid.UUID, folderID *uuid.UUID) (int64, error) {
	args := m.Called(ctx, ownerID, folderID)
	return args.Get(0).(int64), args.Error(1)
}

type MockDisk struct {
	mock.Mock
}

func (m *MockDisk) Remove(path string) error {
	args := m.Called(path)
	return args.Error(0)
}

func (m *MockDisk) Exists(path string) bool {
	args := m.Called(path)
	return args.Bool(0)
}

func newTestService() (*Service, *MockFolderRepository, *MockFileCatalog, *MockDisk) {
	folders := new(MockFolderRepository)
	files := new(MockFileCatalog)
	disk := new(MockDisk)
	return NewService(folders, files, disk, logger.NewNop()), folders, files, disk
}

var rootParent *uuid.UUID

// --- Tests ---

func TestCreateFolderAtRoot(t *testing.T) {
	service, folders, _, _ := newTestService()
	ctx := context.Background()
	ownerID := uuid.New()

	folders.On("GetChild", ctx, ownerID, rootParent, "documents").Return(nil, errors.ErrFolderNotFound)
	folders.On("Create", ctx, mock.AnythingOfType("*domain.Folder")).Return(nil)

	created, err := service.CreateFolder(ctx, ownerID, "documents", "/")

	assert.NoError(t, err)
	assert.Equal(t, "documents", created.Name)
	assert.Equal(t, "/documents", created.Path)
	assert.Nil(t, created.ParentID)
	folders.AssertExpectations(t)
}

func TestCreateFolderDuplicateName(t *testing.T) {
	service, folders, _, _ := newTestService()
	ctx := context.Background()
	ownerID := uuid.New()

	existing := &domain.Folder{ID: uuid.New(), OwnerID: ownerID, Name: "documents"}
	folders.On("GetChild", ctx, ownerID, rootParent, "documents").Return(existing, nil)

	_, err := service.CreateFolder(ctx, ownerID, "documents", "/")

	assert.ErrorIs(t, err, errors.ErrFolderExists)
	folders.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateFolderMissingParent(t *testing.T) {
	service, folders, _, _ := newTestService()
	ctx := context.Background()
	ownerID := uuid.New()

	folders.On("GetChild", ctx, ownerID, rootParent, "missing").Return(nil, errors.ErrFolderNotFound)

	_, err := service.CreateFolder(ctx, ownerID, "photos", "/missing")

	assert.ErrorIs(t, err, errors.ErrParentNotFound)
}

func TestCreateFolderRejectsBadName(t *testing.T) {
	service, _, _, _ := newTestService()
	ctx := context.Background()

	for _, name := range []string{"", "a/b", ".", "..", "  "} {
		_, err := service.CreateFolder(ctx, uuid.New(), name, "/")
		assert.ErrorIs(t, err, errors.ErrInvalidName, "name %q", name)
	}
}

func TestCreateFolderPathReusesExistingSegments(t *testing.T) {
	service, folders, _, _ := newTestService()
	ctx := context.Background()
	ownerID := uuid.New()

	docs := &domain.Folder{ID: uuid.New(), OwnerID: ownerID, Name: "documents"}
	folders.On("GetChild", ctx, ownerID, rootParent, "documents").Return(docs, nil)
	folders.On("GetChild", ctx, ownerID, &docs.ID, "2024").Return(nil, errors.ErrFolderNotFound)
	folders.On("Create", ctx, mock.AnythingOfType("*domain.Folder")).Return(nil)

	leaf, err := service.CreateFolderPath(ctx, ownerID, "/documents/2024")

	assert.NoError(t, err)
	assert.Equal(t, "2024", leaf.Name)
	assert.Equal(t, "/documents/2024", leaf.Path)
	assert.Equal(t, docs.ID, *leaf.ParentID)
	folders.AssertNumberOfCalls(t, "Create", 1)
}

func TestCreateFolderPathRootIsNil(t *testing.T) {
	service, _, _, _ := newTestService()

	leaf, err := service.CreateFolderPath(context.Background(), uuid.New(), "/")

	assert.NoError(t, err)
	assert.Nil(t, leaf)
}

func TestCreateFolderPathLostRace(t *testing.T) {
	service, folders, _, _ := newTestService()
	ctx := context.Background()
	ownerID := uuid.New()

	winner := &domain.Folder{ID: uuid.New(), OwnerID: ownerID, Name: "shared"}
	folders.On("GetChild", ctx, ownerID, rootParent, "shared").Return(nil, errors.ErrFolderNotFound).Once()
	folders.On("Create", ctx, mock.AnythingOfType("*domain.Folder")).Return(errors.ErrFolderExists)
	folders.On("GetChild", ctx, ownerID, rootParent, "shared").Return(winner, nil)

	leaf, err := service.CreateFolderPath(ctx, ownerID, "/shared")

	assert.NoError(t, err)
	assert.Equal(t, winner.ID, leaf.ID)
}

func TestResolvePathWalksSegments(t *testing.T) {
	service, folders, _, _ := newTestService()
	ctx := context.Background()
	ownerID := uuid.New()

	docs := &domain.Folder{ID: uuid.New(), OwnerID: ownerID, Name: "documents"}
	year := &domain.Folder{ID: uuid.New(), OwnerID: ownerID, ParentID: &docs.ID, Name: "2024"}
	folders.On("GetChild", ctx, ownerID, rootParent, "documents").Return(docs, nil)
	folders.On("GetChild", ctx, ownerID, &docs.ID, "2024").Return(year, nil)

	resolved, err := service.ResolvePath(ctx, ownerID, "/documents/2024")

	assert.NoError(t, err)
	assert.Equal(t, year.ID, resolved.ID)
	assert.Equal(t, "/documents/2024", resolved.Path)
}

func TestExists(t *testing.T) {
	service, folders, _, _ := newTestService()
	ctx := context.Background()
	ownerID := uuid.New()

	folders.On("GetChild", ctx, ownerID, rootParent, "ghost").Return(nil, errors.ErrFolderNotFound)

	ok, err := service.Exists(ctx, ownerID, "/ghost")
	assert.NoError(t, err)
	assert.False(t, ok)

	ok, err = service.Exists(ctx, ownerID, "/")
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestGetFolderContents(t *testing.T) {
	service, folders, files, _ := newTestService()
	ctx := context.Background()
	ownerID := uuid.New()

	docs := &domain.Folder{ID: uuid.New(), OwnerID: ownerID, Name: "documents"}
	child := &domain.Folder{ID: uuid.New(), OwnerID: ownerID, ParentID: &docs.ID, Name: "2024"}
	file := &domain.File{ID: uuid.New(), OwnerID: ownerID, FolderID: &docs.ID, OriginalFilename: "report.pdf"}

	folders.On("GetChild", ctx, ownerID, rootParent, "documents").Return(docs, nil)
	folders.On("ListChildren", ctx, ownerID, &docs.ID).Return([]*domain.Folder{child}, nil)
	files.On("ListByFolder", ctx, ownerID, &docs.ID).Return([]*domain.File{file}, nil)

	contents, err := service.GetFolderContents(ctx, ownerID, "/documents")

	assert.NoError(t, err)
	assert.Equal(t, "/documents", contents.Path)
	assert.Len(t, contents.Folders, 1)
	assert.Equal(t, "/documents/2024", contents.Folders[0].Path)
	assert.Len(t, contents.Files, 1)
	assert.Equal(t, "/documents", contents.Files[0].VirtualFolderPath)
}

func TestRenameFolderConflict(t *testing.T) {
	service, folders, _, _ := newTestService()
	ctx := context.Background()
	ownerID := uuid.New()

	current := &domain.Folder{ID: uuid.New(), OwnerID: ownerID, Name: "old"}
	sibling := &domain.Folder{ID: uuid.New(), OwnerID: ownerID, Name: "new"}
	folders.On("GetByID", ctx, current.ID).Return(current, nil)
	folders.On("GetChild", ctx, ownerID, rootParent, "new").Return(sibling, nil)

	caller := domain.Caller{UserID: ownerID}
	_, err := service.RenameFolder(ctx, caller, current.ID, "new")

	assert.ErrorIs(t, err, errors.ErrFolderExists)
	folders.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestRenameFolderDeniedForNonOwner(t *testing.T) {
	service, folders, _, _ := newTestService()
	ctx := context.Background()

	current := &domain.Folder{ID: uuid.New(), OwnerID: uuid.New(), Name: "old"}
	folders.On("GetByID", ctx, current.ID).Return(current, nil)

	caller := domain.Caller{UserID: uuid.New()}
	_, err := service.RenameFolder(ctx, caller, current.ID, "new")

	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
}

func TestRenameFolderAdminOverride(t *testing.T) {
	service, folders, _, _ := newTestService()
	ctx := context.Background()
	ownerID := uuid.New()

	current := &domain.Folder{ID: uuid.New(), OwnerID: ownerID, Name: "old"}
	folders.On("GetByID", ctx, current.ID).Return(current, nil)
	folders.On("GetChild", ctx, ownerID, rootParent, "new").Return(nil, errors.ErrFolderNotFound)
	folders.On("Update", ctx, current).Return(nil)

	caller := domain.Caller{UserID: uuid.New(), IsAdmin: true}
	renamed, err := service.RenameFolder(ctx, caller, current.ID, "new")

	assert.NoError(t, err)
	assert.Equal(t, "new", renamed.Name)
	assert.Equal(t, "/new", renamed.Path)
}

func TestMoveFolderIntoDescendantRejected(t *testing.T) {
	service, folders, _, _ := newTestService()
	ctx := context.Background()
	ownerID := uuid.New()

	parent := &domain.Folder{ID: uuid.New(), OwnerID: ownerID, Name: "a"}
	child := &domain.Folder{ID: uuid.New(), OwnerID: ownerID, ParentID: &parent.ID, Name: "b"}

	folders.On("GetByID", ctx, parent.ID).Return(parent, nil)
	folders.On("GetChild", ctx, ownerID, rootParent, "a").Return(parent, nil)
	folders.On("GetChild", ctx, ownerID, &parent.ID, "b").Return(child, nil)
	folders.On("SubtreeIDs", ctx, parent.ID).Return([]uuid.UUID{parent.ID, child.ID}, nil)

	caller := domain.Caller{UserID: ownerID}
	_, err := service.MoveFolder(ctx, caller, parent.ID, "/a/b")

	assert.ErrorIs(t, err, errors.ErrFolderCycle)
	folders.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestMoveFolderToRoot(t *testing.T) {
	service, folders, _, _ := newTestService()
	ctx := context.Background()
	ownerID := uuid.New()

	parentID := uuid.New()
	current := &domain.Folder{ID: uuid.New(), OwnerID: ownerID, ParentID: &parentID, Name: "nested"}

	folders.On("GetByID", ctx, current.ID).Return(current, nil)
	folders.On("GetChild", ctx, ownerID, rootParent, "nested").Return(nil, errors.ErrFolderNotFound)
	folders.On("Update", ctx, current).Return(nil)

	caller := domain.Caller{UserID: ownerID}
	moved, err := service.MoveFolder(ctx, caller, current.ID, "/")

	assert.NoError(t, err)
	assert.Nil(t, moved.ParentID)
	assert.Equal(t, "/nested", moved.Path)
}

func TestDeleteFolderRefusesNonEmpty(t *testing.T) {
	service, folders, files, _ := newTestService()
	ctx := context.Background()
	ownerID := uuid.New()
	caller := domain.Caller{UserID: ownerID}

	withSubfolders := &domain.Folder{ID: uuid.New(), OwnerID: ownerID, Name: "a"}
	folders.On("GetByID", ctx, withSubfolders.ID).Return(withSubfolders, nil)
	folders.On("CountChildren", ctx, withSubfolders.ID).Return(int64(2), nil)

	err := service.DeleteFolder(ctx, caller, withSubfolders.ID)
	assert.ErrorIs(t, err, errors.ErrFolderNotEmpty)

	withFiles := &domain.Folder{ID: uuid.New(), OwnerID: ownerID, Name: "b"}
	folders.On("GetByID", ctx, withFiles.ID).Return(withFiles, nil)
	folders.On("CountChildren", ctx, withFiles.ID).Return(int64(0), nil)
	files.On("CountByFolder", ctx, ownerID, &withFiles.ID).Return(int64(1), nil)

	err = service.DeleteFolder(ctx, caller, withFiles.ID)
	assert.ErrorIs(t, err, errors.ErrFolderNotEmpty)

	folders.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestDeleteFolderEmpty(t *testing.T) {
	service, folders, files, _ := newTestService()
	ctx := context.Background()
	ownerID := uuid.New()

	empty := &domain.Folder{ID: uuid.New(), OwnerID: ownerID, Name: "empty"}
	folders.On("GetByID", ctx, empty.ID).Return(empty, nil)
	folders.On("CountChildren", ctx, empty.ID).Return(int64(0), nil)
	files.On("CountByFolder", ctx, ownerID, &empty.ID).Return(int64(0), nil)
	folders.On("Delete", ctx, empty.ID).Return(nil)

	err := service.DeleteFolder(ctx, domain.Caller{UserID: ownerID}, empty.ID)

	assert.NoError(t, err)
	folders.AssertExpectations(t)
}

func TestDeleteFolderRecursive(t *testing.T) {
	service, folders, _, disk := newTestService()
	ctx := context.Background()
	ownerID := uuid.New()

	target := &domain.Folder{ID: uuid.New(), OwnerID: ownerID, Name: "old"}
	removed := []*domain.File{
		{ID: uuid.New(), OwnerID: ownerID, Path: "/data/2024-01-01/a.bin"},
		{ID: uuid.New(), OwnerID: ownerID, Path: "/data/2024-01-02/b.bin"},
	}

	folders.On("GetChild", ctx, ownerID, rootParent, "old").Return(target, nil)
	folders.On("DeleteSubtree", ctx, target.ID).Return(3, removed, nil)
	disk.On("Exists", removed[0].Path).Return(true)
	disk.On("Remove", removed[0].Path).Return(nil)
	disk.On("Exists", removed[1].Path).Return(false)

	foldersDeleted, filesDeleted, err := service.DeleteFolderRecursive(ctx, domain.Caller{UserID: ownerID}, "/old")

	assert.NoError(t, err)
	assert.Equal(t, 3, foldersDeleted)
	assert.Equal(t, 2, filesDeleted)
	disk.AssertNotCalled(t, "Remove", removed[1].Path)
	disk.AssertExpectations(t)
}

func TestDeleteFolderRecursiveRootForbidden(t *testing.T) {
	service, folders, _, _ := newTestService()

	_, _, err := service.DeleteFolderRecursive(context.Background(), domain.Caller{UserID: uuid.New()}, "/")

	assert.ErrorIs(t, err, errors.ErrInvalidPath)
	folders.AssertNotCalled(t, "DeleteSubtree", mock.Anything, mock.Anything)
}
