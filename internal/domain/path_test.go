package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"":            "/",
		"/":           "/",
		"  /docs  ":   "/docs",
		"docs":        "/docs",
		"/docs/":      "/docs",
		"/docs/tax//": "/docs/tax",
		"/a/b/c":      "/a/b/c",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizePath(in), "input %q", in)
	}
}

func TestSplitAndJoin(t *testing.T) {
	assert.Nil(t, SplitPath("/"))
	assert.Equal(t, []string{"a", "b"}, SplitPath("/a/b"))

	assert.Equal(t, "/a", JoinPath("/", "a"))
	assert.Equal(t, "/a/b", JoinPath("/a", "b"))
	assert.Equal(t, "/a/b", JoinPath("/a/", "b"))

	assert.Equal(t, 0, PathDepth("/"))
	assert.Equal(t, 3, PathDepth("/a/b/c"))
}

func TestFolderParentPath(t *testing.T) {
	root := &Folder{Name: "docs", Path: "/docs"}
	assert.Equal(t, "/", root.ParentPath())

	parentID := uuid.New()
	nested := &Folder{Name: "tax", Path: "/docs/tax", ParentID: &parentID}
	assert.Equal(t, "/docs", nested.ParentPath())

	deep := &Folder{Name: "2024", Path: "/docs/tax/2024", ParentID: &parentID}
	assert.Equal(t, "/docs/tax", deep.ParentPath())
}

func TestCallerCanAccess(t *testing.T) {
	owner := uuid.New()
	assert.True(t, Caller{UserID: owner}.CanAccess(owner))
	assert.False(t, Caller{UserID: uuid.New()}.CanAccess(owner))
	assert.True(t, Caller{UserID: uuid.New(), IsAdmin: true}.CanAccess(owner))
}
