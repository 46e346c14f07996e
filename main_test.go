package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/webdav"

	"aliyundrive-webdav/aliyundrive"
	"aliyundrive-webdav/config"
	"aliyundrive-webdav/webdavfs"
)

func TestDriveType(t *testing.T) {
	assert.Equal(t, aliyundrive.DriveTypeResource, driveType("resource"))
	assert.Equal(t, aliyundrive.DriveTypeResource, driveType("RESOURCE"))
	assert.Equal(t, aliyundrive.DriveTypeBackup, driveType("backup"))
	assert.Equal(t, aliyundrive.DriveTypeDefault, driveType("default"))
	assert.Equal(t, aliyundrive.DriveTypeDefault, driveType("anything-else"))
}

func TestAuthMiddlewarePassesThroughWhenNoCredentialConfigured(t *testing.T) {
	cfg := &config.Config{}
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	h := authMiddleware(cfg, next)
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, called)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuthMiddlewareRejectsMissingCredentials(t *testing.T) {
	cfg := &config.Config{AuthUser: "alice", AuthPassword: "secret"}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { t.Fatal("must not reach handler") })

	h := authMiddleware(cfg, next)
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareAcceptsCorrectCredentials(t *testing.T) {
	cfg := &config.Config{AuthUser: "alice", AuthPassword: "secret"}
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	h := authMiddleware(cfg, next)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("alice", "secret")
	h(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddlewareRejectsWrongPassword(t *testing.T) {
	cfg := &config.Config{AuthUser: "alice", AuthPassword: "secret"}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { t.Fatal("must not reach handler") })

	h := authMiddleware(cfg, next)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("alice", "wrong")
	h(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStripPrefixMiddlewareNoopWhenUnset(t *testing.T) {
	cfg := &config.Config{}
	var seenPath string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { seenPath = r.URL.Path })
	h := stripPrefixMiddleware(cfg, next)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/dav/docs/a.txt", nil))
	assert.Equal(t, "/dav/docs/a.txt", seenPath)
}

func TestStripPrefixMiddlewareStripsConfiguredPrefix(t *testing.T) {
	cfg := &config.Config{StripPrefix: "/dav"}
	var seenPath string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { seenPath = r.URL.Path })

	h := stripPrefixMiddleware(cfg, next)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dav/docs/a.txt", nil))

	assert.Equal(t, "/docs/a.txt", seenPath)
}

func TestChecksumMiddlewarePropagatesHeaderIntoContext(t *testing.T) {
	var seenInContext string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenInContext = webdavfs.ChecksumFromContext(r.Context())
	})

	h := checksumMiddleware(next)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/big.bin", nil)
	req.Header.Set("OC-Checksum", "SHA1:deadbeef")
	h.ServeHTTP(rec, req)

	assert.Equal(t, "SHA1:deadbeef", seenInContext)
}

func TestChecksumMiddlewareNoopWithoutHeader(t *testing.T) {
	seenInContext := "unset"
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenInContext = webdavfs.ChecksumFromContext(r.Context())
	})

	h := checksumMiddleware(next)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/big.bin", nil))

	assert.Equal(t, "", seenInContext)
}

// fakeWebdavFS is a minimal webdav.FileSystem stub for exercising
// readOnlyGuard's pass-through vs. rejection behavior without a real
// Drive-backed FileSystem.
type fakeWebdavFS struct {
	mkdirCalled, removeCalled, renameCalled, openCalled bool
}

func (f *fakeWebdavFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	f.mkdirCalled = true
	return nil
}

func (f *fakeWebdavFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	f.openCalled = true
	return nil, nil
}

func (f *fakeWebdavFS) RemoveAll(ctx context.Context, name string) error {
	f.removeCalled = true
	return nil
}

func (f *fakeWebdavFS) Rename(ctx context.Context, oldName, newName string) error {
	f.renameCalled = true
	return nil
}

func (f *fakeWebdavFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	return nil, nil
}

func TestReadOnlyGuardBlocksMutatingCallsWhenReadOnly(t *testing.T) {
	inner := &fakeWebdavFS{}
	guard := readOnlyGuard{FileSystem: inner, readOnly: true}
	ctx := context.Background()

	assert.ErrorIs(t, guard.Mkdir(ctx, "/x", 0), os.ErrPermission)
	assert.ErrorIs(t, guard.RemoveAll(ctx, "/x"), os.ErrPermission)
	assert.ErrorIs(t, guard.Rename(ctx, "/a", "/b"), os.ErrPermission)

	_, err := guard.OpenFile(ctx, "/x", os.O_CREATE, 0)
	assert.ErrorIs(t, err, os.ErrPermission)

	assert.False(t, inner.mkdirCalled)
	assert.False(t, inner.removeCalled)
	assert.False(t, inner.renameCalled)
	assert.False(t, inner.openCalled)
}

func TestReadOnlyGuardAllowsReadOnlyOpen(t *testing.T) {
	inner := &fakeWebdavFS{}
	guard := readOnlyGuard{FileSystem: inner, readOnly: true}

	_, err := guard.OpenFile(context.Background(), "/x", os.O_RDONLY, 0)
	require.NoError(t, err)
	assert.True(t, inner.openCalled)
}

func TestReadOnlyGuardPassesThroughWhenNotReadOnly(t *testing.T) {
	inner := &fakeWebdavFS{}
	guard := readOnlyGuard{FileSystem: inner, readOnly: false}
	ctx := context.Background()

	require.NoError(t, guard.Mkdir(ctx, "/x", 0))
	require.NoError(t, guard.RemoveAll(ctx, "/x"))
	require.NoError(t, guard.Rename(ctx, "/a", "/b"))
	assert.True(t, inner.mkdirCalled)
	assert.True(t, inner.removeCalled)
	assert.True(t, inner.renameCalled)
}
