package aliyundrive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	transport := NewTransport("client-id", "client-secret", false)
	transport.apiBaseURL = srv.URL

	tokens := &TokenManager{
		transport: transport,
		creds:     credentials{accessToken: "test-access-token", refreshToken: "test-refresh-token"},
		driveID:   "drive-1",
	}
	return NewClient(transport, tokens), srv
}

func TestClientGetByIDRoot(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("root lookup must never hit the network")
	})
	entry, err := c.GetByID(context.Background(), RootID)
	require.NoError(t, err)
	assert.Equal(t, RootID, entry.ID)
	assert.True(t, entry.IsDir())
}

func TestClientGetByIDDecodesLivpStreams(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/adrive/v1.0/openFile/get", r.URL.Path)
		assert.Equal(t, "Bearer test-access-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(wireFile{
			Name:   "photo.livp",
			FileID: "file-1",
			Type:   TypeFile,
			Size:   999,
			StreamsInfo: map[string]struct {
				Size uint64 `json:"size"`
			}{
				"heic": {Size: 1000},
				"mov":  {Size: 2000},
			},
		})
	})
	entry, err := c.GetByID(context.Background(), "file-1")
	require.NoError(t, err)
	assert.Equal(t, livpZipSize("photo.livp", map[string]uint64{"heic": 1000, "mov": 2000}), entry.Size)
}

func TestClientGetByIDNotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := c.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClientGetByPathRoot(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("root path must never hit the network")
	})
	entry, err := c.GetByPath(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, RootID, entry.ID)
}

func TestClientGetByPathEmptyFileIDMeansNotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wireFile{})
	})
	_, err := c.GetByPath(context.Background(), "/missing/path")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClientListAllFollowsMarker(t *testing.T) {
	calls := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req listFileRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Marker == "" {
			json.NewEncoder(w).Encode(listFileResponse{
				Items:      []wireFile{{Name: "a.txt", FileID: "1", Type: TypeFile}},
				NextMarker: "page2",
			})
			return
		}
		assert.Equal(t, "page2", req.Marker)
		json.NewEncoder(w).Encode(listFileResponse{
			Items: []wireFile{{Name: "b.txt", FileID: "2", Type: TypeFile}},
		})
	})
	entries, err := c.ListAll(context.Background(), "parent-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.txt", entries[0].Name)
	assert.Equal(t, "b.txt", entries[1].Name)
	assert.Equal(t, 2, calls)
}

func TestClientTrashIgnoresNotFoundAndBadRequest(t *testing.T) {
	status := http.StatusNotFound
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
	assert.NoError(t, c.Trash(context.Background(), "file-1"))

	status = http.StatusBadRequest
	assert.NoError(t, c.Trash(context.Background(), "file-1"))
}

func TestClientTrashPropagatesOtherErrors(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	err := c.Trash(context.Background(), "file-1")
	assert.Error(t, err)
	assert.False(t, NotFound(err))
}

func TestClientCreateFileWithProofRejectsMissingUploadInfo(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(createFileWithProofResponse{FileID: "file-1"})
	})
	_, _, _, err := c.CreateFileWithProof(context.Background(), "a.txt", "parent-1", 100, 1, "")
	assert.Error(t, err)
}

func TestClientCreateFileWithProofSuccess(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(createFileWithProofResponse{
			FileID:   "file-1",
			UploadID: "upload-1",
			PartInfoList: []uploadPartInfo{
				{PartNumber: 1, UploadURL: "https://oss.example/part1"},
			},
		})
	})
	fileID, uploadID, urls, err := c.CreateFileWithProof(context.Background(), "a.txt", "parent-1", 100, 1, "")
	require.NoError(t, err)
	assert.Equal(t, "file-1", fileID)
	assert.Equal(t, "upload-1", uploadID)
	assert.Equal(t, []string{"https://oss.example/part1"}, urls)
}

func TestClientCreateZeroByteFile(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(createFileWithProofResponse{FileID: "file-1", UploadID: "upload-1"})
	})
	fileID, uploadID, err := c.CreateZeroByteFile(context.Background(), "empty.txt", "parent-1")
	require.NoError(t, err)
	assert.Equal(t, "file-1", fileID)
	assert.Equal(t, "upload-1", uploadID)
}

func TestUploadExpired(t *testing.T) {
	assert.True(t, UploadExpired("PutObject request Expired"))
	assert.True(t, UploadExpired("EXPIRED"))
	assert.False(t, UploadExpired("all good"))
}

func TestDecodeWireFileDiscardsImageURL(t *testing.T) {
	e := decodeWireFile(wireFile{
		Name:     "cat.jpg",
		FileID:   "f1",
		Category: "image",
		URL:      "https://example.com/cat.jpg",
	})
	assert.Empty(t, e.DownloadURL)
}

func TestDecodeWireFileKeepsNonImageURL(t *testing.T) {
	e := decodeWireFile(wireFile{
		Name:   "report.pdf",
		FileID: "f1",
		URL:    "https://example.com/report.pdf",
	})
	assert.Equal(t, "https://example.com/report.pdf", e.DownloadURL)
}

func TestClientQuota(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp := getSpaceInfoResponse{}
		resp.PersonalSpaceInfo.UsedSize = 500
		resp.PersonalSpaceInfo.TotalSize = 1000
		json.NewEncoder(w).Encode(resp)
	})
	used, total, err := c.Quota(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 500, used)
	assert.EqualValues(t, 1000, total)
}
