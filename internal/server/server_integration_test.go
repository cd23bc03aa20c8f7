package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavel-fokin/files-manager/internal/files"
	"github.com/pavel-fokin/files-manager/internal/fs"
	"github.com/pavel-fokin/files-manager/internal/sqlite"
)

const (
	ownerToken = "owner-token"
	otherToken = "other-token"
	ownerID    = "user-1"
)

type testEnv struct {
	ts      *httptest.Server
	repo    *sqlite.Repository
	dataDir string
}

func setupTestServer(t *testing.T) *testEnv {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "files")
	dbPath := filepath.Join(dir, "test.db")

	cfg := &Config{
		Addr:        ":0",
		StorageRoot: dataDir,
		DBPath:      dbPath,
		PageSize:    20,
		MaxSize:     1 << 20,
	}

	srv, err := New(cfg)
	require.NoError(t, err)

	// Sessions are issued by the auth service; seed them through a second handle.
	repo, err := sqlite.NewRepository(dbPath)
	require.NoError(t, err)
	require.NoError(t, repo.PutSession(context.Background(), ownerToken, ownerID))
	require.NoError(t, repo.PutSession(context.Background(), otherToken, "user-2"))

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(func() {
		ts.Close()
		repo.Close()
		// Runs the shutdown hooks, which close the repository opened by New.
		srv.Shutdown(context.Background())
	})

	return &testEnv{ts: ts, repo: repo, dataDir: dataDir}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("X-Token", token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestIntegration(t *testing.T) {
	env := setupTestServer(t)

	// 1. Upload a private text file
	var file files.Projection
	t.Run("Upload", func(t *testing.T) {
		resp := env.do(t, "POST", "/files", ownerToken, map[string]any{
			"name": "a.txt",
			"type": "file",
			"data": "aGVsbG8=",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		file = decode[files.Projection](t, resp)
		assert.NotEmpty(t, file.ID)
		assert.Equal(t, ownerID, file.UserID)
		assert.Equal(t, "a.txt", file.Name)
		assert.Equal(t, files.KindFile, file.Type)
		assert.False(t, file.IsPublic)
		assert.True(t, file.ParentID.IsRoot())
	})

	// 2. Owner can read the content
	t.Run("Owner download", func(t *testing.T) {
		resp := env.do(t, "GET", "/files/"+file.ID+"/data", ownerToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
		assert.Equal(t, "hello", readBody(t, resp))
	})

	// 3. Private content is hidden from everyone else
	t.Run("Anonymous download of private file", func(t *testing.T) {
		resp := env.do(t, "GET", "/files/"+file.ID+"/data", "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "Not found", decode[map[string]string](t, resp)["error"])
	})

	t.Run("Other user download of private file", func(t *testing.T) {
		resp := env.do(t, "GET", "/files/"+file.ID+"/data", otherToken, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	// 4. Only the owner can publish
	t.Run("Publish by other user", func(t *testing.T) {
		resp := env.do(t, "PUT", "/files/"+file.ID+"/publish", otherToken, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("Publish", func(t *testing.T) {
		resp := env.do(t, "PUT", "/files/"+file.ID+"/publish", ownerToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, decode[files.Projection](t, resp).IsPublic)
	})

	// 5. Public content is servable without a token
	t.Run("Anonymous download of public file", func(t *testing.T) {
		resp := env.do(t, "GET", "/files/"+file.ID+"/data", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "hello", readBody(t, resp))
	})

	t.Run("Unpublish", func(t *testing.T) {
		resp := env.do(t, "PUT", "/files/"+file.ID+"/unpublish", ownerToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.False(t, decode[files.Projection](t, resp).IsPublic)

		resp = env.do(t, "GET", "/files/"+file.ID+"/data", "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("Show", func(t *testing.T) {
		resp := env.do(t, "GET", "/files/"+file.ID, ownerToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, file.ID, decode[files.Projection](t, resp).ID)

		resp = env.do(t, "GET", "/files/"+file.ID, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp = env.do(t, "GET", "/files/not-an-id", ownerToken, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestIntegrationUploadErrors(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, "POST", "/files", ownerToken, map[string]any{"name": "a.txt", "type": "file", "data": "eA=="})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	file := decode[files.Projection](t, resp)

	tests := []struct {
		name         string
		token        string
		body         map[string]any
		expectedCode int
		expectedErr  string
	}{
		{
			name:         "no token",
			body:         map[string]any{"name": "a", "type": "folder"},
			expectedCode: http.StatusUnauthorized,
			expectedErr:  "Unauthorized",
		},
		{
			name:         "missing name",
			token:        ownerToken,
			body:         map[string]any{"type": "folder"},
			expectedCode: http.StatusBadRequest,
			expectedErr:  "Missing name",
		},
		{
			name:         "missing type",
			token:        ownerToken,
			body:         map[string]any{"name": "a", "type": "video"},
			expectedCode: http.StatusBadRequest,
			expectedErr:  "Missing type",
		},
		{
			name:         "missing data",
			token:        ownerToken,
			body:         map[string]any{"name": "a", "type": "file"},
			expectedCode: http.StatusBadRequest,
			expectedErr:  "Missing data",
		},
		{
			name:         "parent not found",
			token:        ownerToken,
			body:         map[string]any{"name": "a", "type": "folder", "parentId": files.NewID()},
			expectedCode: http.StatusBadRequest,
			expectedErr:  "Parent not found",
		},
		{
			name:         "parent is not a folder",
			token:        ownerToken,
			body:         map[string]any{"name": "a", "type": "folder", "parentId": file.ID},
			expectedCode: http.StatusBadRequest,
			expectedErr:  "Parent is not a folder",
		},
		{
			name:         "numeric parent",
			token:        ownerToken,
			body:         map[string]any{"name": "a", "type": "folder", "parentId": 5},
			expectedCode: http.StatusBadRequest,
			expectedErr:  "Parent not found",
		},
		{
			name:         "mistyped field",
			token:        ownerToken,
			body:         map[string]any{"name": "a", "type": "folder", "isPublic": "yes"},
			expectedCode: http.StatusBadRequest,
			expectedErr:  "Invalid request body",
		},
		{
			name:         "mistyped field without token",
			body:         map[string]any{"name": "a", "type": "folder", "isPublic": "yes"},
			expectedCode: http.StatusUnauthorized,
			expectedErr:  "Unauthorized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, "POST", "/files", tt.token, tt.body)
			assert.Equal(t, tt.expectedCode, resp.StatusCode)
			assert.Equal(t, tt.expectedErr, decode[map[string]string](t, resp)["error"])
		})
	}
}

func TestIntegrationUploadMalformedJSON(t *testing.T) {
	env := setupTestServer(t)

	req, err := http.NewRequest("POST", env.ts.URL+"/files", bytes.NewReader([]byte(`{"name":`)))
	require.NoError(t, err)
	req.Header.Set("X-Token", ownerToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid request body", decode[map[string]string](t, resp)["error"])
}

func TestIntegrationUnpaddedData(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, "POST", "/files", ownerToken, map[string]any{"name": "hello.txt", "type": "file", "isPublic": true, "data": "aGVsbG8"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	file := decode[files.Projection](t, resp)

	resp = env.do(t, "GET", "/files/"+file.ID+"/data", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", readBody(t, resp))
}

func TestIntegrationFolderContent(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, "POST", "/files", ownerToken, map[string]any{"name": "docs", "type": "folder", "parentId": 0})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, float64(0), raw["parentId"])

	resp = env.do(t, "GET", fmt.Sprintf("/files/%s/data", raw["id"]), ownerToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "A folder doesn't have content", decode[map[string]string](t, resp)["error"])
}

func TestIntegrationImageUpload(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	data := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}

	resp := env.do(t, "POST", "/files", ownerToken, map[string]any{
		"name":     "pic.png",
		"type":     "image",
		"isPublic": true,
		"data":     base64.StdEncoding.EncodeToString(data),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	image := decode[files.Projection](t, resp)

	queue := sqlite.NewQueue(env.repo)
	pending, err := queue.Pending(ctx, files.ThumbnailQueue)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	job, err := queue.Claim(ctx, files.ThumbnailQueue)
	require.NoError(t, err)
	var payload files.ThumbnailJob
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, ownerID, payload.UserID)
	assert.Equal(t, image.ID, payload.FileID)
	assert.Equal(t, env.dataDir, filepath.Dir(payload.LocalPath))

	// Binary content round-trips untouched
	resp = env.do(t, "GET", "/files/"+image.ID+"/data", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, string(data), readBody(t, resp))

	// The worker writes a variant next to the original
	storage, err := fs.NewStorage(env.dataDir)
	require.NoError(t, err)
	require.NoError(t, storage.Write(files.VariantPath(payload.LocalPath, 100), []byte("thumb")))

	resp = env.do(t, "GET", "/files/"+image.ID+"/data?size=100", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "thumb", readBody(t, resp))

	resp = env.do(t, "GET", "/files/"+image.ID+"/data?size=500", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(data), readBody(t, resp))
}

func TestIntegrationIndex(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, "POST", "/files", ownerToken, map[string]any{"name": "docs", "type": "folder"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	folder := decode[files.Projection](t, resp)

	var want []string
	for i := 0; i < 23; i++ {
		resp := env.do(t, "POST", "/files", ownerToken, map[string]any{
			"name":     fmt.Sprintf("f%d.txt", i),
			"type":     "file",
			"parentId": folder.ID,
			"data":     "eA==",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		want = append(want, decode[files.Projection](t, resp).ID)
	}

	var got []string
	for page, size := range []int{20, 3} {
		resp := env.do(t, "GET", fmt.Sprintf("/files?parentId=%s&page=%d", folder.ID, page), ownerToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		list := decode[[]files.Projection](t, resp)
		require.Len(t, list, size)
		for _, p := range list {
			assert.Equal(t, files.ParentID(folder.ID), p.ParentID)
			got = append(got, p.ID)
		}
	}
	assert.Equal(t, want, got)

	// Root listing matches every record
	resp = env.do(t, "GET", "/files?page=1", ownerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]files.Projection](t, resp), 4)

	resp = env.do(t, "GET", "/files?page=9", ownerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]files.Projection](t, resp))

	resp = env.do(t, "GET", "/files", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIntegrationStatusAndStats(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, "GET", "/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]bool{"db": true}, decode[map[string]bool](t, resp))

	resp = env.do(t, "POST", "/files", ownerToken, map[string]any{"name": "docs", "type": "folder"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, "GET", "/stats", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]int{"users": 2, "files": 1}, decode[map[string]int](t, resp))

	resp = env.do(t, "GET", "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "fm_uploads_total")
}
