package dropbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baller70/tbfcontentmachineapp-sub003/internal/domain"
)

func TestListFolder_PagesThroughCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req listFolderReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch r.URL.Path {
		case "/2/files/list_folder":
			assert.Equal(t, "/campaign", req.Path)
			json.NewEncoder(w).Encode(map[string]any{
				"entries": []map[string]string{
					{".tag": "file", "name": "1-a.png", "id": "id:1"},
					{".tag": "folder", "name": "subdir", "id": "id:2"},
				},
				"cursor":   "cur_1",
				"has_more": true,
			})
		case "/2/files/list_folder/continue":
			assert.Equal(t, "cur_1", req.Cursor)
			json.NewEncoder(w).Encode(map[string]any{
				"entries": []map[string]string{
					{".tag": "file", "name": "2-b.jpg", "id": "id:3"},
				},
				"has_more": false,
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, "token", time.Second)
	entries, err := c.ListFolder(context.Background(), "/campaign")
	require.NoError(t, err)
	require.Len(t, entries, 2) // the folder entry is dropped
	assert.Equal(t, "1-a.png", entries[0].Name)
	assert.Equal(t, "image/png", entries[0].ContentType)
	assert.Equal(t, "image/jpeg", entries[1].ContentType)
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/2/files/download", r.URL.Path)
		var arg map[string]string
		require.NoError(t, json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &arg))
		assert.Equal(t, "/campaign/1-a.png", arg["path"])
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, "token", time.Second)
	data, err := c.Download(context.Background(), "/campaign/1-a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestAuthExpiredIsDistinct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error_summary":"expired_access_token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, "token", time.Second)
	_, err := c.ListFolder(context.Background(), "/campaign")
	require.Error(t, err)
	assert.Equal(t, domain.KindAuth, domain.KindOf(err))
	assert.False(t, domain.Retryable(err))
}

func TestRateLimitIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, "token", time.Second)
	_, err := c.Download(context.Background(), "/x")
	require.Error(t, err)
	assert.Equal(t, domain.KindRateLimit, domain.KindOf(err))
	assert.True(t, domain.Retryable(err))
}
