// Package dropbox is the storage-provider client for series folders.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/baller70/tbfcontentmachineapp-sub003/internal/domain"
)

const (
	DefaultAPIURL     = "https://api.dropboxapi.com"
	DefaultContentURL = "https://content.dropboxapi.com"

	defaultTimeout = 30 * time.Second
)

type Client struct {
	apiURL     string
	contentURL string
	token      string
	http       *http.Client
}

func New(apiURL, contentURL, token string, timeout time.Duration) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if contentURL == "" {
		contentURL = DefaultContentURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiURL:     apiURL,
		contentURL: contentURL,
		token:      token,
		http:       &http.Client{Timeout: timeout},
	}
}

type listFolderReq struct {
	Path   string `json:"path,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

type listFolderResp struct {
	Entries []struct {
		Tag  string `json:".tag"`
		Name string `json:"name"`
		ID   string `json:"id"`
	} `json:"entries"`
	Cursor  string `json:"cursor"`
	HasMore bool   `json:"has_more"`
}

// ListFolder returns every file entry in the folder, paging through the
// provider's cursor until exhausted.
func (c *Client) ListFolder(ctx context.Context, path string) ([]domain.FolderEntry, error) {
	var entries []domain.FolderEntry
	endpoint := "/2/files/list_folder"
	body := any(listFolderReq{Path: path})

	for {
		var out listFolderResp
		if err := c.rpc(ctx, endpoint, body, &out); err != nil {
			return nil, err
		}
		for _, e := range out.Entries {
			if e.Tag != "file" {
				continue
			}
			entries = append(entries, domain.FolderEntry{
				Name:        e.Name,
				ID:          e.ID,
				ContentType: contentTypeFor(e.Name),
			})
		}
		if !out.HasMore {
			return entries, nil
		}
		endpoint = "/2/files/list_folder/continue"
		body = listFolderReq{Cursor: out.Cursor}
	}
}

// Download fetches a file's bytes via the content endpoint.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.contentURL+"/2/files/download", nil)
	if err != nil {
		return nil, domain.E("storage", domain.KindUnknown, err)
	}
	arg, err := json.Marshal(map[string]string{"path": path})
	if err != nil {
		return nil, domain.E("storage", domain.KindUnknown, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Dropbox-API-Arg", string(arg))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.E("storage", domain.KindNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, storageErr(resp.StatusCode, "download "+path, msg)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.E("storage", domain.KindNetwork, err)
	}
	return data, nil
}

func (c *Client) rpc(ctx context.Context, endpoint string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return domain.E("storage", domain.KindUnknown, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+endpoint, bytes.NewReader(b))
	if err != nil {
		return domain.E("storage", domain.KindUnknown, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.E("storage", domain.KindNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.E("storage", domain.KindNetwork, err)
	}
	if resp.StatusCode >= 400 {
		return storageErr(resp.StatusCode, endpoint, respBody)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return domain.E("storage", domain.KindUnknown, err)
	}
	return nil
}

// storageErr keeps auth expiry distinct so operators know to reconnect the
// account rather than chase a transient failure.
func storageErr(status int, what string, body []byte) error {
	err := fmt.Errorf("%s: HTTP %d: %s", what, status, body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.E("storage", domain.KindAuth, err)
	case status == http.StatusTooManyRequests:
		return domain.E("storage", domain.KindRateLimit, err)
	case status >= 400 && status < 500:
		// Includes the provider's 409 path-lookup responses.
		return domain.E("storage", domain.KindValidation, err)
	}
	return domain.E("storage", domain.KindServer, err)
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
