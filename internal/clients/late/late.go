// Package late is the HTTP client for the external scheduling/publishing API.
package late

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/baller70/tbfcontentmachineapp-sub003/internal/domain"
)

const defaultTimeout = 30 * time.Second

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type mediaResp struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// UploadMedia pushes raw media bytes and returns a durable media reference.
func (c *Client) UploadMedia(ctx context.Context, name, contentType string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", domain.E("publish", domain.KindUnknown, err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", domain.E("publish", domain.KindUnknown, err)
	}
	if err := mw.Close(); err != nil {
		return "", domain.E("publish", domain.KindUnknown, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/media", &body)
	if err != nil {
		return "", domain.E("publish", domain.KindUnknown, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out mediaResp
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.URL != "" {
		return out.URL, nil
	}
	return out.ID, nil
}

type platformTarget struct {
	Platform  string `json:"platform"`
	AccountID string `json:"accountId"`
}

type createPostReq struct {
	Content      string           `json:"content"`
	MediaItems   []mediaItem      `json:"mediaItems"`
	Platforms    []platformTarget `json:"platforms"`
	ScheduledFor string           `json:"scheduledFor"`
	Timezone     string           `json:"timezone"`
}

type mediaItem struct {
	URL string `json:"url"`
}

type postResp struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreatePost schedules a post for the given instant.
func (c *Client) CreatePost(ctx context.Context, pr domain.PostRequest) (domain.ExternalPost, error) {
	body := createPostReq{
		Content:      pr.Content,
		MediaItems:   []mediaItem{{URL: pr.MediaRef}},
		ScheduledFor: pr.ScheduledFor.UTC().Format(time.RFC3339),
		Timezone:     pr.Timezone,
	}
	for _, p := range pr.Platforms {
		body.Platforms = append(body.Platforms, platformTarget{Platform: p, AccountID: pr.ProfileID})
	}

	var out postResp
	if err := c.json(ctx, http.MethodPost, "/v1/posts", body, &out); err != nil {
		return domain.ExternalPost{}, err
	}
	return domain.ExternalPost{ID: out.ID, Status: out.Status}, nil
}

// PatchPost updates an existing post's status or schedule.
func (c *Client) PatchPost(ctx context.Context, id string, patch domain.PostPatch) (domain.ExternalPost, error) {
	body := map[string]any{}
	if patch.Status != nil {
		body["status"] = *patch.Status
	}
	if patch.ScheduledFor != nil {
		body["scheduledFor"] = patch.ScheduledFor.UTC().Format(time.RFC3339)
	}

	var out postResp
	if err := c.json(ctx, http.MethodPatch, "/v1/posts/"+id, body, &out); err != nil {
		return domain.ExternalPost{}, err
	}
	return domain.ExternalPost{ID: out.ID, Status: out.Status}, nil
}

// GetPost fetches the external view of a post.
func (c *Client) GetPost(ctx context.Context, id string) (domain.ExternalPost, error) {
	var out postResp
	if err := c.json(ctx, http.MethodGet, "/v1/posts/"+id, nil, &out); err != nil {
		return domain.ExternalPost{}, err
	}
	return domain.ExternalPost{ID: out.ID, Status: out.Status}, nil
}

func (c *Client) json(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return domain.E("publish", domain.KindUnknown, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return domain.E("publish", domain.KindUnknown, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.E("publish", domain.KindNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.E("publish", domain.KindNetwork, err)
	}
	if resp.StatusCode >= 400 {
		return domain.E("publish", classify(resp.StatusCode),
			fmt.Errorf("%s %s: HTTP %d: %s", req.Method, req.URL.Path, resp.StatusCode, respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return domain.E("publish", domain.KindUnknown, err)
	}
	return nil
}

func classify(status int) domain.Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.KindAuth
	case status == http.StatusTooManyRequests:
		return domain.KindRateLimit
	case status >= 400 && status < 500:
		return domain.KindValidation
	case status >= 500:
		return domain.KindServer
	}
	return domain.KindUnknown
}
