package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.vk.com/method"
	apiVersion     = "5.131"

	// errCodePhotoUploadForbidden is VK's "method unavailable for a community
	// token" code. Photo uploads hitting it degrade to text-only posts.
	errCodePhotoUploadForbidden = 27
)

// APIError is a VK platform-side rejection.
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vk api error %d: %s", e.Code, e.Message)
}

// Client is a minimal VK API HTTP client. BaseURL is overridable for tests.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient() *Client {
	return &Client{
		BaseURL: defaultBaseURL,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) call(ctx context.Context, method, token string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", token)
	params.Set("v", apiVersion)

	base := c.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/"+method,
		strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope struct {
		Error    *APIError       `json:"error"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("vk %s: decode response: %w", method, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out != nil && len(envelope.Response) > 0 {
		if err := json.Unmarshal(envelope.Response, out); err != nil {
			return fmt.Errorf("vk %s: decode payload: %w", method, err)
		}
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// CheckToken performs a minimal authenticated call.
func (c *Client) CheckToken(ctx context.Context, token string) error {
	return c.call(ctx, "users.get", token, nil, nil)
}

type resolvedName struct {
	Type     string `json:"type"`
	ObjectID int64  `json:"object_id"`
}

// ResolveScreenName maps a short name to its object type and id.
func (c *Client) ResolveScreenName(ctx context.Context, token, name string) (resolvedName, error) {
	params := url.Values{}
	params.Set("screen_name", name)
	var out resolvedName
	if err := c.call(ctx, "utils.resolveScreenName", token, params, &out); err != nil {
		return resolvedName{}, err
	}
	return out, nil
}

// Group is the subset of groups.getById metadata we use.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (c *Client) GroupByID(ctx context.Context, token, groupID string) (Group, error) {
	params := url.Values{}
	params.Set("group_id", groupID)
	var out []Group
	if err := c.call(ctx, "groups.getById", token, params, &out); err != nil {
		return Group{}, err
	}
	if len(out) == 0 {
		return Group{}, fmt.Errorf("vk groups.getById: group %q not found", groupID)
	}
	return out[0], nil
}

func (c *Client) wallUploadServer(ctx context.Context, token, groupID string) (string, error) {
	params := url.Values{}
	params.Set("group_id", groupID)
	var out struct {
		UploadURL string `json:"upload_url"`
	}
	if err := c.call(ctx, "photos.getWallUploadServer", token, params, &out); err != nil {
		return "", err
	}
	return out.UploadURL, nil
}

type uploadResult struct {
	Server int64  `json:"server"`
	Photo  string `json:"photo"`
	Hash   string `json:"hash"`
}

func (c *Client) uploadPhotoFile(ctx context.Context, uploadURL, path string) (uploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return uploadResult{}, err
	}
	defer f.Close()

	var body strings.Builder
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("photo", filepath.Base(path))
	if err != nil {
		return uploadResult{}, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return uploadResult{}, err
	}
	if err := mw.Close(); err != nil {
		return uploadResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, strings.NewReader(body.String()))
	if err != nil {
		return uploadResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return uploadResult{}, err
	}
	defer resp.Body.Close()

	var out uploadResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return uploadResult{}, fmt.Errorf("vk photo upload: decode response: %w", err)
	}
	if out.Photo == "" || out.Photo == "[]" {
		return uploadResult{}, fmt.Errorf("vk photo upload: empty upload result")
	}
	return out, nil
}

type savedPhoto struct {
	ID      int64 `json:"id"`
	OwnerID int64 `json:"owner_id"`
}

func (c *Client) saveWallPhoto(ctx context.Context, token, groupID string, up uploadResult) (savedPhoto, error) {
	params := url.Values{}
	params.Set("group_id", groupID)
	params.Set("server", fmt.Sprint(up.Server))
	params.Set("photo", up.Photo)
	params.Set("hash", up.Hash)
	var out []savedPhoto
	if err := c.call(ctx, "photos.saveWallPhoto", token, params, &out); err != nil {
		return savedPhoto{}, err
	}
	if len(out) == 0 {
		return savedPhoto{}, fmt.Errorf("vk photos.saveWallPhoto: empty result")
	}
	return out[0], nil
}

// UploadWallPhoto runs the three-step wall photo upload and returns an
// attachment reference ("photo<owner>_<id>") scoped to the group.
func (c *Client) UploadWallPhoto(ctx context.Context, token, groupID, path string) (string, error) {
	uploadURL, err := c.wallUploadServer(ctx, token, groupID)
	if err != nil {
		return "", err
	}
	up, err := c.uploadPhotoFile(ctx, uploadURL, path)
	if err != nil {
		return "", err
	}
	saved, err := c.saveWallPhoto(ctx, token, groupID, up)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("photo%d_%d", saved.OwnerID, saved.ID), nil
}

// WallPost creates a post on the group wall, always as the community.
func (c *Client) WallPost(ctx context.Context, token, groupID, message string, attachments []string) (int64, error) {
	params := url.Values{}
	params.Set("owner_id", "-"+groupID)
	params.Set("from_group", "1")
	if msg := strings.TrimSpace(message); msg != "" {
		params.Set("message", msg)
	}
	if len(attachments) > 0 {
		params.Set("attachments", strings.Join(attachments, ","))
	}
	var out struct {
		PostID int64 `json:"post_id"`
	}
	if err := c.call(ctx, "wall.post", token, params, &out); err != nil {
		return 0, err
	}
	return out.PostID, nil
}
