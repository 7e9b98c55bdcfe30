package drive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/kumoshelf/kumoshelf/pkg/config"
	"github.com/kumoshelf/kumoshelf/pkg/errcodes"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
)

const (
	defaultBaseURL   = "https://www.googleapis.com/drive/v3"
	defaultUploadURL = "https://www.googleapis.com/upload/drive/v3"

	appDataFolder    = "appDataFolder"
	snapshotFilename = "sync_snapshot.json"

	itemPayloadPrefix = "item_"
	itemPayloadSuffix = ".cbz"
)

// TokenSource supplies access tokens for Drive requests. Implemented by the
// auth service.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
}

// Client is the only component that talks to Google Drive. Everything lives
// in the application data folder, invisible to the rest of the user's Drive.
type Client struct {
	tokens     TokenSource
	httpClient *http.Client
	log        logger.Logger
	maxRetries int
	baseURL    string
	uploadURL  string
}

func NewClient(cfg *config.Config, tokens TokenSource) *Client {
	return &Client{
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		log:        logger.New(),
		maxRetries: cfg.DriveMaxRetries,
		baseURL:    defaultBaseURL,
		uploadURL:  defaultUploadURL,
	}
}

type fileMeta struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type fileList struct {
	Files         []fileMeta `json:"files"`
	NextPageToken string     `json:"nextPageToken"`
}

type apiError struct {
	Error struct {
		Errors []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
		Message string `json:"message"`
	} `json:"error"`
}

// do issues one Drive request with the retry and failure taxonomy applied:
// transient failures (network, 5xx, 429) get bounded exponential backoff, a
// 401 gets exactly one forced token refresh, and a storage quota 403 is
// surfaced as a non-retryable QuotaError.
func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, contentType string) ([]byte, error) {
	refreshed := false
	backoff := 500 * time.Millisecond

	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, errors.WithStack(err)
		}

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.WithStack(ctx.Err())
			}
			if attempt < c.maxRetries {
				if err := sleepBackoff(ctx, &backoff); err != nil {
					return nil, err
				}
				continue
			}
			return nil, &TransientError{Err: err}
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if readErr != nil {
				return nil, errors.WithStack(readErr)
			}
			return respBody, nil

		case resp.StatusCode == http.StatusUnauthorized:
			if !refreshed {
				refreshed = true
				if _, err := c.tokens.ForceRefresh(ctx); err != nil {
					return nil, errors.WithStack(err)
				}
				continue
			}
			return nil, errcodes.AuthRequired()

		case resp.StatusCode == http.StatusForbidden:
			if quotaExceeded(respBody) {
				return nil, &QuotaError{Message: "Google Drive storage quota exceeded."}
			}
			return nil, errors.Errorf("drive request forbidden: %s", apiErrorMessage(respBody))

		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			if attempt < c.maxRetries {
				c.log.Warn("retrying drive request", logger.Data{"status": resp.StatusCode, "attempt": attempt + 1})
				if err := sleepBackoff(ctx, &backoff); err != nil {
					return nil, err
				}
				continue
			}
			return nil, &TransientError{Err: errors.Errorf("drive returned %d", resp.StatusCode)}

		default:
			return nil, errors.Errorf("drive returned %d: %s", resp.StatusCode, apiErrorMessage(respBody))
		}
	}
}

func sleepBackoff(ctx context.Context, backoff *time.Duration) error {
	select {
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case <-time.After(*backoff):
	}
	*backoff *= 2
	if *backoff > 8*time.Second {
		*backoff = 8 * time.Second
	}
	return nil
}

func quotaExceeded(body []byte) bool {
	apiErr := apiError{}
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return false
	}
	for _, e := range apiErr.Error.Errors {
		if e.Reason == "storageQuotaExceeded" {
			return true
		}
	}
	return false
}

func apiErrorMessage(body []byte) string {
	apiErr := apiError{}
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Error.Message == "" {
		return string(body)
	}
	return apiErr.Error.Message
}

func (c *Client) listFiles(ctx context.Context, query string) ([]fileMeta, error) {
	files := []fileMeta{}
	pageToken := ""

	for {
		params := url.Values{}
		params.Set("spaces", appDataFolder)
		params.Set("q", query)
		params.Set("fields", "nextPageToken,files(id,name)")
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		body, err := c.do(ctx, http.MethodGet, c.baseURL+"/files?"+params.Encode(), nil, "")
		if err != nil {
			return nil, err
		}

		list := fileList{}
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, errors.WithStack(err)
		}

		files = append(files, list.Files...)
		if list.NextPageToken == "" {
			return files, nil
		}
		pageToken = list.NextPageToken
	}
}

func (c *Client) findFile(ctx context.Context, name string) (string, error) {
	files, err := c.listFiles(ctx, fmt.Sprintf("name = '%s' and trashed = false", name))
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", ErrNotFound
	}
	return files[0].ID, nil
}

func (c *Client) download(ctx context.Context, fileID string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, c.baseURL+"/files/"+fileID+"?alt=media", nil, "")
}

// upload replaces an existing file's content, or creates the file in the
// application data folder when fileID is empty. Media uploads replace the
// whole object atomically. Returns the file ID.
func (c *Client) upload(ctx context.Context, fileID, name string, data []byte, contentType string) (string, error) {
	if fileID != "" {
		body, err := c.do(ctx, http.MethodPatch, c.uploadURL+"/files/"+fileID+"?uploadType=media", data, contentType)
		if err != nil {
			return "", err
		}
		meta := fileMeta{}
		if err := json.Unmarshal(body, &meta); err != nil {
			return "", errors.WithStack(err)
		}
		if meta.ID == "" {
			meta.ID = fileID
		}
		return meta.ID, nil
	}

	metadata, err := json.Marshal(map[string]interface{}{
		"name":    name,
		"parents": []string{appDataFolder},
	})
	if err != nil {
		return "", errors.WithStack(err)
	}

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	part, err := w.CreatePart(metaHeader)
	if err != nil {
		return "", errors.WithStack(err)
	}
	if _, err := part.Write(metadata); err != nil {
		return "", errors.WithStack(err)
	}

	contentHeader := textproto.MIMEHeader{}
	contentHeader.Set("Content-Type", contentType)
	part, err = w.CreatePart(contentHeader)
	if err != nil {
		return "", errors.WithStack(err)
	}
	if _, err := part.Write(data); err != nil {
		return "", errors.WithStack(err)
	}
	if err := w.Close(); err != nil {
		return "", errors.WithStack(err)
	}

	body, err := c.do(ctx, http.MethodPost, c.uploadURL+"/files?uploadType=multipart",
		buf.Bytes(), "multipart/related; boundary="+w.Boundary())
	if err != nil {
		return "", err
	}

	meta := fileMeta{}
	if err := json.Unmarshal(body, &meta); err != nil {
		return "", errors.WithStack(err)
	}
	return meta.ID, nil
}

// FetchSnapshot downloads the snapshot file, preferring the cached file ID
// and falling back to a name search. A missing snapshot returns (nil, "")
// without error: it just means no device has pushed yet.
func (c *Client) FetchSnapshot(ctx context.Context, cachedID string) ([]byte, string, error) {
	if cachedID != "" {
		data, err := c.download(ctx, cachedID)
		if err == nil {
			return data, cachedID, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, "", err
		}
		// The cached ID went stale; search by name below.
	}

	fileID, err := c.findFile(ctx, snapshotFilename)
	if errors.Is(err, ErrNotFound) {
		return nil, "", nil
	} else if err != nil {
		return nil, "", err
	}

	data, err := c.download(ctx, fileID)
	if err != nil {
		return nil, "", err
	}
	return data, fileID, nil
}

// PushSnapshot uploads the snapshot, replacing the existing file when fileID
// is set. Returns the (possibly new) file ID.
func (c *Client) PushSnapshot(ctx context.Context, data []byte, fileID string) (string, error) {
	id, err := c.upload(ctx, fileID, snapshotFilename, data, "application/json")
	if errors.Is(err, ErrNotFound) && fileID != "" {
		// The file was deleted remotely between fetch and push.
		return c.upload(ctx, "", snapshotFilename, data, "application/json")
	}
	return id, err
}

func itemPayloadName(identity string) string {
	return itemPayloadPrefix + identity + itemPayloadSuffix
}

func (c *Client) FetchItemPayload(ctx context.Context, identity string) ([]byte, error) {
	fileID, err := c.findFile(ctx, itemPayloadName(identity))
	if err != nil {
		return nil, err
	}
	return c.download(ctx, fileID)
}

func (c *Client) PushItemPayload(ctx context.Context, identity string, data []byte) error {
	fileID, err := c.findFile(ctx, itemPayloadName(identity))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	_, err = c.upload(ctx, fileID, itemPayloadName(identity), data, "application/zip")
	return err
}

// ListItemPayloads returns the identities that have a payload file uploaded.
func (c *Client) ListItemPayloads(ctx context.Context) (map[string]string, error) {
	files, err := c.listFiles(ctx, fmt.Sprintf("name contains '%s' and trashed = false", itemPayloadPrefix))
	if err != nil {
		return nil, err
	}

	payloads := map[string]string{}
	for _, f := range files {
		if !strings.HasPrefix(f.Name, itemPayloadPrefix) || !strings.HasSuffix(f.Name, itemPayloadSuffix) {
			continue
		}
		identity := strings.TrimSuffix(strings.TrimPrefix(f.Name, itemPayloadPrefix), itemPayloadSuffix)
		payloads[identity] = f.ID
	}
	return payloads, nil
}

func (c *Client) DeleteItemPayload(ctx context.Context, identity string) error {
	fileID, err := c.findFile(ctx, itemPayloadName(identity))
	if errors.Is(err, ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	_, err = c.do(ctx, http.MethodDelete, c.baseURL+"/files/"+fileID, nil, "")
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
