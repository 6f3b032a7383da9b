package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/angelmondragon/studioflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
)

const (
	tokenEndpoint  = "https://oauth2.googleapis.com/token"
	scope          = "https://www.googleapis.com/auth/devstorage.read_write"
	pingTimeout    = 5 * time.Second
	metadataToken  = "http://metadata.google.internal/computeMetadata/v1/instance/service-accounts/default/token"
	defaultBaseURL = "https://storage.googleapis.com"
)

// Client talks to the GCS JSON API directly over HTTP.
type Client struct {
	httpClient    *http.Client
	defaultBucket string
	cdnBaseURL    string
	baseURL       string
	tokenSource   *tokenSource
	logg          *logger.Logger
}

type Pinger interface {
	Ping(ctx context.Context) error
}

func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	// no global timeout: raw footage transfers are bounded by the stage context
	httpClient := &http.Client{}

	var ts *tokenSource
	var err error
	switch {
	case gcp.CredentialsJSON != "":
		ts, err = newServiceAccountTokenSource(httpClient, gcp.CredentialsJSON)
	case gcp.ApplicationCredentials != "":
		bytes, readErr := os.ReadFile(gcp.ApplicationCredentials)
		if readErr != nil {
			return nil, fmt.Errorf("reading credentials file: %w", readErr)
		}
		ts, err = newServiceAccountTokenSource(httpClient, string(bytes))
	default:
		ts = newMetadataTokenSource(httpClient)
	}
	if err != nil {
		return nil, err
	}

	client := &Client{
		httpClient:    httpClient,
		defaultBucket: cfg.BucketName,
		cdnBaseURL:    strings.TrimRight(cfg.CDNBaseURL, "/"),
		baseURL:       defaultBaseURL,
		tokenSource:   ts,
		logg:          logg,
	}

	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}

	if logg != nil {
		logg.Info(ctx, "gcs client initialized")
	}

	return client, nil
}

func (c *Client) DefaultBucket() string {
	if c == nil {
		return ""
	}
	return c.defaultBucket
}

func (c *Client) Close() error {
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.tokenSource == nil {
		return errors.New("gcs client not initialized")
	}
	if c.defaultBucket == "" {
		return errors.New("gcs bucket not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	// object-level check (requires storage.objects.list)
	resp, err := c.do(ctx, http.MethodGet, c.objectsURL()+"?maxResults=1", nil, "")
	if err != nil {
		return err
	}
	defer c.closeBody(ctx, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return statusError("gcs object check", resp)
	}
	return nil
}

// CDNURL returns the public URL of an object.
func (c *Client) CDNURL(objectPath string) string {
	objectPath = strings.TrimLeft(objectPath, "/")
	if c.cdnBaseURL != "" {
		return c.cdnBaseURL + "/" + objectPath
	}
	return fmt.Sprintf("%s/%s/%s", c.baseURL, c.defaultBucket, objectPath)
}

func (c *Client) GetObject(ctx context.Context, objectPath string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, c.objectURL(objectPath)+"?alt=media", nil, "")
	if err != nil {
		return nil, err
	}
	defer c.closeBody(ctx, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("object %s not found", objectPath))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("gcs get object", resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) UploadFile(ctx context.Context, content io.Reader, objectPath, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	q := url.Values{}
	q.Set("uploadType", "media")
	q.Set("name", strings.TrimLeft(objectPath, "/"))
	u := fmt.Sprintf("%s/upload/storage/v1/b/%s/o?%s", c.baseURL, url.PathEscape(c.defaultBucket), q.Encode())

	resp, err := c.do(ctx, http.MethodPost, u, content, contentType)
	if err != nil {
		return "", err
	}
	defer c.closeBody(ctx, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", statusError("gcs upload", resp)
	}
	return c.CDNURL(objectPath), nil
}

// DownloadFileToPath streams the object into localPath via a sibling temp file
// so a crash never leaves a truncated artifact at localPath.
func (c *Client) DownloadFileToPath(ctx context.Context, objectPath, localPath string) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, c.objectURL(objectPath)+"?alt=media", nil, "")
	if err != nil {
		return false, err
	}
	defer c.closeBody(ctx, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, statusError("gcs download", resp)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return false, fmt.Errorf("mkdir for %s: %w", localPath, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".download-*")
	if err != nil {
		return false, fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return false, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "gcs download interrupted")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return false, err
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return false, fmt.Errorf("rename download: %w", err)
	}
	return true, nil
}

// ListObjects returns object names under prefix in lexical order.
func (c *Client) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("prefix", strings.TrimLeft(prefix, "/"))
		q.Set("fields", "items(name),nextPageToken")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		resp, err := c.do(ctx, http.MethodGet, c.objectsURL()+"?"+q.Encode(), nil, "")
		if err != nil {
			return nil, err
		}
		var page struct {
			Items []struct {
				Name string `json:"name"`
			} `json:"items"`
			NextPageToken string `json:"nextPageToken"`
		}
		if resp.StatusCode != http.StatusOK {
			err = statusError("gcs list objects", resp)
		} else {
			err = json.NewDecoder(resp.Body).Decode(&page)
		}
		c.closeBody(ctx, resp.Body)
		if err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			names = append(names, item.Name)
		}
		if page.NextPageToken == "" {
			return names, nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *Client) objectsURL() string {
	return fmt.Sprintf("%s/storage/v1/b/%s/o", c.baseURL, url.PathEscape(c.defaultBucket))
}

func (c *Client) objectURL(objectPath string) string {
	return c.objectsURL() + "/" + url.PathEscape(strings.TrimLeft(objectPath, "/"))
}

func (c *Client) do(ctx context.Context, method, u string, body io.Reader, contentType string) (*http.Response, error) {
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "gcs token")
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "gcs request")
	}
	return resp, nil
}

func (c *Client) closeBody(ctx context.Context, body io.Closer) {
	if body == nil {
		return
	}
	if err := body.Close(); err != nil && c.logg != nil {
		c.logg.Warn(ctx, "gcs: closing response body failed")
	}
}

func statusError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := fmt.Sprintf("%s failed: %s", op, resp.Status)
	if len(b) > 0 {
		msg += ": " + strings.TrimSpace(string(b))
	}
	code := pkgerrors.CodeDependency
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		code = pkgerrors.CodeTransient
	}
	return pkgerrors.New(code, msg)
}
