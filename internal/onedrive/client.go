package onedrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aatumaykin/sweepbot/internal/logger"
	"github.com/aatumaykin/sweepbot/internal/retry"
)

const (
	// DefaultGraphURL is the Microsoft Graph v1.0 endpoint.
	DefaultGraphURL = "https://graph.microsoft.com/v1.0"

	defaultSimpleUploadLimit = 4 * 1024 * 1024
	defaultChunkSize         = 10 * 1024 * 1024

	// dateDirLayout is the layout of the per-day download directories.
	dateDirLayout = "2006-01-02"
)

// AccessTokenProvider returns a valid bearer token.
type AccessTokenProvider interface {
	ValidToken(ctx context.Context) (string, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	GraphURL          string
	UploadFolder      string
	SimpleUploadLimit int64 // files below this size use a single PUT
	ChunkSize         int64 // upload session chunk size
	HTTPClient        *http.Client
}

// Client uploads files to the user's drive.
type Client struct {
	tokens AccessTokenProvider
	cfg    ClientConfig
	http   *http.Client
	logger *logger.Logger
	now    func() time.Time
}

// NewClient creates a Graph upload client.
func NewClient(tokens AccessTokenProvider, cfg ClientConfig, log *logger.Logger) *Client {
	if cfg.GraphURL == "" {
		cfg.GraphURL = DefaultGraphURL
	}
	cfg.GraphURL = strings.TrimRight(cfg.GraphURL, "/")
	if cfg.SimpleUploadLimit <= 0 {
		cfg.SimpleUploadLimit = defaultSimpleUploadLimit
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{
		tokens: tokens,
		cfg:    cfg,
		http:   client,
		logger: log.Component("onedrive"),
		now:    time.Now,
	}
}

// RemotePath maps a local file to <folder>/<YYYY>/<MM>/<DD>/<name>. The date
// comes from the parent directory name when it is a YYYY-MM-DD date, otherwise
// from the current day.
func (c *Client) RemotePath(localPath string) string {
	date, err := time.Parse(dateDirLayout, filepath.Base(filepath.Dir(localPath)))
	if err != nil {
		date = c.now()
	}

	folder := "/" + strings.Trim(c.cfg.UploadFolder, "/")
	if folder == "/" {
		folder = ""
	}
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s", folder, date.Year(), int(date.Month()), date.Day(), filepath.Base(localPath))
}

// UploadFile uploads localPath, replacing any existing remote file. Every
// request is sent once; a failed upload is retried by the backup worker on
// its next pass.
func (c *Client) UploadFile(ctx context.Context, localPath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", localPath, err)
	}

	remote := c.RemotePath(localPath)
	log := c.logger.With(
		logger.Field{Key: "path", Value: localPath},
		logger.Field{Key: "remote_path", Value: remote},
		logger.Field{Key: "size", Value: info.Size()})

	if info.Size() < c.cfg.SimpleUploadLimit {
		log.Debug("simple upload")
		return c.simpleUpload(ctx, localPath, remote)
	}
	log.Debug("session upload")
	return c.sessionUpload(ctx, localPath, remote, info.Size())
}

func (c *Client) itemURL(remote, action string) string {
	segments := strings.Split(strings.TrimPrefix(remote, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/me/drive/root:/%s:/%s", c.cfg.GraphURL, strings.Join(segments, "/"), action)
}

func (c *Client) simpleUpload(ctx context.Context, localPath, remote string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", localPath, err)
	}
	token, err := c.tokens.ValidToken(ctx)
	if err != nil {
		return err
	}

	target := c.itemURL(remote, "content") + "?@microsoft.graph.conflictBehavior=replace"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/octet-stream")
	return c.do(req, http.StatusOK, http.StatusCreated)
}

type uploadSessionRequest struct {
	Item struct {
		ConflictBehavior string `json:"@microsoft.graph.conflictBehavior"`
	} `json:"item"`
}

type uploadSessionResponse struct {
	UploadURL string `json:"uploadUrl"`
}

func (c *Client) sessionUpload(ctx context.Context, localPath, remote string, size int64) error {
	uploadURL, err := c.createSession(ctx, remote)
	if err != nil {
		return err
	}

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer file.Close()

	for start := int64(0); start < size; start += c.cfg.ChunkSize {
		end := min(start+c.cfg.ChunkSize, size) - 1
		contentRange := fmt.Sprintf("bytes %d-%d/%d", start, end, size)

		chunk := io.NewSectionReader(file, start, end-start+1)
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, chunk)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		// The upload URL is pre-authenticated; Graph rejects an Authorization header here.
		req.ContentLength = end - start + 1
		req.Header.Set("Content-Range", contentRange)
		if err := c.do(req, http.StatusOK, http.StatusCreated, http.StatusAccepted); err != nil {
			return fmt.Errorf("chunk %s: %w", contentRange, err)
		}
	}
	return nil
}

func (c *Client) createSession(ctx context.Context, remote string) (string, error) {
	token, err := c.tokens.ValidToken(ctx)
	if err != nil {
		return "", err
	}

	var body uploadSessionRequest
	body.Item.ConflictBehavior = "replace"
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode upload session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.itemURL(remote, "createUploadSession"), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("create upload session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", statusError(resp)
	}

	var session uploadSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", fmt.Errorf("failed to decode upload session: %w", err)
	}
	if session.UploadURL == "" {
		return "", fmt.Errorf("%w: upload session without uploadUrl", ErrUpload)
	}
	return session.UploadURL, nil
}

func (c *Client) do(req *http.Request, accepted ...int) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	for _, code := range accepted {
		if resp.StatusCode == code {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
	}
	return statusError(resp)
}

// statusError wraps the response as ErrUpload and keeps the status code.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%w: %w", ErrUpload, &retry.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))})
}
