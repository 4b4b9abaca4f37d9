// Package engine talks to the generation engine's HTTP API: input staging,
// workflow submission, history polling, artifact retrieval and stats.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"papercut/internal/domain"
	"papercut/internal/infra"
)

// Options configures the engine client. Zero timeouts take the defaults.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	UploadTimeout  time.Duration
	SubmitTimeout  time.Duration
	HistoryTimeout time.Duration
	ViewTimeout    time.Duration
	StatsTimeout   time.Duration
}

// Client performs HTTP calls against one engine instance. It holds no
// per-job state and is safe for concurrent use.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	logger         *infra.Logger
	uploadTimeout  time.Duration
	submitTimeout  time.Duration
	historyTimeout time.Duration
	viewTimeout    time.Duration
	statsTimeout   time.Duration
}

// NewClient constructs a client with defaults applied.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8188"
	}
	return &Client{
		baseURL:        baseURL,
		httpClient:     httpClient,
		logger:         infra.OrNop(opts.Logger),
		uploadTimeout:  orDefault(opts.UploadTimeout, infra.UploadTimeout),
		submitTimeout:  orDefault(opts.SubmitTimeout, infra.SubmitTimeout),
		historyTimeout: orDefault(opts.HistoryTimeout, infra.HistoryTimeout),
		viewTimeout:    orDefault(opts.ViewTimeout, infra.ViewTimeout),
		statsTimeout:   orDefault(opts.StatsTimeout, infra.StatsTimeout),
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// BaseURL returns the engine address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// UploadImage stages data in the engine's input folder with overwrite enabled
// and returns the name the engine stored it under.
func (c *Client) UploadImage(ctx context.Context, filename string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, quoteEscaper.Replace(filename)))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("engine: build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("engine: build upload: %w", err)
	}
	if err := mw.WriteField("overwrite", "true"); err != nil {
		return "", fmt.Errorf("engine: build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("engine: build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/image", &body)
	if err != nil {
		return "", fmt.Errorf("engine: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	status, raw, err := c.do(req)
	if err != nil {
		return "", &domain.UpstreamError{Kind: domain.ErrUpload, Err: err}
	}
	c.logger.Debug().Int("status", status).Str("filename", filename).Msg("engine: upload response")
	if status != http.StatusOK {
		return "", domain.Upstream(domain.ErrUpload, status, raw)
	}
	var staged StagedImage
	if err := json.Unmarshal(raw, &staged); err != nil {
		return "", &domain.UpstreamError{Kind: domain.ErrUpload, Status: status, Body: domain.TruncateBody(raw), Err: err}
	}
	if strings.TrimSpace(staged.Name) == "" {
		return filename, nil
	}
	return staged.Name, nil
}

// SubmitPrompt queues a workflow document under clientID.
func (c *Client) SubmitPrompt(ctx context.Context, prompt json.Marshaler, clientID string) (*Submission, error) {
	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	payload, err := json.Marshal(submitRequest{Prompt: prompt, ClientID: clientID})
	if err != nil {
		return nil, fmt.Errorf("engine: encode prompt: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("engine: build prompt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	status, raw, err := c.do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Kind: domain.ErrSubmission, Err: err}
	}
	if status != http.StatusOK {
		return nil, domain.Upstream(domain.ErrSubmission, status, raw)
	}
	var sub Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, &domain.UpstreamError{Kind: domain.ErrSubmission, Status: status, Body: domain.TruncateBody(raw), Err: err}
	}
	if strings.TrimSpace(sub.PromptID) == "" {
		return nil, &domain.UpstreamError{Kind: domain.ErrSubmission, Status: status, Body: domain.TruncateBody(raw), Err: errors.New("response missing prompt_id")}
	}
	return &sub, nil
}

// History fetches the execution record for promptID. An absent key in the
// returned map means the prompt has not finished yet.
func (c *Client) History(ctx context.Context, promptID string) (History, error) {
	ctx, cancel := context.WithTimeout(ctx, c.historyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, fmt.Errorf("engine: build history request: %w", err)
	}
	status, raw, err := c.do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Kind: domain.ErrEngineUnavailable, Err: err}
	}
	if status != http.StatusOK {
		return nil, domain.Upstream(domain.ErrEngineUnavailable, status, raw)
	}
	var history History
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("engine: decode history: %w", err)
	}
	return history, nil
}

// ViewURL builds the engine URL serving an artifact.
func (c *Client) ViewURL(ref domain.OutputArtifactRef) string {
	ref = ref.Normalized()
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("type", ref.FolderType)
	if ref.Subfolder != "" {
		q.Set("subfolder", ref.Subfolder)
	}
	return c.baseURL + "/view?" + q.Encode()
}

// Artifact is an open stream of an engine artifact. Close must be called.
type Artifact struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// View opens ref for streaming. Transport failures are reported as
// ErrEngineUnavailable; non-200 responses as ErrRetrieval carrying the
// engine's status.
func (c *Client) View(ctx context.Context, ref domain.OutputArtifactRef) (*Artifact, error) {
	resp, cancel, err := c.openView(ctx, ref)
	if err != nil {
		return nil, &domain.UpstreamError{Kind: domain.ErrEngineUnavailable, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, domain.Upstream(domain.ErrRetrieval, resp.StatusCode, raw)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return &Artifact{
		Body:          &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
	}, nil
}

// Download reads ref fully. Every failure is a retrieval failure.
func (c *Client) Download(ctx context.Context, ref domain.OutputArtifactRef) ([]byte, string, error) {
	resp, cancel, err := c.openView(ctx, ref)
	if err != nil {
		return nil, "", &domain.UpstreamError{Kind: domain.ErrRetrieval, Err: err}
	}
	defer cancel()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &domain.UpstreamError{Kind: domain.ErrRetrieval, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", domain.Upstream(domain.ErrRetrieval, resp.StatusCode, raw)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return raw, contentType, nil
}

func (c *Client) openView(ctx context.Context, ref domain.OutputArtifactRef) (*http.Response, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, c.viewTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ViewURL(ref), nil)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("engine: build view request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("engine: view: %w", err)
	}
	return resp, cancel, nil
}

// SystemStats pings the engine's statistics endpoint.
func (c *Client) SystemStats(ctx context.Context) (*SystemStats, error) {
	ctx, cancel := context.WithTimeout(ctx, c.statsTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system_stats", nil)
	if err != nil {
		return nil, fmt.Errorf("engine: build stats request: %w", err)
	}
	status, raw, err := c.do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Kind: domain.ErrEngineUnavailable, Err: err}
	}
	if status != http.StatusOK {
		return nil, domain.Upstream(domain.ErrEngineUnavailable, status, raw)
	}
	var stats SystemStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, fmt.Errorf("engine: decode stats: %w", err)
	}
	return &stats, nil
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
