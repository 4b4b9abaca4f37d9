package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"papercut/internal/domain"
	"papercut/internal/infra"
)

// RemoteOptions configures the remote storage client.
type RemoteOptions struct {
	BaseURL    string
	Category   string
	Namespace  string
	URLField   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// RemoteStore uploads artifacts to the storage service's
// /system/v1/upload endpoint.
type RemoteStore struct {
	endpoint   string
	category   string
	namespace  string
	urlField   string
	timeout    time.Duration
	httpClient *http.Client
	logger     *infra.Logger
}

// NewRemoteStore builds a RemoteStore with defaults applied.
func NewRemoteStore(opts RemoteOptions) *RemoteStore {
	s := &RemoteStore{
		endpoint:   strings.TrimRight(opts.BaseURL, "/") + "/system/v1/upload",
		category:   opts.Category,
		namespace:  opts.Namespace,
		urlField:   opts.URLField,
		timeout:    opts.Timeout,
		httpClient: opts.HTTPClient,
		logger:     infra.OrNop(opts.Logger),
	}
	if s.category == "" {
		s.category = "2"
	}
	if s.namespace == "" {
		s.namespace = "camera"
	}
	if s.urlField == "" {
		s.urlField = "value"
	}
	if s.timeout <= 0 {
		s.timeout = infra.PublishTimeout
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{}
	}
	return s
}

// Endpoint returns the upload URL.
func (s *RemoteStore) Endpoint() string {
	return s.endpoint
}

// Put uploads data as the multipart "file" field and returns the URL found
// at the configured response field. A 200 response without that field is
// still a publication failure.
func (s *RemoteStore) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, formType, err := s.encode(name, data, contentType)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("storage: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", formType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", &domain.UpstreamError{Kind: domain.ErrPublication, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.UpstreamError{Kind: domain.ErrPublication, Status: resp.StatusCode, Err: err}
	}
	s.logger.Debug().Int("status", resp.StatusCode).Str("filename", name).Msg("storage: upload response")
	if resp.StatusCode != http.StatusOK {
		return "", domain.Upstream(domain.ErrPublication, resp.StatusCode, raw)
	}

	if !gjson.ValidBytes(raw) {
		return "", &domain.UpstreamError{Kind: domain.ErrPublication, Status: resp.StatusCode, Body: domain.TruncateBody(raw), Err: errors.New("response is not JSON")}
	}
	field := gjson.GetBytes(raw, s.urlField)
	if field.Type != gjson.String || strings.TrimSpace(field.String()) == "" {
		return "", &domain.UpstreamError{
			Kind:   domain.ErrPublication,
			Status: resp.StatusCode,
			Body:   domain.TruncateBody(raw),
			Err:    fmt.Errorf("response missing %q", s.urlField),
		}
	}
	return field.String(), nil
}

func (s *RemoteStore) encode(name string, data []byte, contentType string) (io.Reader, string, error) {
	if contentType == "" {
		contentType = "image/png"
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(name)))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("storage: build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("storage: build upload: %w", err)
	}
	if err := mw.WriteField("file_category", s.category); err != nil {
		return nil, "", fmt.Errorf("storage: build upload: %w", err)
	}
	if err := mw.WriteField("namespace", s.namespace); err != nil {
		return nil, "", fmt.Errorf("storage: build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("storage: build upload: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")
