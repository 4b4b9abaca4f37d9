package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"papercut/internal/domain"
)

type rawPrompt string

func (p rawPrompt) MarshalJSON() ([]byte, error) { return []byte(p), nil }

func TestUploadImageSendsMultipartWithOverwrite(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload/image" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("overwrite"); got != "true" {
			t.Errorf("overwrite = %q", got)
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Errorf("form file: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Filename != "paper_cutting_1.png" {
			t.Errorf("filename = %q", header.Filename)
		}
		if ct := header.Header.Get("Content-Type"); ct != "image/png" {
			t.Errorf("content type = %q", ct)
		}
		data, _ := io.ReadAll(file)
		if string(data) != "png-bytes" {
			t.Errorf("data = %q", data)
		}
		_ = json.NewEncoder(w).Encode(StagedImage{Name: "paper_cutting_1 (1).png", Type: "input"})
	}))
	defer ts.Close()

	client := NewClient(Options{BaseURL: ts.URL + "/"})
	name, err := client.UploadImage(context.Background(), "paper_cutting_1.png", []byte("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}
	if name != "paper_cutting_1 (1).png" {
		t.Fatalf("name = %q", name)
	}
}

func TestUploadImageFallsBackToRequestedName(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	name, err := NewClient(Options{BaseURL: ts.URL}).UploadImage(context.Background(), "a.png", []byte("x"), "image/png")
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}
	if name != "a.png" {
		t.Fatalf("name = %q", name)
	}
}

func TestUploadImageErrorPreservesStatusAndBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk full", http.StatusInsufficientStorage)
	}))
	defer ts.Close()

	_, err := NewClient(Options{BaseURL: ts.URL}).UploadImage(context.Background(), "a.png", []byte("x"), "image/png")
	if !errors.Is(err, domain.ErrUpload) {
		t.Fatalf("expected ErrUpload, got %v", err)
	}
	var upstream *domain.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %T", err)
	}
	if upstream.Status != http.StatusInsufficientStorage || upstream.Body != "disk full" {
		t.Fatalf("upstream = %+v", upstream)
	}
}

func TestSubmitPrompt(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Prompt   map[string]any `json:"prompt"`
			ClientID string         `json:"client_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if payload.ClientID != "client-1" {
			t.Errorf("client_id = %q", payload.ClientID)
		}
		if _, ok := payload.Prompt["78"]; !ok {
			t.Errorf("prompt missing node 78: %+v", payload.Prompt)
		}
		_, _ = w.Write([]byte(`{"prompt_id":"abc","number":3,"node_errors":{}}`))
	}))
	defer ts.Close()

	sub, err := NewClient(Options{BaseURL: ts.URL}).SubmitPrompt(context.Background(), rawPrompt(`{"78":{"inputs":{}}}`), "client-1")
	if err != nil {
		t.Fatalf("SubmitPrompt: %v", err)
	}
	if sub.PromptID != "abc" || sub.Number != 3 {
		t.Fatalf("submission = %+v", sub)
	}
}

func TestSubmitPromptFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantBody string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"invalid prompt"}`, wantBody: `{"error":"invalid prompt"}`},
		{name: "missing prompt id", status: http.StatusOK, body: `{"number":1}`, wantBody: `{"number":1}`},
		{name: "not json", status: http.StatusOK, body: `<html>`, wantBody: `<html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			_, err := NewClient(Options{BaseURL: ts.URL}).SubmitPrompt(context.Background(), rawPrompt(`{}`), "c")
			if !errors.Is(err, domain.ErrSubmission) {
				t.Fatalf("expected ErrSubmission, got %v", err)
			}
			var upstream *domain.UpstreamError
			if !errors.As(err, &upstream) || upstream.Body != tt.wantBody {
				t.Fatalf("upstream = %+v", upstream)
			}
		})
	}
}

func TestSubmitPromptTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	client := NewClient(Options{BaseURL: ts.URL, SubmitTimeout: 20 * time.Millisecond})
	_, err := client.SubmitPrompt(context.Background(), rawPrompt(`{}`), "c")
	if !errors.Is(err, domain.ErrSubmission) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected submission deadline error, got %v", err)
	}
}

func TestHistoryDecodesOutputs(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/history/abc" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"abc":{"outputs":{"60":{"images":[{"filename":"out.png","subfolder":"","type":"output"},{"filename":"extra.png"}]}},"status":{"status_str":"success","completed":true}}}`))
	}))
	defer ts.Close()

	history, err := NewClient(Options{BaseURL: ts.URL}).History(context.Background(), "abc")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	entry, ok := history["abc"]
	if !ok {
		t.Fatalf("entry missing")
	}
	ref, ok := entry.FirstImage("60")
	if !ok || ref.Filename != "out.png" || ref.FolderType != "output" {
		t.Fatalf("ref = %+v ok=%v", ref, ok)
	}
	if _, ok := entry.FirstImage("9"); ok {
		t.Fatalf("unexpected image for unknown node")
	}
	if entry.Status.Failed() {
		t.Fatalf("status should not be failed")
	}
}

func TestFirstImageDefaultsFolderType(t *testing.T) {
	entry := HistoryEntry{Outputs: map[string]NodeOutput{"60": {Images: []domain.OutputArtifactRef{{Filename: "x.png"}}}}}
	ref, ok := entry.FirstImage("60")
	if !ok || ref.FolderType != "output" {
		t.Fatalf("ref = %+v", ref)
	}
	empty := HistoryEntry{Outputs: map[string]NodeOutput{"60": {}}}
	if _, ok := empty.FirstImage("60"); ok {
		t.Fatalf("empty image list should not qualify")
	}
}

func TestViewURL(t *testing.T) {
	client := NewClient(Options{BaseURL: "http://engine:8188"})
	got := client.ViewURL(domain.OutputArtifactRef{Filename: "out 1.png", Subfolder: "cuts"})
	want := "http://engine:8188/view?filename=out+1.png&subfolder=cuts&type=output"
	if got != want {
		t.Fatalf("ViewURL = %q, want %q", got, want)
	}
	if got := client.ViewURL(domain.OutputArtifactRef{Filename: "a.png", FolderType: "temp"}); strings.Contains(got, "subfolder") {
		t.Fatalf("empty subfolder should be omitted: %s", got)
	}
}

func TestViewStreamsAndClassifiesErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("filename") == "missing.png" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/webp")
		_, _ = w.Write([]byte("img"))
	}))

	client := NewClient(Options{BaseURL: ts.URL})
	art, err := client.View(context.Background(), domain.OutputArtifactRef{Filename: "out.png"})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	data, _ := io.ReadAll(art.Body)
	_ = art.Body.Close()
	if string(data) != "img" || art.ContentType != "image/webp" {
		t.Fatalf("artifact = %q %q", data, art.ContentType)
	}

	_, err = client.View(context.Background(), domain.OutputArtifactRef{Filename: "missing.png"})
	var upstream *domain.UpstreamError
	if !errors.As(err, &upstream) || upstream.Status != http.StatusNotFound || !errors.Is(err, domain.ErrRetrieval) {
		t.Fatalf("expected 404 retrieval error, got %v", err)
	}

	ts.Close()
	_, err = client.View(context.Background(), domain.OutputArtifactRef{Filename: "out.png"})
	if !errors.Is(err, domain.ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable after close, got %v", err)
	}
	_, _, err = client.Download(context.Background(), domain.OutputArtifactRef{Filename: "out.png"})
	if !errors.Is(err, domain.ErrRetrieval) || errors.Is(err, domain.ErrEngineUnavailable) {
		t.Fatalf("download transport failure should be a retrieval error, got %v", err)
	}
}

func TestDownload(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") != "output" {
			t.Errorf("type = %q", r.URL.Query().Get("type"))
		}
		if r.URL.Query().Get("filename") == "gone.png" {
			http.Error(w, "gone", http.StatusGone)
			return
		}
		_, _ = w.Write([]byte("bytes"))
	}))
	defer ts.Close()

	client := NewClient(Options{BaseURL: ts.URL})
	data, ct, err := client.Download(context.Background(), domain.OutputArtifactRef{Filename: "out.png", FolderType: "output"})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != "bytes" || ct == "" {
		t.Fatalf("download = %q %q", data, ct)
	}
	_, _, err = client.Download(context.Background(), domain.OutputArtifactRef{Filename: "gone.png"})
	if !errors.Is(err, domain.ErrRetrieval) {
		t.Fatalf("expected ErrRetrieval, got %v", err)
	}
}

func TestSystemStats(t *testing.T) {
	var unhealthy atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if unhealthy.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"system":{"os":"posix","comfyui_version":"0.3.60"},"devices":[{"name":"cuda:0"}]}`))
	}))
	defer ts.Close()

	client := NewClient(Options{BaseURL: ts.URL})
	stats, err := client.SystemStats(context.Background())
	if err != nil {
		t.Fatalf("SystemStats: %v", err)
	}
	if !strings.Contains(string(stats.System), "posix") || len(stats.Devices) != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	unhealthy.Store(true)
	if _, err := client.SystemStats(context.Background()); !errors.Is(err, domain.ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
}
