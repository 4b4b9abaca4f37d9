package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"papercut/internal/domain"
	"papercut/internal/ingress"
	"papercut/internal/jobs"
)

// multipart overhead allowed on top of the image size cap
const formOverhead = 1 << 20

type generateBase64Request struct {
	InputImageBase64 string `json:"input_image_base64"`
	Seed             *int64 `json:"seed"`
}

// Generate handles a multipart upload with an "image" file and optional
// "seed" field.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes+formOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		a.fail(w, r, "", formError(err))
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	seed, err := jobs.ParseSeed(r.FormValue("seed"))
	if err != nil {
		a.fail(w, r, "", err)
		return
	}
	file, hdr, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			err = domain.ErrMissingInput
		}
		a.fail(w, r, "", err)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, a.maxUploadBytes+1))
	if err != nil {
		a.fail(w, r, "", fmt.Errorf("%w: read upload: %v", domain.ErrInvalidRequest, err))
		return
	}
	if int64(len(data)) > a.maxUploadBytes {
		a.fail(w, r, "", &http.MaxBytesError{Limit: a.maxUploadBytes})
		return
	}
	if len(data) == 0 {
		a.fail(w, r, "", domain.ErrMissingInput)
		return
	}

	a.generate(w, r, seed, func(ctx context.Context) (*ingress.Staged, error) {
		return a.ingress.Stage(ctx, data, hdr.Filename)
	})
}

// GenerateBase64 handles a JSON body carrying a base64 image.
func (a *App) GenerateBase64(w http.ResponseWriter, r *http.Request) {
	// base64 inflates by 4/3
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes/3*4+formOverhead)
	var req generateBase64Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if !errors.As(err, &tooLarge) {
			err = fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
		}
		a.fail(w, r, "", err)
		return
	}
	if req.InputImageBase64 == "" {
		a.fail(w, r, "", domain.ErrMissingInput)
		return
	}
	seed, err := jobs.SeedFromInt(req.Seed)
	if err != nil {
		a.fail(w, r, "", err)
		return
	}

	a.generate(w, r, seed, func(ctx context.Context) (*ingress.Staged, error) {
		return a.ingress.StageBase64(ctx, req.InputImageBase64)
	})
}

// generate runs stage, submit, poll and publish for one request.
func (a *App) generate(w http.ResponseWriter, r *http.Request, seed *uint32, stage func(context.Context) (*ingress.Staged, error)) {
	ctx := r.Context()
	staged, err := stage(ctx)
	if err != nil {
		a.fail(w, r, "", err)
		return
	}

	res, err := a.runner.Run(ctx, jobs.Request{
		Document:   a.template.Document(),
		InputImage: staged.Name,
		Seed:       seed,
	})
	if err != nil {
		a.fail(w, r, res.Job.ID, err)
		return
	}

	// Polling may have used most of the server's write timeout.
	a.extendWriteDeadline(w, r, res.Job.ID)

	outcome, err := a.publisher.Publish(ctx, res.Artifact)
	if err != nil {
		a.fail(w, r, res.Job.ID, err)
		return
	}
	a.json(w, http.StatusOK, domain.PublishedResult{
		Success:  true,
		ImageURL: outcome.ImageURL(a.publicBaseURL),
		PromptID: res.Job.ID,
	})
}

func (a *App) extendWriteDeadline(w http.ResponseWriter, r *http.Request, promptID string) {
	err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(a.publishBudget))
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		a.log(r).Warn().Err(err).Str("prompt_id", promptID).Msg("generate: extend write deadline")
	}
}

// fail writes the failure shape of PublishedResult.
func (a *App) fail(w http.ResponseWriter, r *http.Request, promptID string, err error) {
	code := StatusFor(err)
	log := a.log(r)
	evt := log.Warn()
	if code >= http.StatusInternalServerError {
		evt = log.Error()
	}
	evt.Err(err).Str("prompt_id", promptID).Int("status", code).Str("path", r.URL.Path).Msg("generate: request failed")
	a.json(w, code, domain.PublishedResult{
		Success:  false,
		PromptID: promptID,
		Error:    describe(r.Context(), err),
	})
}

func formError(err error) error {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return err
	case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
		return fmt.Errorf("%w: expected multipart/form-data", domain.ErrMissingInput)
	default:
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
}
