// Package ingress accepts caller images, normalizes them and stages them in
// the generation engine's input folder.
package ingress

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"papercut/internal/infra"
)

// Stager uploads normalized bytes to the engine and returns the staged name.
type Stager interface {
	UploadImage(ctx context.Context, filename string, data []byte, contentType string) (string, error)
}

// Staged describes an input that is ready to be referenced by a workflow.
type Staged struct {
	Name         string
	Requested    string
	SourceFormat string
	Width        int
	Height       int
	Bytes        int
}

// Adapter is the ingress pipeline: decode, normalize, name, upload.
type Adapter struct {
	stager Stager
	logger *infra.Logger
	now    func() time.Time
	token  func() string
}

// NewAdapter wires the ingress adapter to an engine stager.
func NewAdapter(stager Stager, logger *infra.Logger) *Adapter {
	return &Adapter{stager: stager, logger: infra.OrNop(logger), now: time.Now, token: shortToken}
}

func shortToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Stage normalizes raw image bytes and uploads them.
func (a *Adapter) Stage(ctx context.Context, data []byte, originalName string) (*Staged, error) {
	img, err := Normalize(data)
	if err != nil {
		return nil, err
	}
	filename := CanonicalFilename(originalName, a.now(), a.token())
	a.logger.Debug().
		Int("received_bytes", len(data)).
		Str("format", img.SourceFormat).
		Int("width", img.Width).
		Int("height", img.Height).
		Int("png_bytes", len(img.Data)).
		Str("filename", filename).
		Msg("ingress: normalized input")

	name, err := a.stager.UploadImage(ctx, filename, img.Data, CanonicalContentType)
	if err != nil {
		return nil, err
	}
	a.logger.Info().Str("filename", filename).Str("staged_name", name).Msg("ingress: input staged")
	return &Staged{
		Name:         name,
		Requested:    filename,
		SourceFormat: img.SourceFormat,
		Width:        img.Width,
		Height:       img.Height,
		Bytes:        len(img.Data),
	}, nil
}

// StageBase64 decodes a base64 payload, optionally prefixed with a data-URI
// header, and stages it under a synthetic name.
func (a *Adapter) StageBase64(ctx context.Context, payload string) (*Staged, error) {
	data, err := DecodeBase64(payload)
	if err != nil {
		return nil, err
	}
	return a.Stage(ctx, data, "")
}
