// Package publish republishes engine artifacts to storage, degrading to a
// same-process proxy link when storage is unavailable.
package publish

import (
	"context"
	"net/url"
	"strings"

	"papercut/internal/domain"
	"papercut/internal/infra"
	"papercut/internal/metrics"
	"papercut/internal/storage"
)

// Kind tags an Outcome.
type Kind int

const (
	Published Kind = iota + 1
	ProxyFallback
)

func (k Kind) String() string {
	switch k {
	case Published:
		return "published"
	case ProxyFallback:
		return "proxy_fallback"
	default:
		return "unknown"
	}
}

// Outcome is the result of a publication attempt. URL is set for Published;
// Artifact and Err are set for ProxyFallback.
type Outcome struct {
	Kind     Kind
	URL      string
	Artifact domain.OutputArtifactRef
	Err      error
}

// ImageURL renders the outcome as the link returned to the caller. Published
// URLs are returned unmodified.
func (o Outcome) ImageURL(proxyBase string) string {
	if o.Kind == Published {
		return o.URL
	}
	return ProxyURL(proxyBase, o.Artifact)
}

// ProxyURL links to the relay's own image proxy for ref.
func ProxyURL(base string, ref domain.OutputArtifactRef) string {
	ref = ref.Normalized()
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	b.WriteString("/api/image/")
	b.WriteString(url.PathEscape(ref.Filename))
	b.WriteString("?type=")
	b.WriteString(url.QueryEscape(ref.FolderType))
	if ref.Subfolder != "" {
		b.WriteString("&subfolder=")
		b.WriteString(url.QueryEscape(ref.Subfolder))
	}
	return b.String()
}

// Retriever downloads artifacts from the engine.
type Retriever interface {
	Download(ctx context.Context, ref domain.OutputArtifactRef) ([]byte, string, error)
}

// Options wires a Publisher.
type Options struct {
	Logger  *infra.Logger
	Metrics metrics.Recorder
}

// Publisher downloads an artifact and hands it to a storage backend.
type Publisher struct {
	retriever Retriever
	backend   storage.Backend
	logger    *infra.Logger
	metrics   metrics.Recorder
}

// NewPublisher builds a Publisher. A nil backend always falls back to the
// proxy.
func NewPublisher(retriever Retriever, backend storage.Backend, opts Options) *Publisher {
	p := &Publisher{
		retriever: retriever,
		backend:   backend,
		logger:    infra.OrNop(opts.Logger),
		metrics:   opts.Metrics,
	}
	if p.metrics == nil {
		p.metrics = metrics.Noop{}
	}
	return p
}

// Publish downloads ref and publishes it. Only retrieval failures are
// returned as errors; publication failures yield a ProxyFallback outcome.
func (p *Publisher) Publish(ctx context.Context, ref domain.OutputArtifactRef) (Outcome, error) {
	ref = ref.Normalized()
	data, contentType, err := p.retriever.Download(ctx, ref)
	if err != nil {
		return Outcome{}, err
	}
	p.logger.Debug().Str("filename", ref.Filename).Int("bytes", len(data)).Msg("publish: artifact downloaded")

	if p.backend == nil {
		return p.fallback(ref, domain.ErrPublication), nil
	}
	link, err := p.backend.Put(ctx, ref.Filename, data, contentType)
	if err != nil {
		return p.fallback(ref, err), nil
	}
	p.metrics.IncPublication(Published.String())
	p.logger.Info().Str("filename", ref.Filename).Str("image_url", link).Msg("publish: artifact published")
	return Outcome{Kind: Published, URL: link}, nil
}

func (p *Publisher) fallback(ref domain.OutputArtifactRef, err error) Outcome {
	p.metrics.IncPublication(ProxyFallback.String())
	p.logger.Warn().Err(err).Str("filename", ref.Filename).Msg("publish: storage failed, using proxy url")
	return Outcome{Kind: ProxyFallback, Artifact: ref, Err: err}
}
