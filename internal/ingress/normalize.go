package ingress

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"path/filepath"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"papercut/internal/domain"
)

const (
	// CanonicalContentType is the format every staged input is re-encoded to.
	CanonicalContentType = "image/png"
	canonicalExt         = ".png"
	syntheticPrefix      = "paper_cutting_"
	maxPixels            = 64 << 20
)

// Image is a decoded input re-encoded to the canonical format.
type Image struct {
	Data         []byte
	SourceFormat string
	Width        int
	Height       int
}

// Normalize decodes data as any registered raster format and re-encodes it as
// PNG, preserving the pixel dimensions.
func Normalize(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, domain.ErrMissingInput
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w: unsupported dimensions %dx%d", domain.ErrInvalidImage, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("ingress: encode png: %w", err)
	}
	bounds := img.Bounds()
	return &Image{
		Data:         buf.Bytes(),
		SourceFormat: format,
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
	}, nil
}

// DecodeBase64 strips an optional data-URI header and decodes the payload.
// Padded, unpadded and URL-safe alphabets are accepted.
func DecodeBase64(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if idx := strings.IndexByte(payload, ','); idx >= 0 {
		payload = payload[idx+1:]
	}
	payload = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, payload)
	if payload == "" {
		return nil, domain.ErrMissingInput
	}
	encodings := []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding}
	var lastErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(payload)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: base64: %v", domain.ErrInvalidImage, lastErr)
}

// CanonicalFilename returns the name an input is staged under: the caller's
// base name, or a timestamp-derived name when none was supplied, followed by
// token and a .png extension. Staging overwrites existing files, so token must
// differ between concurrent requests.
func CanonicalFilename(original string, now time.Time, token string) string {
	name := strings.TrimSpace(filepath.Base(strings.ReplaceAll(original, "\\", "/")))
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if name == "." || name == "/" || stem == "" {
		stem = fmt.Sprintf("%s%d", syntheticPrefix, now.UnixNano())
	}
	return stem + "_" + token + canonicalExt
}
