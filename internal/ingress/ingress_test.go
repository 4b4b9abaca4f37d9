package ingress

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"papercut/internal/domain"
)

func sampleImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 40), B: 200, A: 255})
		}
	}
	return img
}

func encodeAs(t *testing.T, format string, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	var err error
	switch format {
	case "png":
		err = png.Encode(&buf, img)
	case "jpeg":
		err = jpeg.Encode(&buf, img, nil)
	case "gif":
		err = gif.Encode(&buf, img, nil)
	case "bmp":
		err = bmp.Encode(&buf, img)
	case "tiff":
		err = tiff.Encode(&buf, img, nil)
	default:
		t.Fatalf("unknown format %s", format)
	}
	if err != nil {
		t.Fatalf("encode %s: %v", format, err)
	}
	return buf.Bytes()
}

func TestNormalizeProducesPNGWithOriginalDimensions(t *testing.T) {
	src := sampleImage(7, 5)
	for _, format := range []string{"png", "jpeg", "gif", "bmp", "tiff"} {
		t.Run(format, func(t *testing.T) {
			out, err := Normalize(encodeAs(t, format, src))
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if out.SourceFormat != format {
				t.Fatalf("SourceFormat = %q", out.SourceFormat)
			}
			decoded, err := png.Decode(bytes.NewReader(out.Data))
			if err != nil {
				t.Fatalf("output is not png: %v", err)
			}
			if b := decoded.Bounds(); b.Dx() != 7 || b.Dy() != 5 {
				t.Fatalf("dimensions = %dx%d", b.Dx(), b.Dy())
			}
			if out.Width != 7 || out.Height != 5 {
				t.Fatalf("reported dimensions = %dx%d", out.Width, out.Height)
			}
		})
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	if _, err := Normalize([]byte("definitely not an image")); !errors.Is(err, domain.ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
	if _, err := Normalize(nil); !errors.Is(err, domain.ErrMissingInput) {
		t.Fatalf("expected ErrMissingInput, got %v", err)
	}
	truncated := encodeAs(t, "png", sampleImage(4, 4))
	if _, err := Normalize(truncated[:len(truncated)/2]); !errors.Is(err, domain.ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage for truncated png, got %v", err)
	}
}

func TestDecodeBase64(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}
	std := base64.StdEncoding.EncodeToString(raw)
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{name: "plain", payload: std},
		{name: "data uri", payload: "data:image/png;base64," + std},
		{name: "wrapped lines", payload: std[:4] + "\n" + std[4:]},
		{name: "unpadded", payload: base64.RawStdEncoding.EncodeToString(raw)},
		{name: "url safe", payload: base64.URLEncoding.EncodeToString(raw)},
		{name: "empty", payload: "", wantErr: domain.ErrMissingInput},
		{name: "header only", payload: "data:image/png;base64,", wantErr: domain.ErrMissingInput},
		{name: "invalid", payload: "!!!not base64!!!", wantErr: domain.ErrInvalidImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBase64(tt.payload)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeBase64: %v", err)
			}
			if !bytes.Equal(got, raw) {
				t.Fatalf("decoded = %v", got)
			}
		})
	}
}

func TestCanonicalFilename(t *testing.T) {
	now := time.Unix(1700000000, 5)
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: "paper_cutting_1700000000000000005_ab12.png"},
		{in: "photo.png", want: "photo_ab12.png"},
		{in: "photo.JPG", want: "photo_ab12.png"},
		{in: "archive.tar.gz", want: "archive.tar_ab12.png"},
		{in: "noext", want: "noext_ab12.png"},
		{in: "../../etc/passwd.jpg", want: "passwd_ab12.png"},
		{in: `C:\Users\me\selfie.webp`, want: "selfie_ab12.png"},
		{in: ".jpg", want: "paper_cutting_1700000000000000005_ab12.png"},
	}
	for _, tt := range tests {
		if got := CanonicalFilename(tt.in, now, "ab12"); got != tt.want {
			t.Fatalf("CanonicalFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type fakeStager struct {
	mu          sync.Mutex
	uploaded    []string
	filename    string
	contentType string
	data        []byte
	name        string
	err         error
}

func (f *fakeStager) UploadImage(_ context.Context, filename string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded = append(f.uploaded, filename)
	f.filename, f.data, f.contentType = filename, data, contentType
	if f.err != nil {
		return "", f.err
	}
	if f.name != "" {
		return f.name, nil
	}
	return filename, nil
}

func TestAdapterStage(t *testing.T) {
	stager := &fakeStager{name: "selfie (2).png"}
	adapter := NewAdapter(stager, nil)

	staged, err := adapter.Stage(context.Background(), encodeAs(t, "jpeg", sampleImage(3, 2)), "selfie.jpeg")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if staged.Name != "selfie (2).png" || !strings.HasPrefix(staged.Requested, "selfie_") || !strings.HasSuffix(staged.Requested, ".png") {
		t.Fatalf("staged = %+v", staged)
	}
	if stager.contentType != CanonicalContentType {
		t.Fatalf("content type = %q", stager.contentType)
	}
	if _, err := png.Decode(bytes.NewReader(stager.data)); err != nil {
		t.Fatalf("uploaded bytes are not png: %v", err)
	}
}

func TestAdapterStageBase64UsesSyntheticName(t *testing.T) {
	stager := &fakeStager{}
	adapter := NewAdapter(stager, nil)
	adapter.now = func() time.Time { return time.Unix(42, 0) }
	adapter.token = func() string { return "t1" }

	payload := "data:image/gif;base64," + base64.StdEncoding.EncodeToString(encodeAs(t, "gif", sampleImage(2, 2)))
	staged, err := adapter.StageBase64(context.Background(), payload)
	if err != nil {
		t.Fatalf("StageBase64: %v", err)
	}
	if staged.Name != "paper_cutting_42000000000_t1.png" || staged.SourceFormat != "gif" {
		t.Fatalf("staged = %+v", staged)
	}
}

func TestAdapterStageDoesNotUploadInvalidImages(t *testing.T) {
	stager := &fakeStager{}
	adapter := NewAdapter(stager, nil)
	if _, err := adapter.Stage(context.Background(), []byte("junk"), "a.png"); !errors.Is(err, domain.ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
	if stager.filename != "" {
		t.Fatalf("invalid image should not be uploaded")
	}
}

func TestAdapterStagePropagatesUploadError(t *testing.T) {
	uploadErr := domain.Upstream(domain.ErrUpload, 500, []byte("nope"))
	adapter := NewAdapter(&fakeStager{err: uploadErr}, nil)
	_, err := adapter.Stage(context.Background(), encodeAs(t, "png", sampleImage(1, 1)), "")
	if !errors.Is(err, domain.ErrUpload) {
		t.Fatalf("expected ErrUpload, got %v", err)
	}
}

func TestAdapterConcurrentStagingUsesDistinctNames(t *testing.T) {
	stager := &fakeStager{}
	adapter := NewAdapter(stager, nil)
	adapter.now = func() time.Time { return time.Unix(1700000000, 0) }
	raw := encodeAs(t, "png", sampleImage(2, 2))
	payload := base64.StdEncoding.EncodeToString(raw)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := adapter.StageBase64(context.Background(), payload)
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := adapter.Stage(context.Background(), raw, "image.png")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("stage: %v", err)
		}
	}

	seen := make(map[string]bool)
	for _, name := range stager.uploaded {
		if seen[name] {
			t.Fatalf("two requests staged under %q", name)
		}
		seen[name] = true
	}
	if len(seen) != 2*n {
		t.Fatalf("uploaded %d distinct names, want %d", len(seen), 2*n)
	}
}
