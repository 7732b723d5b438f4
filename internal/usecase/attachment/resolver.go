// Package attachment turns local paths and URLs into provider file handles.
package attachment

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"search-agent/internal/application/port/output"
	"search-agent/internal/domain/entity"
	"search-agent/internal/infrastructure/logger"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"
)

const DefaultMaxImageDimension = 1536

type Config struct {
	// MaxImageDimension bounds the longer side of PNG and JPEG attachments.
	// Zero disables resizing.
	MaxImageDimension int
	Timeout           time.Duration
	Client            *http.Client
	Logger            output.LoggerPort
}

func DefaultConfig() Config {
	return Config{MaxImageDimension: DefaultMaxImageDimension, Timeout: 60 * time.Second}
}

type Resolver struct {
	uploader output.FileUploader
	client   *http.Client
	maxDim   int
	logger   output.LoggerPort
}

func New(uploader output.FileUploader, cfg Config) *Resolver {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Resolver{uploader: uploader, client: client, maxDim: cfg.MaxImageDimension, logger: log}
}

// Resolve loads and uploads every input concurrently. The first failure
// cancels the rest and is returned; handles keep input order.
func (r *Resolver) Resolve(ctx context.Context, inputs []string) ([]entity.FileRef, error) {
	refs := make([]entity.FileRef, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	for i, in := range inputs {
		g.Go(func() error {
			ref, err := r.resolveOne(gctx, in)
			if err != nil {
				return fmt.Errorf("attach %q: %w", in, err)
			}
			refs[i] = ref
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return refs, nil
}

func (r *Resolver) resolveOne(ctx context.Context, in string) (entity.FileRef, error) {
	var (
		data     []byte
		mimeType string
		name     string
		err      error
	)
	if isRemote(in) {
		data, mimeType, err = r.download(ctx, in)
		name = path.Base(strings.TrimRight(urlPath(in), "/"))
	} else {
		data, err = os.ReadFile(in)
		mimeType = GuessMIME(in)
		name = filepath.Base(in)
	}
	if err != nil {
		return entity.FileRef{}, err
	}

	data = r.downscale(data, mimeType)

	r.logger.Debug("Uploading attachment", "name", name, "mime", mimeType, "bytes", len(data))
	ref, err := r.uploader.UploadFile(ctx, data, mimeType, name)
	if err != nil {
		return entity.FileRef{}, fmt.Errorf("upload: %w", err)
	}
	if ref.MIMEType == "" {
		ref.MIMEType = mimeType
	}
	return ref, nil
}

func (r *Resolver) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}

	mimeType := GuessMIME(resp.Request.URL.Path)
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			mimeType = mt
		}
	}
	return data, mimeType, nil
}

// downscale shrinks oversized PNG and JPEG images. Other formats and
// undecodable data pass through unchanged.
func (r *Resolver) downscale(data []byte, mimeType string) []byte {
	if r.maxDim <= 0 {
		return data
	}
	var format imaging.Format
	switch mimeType {
	case "image/png":
		format = imaging.PNG
	case "image/jpeg":
		format = imaging.JPEG
	default:
		return data
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || max(cfg.Width, cfg.Height) <= r.maxDim {
		return data
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return data
	}
	img = imaging.Fit(img, r.maxDim, r.maxDim, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(85)); err != nil {
		r.logger.Warn("Image re-encode failed, sending original", "error", err)
		return data
	}
	r.logger.Debug("Downscaled attachment", "from", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height), "to", img.Bounds().Size().String())
	return buf.Bytes()
}

var suffixTypes = []struct {
	suffixes []string
	mime     string
}{
	{[]string{".pdf"}, "application/pdf"},
	{[]string{".xml"}, "application/xml"},
	{[]string{".html", ".htm"}, "text/html"},
	{[]string{".md"}, "text/markdown"},
	{[]string{".png"}, "image/png"},
	{[]string{".jpeg", ".jpg"}, "image/jpeg"},
	{[]string{".webp"}, "image/webp"},
	{[]string{".heic"}, "image/heic"},
	{[]string{".heif"}, "image/heif"},
}

// GuessMIME maps a path or URL suffix to a MIME type, defaulting to
// text/plain.
func GuessMIME(name string) string {
	lower := strings.ToLower(name)
	for _, st := range suffixTypes {
		for _, s := range st.suffixes {
			if strings.HasSuffix(lower, s) {
				return st.mime
			}
		}
	}
	return "text/plain"
}

func isRemote(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func urlPath(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.Path == "" {
		return s
	}
	return u.Path
}
