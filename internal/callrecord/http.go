package callrecord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/sirosfoundation/go-voice-backend/pkg/config"
)

// HTTPSaver posts records to a collector endpoint
type HTTPSaver struct {
	client    *http.Client
	url       string
	headers   map[string]string
	withMedia bool
}

// NewHTTPSaver creates a saver for the http callrecord variant
func NewHTTPSaver(cfg *config.CallRecordConfig) (*HTTPSaver, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid callrecord url %q: %w", cfg.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid callrecord url %q: scheme must be http or https", cfg.URL)
	}

	return &HTTPSaver{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		url:       cfg.URL,
		headers:   cfg.Headers,
		withMedia: cfg.UploadMedia(),
	}, nil
}

func (s *HTTPSaver) Name() string { return "http" }

func (s *HTTPSaver) Save(ctx context.Context, rec *CallRecord) error {
	data, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode call record: %w", err)
	}

	var (
		body        io.Reader
		contentType string
	)
	if s.withMedia && len(rec.Recorder) > 0 {
		buf, ct, err := multipartBody(data, rec.Recorder)
		if err != nil {
			return err
		}
		body, contentType = buf, ct
	} else {
		body, contentType = bytes.NewReader(data), "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("callrecord endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// multipartBody builds a form with a "calllog.json" part and one
// "media_<track_id>" file part per recorder track that exists on disk.
func multipartBody(record []byte, media []Media) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="calllog.json"; filename="calllog.json"`)
	h.Set("Content-Type", "application/json")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(record); err != nil {
		return nil, "", err
	}

	for _, m := range media {
		if err := appendFile(w, "media_"+m.TrackID, m.Path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func appendFile(w *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := w.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}
