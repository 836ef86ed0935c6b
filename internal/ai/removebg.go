package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/digiens-academy/sellibra-backend/internal/config"
)

const maxRemoveBGResponse = 25 << 20

// RemoveBGClient calls the remove.bg background removal API.
type RemoveBGClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewRemoveBGClient(cfg config.RemoveBGConfig, timeout time.Duration) *RemoveBGClient {
	return &RemoveBGClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// RemoveBackground returns the cut-out image as PNG bytes.
func (c *RemoveBGClient) RemoveBackground(ctx context.Context, imagePath string) ([]byte, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("open source image: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image_file", filepath.Base(imagePath))
	if err != nil {
		return nil, fmt.Errorf("building form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("reading source image: %w", err)
	}
	if err := w.WriteField("size", "auto"); err != nil {
		return nil, fmt.Errorf("building form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("building form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/removebg", &buf)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	httpReq.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("remove.bg", resp)
	}

	img, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoveBGResponse))
	if err != nil {
		return nil, classifyError(err)
	}
	if len(img) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidResponse)
	}
	return img, nil
}
