package ai

import (
	"bytes"
	"context"
	"encoding/json"
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

// OpenAIClient talks to the images and chat completion endpoints.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	imageModel string
	chatModel  string
	client     *http.Client
}

func NewOpenAIClient(cfg config.OpenAIConfig, timeout time.Duration) *OpenAIClient {
	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		imageModel: cfg.ImageModel,
		chatModel:  cfg.ChatModel,
		client:     &http.Client{Timeout: timeout},
	}
}

type ImageRequest struct {
	Prompt  string
	Size    string
	Quality string
	Style   string
}

type imageResponse struct {
	Data []struct {
		URL           string `json:"url"`
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

type GeneratedImage struct {
	URL           string
	RevisedPrompt string
}

// GenerateImage creates one image from a text prompt.
func (c *OpenAIClient) GenerateImage(ctx context.Context, req ImageRequest) (GeneratedImage, error) {
	body := map[string]any{
		"model":   c.imageModel,
		"prompt":  req.Prompt,
		"n":       1,
		"size":    orDefault(req.Size, "1024x1024"),
		"quality": orDefault(req.Quality, "standard"),
	}
	if req.Style != "" {
		body["style"] = req.Style
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("encoding image request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(payload))
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return c.doImage(httpReq)
}

// EditImage reworks the image at imagePath according to prompt.
func (c *OpenAIClient) EditImage(ctx context.Context, imagePath, prompt, size string) (GeneratedImage, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("open source image: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("building form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return GeneratedImage{}, fmt.Errorf("reading source image: %w", err)
	}
	for k, v := range map[string]string{"prompt": prompt, "n": "1", "size": orDefault(size, "1024x1024")} {
		if err := w.WriteField(k, v); err != nil {
			return GeneratedImage{}, fmt.Errorf("building form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return GeneratedImage{}, fmt.Errorf("building form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/edits", &buf)
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	return c.doImage(httpReq)
}

func (c *OpenAIClient) doImage(httpReq *http.Request) (GeneratedImage, error) {
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return GeneratedImage{}, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return GeneratedImage{}, classifyStatus("openai", resp)
	}

	var out imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return GeneratedImage{}, fmt.Errorf("%w: decoding image response: %v", ErrInvalidResponse, err)
	}
	if len(out.Data) == 0 || out.Data[0].URL == "" {
		return GeneratedImage{}, fmt.Errorf("%w: no image in response", ErrInvalidResponse)
	}
	return GeneratedImage{URL: out.Data[0].URL, RevisedPrompt: out.Data[0].RevisedPrompt}, nil
}

type ChatRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Chat runs a single-turn chat completion and returns the reply text.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"model": c.chatModel,
		"messages": []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus("openai", resp)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding chat response: %v", ErrInvalidResponse, err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrInvalidResponse)
	}
	return out.Choices[0].Message.Content, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
