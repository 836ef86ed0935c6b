package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digiens-academy/sellibra-backend/internal/ai/mock"
	"github.com/digiens-academy/sellibra-backend/internal/config"
	"github.com/digiens-academy/sellibra-backend/pkg/models"
)

// Provider implements models.AIProvider on top of OpenAI and remove.bg.
// Background removal degrades to the local fallback when remove.bg is not
// configured or out of credits.
type Provider struct {
	openai   *OpenAIClient
	removeBG *RemoveBGClient
	fallback models.AIProvider
	logger   *slog.Logger
}

var _ models.AIProvider = (*Provider)(nil)

// NewProvider constructs the AI provider from config. Called once at
// startup. Outside production, a deployment without any API key runs
// entirely on the mock provider.
func NewProvider(cfg config.AIConfig, env string, logger *slog.Logger) models.AIProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OpenAI.APIKey == "" && cfg.RemoveBG.APIKey == "" && env != "production" {
		logger.Warn("no AI API keys configured, using mock provider")
		return mock.NewProvider()
	}

	p := &Provider{fallback: mock.NewProvider(), logger: logger}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if cfg.OpenAI.APIKey != "" {
		p.openai = NewOpenAIClient(cfg.OpenAI, timeout)
	}
	if cfg.RemoveBG.APIKey != "" {
		p.removeBG = NewRemoveBGClient(cfg.RemoveBG, timeout)
	}
	return p
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) RemoveBackground(ctx context.Context, t models.RemoveBackground) (models.ImageResult, error) {
	if p.removeBG == nil {
		p.logger.Warn("remove.bg not configured, using fallback background removal")
		return p.fallback.RemoveBackground(ctx, t)
	}

	img, err := p.removeBG.RemoveBackground(ctx, t.ImagePath)
	if errors.Is(err, ErrQuotaExceeded) {
		p.logger.Warn("remove.bg quota exhausted, using fallback background removal", "error", err)
		return p.fallback.RemoveBackground(ctx, t)
	}
	if err != nil {
		return models.ImageResult{}, fmt.Errorf("remove background: %w", err)
	}
	return models.ImageResult{Image: img, MimeType: "image/png"}, nil
}

func (p *Provider) TextToImage(ctx context.Context, t models.TextToImage) (models.ImageResult, error) {
	if p.openai == nil {
		return models.ImageResult{}, ErrNotConfigured
	}
	img, err := p.openai.GenerateImage(ctx, ImageRequest{Prompt: t.Prompt, Size: t.Size, Quality: t.Quality, Style: t.Style})
	if err != nil {
		return models.ImageResult{}, fmt.Errorf("text to image: %w", err)
	}
	return models.ImageResult{URL: img.URL, RevisedPrompt: img.RevisedPrompt}, nil
}

func (p *Provider) ImageToImage(ctx context.Context, t models.ImageToImage) (models.ImageResult, error) {
	if p.openai == nil {
		return models.ImageResult{}, ErrNotConfigured
	}
	img, err := p.openai.EditImage(ctx, t.ImagePath, t.Prompt, t.Size)
	if err != nil {
		return models.ImageResult{}, fmt.Errorf("image to image: %w", err)
	}
	return models.ImageResult{URL: img.URL, RevisedPrompt: img.RevisedPrompt}, nil
}

func (p *Provider) GenerateContent(ctx context.Context, t models.GenerateContent) (models.ContentResult, error) {
	if p.openai == nil {
		return models.ContentResult{}, ErrNotConfigured
	}
	req, err := contentChat(t.Kind, t.Product)
	if err != nil {
		return models.ContentResult{}, err
	}
	text, err := p.openai.Chat(ctx, req)
	if err != nil {
		return models.ContentResult{}, fmt.Errorf("generate %s: %w", t.Kind, err)
	}
	return parseContent(t.Kind, text)
}

func (p *Provider) GenerateMockup(ctx context.Context, t models.GenerateMockup) (models.ImageResult, error) {
	if p.openai == nil {
		return models.ImageResult{}, ErrNotConfigured
	}
	img, err := p.openai.EditImage(ctx, t.DesignPath, mockupPrompt(t), t.Size)
	if err != nil {
		return models.ImageResult{}, fmt.Errorf("generate mockup: %w", err)
	}
	return models.ImageResult{URL: img.URL, RevisedPrompt: img.RevisedPrompt}, nil
}
