package mock

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/digiens-academy/sellibra-backend/pkg/models"
)

// MockProvider satisfies models.AIProvider without calling any external
// service. Each operation can be overridden with the matching Func field.
type MockProvider struct {
	Name_                string
	RemoveBackgroundFunc func(ctx context.Context, t models.RemoveBackground) (models.ImageResult, error)
	TextToImageFunc      func(ctx context.Context, t models.TextToImage) (models.ImageResult, error)
	ImageToImageFunc     func(ctx context.Context, t models.ImageToImage) (models.ImageResult, error)
	GenerateContentFunc  func(ctx context.Context, t models.GenerateContent) (models.ContentResult, error)
	GenerateMockupFunc   func(ctx context.Context, t models.GenerateMockup) (models.ImageResult, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) RemoveBackground(ctx context.Context, t models.RemoveBackground) (models.ImageResult, error) {
	if m.RemoveBackgroundFunc != nil {
		return m.RemoveBackgroundFunc(ctx, t)
	}
	return models.ImageResult{}, nil
}

func (m *MockProvider) TextToImage(ctx context.Context, t models.TextToImage) (models.ImageResult, error) {
	if m.TextToImageFunc != nil {
		return m.TextToImageFunc(ctx, t)
	}
	return models.ImageResult{}, nil
}

func (m *MockProvider) ImageToImage(ctx context.Context, t models.ImageToImage) (models.ImageResult, error) {
	if m.ImageToImageFunc != nil {
		return m.ImageToImageFunc(ctx, t)
	}
	return models.ImageResult{}, nil
}

func (m *MockProvider) GenerateContent(ctx context.Context, t models.GenerateContent) (models.ContentResult, error) {
	if m.GenerateContentFunc != nil {
		return m.GenerateContentFunc(ctx, t)
	}
	return models.ContentResult{Kind: t.Kind}, nil
}

func (m *MockProvider) GenerateMockup(ctx context.Context, t models.GenerateMockup) (models.ImageResult, error) {
	if m.GenerateMockupFunc != nil {
		return m.GenerateMockupFunc(ctx, t)
	}
	return models.ImageResult{}, nil
}

// NewProvider returns a MockProvider with deterministic responses. Background
// removal echoes the source image back; generation returns placeholder URLs.
func NewProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		RemoveBackgroundFunc: func(_ context.Context, t models.RemoveBackground) (models.ImageResult, error) {
			img, err := os.ReadFile(t.ImagePath)
			if err != nil {
				return models.ImageResult{}, fmt.Errorf("read source image: %w", err)
			}
			return models.ImageResult{Image: img, MimeType: http.DetectContentType(img)}, nil
		},
		TextToImageFunc: func(_ context.Context, t models.TextToImage) (models.ImageResult, error) {
			return models.ImageResult{URL: "https://placehold.co/1024x1024.png", RevisedPrompt: t.Prompt}, nil
		},
		ImageToImageFunc: func(_ context.Context, t models.ImageToImage) (models.ImageResult, error) {
			if _, err := os.Stat(t.ImagePath); err != nil {
				return models.ImageResult{}, fmt.Errorf("read source image: %w", err)
			}
			return models.ImageResult{URL: "https://placehold.co/1024x1024.png", RevisedPrompt: t.Prompt}, nil
		},
		GenerateContentFunc: func(_ context.Context, t models.GenerateContent) (models.ContentResult, error) {
			name := strings.ToLower(t.Product.Name)
			res := models.ContentResult{Kind: t.Kind}
			switch t.Kind {
			case models.ContentTags:
				res.Tags = []string{name, "gift idea", "handmade"}
			case models.ContentTitle:
				res.Title = cases.Title(language.English).String(t.Product.Name) + " | Gift Idea"
				res.Titles = []string{res.Title}
			case models.ContentDescription:
				res.Description = "Mock description for " + t.Product.Name + "."
			}
			return res, nil
		},
		GenerateMockupFunc: func(_ context.Context, t models.GenerateMockup) (models.ImageResult, error) {
			return models.ImageResult{URL: "https://placehold.co/1024x1024.png?text=" + t.ProductType}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		RemoveBackgroundFunc: func(context.Context, models.RemoveBackground) (models.ImageResult, error) {
			return models.ImageResult{}, err
		},
		TextToImageFunc: func(context.Context, models.TextToImage) (models.ImageResult, error) {
			return models.ImageResult{}, err
		},
		ImageToImageFunc: func(context.Context, models.ImageToImage) (models.ImageResult, error) {
			return models.ImageResult{}, err
		},
		GenerateContentFunc: func(context.Context, models.GenerateContent) (models.ContentResult, error) {
			return models.ContentResult{}, err
		},
		GenerateMockupFunc: func(context.Context, models.GenerateMockup) (models.ImageResult, error) {
			return models.ImageResult{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider whose calls block until the
// context is done.
func NewTimeoutProvider() *MockProvider {
	block := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	return &MockProvider{
		Name_: "mock-timeout",
		RemoveBackgroundFunc: func(ctx context.Context, _ models.RemoveBackground) (models.ImageResult, error) {
			return models.ImageResult{}, block(ctx)
		},
		TextToImageFunc: func(ctx context.Context, _ models.TextToImage) (models.ImageResult, error) {
			return models.ImageResult{}, block(ctx)
		},
		ImageToImageFunc: func(ctx context.Context, _ models.ImageToImage) (models.ImageResult, error) {
			return models.ImageResult{}, block(ctx)
		},
		GenerateContentFunc: func(ctx context.Context, _ models.GenerateContent) (models.ContentResult, error) {
			return models.ContentResult{}, block(ctx)
		},
		GenerateMockupFunc: func(ctx context.Context, _ models.GenerateMockup) (models.ImageResult, error) {
			return models.ImageResult{}, block(ctx)
		},
	}
}

// Compile-time check that MockProvider implements AIProvider.
var _ models.AIProvider = (*MockProvider)(nil)
