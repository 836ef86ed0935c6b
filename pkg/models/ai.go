// Package models contains shared data models used across the Sellibra backend.
package models

import "context"

// AIProvider is the set of expensive AI operations the workers run.
// Never call a concrete provider directly; always inject this interface.
type AIProvider interface {
	RemoveBackground(ctx context.Context, task RemoveBackground) (ImageResult, error)
	TextToImage(ctx context.Context, task TextToImage) (ImageResult, error)
	ImageToImage(ctx context.Context, task ImageToImage) (ImageResult, error)
	GenerateContent(ctx context.Context, task GenerateContent) (ContentResult, error)
	GenerateMockup(ctx context.Context, task GenerateMockup) (ImageResult, error)
	// Name returns the provider identifier (e.g., "openai", "mock").
	Name() string
}

// ImageResult is returned by every image-producing operation. Either Image
// (raw bytes) or URL is set, sometimes both.
type ImageResult struct {
	Image         []byte `json:"image,omitempty"`
	MimeType      string `json:"mime_type,omitempty"`
	URL           string `json:"url,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// ContentResult holds generated listing copy. Only the fields matching Kind
// are set; Titles carries alternatives with the best one also in Title.
type ContentResult struct {
	Kind        ContentKind `json:"kind"`
	Tags        []string    `json:"tags,omitempty"`
	Title       string      `json:"title,omitempty"`
	Titles      []string    `json:"titles,omitempty"`
	Description string      `json:"description,omitempty"`
}

// ProductInfo describes the product copy is generated for.
type ProductInfo struct {
	Name           string   `json:"product_name"`
	Type           string   `json:"product_type,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
	TargetAudience string   `json:"target_audience,omitempty"`
	Style          string   `json:"style,omitempty"`
	Details        string   `json:"details,omitempty"`
}
