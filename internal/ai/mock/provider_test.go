package mock_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digiens-academy/sellibra-backend/internal/ai/mock"
	"github.com/digiens-academy/sellibra-backend/pkg/models"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

func TestMockProvider_Name(t *testing.T) {
	assert.Equal(t, "mock", mock.NewProvider().Name())
}

func TestMockProvider_RemoveBackgroundEchoesImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o644))

	res, err := mock.NewProvider().RemoveBackground(context.Background(), models.RemoveBackground{ImagePath: path})
	require.NoError(t, err)
	assert.Equal(t, pngHeader, res.Image)
	assert.Equal(t, "image/png", res.MimeType)
}

func TestMockProvider_RemoveBackgroundMissingFile(t *testing.T) {
	_, err := mock.NewProvider().RemoveBackground(context.Background(),
		models.RemoveBackground{ImagePath: filepath.Join(t.TempDir(), "missing.png")})
	assert.Error(t, err)
}

func TestMockProvider_GenerateContent(t *testing.T) {
	p := mock.NewProvider()
	product := models.ProductInfo{Name: "Cat Shirt"}

	tags, err := p.GenerateContent(context.Background(), models.GenerateContent{Kind: models.ContentTags, Product: product})
	require.NoError(t, err)
	assert.Contains(t, tags.Tags, "cat shirt")

	title, err := p.GenerateContent(context.Background(), models.GenerateContent{Kind: models.ContentTitle, Product: product})
	require.NoError(t, err)
	assert.Contains(t, title.Title, "Cat Shirt")

	lower, err := p.GenerateContent(context.Background(), models.GenerateContent{
		Kind:    models.ContentTitle,
		Product: models.ProductInfo{Name: "ceramic coffee mug"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Ceramic Coffee Mug | Gift Idea", lower.Title)
}

func TestMockProvider_TextToImage(t *testing.T) {
	res, err := mock.NewProvider().TextToImage(context.Background(), models.TextToImage{Prompt: "a cat"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.URL)
	assert.Equal(t, "a cat", res.RevisedPrompt)
}

func TestFailingProvider(t *testing.T) {
	boom := errors.New("boom")
	p := mock.NewFailingProvider(boom)

	_, err := p.TextToImage(context.Background(), models.TextToImage{})
	assert.ErrorIs(t, err, boom)
	_, err = p.GenerateContent(context.Background(), models.GenerateContent{})
	assert.ErrorIs(t, err, boom)
}

func TestTimeoutProvider(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := mock.NewTimeoutProvider().GenerateMockup(ctx, models.GenerateMockup{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockProvider_ZeroValueIsUsable(t *testing.T) {
	var m mock.MockProvider
	res, err := m.GenerateContent(context.Background(), models.GenerateContent{Kind: models.ContentTags})
	require.NoError(t, err)
	assert.Equal(t, models.ContentTags, res.Kind)
}
