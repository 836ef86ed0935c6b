package ai

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/digiens-academy/sellibra-backend/pkg/models"
)

const (
	maxTags      = 13
	maxTagLen    = 20
	maxTitleLen  = 140
	defaultGoods = "t-shirt"
)

var listMarker = regexp.MustCompile(`^\s*(\d+[.)]|[-*•])\s*`)

const tagsSystemPrompt = `You are an Etsy SEO expert. Produce product tags that rank well in Etsy search.
Rules: at most 13 tags, each at most 20 characters, lowercase, multi-word tags allowed,
mix broad and long-tail keywords, include product, style, audience, colour and niche terms.`

const titleSystemPrompt = `You are an Etsy SEO expert. Write product titles that rank well in Etsy search.
Rules: at most 140 characters, most important keywords first, no keyword stuffing,
separate phrases with commas or |, avoid special characters.`

const descriptionSystemPrompt = `You are an Etsy SEO expert writing listing descriptions for apparel and print products.
The first 160 characters must work as a meta description. Highlight features and benefits,
speak to the target audience, use short paragraphs and bullet points, 200 to 300 words.`

func productLines(p models.ProductInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\n", p.Name)
	fmt.Fprintf(&b, "Type: %s\n", orDefault(p.Type, defaultGoods))
	if len(p.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(p.Keywords, ", "))
	}
	if p.TargetAudience != "" {
		fmt.Fprintf(&b, "Audience: %s\n", p.TargetAudience)
	}
	if p.Style != "" {
		fmt.Fprintf(&b, "Style: %s\n", p.Style)
	}
	if p.Details != "" {
		fmt.Fprintf(&b, "Details: %s\n", p.Details)
	}
	return b.String()
}

func contentChat(kind models.ContentKind, p models.ProductInfo) (ChatRequest, error) {
	switch kind {
	case models.ContentTags:
		return ChatRequest{
			System:      tagsSystemPrompt,
			User:        "Create Etsy tags for this product:\n\n" + productLines(p) + "\nWrite 13 tags, one per line, without numbering.",
			Temperature: 0.8,
			MaxTokens:   300,
		}, nil
	case models.ContentTitle:
		return ChatRequest{
			System:      titleSystemPrompt,
			User:        "Create Etsy titles for this product:\n\n" + productLines(p) + "\nWrite 5 alternatives, numbered 1. to 5.",
			Temperature: 0.9,
			MaxTokens:   500,
		}, nil
	case models.ContentDescription:
		return ChatRequest{
			System:      descriptionSystemPrompt,
			User:        "Write an Etsy description for this product:\n\n" + productLines(p),
			Temperature: 0.8,
			MaxTokens:   1000,
		}, nil
	default:
		return ChatRequest{}, fmt.Errorf("%w: unknown content kind %q", ErrRejected, kind)
	}
}

// parseContent turns the raw completion into structured listing copy.
func parseContent(kind models.ContentKind, text string) (models.ContentResult, error) {
	res := models.ContentResult{Kind: kind}
	switch kind {
	case models.ContentTags:
		res.Tags = parseTags(text)
		if len(res.Tags) == 0 {
			return res, fmt.Errorf("%w: no usable tags", ErrInvalidResponse)
		}
	case models.ContentTitle:
		res.Titles = parseTitles(text)
		if len(res.Titles) == 0 {
			return res, fmt.Errorf("%w: no usable titles", ErrInvalidResponse)
		}
		res.Title = res.Titles[0]
	case models.ContentDescription:
		res.Description = strings.TrimSpace(text)
	}
	return res, nil
}

func parseTags(text string) []string {
	seen := make(map[string]bool)
	var tags []string
	for _, line := range strings.Split(text, "\n") {
		tag := strings.ToLower(strings.TrimSpace(listMarker.ReplaceAllString(line, "")))
		tag = strings.Trim(tag, `"'`)
		if tag == "" || len([]rune(tag)) > maxTagLen || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}

func parseTitles(text string) []string {
	var titles []string
	for _, line := range strings.Split(text, "\n") {
		title := strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		title = strings.Trim(title, `"`)
		if title == "" || len([]rune(title)) > maxTitleLen {
			continue
		}
		titles = append(titles, title)
	}
	return titles
}

func mockupPrompt(t models.GenerateMockup) string {
	color := orDefault(t.ProductColor, "white")
	return fmt.Sprintf("A professional high-quality product mockup photograph of a %s %s "+
		"with a printed graphic design on the front, centred and clearly visible. "+
		"Clean studio background, soft lighting, realistic fabric texture. "+
		"Professional product photography style, commercial grade mockup.", color, t.ProductType)
}
