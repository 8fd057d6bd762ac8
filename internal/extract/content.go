package extract

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/north-cloud/category-crawler/internal/domain"
)

// ContentParser turns publisher HTML into an ExtractedArticle with the
// configured truncation caps applied.
type ContentParser struct {
	config Config
}

// NewContentParser creates a parser with the given caps.
func NewContentParser(config Config) *ContentParser {
	return &ContentParser{config: config}
}

// Parse extracts title, body, authors, publish date, images and summary from
// a publisher page. pageURL must be the resolved publisher URL.
func (p *ContentParser) Parse(pageURL, html string) (*domain.ExtractedArticle, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err != nil {
		return nil, fmt.Errorf("readability parse: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("goquery parse: %w", err)
	}

	extracted := &domain.ExtractedArticle{
		URL:        pageURL,
		Title:      strings.TrimSpace(article.Title),
		Text:       truncate(collapseWhitespace(article.TextContent), p.config.MaxTextChars),
		RawExcerpt: truncate(article.Content, p.config.MaxRawChars),
		Summary:    strings.TrimSpace(article.Excerpt),
	}

	if extracted.Title == "" {
		extracted.Title = metaContent(doc, `meta[property="og:title"]`)
	}
	if extracted.Summary == "" {
		extracted.Summary = metaContent(doc, `meta[property="og:description"]`)
	}

	extracted.Authors = capStrings(p.authors(doc, article.Byline), p.config.MaxAuthors)
	extracted.PublishedAt = publishDate(doc)

	extracted.TopImage = article.Image
	if extracted.TopImage == "" {
		extracted.TopImage = metaContent(doc, `meta[property="og:image"]`)
	}
	extracted.Images = capStrings(p.images(doc, extracted.TopImage), p.config.MaxImages)

	if extracted.Title == "" && extracted.Text == "" {
		return nil, fmt.Errorf("page %s yielded no title or text", pageURL)
	}

	return extracted, nil
}

// authors merges the readability byline with author meta tags, deduplicated
// in encounter order.
func (p *ContentParser) authors(doc *goquery.Document, byline string) []string {
	var authors []string
	seen := make(map[string]struct{})

	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		authors = append(authors, name)
	}

	for _, part := range strings.Split(byline, ",") {
		add(part)
	}
	doc.Find(`meta[name="author"], meta[property="article:author"]`).Each(func(_ int, s *goquery.Selection) {
		if content, ok := s.Attr("content"); ok {
			add(content)
		}
	})

	return authors
}

// images collects image references from the page, top image first.
func (p *ContentParser) images(doc *goquery.Document, topImage string) []string {
	var images []string
	seen := make(map[string]struct{})

	add := func(src string) {
		src = strings.TrimSpace(src)
		if src == "" || !strings.HasPrefix(src, "http") {
			return
		}
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		images = append(images, src)
	}

	add(topImage)
	doc.Find(`meta[property="og:image"]`).Each(func(_ int, s *goquery.Selection) {
		if content, ok := s.Attr("content"); ok {
			add(content)
		}
	})
	doc.Find("article img, main img").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			add(src)
		}
	})

	return images
}

// publishDate reads the article publish timestamp from meta tags, trying the
// common property names in order.
func publishDate(doc *goquery.Document) *time.Time {
	selectors := []string{
		`meta[property="article:published_time"]`,
		`meta[name="publish-date"]`,
		`meta[name="date"]`,
	}

	for _, selector := range selectors {
		raw := metaContent(doc, selector)
		if raw == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return &t
			}
		}
	}
	return nil
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

// collapseWhitespace normalizes runs of whitespace to single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts s to at most max runes.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// capStrings limits a slice to at most max entries.
func capStrings(values []string, max int) []string {
	if max <= 0 || len(values) <= max {
		return values
	}
	return values[:max]
}
