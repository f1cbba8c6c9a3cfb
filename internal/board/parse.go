package board

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
)

// ErrNoContent is returned for pages without an article body.
var ErrNoContent = errors.New("article content missing")

var (
	articleIDPattern = regexp.MustCompile(`M\.\d+\.A\.[0-9A-F]+`)
	authorPattern    = regexp.MustCompile(`^([^\s(]+)`)
)

// SearchResult is one row of the author search listing.
type SearchResult struct {
	Title         string
	URL           string
	AuthorDisplay string
	Date          string
	Push          int
}

// Article is the content parsed from a single post page.
type Article struct {
	Author     string
	MetaValues []string
	Body       string
	Engagement crawler.Engagement
}

// ParseSearchResults extracts result rows in page order. Rows without a link
// (deleted posts) are skipped. Relative links are resolved against base.
func ParseSearchResults(html []byte, base *url.URL) ([]SearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}
	results := make([]SearchResult, 0)
	doc.Find("div.r-ent").Each(func(_ int, row *goquery.Selection) {
		link := row.Find("div.title a").First()
		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := ref.String()
		if base != nil {
			abs = base.ResolveReference(ref).String()
		}
		results = append(results, SearchResult{
			Title:         strings.TrimSpace(link.Text()),
			URL:           abs,
			AuthorDisplay: strings.TrimSpace(row.Find("div.meta div.author").Text()),
			Date:          strings.TrimSpace(row.Find("div.date").Text()),
			Push:          ParsePushShorthand(row.Find("div.nrec").Text()),
		})
	})
	return results, nil
}

// ParsePushShorthand decodes the listing's reaction column. "爆" means more
// than 100 pushes and an "X" prefix means heavily downvoted.
func ParsePushShorthand(text string) int {
	text = strings.TrimSpace(text)
	switch {
	case text == "", text == "→":
		return 0
	case text == "爆":
		return 100
	case strings.HasPrefix(text, "X"):
		return -1
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0
	}
	return n
}

// ParseArticle extracts the page author, meta values, body and reaction
// counts. Push lines and quoted replies are stripped from the body.
func ParseArticle(html []byte) (Article, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Article{}, fmt.Errorf("parse article: %w", err)
	}
	content := doc.Find("div#main-content").First()
	if content.Length() == 0 {
		return Article{}, ErrNoContent
	}

	var meta []string
	doc.Find("span.article-meta-value").Each(func(_ int, s *goquery.Selection) {
		meta = append(meta, strings.TrimSpace(s.Text()))
	})
	var author string
	if len(meta) > 0 {
		if m := authorPattern.FindStringSubmatch(meta[0]); m != nil {
			author = m[1]
		}
	}

	var engagement crawler.Engagement
	content.Find("div.push span.push-tag").Each(func(_ int, s *goquery.Selection) {
		switch strings.TrimSpace(s.Text()) {
		case "推":
			engagement.Push++
		case "噓":
			engagement.Boo++
		case "→":
			engagement.Arrow++
		}
	})

	content.Find("div.push").Remove()
	content.Find("div.article-metaline, div.article-metaline-right").Remove()
	content.Find("span.f6").Each(func(_ int, s *goquery.Selection) {
		if strings.HasPrefix(strings.TrimSpace(s.Text()), ":") {
			s.Remove()
		}
	})

	return Article{
		Author:     author,
		MetaValues: meta,
		Body:       strings.TrimSpace(content.Text()),
		Engagement: engagement,
	}, nil
}

// ExternalID derives the board-scoped article id from its URL.
func ExternalID(rawURL string) string {
	if id := articleIDPattern.FindString(rawURL); id != "" {
		return id
	}
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	return strings.TrimSuffix(path.Base(p), ".html")
}
