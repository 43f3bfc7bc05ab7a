package librarypage

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

const (
	FeedTypeAtom = "Atom"
	FeedTypeRDF  = "RDF"
	FeedTypeRSS  = "RSS"
)

// Feed is a feed document discovered at, or linked from, a URL.
type Feed struct {
	Type string
	URL  string
}

// FindFeeds reports the feeds served at URL. A feed document yields itself;
// an HTML page yields the feeds it links to.
func (p *FeedPublisher) FindFeeds(ctx context.Context, URL string) ([]Feed, error) {
	resp, err := p.get(ctx, URL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %q", resp.StatusCode, URL)
	}
	switch contentType := parseContentType(resp.Header); {
	case isFeedContentType(contentType):
		feedType, err := ParseFeedType(resp.Body)
		if err != nil {
			return nil, err
		}
		return []Feed{{
			URL:  URL,
			Type: feedType,
		}}, nil
	case contentType == "text/html":
		return ParseLinkTags(resp.Body, URL)
	default:
		return nil, nil
	}
}

func isFeedContentType(contentType string) bool {
	switch contentType {
	case "application/rss+xml", "application/atom+xml", "text/xml", "application/xml":
		return true
	}
	return false
}

func parseContentType(headers http.Header) string {
	return strings.TrimSpace(strings.Split(headers.Get("content-type"), ";")[0])
}

func ParseFeedType(r io.Reader) (string, error) {
	type feedType struct {
		XMLName xml.Name
	}
	feedTypeData := feedType{}
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charset.NewReaderLabel
	err := decoder.Decode(&feedTypeData)
	if err != nil {
		return "", err
	}
	switch strings.ToUpper(feedTypeData.XMLName.Local) {
	case "RSS":
		return FeedTypeRSS, nil
	case "FEED":
		return FeedTypeAtom, nil
	case "RDF":
		return FeedTypeRDF, nil
	default:
		return "", fmt.Errorf("unexpected XMLName %q", strings.ToUpper(feedTypeData.XMLName.Local))
	}
}

// ParseLinkTags collects feed links from an HTML page, resolving relative
// hrefs against baseURL. Alternate link elements come before anchors.
func ParseLinkTags(r io.Reader, baseURL string) ([]Feed, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	feeds := []Feed{}
	collect := func(s *goquery.Selection, feedType string) {
		href, exists := s.Attr("href")
		if !exists {
			return
		}
		u, err := url.Parse(href)
		if err != nil {
			return
		}
		feeds = append(feeds, Feed{
			URL:  base.ResolveReference(u).String(),
			Type: feedType,
		})
	}
	doc.Find("link[type='application/rss+xml']").Each(func(i int, s *goquery.Selection) {
		collect(s, FeedTypeRSS)
	})
	doc.Find("link[type='application/atom+xml']").Each(func(i int, s *goquery.Selection) {
		collect(s, FeedTypeAtom)
	})
	doc.Find("a").Each(func(i int, s *goquery.Selection) {
		title, _ := s.Attr("title")
		if strings.Contains(strings.ToLower(title), "rss") {
			collect(s, FeedTypeRSS)
		}
	})
	return feeds, nil
}
