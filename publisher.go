package librarypage

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCacheTTL   = 30 * time.Minute
	DefaultMaxItems   = 5
	DefaultUserAgent  = "LibraryPage/0.1"
	FallbackFeedPath  = "rss2.xml"
	maxSummaryLength  = 200
	releaseDateLayout = "2006-01-02"
)

// Publisher turns a feed URL into an HTML fragment of table rows.
type Publisher interface {
	PublishHTML(ctx context.Context, feedURL string) (template.HTML, error)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, feedURL string) (template.HTML, error)

func (f PublisherFunc) PublishHTML(ctx context.Context, feedURL string) (template.HTML, error) {
	return f(ctx, feedURL)
}

// Release is one feed entry as shown in the download table.
type Release struct {
	Title     string
	Link      string
	Summary   string
	Published time.Time
}

var feedRowsTemplate = template.Must(template.New("feed-rows.gohtml").ParseFS(content, "templates/feed-rows.gohtml"))

// FeedPublisher fetches a feed, renders its newest entries and caches the
// result in a Store.
type FeedPublisher struct {
	Client    *http.Client
	CacheTTL  time.Duration
	MaxItems  int
	UserAgent string
	store     Store
	log       *zap.Logger
	group     singleflight.Group
	now       func() time.Time
}

func NewFeedPublisher(store Store, log *zap.Logger) *FeedPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &FeedPublisher{
		Client: &http.Client{
			Timeout: DefaultHTTPTimeout,
		},
		CacheTTL:  DefaultCacheTTL,
		MaxItems:  DefaultMaxItems,
		UserAgent: DefaultUserAgent,
		store:     store,
		log:       log,
		now:       time.Now,
	}
}

// PublishHTML returns the release rows for feedURL. A fragment younger than
// CacheTTL is served from the store. Otherwise one refresh per URL runs on a
// context detached from the callers, bounded by Client.Timeout, and each
// caller stops waiting when its own ctx is done. On failure a stale fragment
// is preferred over an error.
func (p *FeedPublisher) PublishHTML(ctx context.Context, feedURL string) (template.HTML, error) {
	cached, hasCached := p.store.Get(feedURL)
	if hasCached && p.now().Sub(cached.FetchedAt) < p.CacheTTL {
		return template.HTML(cached.HTML), nil
	}
	refreshCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(feedURL, func() (interface{}, error) {
		if hasCached {
			return p.refresh(refreshCtx, feedURL, &cached)
		}
		return p.refresh(refreshCtx, feedURL, nil)
	})
	var err error
	select {
	case res := <-ch:
		if res.Err == nil {
			return template.HTML(res.Val.(Fragment).HTML), nil
		}
		err = res.Err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if hasCached {
		p.log.Warn("refreshing feed failed, serving stale fragment",
			zap.String("url", feedURL),
			zap.Time("fetched_at", cached.FetchedAt),
			zap.Error(err),
		)
		return template.HTML(cached.HTML), nil
	}
	return "", err
}

func (p *FeedPublisher) refresh(ctx context.Context, feedURL string, cached *Fragment) (Fragment, error) {
	var (
		source string
		resp   *http.Response
		err    error
	)
	if cached != nil && cached.Source != "" {
		source = cached.Source
		resp, err = p.get(ctx, source, cached)
	} else {
		cached = nil
		source, resp, err = p.resolve(ctx, feedURL)
	}
	if err != nil {
		return Fragment{}, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		if cached == nil {
			return Fragment{}, fmt.Errorf("fetching feed %q: not modified without a cached copy", source)
		}
		fragment := *cached
		fragment.FetchedAt = p.now()
		p.put(fragment)
		p.log.Debug("feed not modified", zap.String("url", source))
		return fragment, nil
	default:
		if cached != nil {
			// Forget the source so the next refresh rediscovers it.
			forgotten := *cached
			forgotten.Source = ""
			forgotten.ETag = ""
			forgotten.LastModified = ""
			p.put(forgotten)
		}
		return Fragment{}, fmt.Errorf("fetching feed %q: unexpected status %d", source, resp.StatusCode)
	}
	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return Fragment{}, fmt.Errorf("parsing feed %q: %w", source, err)
	}
	html, err := RenderReleases(Releases(feed, p.MaxItems))
	if err != nil {
		return Fragment{}, err
	}
	fragment := Fragment{
		FeedURL:      feedURL,
		Source:       source,
		HTML:         string(html),
		ETag:         resp.Header.Get("etag"),
		LastModified: resp.Header.Get("last-modified"),
		FetchedAt:    p.now(),
	}
	p.put(fragment)
	p.log.Info("feed refreshed",
		zap.String("url", feedURL),
		zap.String("source", source),
		zap.Int("items", len(feed.Items)),
	)
	return fragment, nil
}

// resolve finds the feed document behind feedURL and returns its response.
// When feedURL is itself a feed, that first response is returned as is.
// Otherwise the first advertised feed is fetched, falling back to the RSS 2.0
// document next to feedURL when nothing is advertised.
func (p *FeedPublisher) resolve(ctx context.Context, feedURL string) (string, *http.Response, error) {
	resp, err := p.get(ctx, feedURL, nil)
	if err != nil {
		return "", nil, err
	}
	source := ""
	if resp.StatusCode == http.StatusOK {
		contentType := parseContentType(resp.Header)
		if isFeedContentType(contentType) {
			return feedURL, resp, nil
		}
		if contentType == "text/html" {
			feeds, err := ParseLinkTags(resp.Body, feedURL)
			if err != nil {
				p.log.Debug("feed discovery failed", zap.String("url", feedURL), zap.Error(err))
			}
			if len(feeds) > 0 {
				source = feeds[0].URL
			}
		}
	} else {
		p.log.Debug("feed discovery failed",
			zap.String("url", feedURL),
			zap.Int("status", resp.StatusCode),
		)
	}
	resp.Body.Close()
	if source == "" {
		base, err := url.Parse(feedURL)
		if err != nil {
			return "", nil, fmt.Errorf("fetching feed %q: %w", feedURL, err)
		}
		source = base.ResolveReference(&url.URL{Path: FallbackFeedPath}).String()
	}
	resp, err = p.get(ctx, source, nil)
	if err != nil {
		return "", nil, err
	}
	return source, resp, nil
}

func (p *FeedPublisher) get(ctx context.Context, URL string, cached *Fragment) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, URL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching feed %q: %w", URL, err)
	}
	req.Header.Set("user-agent", p.UserAgent)
	req.Header.Set("accept", "*/*")
	if cached != nil {
		if cached.ETag != "" {
			req.Header.Set("if-none-match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("if-modified-since", cached.LastModified)
		}
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed %q: %w", URL, err)
	}
	return resp, nil
}

func (p *FeedPublisher) put(fragment Fragment) {
	p.store.Put(fragment)
	if s, ok := p.store.(Saver); ok {
		if err := s.Save(); err != nil {
			p.log.Error("saving fragment store", zap.Error(err))
		}
	}
}

// Releases converts at most max feed items to releases, newest first. Items
// without a date keep their feed order after dated ones.
func Releases(feed *gofeed.Feed, max int) []Release {
	releases := make([]Release, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		summary := item.Description
		if summary == "" {
			summary = item.Content
		}
		r := Release{
			Title:   strings.TrimSpace(item.Title),
			Link:    item.Link,
			Summary: truncate(StripHTML(summary), maxSummaryLength),
		}
		if r.Title == "" {
			r.Title = item.Link
		}
		switch {
		case item.PublishedParsed != nil:
			r.Published = *item.PublishedParsed
		case item.UpdatedParsed != nil:
			r.Published = *item.UpdatedParsed
		}
		releases = append(releases, r)
	}
	sort.SliceStable(releases, func(i, j int) bool {
		if releases[j].Published.IsZero() {
			return !releases[i].Published.IsZero()
		}
		return releases[i].Published.After(releases[j].Published)
	})
	if max > 0 && len(releases) > max {
		releases = releases[:max]
	}
	return releases
}

func RenderReleases(releases []Release) (template.HTML, error) {
	buf := &bytes.Buffer{}
	if err := feedRowsTemplate.Execute(buf, releases); err != nil {
		return "", fmt.Errorf("rendering releases: %w", err)
	}
	return template.HTML(buf.String()), nil
}

// StripHTML returns the text content of an HTML snippet with whitespace
// collapsed.
func StripHTML(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max])
	}
	return s
}
