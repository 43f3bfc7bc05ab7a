package librarypage_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tmatesoft/librarypage"
)

func newServerWithContentTypeAndBodyResponse(t *testing.T, contentType string, filePath string) *httptest.Server {
	data, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", contentType)
		w.Write(data)
	}))
	t.Cleanup(func() { ts.Close() })
	return ts
}

func findFeeds(t *testing.T, URL string) []librarypage.Feed {
	t.Helper()
	p := librarypage.NewFeedPublisher(&librarypage.MemoryStore{}, nil)
	feeds, err := p.FindFeeds(context.Background(), URL)
	if err != nil {
		t.Fatal(err)
	}
	return feeds
}

func TestFindFeeds_ReturnsExpectedFeedsGivenApplicationRSSXMLContentType(t *testing.T) {
	t.Parallel()
	ts := newServerWithContentTypeAndBodyResponse(t, "application/rss+xml", "testdata/rss.xml")
	want := []librarypage.Feed{
		{
			URL:  ts.URL,
			Type: librarypage.FeedTypeRSS,
		},
	}
	got := findFeeds(t, ts.URL)
	if !cmp.Equal(want, got) {
		t.Fatal(cmp.Diff(want, got))
	}
}

func TestFindFeeds_ReturnsExpectedFeedsGivenTextXMLContentTypeWithCharsetAndRSSData(t *testing.T) {
	t.Parallel()
	ts := newServerWithContentTypeAndBodyResponse(t, "text/xml; charset=iso-8859-1", "testdata/rss.xml")
	want := []librarypage.Feed{
		{
			URL:  ts.URL,
			Type: librarypage.FeedTypeRSS,
		},
	}
	got := findFeeds(t, ts.URL)
	if !cmp.Equal(want, got) {
		t.Fatal(cmp.Diff(want, got))
	}
}

func TestFindFeeds_ReturnsExpectedFeedsGivenTextXMLContentTypeAndRDFData(t *testing.T) {
	t.Parallel()
	ts := newServerWithContentTypeAndBodyResponse(t, "text/xml", "testdata/rdf.xml")
	want := []librarypage.Feed{
		{
			URL:  ts.URL,
			Type: librarypage.FeedTypeRDF,
		},
	}
	got := findFeeds(t, ts.URL)
	if !cmp.Equal(want, got) {
		t.Fatal(cmp.Diff(want, got))
	}
}

func TestFindFeeds_ReturnsExpectedFeedsGivenAtomApplicationContentType(t *testing.T) {
	t.Parallel()
	ts := newServerWithContentTypeAndBodyResponse(t, "application/atom+xml", "testdata/atom.xml")
	want := []librarypage.Feed{
		{
			URL:  ts.URL,
			Type: librarypage.FeedTypeAtom,
		},
	}
	got := findFeeds(t, ts.URL)
	if !cmp.Equal(want, got) {
		t.Fatal(cmp.Diff(want, got))
	}
}

func TestFindFeeds_ReturnsLinkedFeedsGivenHTMLPage(t *testing.T) {
	t.Parallel()
	ts := newServerWithContentTypeAndBodyResponse(t, "text/html; charset=utf-8", "testdata/index.html")
	want := []librarypage.Feed{
		{
			URL:  ts.URL + "/releases.xml",
			Type: librarypage.FeedTypeRSS,
		},
		{
			URL:  ts.URL + "/rss2.xml",
			Type: librarypage.FeedTypeRSS,
		},
	}
	got := findFeeds(t, ts.URL+"/")
	if !cmp.Equal(want, got) {
		t.Fatal(cmp.Diff(want, got))
	}
}

func TestFindFeeds_ReturnsNoFeedsGivenUnexpectedContentType(t *testing.T) {
	t.Parallel()
	ts := newServerWithContentTypeAndBodyResponse(t, "image/png", "testdata/rss.xml")
	got := findFeeds(t, ts.URL)
	if len(got) != 0 {
		t.Fatalf("want no feeds, got %v", got)
	}
}

func TestFindFeeds_ErrorsGivenNotFound(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()
	p := librarypage.NewFeedPublisher(&librarypage.MemoryStore{}, nil)
	_, err := p.FindFeeds(context.Background(), ts.URL)
	if err == nil {
		t.Fatal("want error but got nil")
	}
}

func TestFindFeeds_SetsHeadersOnHTTPRequest(t *testing.T) {
	t.Parallel()
	wantHeaders := map[string]string{
		"user-agent": "LibraryPage/0.1",
		"accept":     "*/*",
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for header, want := range wantHeaders {
			got := r.Header.Get(header)
			if want != got {
				t.Errorf("want value %q, got %q for header %q", want, got, header)
			}
		}
		w.Header().Set("content-type", "application/rss+xml")
		w.Write([]byte(`<rss></rss>`))
	}))
	defer ts.Close()
	findFeeds(t, ts.URL)
}

func TestParseLinkTags_ReturnsFeedEndpointGivenHTMLPageWithRSSFeedInBodyElement(t *testing.T) {
	t.Parallel()
	want := []librarypage.Feed{
		{
			URL:  "http://tmate.org/svn/rss2.xml",
			Type: librarypage.FeedTypeRSS,
		},
	}
	got, err := librarypage.ParseLinkTags(strings.NewReader(`<a href="rss2.xml" title="JavaSVN RSS">rss 2.0</a>`), "http://tmate.org/svn/")
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(want, got) {
		t.Fatal(cmp.Diff(want, got))
	}
}

func TestParseLinkTags_IgnoresAnchorsWithoutRSSTitle(t *testing.T) {
	t.Parallel()
	got, err := librarypage.ParseLinkTags(strings.NewReader(`<a href="rss2.xml">rss 2.0</a><a href="status.html" title="Status">status</a>`), "http://tmate.org/svn/")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("want no feeds, got %v", got)
	}
}

func TestParseLinkTags_ReturnsFeedEndpointGivenHTMLPageWithAtomFeedInLinkElement(t *testing.T) {
	t.Parallel()
	want := []librarypage.Feed{
		{
			URL:  "http://fake.url/feed/",
			Type: librarypage.FeedTypeAtom,
		},
	}
	got, err := librarypage.ParseLinkTags(strings.NewReader(`<link type="application/atom+xml" title="Unit Test" href="http://fake.url/feed/" />`), "")
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(want, got) {
		t.Fatal(cmp.Diff(want, got))
	}
}

func TestParseFeedType_ReturnsRSSTypeGivenRSSTag(t *testing.T) {
	t.Parallel()
	want := librarypage.FeedTypeRSS
	got, err := librarypage.ParseFeedType(strings.NewReader(`<?xml version="1.0"?>
<rss version="2.0"></rss>`))
	if err != nil {
		t.Fatal(err)
	}
	if want != got {
		t.Fatalf("want XMLName %q, got %q", want, got)
	}
}

func TestParseFeedType_ReturnsRSSTypeGivenLatin1Document(t *testing.T) {
	t.Parallel()
	want := librarypage.FeedTypeRSS
	got, err := librarypage.ParseFeedType(strings.NewReader("<?xml version=\"1.0\" encoding=\"iso-8859-1\"?>\n<rss version=\"2.0\"><channel><title>caf\xe9</title></channel></rss>"))
	if err != nil {
		t.Fatal(err)
	}
	if want != got {
		t.Fatalf("want XMLName %q, got %q", want, got)
	}
}

func TestParseFeedType_ReturnsAtomTypeGivenFeedTag(t *testing.T) {
	t.Parallel()
	want := librarypage.FeedTypeAtom
	got, err := librarypage.ParseFeedType(strings.NewReader(`<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"></feed>`))
	if err != nil {
		t.Fatal(err)
	}
	if want != got {
		t.Fatalf("want XMLName %q, got %q", want, got)
	}
}

func TestParseFeedType_ErrorsGivenUnexpectedTag(t *testing.T) {
	t.Parallel()
	_, err := librarypage.ParseFeedType(strings.NewReader(`<bogus></bogus>`))
	if err == nil {
		t.Fatal("want error but got nil")
	}
}
