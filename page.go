package librarypage

import (
	"bytes"
	"context"
	"html/template"
	"io"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

const (
	// DefaultFeedURL is the only URL the page ever publishes.
	DefaultFeedURL = "http://tmate.org/svn/"
	ContentType    = "text/html; charset=iso-8859-1"
)

var pageTemplate = template.Must(template.New("library.gohtml").ParseFS(content, "templates/library.gohtml"))

// Render writes the library page with fragment placed in the download table.
// Everything around the fragment is identical from one call to the next.
func Render(w io.Writer, fragment template.HTML) error {
	return pageTemplate.Execute(w, struct {
		Fragment template.HTML
	}{
		Fragment: fragment,
	})
}

// RenderPage publishes DefaultFeedURL and renders the page around the
// result. A publishing error leaves the fragment empty.
func (l *LibraryPage) RenderPage(ctx context.Context, w io.Writer) error {
	fragment, err := l.publisher.PublishHTML(ctx, DefaultFeedURL)
	if err != nil {
		l.log.Warn("publishing feed",
			zap.String("url", DefaultFeedURL),
			zap.Error(err),
		)
		fragment = ""
	}
	return Render(w, fragment)
}

// EncodeLatin1 converts UTF-8 page output to ISO-8859-1. Characters outside
// Latin-1 become numeric character references.
func EncodeLatin1(page []byte) ([]byte, error) {
	return encoding.HTMLEscapeUnsupported(charmap.ISO8859_1.NewEncoder()).Bytes(page)
}

func (l *LibraryPage) renderLatin1(ctx context.Context) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := l.RenderPage(ctx, buf); err != nil {
		return nil, err
	}
	return EncodeLatin1(buf.Bytes())
}
