package librarypage

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultHTTPTimeout     = 30 * time.Second
	DefaultPort            = 8080
	DefaultShutdownTimeout = 10 * time.Second
)

type LibraryPage struct {
	Client          *http.Client
	Handlers        map[string]func(http.ResponseWriter, *http.Request)
	Port            int
	CacheTTL        time.Duration
	MaxItems        int
	ShutdownTimeout time.Duration
	publisher       Publisher
	store           Store
	log             *zap.Logger
	server          *http.Server
}

func (l *LibraryPage) HandleRouteLibrary(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		page, err := l.renderLatin1(r.Context())
		if err != nil {
			l.log.Error("rendering page", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("content-type", ContentType)
		if r.Method == http.MethodHead {
			return
		}
		w.Write(page)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

func (l *LibraryPage) HandleRouteStylesheet(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		data, err := content.ReadFile("static/home0000.css")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("content-type", "text/css; charset=utf-8")
		if r.Method == http.MethodHead {
			return
		}
		w.Write(data)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

func (l *LibraryPage) HandleRouteFeedCRUD(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodHead:
	case http.MethodGet:
		URL, err := feedURLFromPath(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fragment, ok := l.store.Get(URL)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("content-type", "text/html; charset=utf-8")
		w.Write([]byte(fragment.HTML))
	case http.MethodDelete:
		URL, err := feedURLFromPath(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		l.store.Delete(URL)
		if s, ok := l.store.(Saver); ok {
			if err := s.Save(); err != nil {
				l.log.Error("saving fragment store", zap.Error(err))
			}
		}
		l.log.Info("cached fragment dropped", zap.String("url", URL))
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

func (l *LibraryPage) HandleRouteFeed(w http.ResponseWriter, r *http.Request) {
	switch r.URL.EscapedPath() {
	case "/feed/":
		l.HandleRouteFeedTableRows(w, r)
	default:
		l.HandleRouteFeedCRUD(w, r)
	}
}

func (l *LibraryPage) HandleRouteFeedTableRows(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodHead:
	case http.MethodGet:
		tpl := template.Must(template.New("feeds-table-rows.gohtml").Funcs(template.FuncMap{
			"PathEscape": url.PathEscape,
		}).ParseFS(content, "templates/feeds-table-rows.gohtml"))
		fragments := l.store.GetAll()
		sort.Slice(fragments, func(i, j int) bool {
			return fragments[i].FeedURL < fragments[j].FeedURL
		})
		w.Header().Set("content-type", "text/html; charset=utf-8")
		err := tpl.Execute(w, fragments)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

func (l *LibraryPage) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		l.HandleRouteLibrary(w, r)
		return
	}
	if handler, ok := l.Handlers[r.URL.Path]; ok {
		handler(w, r)
		return
	}
	// Only patterns ending in a slash match as prefixes.
	for pattern, handler := range l.Handlers {
		if strings.HasSuffix(pattern, "/") && strings.HasPrefix(r.URL.Path, pattern) {
			handler(w, r)
			return
		}
	}
	http.NotFound(w, r)
}

// Run serves HTTP on the configured port until Shutdown is called.
func (l *LibraryPage) Run() error {
	l.log.Info("listening", zap.String("addr", l.server.Addr))
	err := l.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (l *LibraryPage) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), l.ShutdownTimeout)
	defer cancel()
	l.log.Info("shutting down")
	return l.server.Shutdown(ctx)
}

type Option func(*LibraryPage)

func WithPort(port int) Option {
	return func(l *LibraryPage) {
		l.Port = port
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(l *LibraryPage) {
		l.log = log
	}
}

// WithPublisher replaces the feed publisher. Cache settings on LibraryPage
// only apply to the default publisher.
func WithPublisher(p Publisher) Option {
	return func(l *LibraryPage) {
		l.publisher = p
	}
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(l *LibraryPage) {
		l.CacheTTL = ttl
	}
}

func WithMaxItems(n int) Option {
	return func(l *LibraryPage) {
		l.MaxItems = n
	}
}

func WithHTTPTimeout(timeout time.Duration) Option {
	return func(l *LibraryPage) {
		l.Client.Timeout = timeout
	}
}

func New(store Store, opts ...Option) *LibraryPage {
	l := &LibraryPage{
		Client: &http.Client{
			Timeout: DefaultHTTPTimeout,
		},
		Port:            DefaultPort,
		CacheTTL:        DefaultCacheTTL,
		MaxItems:        DefaultMaxItems,
		ShutdownTimeout: DefaultShutdownTimeout,
		store:           store,
		log:             zap.NewNop(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.publisher == nil {
		p := NewFeedPublisher(store, l.log)
		p.Client = l.Client
		p.CacheTTL = l.CacheTTL
		p.MaxItems = l.MaxItems
		l.publisher = p
	}
	l.Handlers = map[string]func(http.ResponseWriter, *http.Request){
		"/library.html": l.HandleRouteLibrary,
		"/library.php":  l.HandleRouteLibrary,
		"/home0000.css": l.HandleRouteStylesheet,
		"/feed/":        l.HandleRouteFeed,
	}
	l.server = &http.Server{
		Addr:              net.JoinHostPort("", fmt.Sprint(l.Port)),
		Handler:           l,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      2 * l.Client.Timeout,
	}
	return l
}

// feedURLFromPath unescapes the last path segment, which carries a
// path-escaped feed URL.
func feedURLFromPath(r *http.Request) (string, error) {
	uriParts := strings.Split(r.URL.EscapedPath(), "/")
	return url.PathUnescape(uriParts[len(uriParts)-1])
}
