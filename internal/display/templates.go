package display

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/your-org/faceads/internal/config"
)

//go:embed templates/*.html
var templateFS embed.FS

// ObjectSource fetches raw template bytes from object storage.
type ObjectSource interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// DefaultAdTemplate returns the built-in ad template source.
func DefaultAdTemplate() []byte {
	data, _ := templateFS.ReadFile("templates/ad.html")
	return data
}

// TemplateObjectKey is the object name the ad template is stored under.
func TemplateObjectKey(cfg config.DisplayConfig) string {
	return path.Base(cfg.AdTemplate)
}

// Renderer executes the index and ad templates. The ad template is taken
// from display.ad_template when that file exists, then from object storage
// when template_source is minio, then the embedded default. Overrides are
// re-read once per TemplateTTL; while one request reloads, the others keep
// rendering the previous template.
type Renderer struct {
	cfg      config.DisplayConfig
	objects  ObjectSource
	index    *template.Template
	fallback *template.Template
	now      func() time.Time

	refresh  singleflight.Group
	mu       sync.Mutex
	cached   *template.Template
	loadedAt time.Time
}

const overrideLoadTimeout = 5 * time.Second

// NewRenderer parses the embedded templates. objects may be nil.
func NewRenderer(cfg config.DisplayConfig, objects ObjectSource) (*Renderer, error) {
	index, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse index template: %w", err)
	}
	fallback, err := template.New("ad").Parse(string(DefaultAdTemplate()))
	if err != nil {
		return nil, fmt.Errorf("parse default ad template: %w", err)
	}

	return &Renderer{
		cfg:      cfg,
		objects:  objects,
		index:    index,
		fallback: fallback,
		now:      time.Now,
	}, nil
}

func (r *Renderer) RenderIndex(w io.Writer) error {
	return r.index.Execute(w, IndexView{PollMillis: r.cfg.PollInterval.Milliseconds()})
}

// RenderAd writes the ad for view. With partial set only the "card" block is
// rendered when the template defines one. A broken override falls back to
// the default template.
func (r *Renderer) RenderAd(ctx context.Context, w io.Writer, view AdView, partial bool) error {
	tmpl := r.adTemplate(ctx)

	var buf bytes.Buffer
	err := execute(&buf, tmpl, view, partial)
	if err != nil && tmpl != r.fallback {
		slog.Warn("ad template override failed, using default", "error", err)
		buf.Reset()
		err = execute(&buf, r.fallback, view, partial)
	}
	if err != nil {
		return fmt.Errorf("render ad: %w", err)
	}

	_, err = buf.WriteTo(w)
	return err
}

func execute(w io.Writer, tmpl *template.Template, view AdView, partial bool) error {
	if partial {
		if card := tmpl.Lookup("card"); card != nil {
			return card.Execute(w, view)
		}
	}
	return tmpl.Execute(w, view)
}

func (r *Renderer) adTemplate(ctx context.Context) *template.Template {
	now := r.now()

	r.mu.Lock()
	cached := r.cached
	fresh := cached != nil && now.Sub(r.loadedAt) < r.cfg.TemplateTTL
	r.mu.Unlock()
	if fresh {
		return cached
	}

	ch := r.refresh.DoChan("ad", func() (any, error) {
		return r.reload(context.WithoutCancel(ctx), now), nil
	})
	if cached != nil {
		select {
		case res := <-ch:
			return res.Val.(*template.Template)
		default:
			return cached
		}
	}
	res := <-ch
	return res.Val.(*template.Template)
}

func (r *Renderer) reload(ctx context.Context, now time.Time) *template.Template {
	ctx, cancel := context.WithTimeout(ctx, overrideLoadTimeout)
	defer cancel()

	tmpl, err := r.loadOverride(ctx)
	if err != nil {
		slog.Warn("ad template override unavailable", "error", err)
	}
	if tmpl == nil {
		tmpl = r.fallback
	}

	r.mu.Lock()
	r.cached = tmpl
	r.loadedAt = now
	r.mu.Unlock()
	return tmpl
}

// loadOverride returns nil, nil when no override is configured.
func (r *Renderer) loadOverride(ctx context.Context) (*template.Template, error) {
	if r.cfg.AdTemplate != "" {
		data, err := os.ReadFile(r.cfg.AdTemplate)
		switch {
		case err == nil:
			return parseAd(r.cfg.AdTemplate, data)
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("read ad template: %w", err)
		}
	}

	if r.cfg.TemplateSource == "minio" && r.objects != nil {
		key := TemplateObjectKey(r.cfg)
		data, err := r.objects.GetObject(ctx, key)
		if err != nil {
			return nil, err
		}
		return parseAd(key, data)
	}
	return nil, nil
}

func parseAd(name string, data []byte) (*template.Template, error) {
	tmpl, err := template.New("ad").Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse ad template %s: %w", name, err)
	}
	return tmpl, nil
}
