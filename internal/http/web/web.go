// Package web renders the kiosk's customer-facing pages.
package web

import (
	"embed"
	"html/template"
	"io"
	"time"

	"github.com/go-faster/errors"

	"github.com/fairyhunter13/scan-kiosk/internal/model"
)

//go:embed templates/*.html
var files embed.FS

// PageData is what every page template receives.
type PageData struct {
	Title     string
	Running   bool
	Lines     []model.CartLine
	Total     int64
	ItemCount int64
	Now       time.Time
	Instance  string
}

// Pages names the renderable pages.
var Pages = []string{"welcome", "cart", "payment", "receipt", "thankyou"}

var base = template.Must(template.New("layout.html").Funcs(template.FuncMap{
	"price": func(int64) string { return "" },
}).ParseFS(files, "templates/*.html"))

// Render executes the named page. price formats amounts for display.
func Render(w io.Writer, page string, data PageData, price func(int64) string) error {
	t, err := base.Clone()
	if err != nil {
		return errors.Wrap(err, "clone templates")
	}
	t.Funcs(template.FuncMap{"price": price})
	if t.Lookup(page) == nil {
		return errors.Errorf("unknown page %q", page)
	}
	if err := t.ExecuteTemplate(w, page, data); err != nil {
		return errors.Wrapf(err, "render %s", page)
	}
	return nil
}
