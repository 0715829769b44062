package web

import (
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/gin-gonic/gin/render"

	"github.com/jwalitptl/patient-registry/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

const layoutFile = "templates/layout.html"

// Page names accepted by c.HTML.
const (
	PageHome         = "home"
	PageRegistration = "registration"
	PageRecords      = "records"
	PageDetails      = "details"
	PageError        = "error"
)

var funcs = template.FuncMap{
	"displayTime": func(t model.Timestamp) string {
		if t.IsZero() {
			return ""
		}
		return t.Local().Format(model.DisplayTimeLayout)
	},
	"optional":  model.StringValue,
	"lower":     strings.ToLower,
	"hasPrefix": strings.HasPrefix,
	"year":      func() int { return time.Now().Year() },
}

// Renderer holds one template set per page, each sharing the layout.
type Renderer struct {
	pages map[string]*template.Template
}

var _ render.HTMLRender = (*Renderer)(nil)

func NewRenderer() (*Renderer, error) {
	r := &Renderer{pages: make(map[string]*template.Template)}
	for _, name := range []string{PageHome, PageRegistration, PageRecords, PageDetails, PageError} {
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, layoutFile, "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

func (r *Renderer) Instance(name string, data interface{}) render.Render {
	t, ok := r.pages[name]
	if !ok {
		t = r.pages[PageError]
		data = errorPage{page: page{Title: "Not Found"}, Message: "page " + name + " does not exist"}
	}
	return render.HTML{Template: t, Name: "layout", Data: data}
}
