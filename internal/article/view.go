package article

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/quillpress/articles/internal/response"
)

//go:embed templates/*.html
var templateFS embed.FS

var formPage = template.Must(template.New("form.html").Funcs(template.FuncMap{
	"progressText": ProgressText,
}).ParseFS(templateFS, "templates/form.html"))

// ProgressText is the label shown next to the progress bar.
func ProgressText(percent int) string {
	return fmt.Sprintf("uploading image %d%%", percent)
}

type formView struct {
	Snapshot
	APIBase string
}

// RenderForm writes the HTML page for s.
func RenderForm(w http.ResponseWriter, s Snapshot, apiBase string) error {
	var buf bytes.Buffer
	if err := formPage.Execute(&buf, formView{Snapshot: s, APIBase: apiBase}); err != nil {
		return fmt.Errorf("render form: %w", err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := buf.WriteTo(w)
	return err
}

// NewFormPage creates a form and redirects to its page.
func (h *Handler) NewFormPage(w http.ResponseWriter, r *http.Request) {
	f, err := h.forms.Create()
	if err != nil {
		h.formsFull(w, err)
		return
	}
	http.Redirect(w, r, f.ID(), http.StatusSeeOther)
}

// FormPage renders the create-article form.
func (h *Handler) FormPage(w http.ResponseWriter, r *http.Request) {
	f, ok := h.form(w, r)
	if !ok {
		return
	}
	if err := RenderForm(w, f.Snapshot(), h.apiBase); err != nil {
		h.logger.Error("render form page", zap.String("form_id", f.ID()), zap.Error(err))
		response.InternalError(w)
	}
}
