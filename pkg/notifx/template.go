package notifx

import (
	"bytes"
	htmltemplate "html/template"
	"sync"
	texttemplate "text/template"
)

// EmailTemplate is the source of a named email. Any part may be empty;
// empty parts are left to the message passed at send time.
type EmailTemplate struct {
	Subject string
	HTML    string
	Text    string
}

// RenderedEmail is an EmailTemplate executed against data.
type RenderedEmail struct {
	Subject string
	HTML    string
	Text    string
}

type compiledTemplate struct {
	subject *texttemplate.Template
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

// TemplateRegistry stores named email templates. HTML parts are escaped
// with html/template, subject and text parts rendered verbatim.
type TemplateRegistry struct {
	templates map[string]*compiledTemplate
	mu        sync.RWMutex
}

func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{
		templates: make(map[string]*compiledTemplate),
	}
}

// Register parses every non-empty part of tmpl and stores it under name,
// replacing any earlier template with that name.
func (r *TemplateRegistry) Register(name string, tmpl EmailTemplate) error {
	c := &compiledTemplate{}
	var err error

	if tmpl.Subject != "" {
		if c.subject, err = texttemplate.New(name + ".subject").Parse(tmpl.Subject); err != nil {
			return parseError(name, "subject", err)
		}
	}
	if tmpl.HTML != "" {
		if c.html, err = htmltemplate.New(name + ".html").Parse(tmpl.HTML); err != nil {
			return parseError(name, "html", err)
		}
	}
	if tmpl.Text != "" {
		if c.text, err = texttemplate.New(name + ".text").Parse(tmpl.Text); err != nil {
			return parseError(name, "text", err)
		}
	}

	r.mu.Lock()
	r.templates[name] = c
	r.mu.Unlock()
	return nil
}

// Render executes the named template with data.
func (r *TemplateRegistry) Render(name string, data any) (*RenderedEmail, error) {
	r.mu.RLock()
	c, ok := r.templates[name]
	r.mu.RUnlock()

	if !ok {
		return nil, notifxErrors.New(ErrTemplateNotFound).WithDetail("template", name)
	}

	out := &RenderedEmail{}
	var buf bytes.Buffer

	if c.subject != nil {
		if err := c.subject.Execute(&buf, data); err != nil {
			return nil, renderError(name, "subject", err)
		}
		out.Subject = buf.String()
		buf.Reset()
	}
	if c.html != nil {
		if err := c.html.Execute(&buf, data); err != nil {
			return nil, renderError(name, "html", err)
		}
		out.HTML = buf.String()
		buf.Reset()
	}
	if c.text != nil {
		if err := c.text.Execute(&buf, data); err != nil {
			return nil, renderError(name, "text", err)
		}
		out.Text = buf.String()
	}

	return out, nil
}

func parseError(name, part string, err error) error {
	return notifxErrors.NewWithCause(ErrTemplateParse, err).
		WithDetail("template", name).
		WithDetail("part", part)
}

func renderError(name, part string, err error) error {
	return notifxErrors.NewWithCause(ErrTemplateRender, err).
		WithDetail("template", name).
		WithDetail("part", part)
}
