package story

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// PromptRenderer turns request context into the original generation prompt.
// The workflow treats the result as opaque text.
type PromptRenderer interface {
	Render(ctx context.Context, in PromptInput) (string, error)
}

// PromptInput is the renderer's view of a request.
type PromptInput struct {
	StoryType     StoryType
	Language      string
	Moral         string
	Theme         string
	LengthMinutes int
	WordCount     int
	Child         ChildContext
	Hero          *HeroContext
	PriorStory    *PriorStory
}

// PromptInputFromRequest derives renderer input from a request.
func PromptInputFromRequest(r Request, cfg Config) PromptInput {
	return PromptInput{
		StoryType:     r.StoryType,
		Language:      r.Language,
		Moral:         r.Moral,
		Theme:         r.Theme,
		LengthMinutes: r.StoryLengthMinutes,
		WordCount:     r.StoryLengthMinutes * cfg.ReadingSpeedWPM,
		Child:         r.Child,
		Hero:          r.Hero,
		PriorStory:    r.PriorStory,
	}
}

// TemplateRenderer renders prompts from per-language text/template sources.
// English is the fallback for languages without a template.
type TemplateRenderer struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

var templateFuncs = template.FuncMap{
	"join": strings.Join,
}

// NewTemplateRenderer returns a renderer loaded with the built-in English and
// Spanish templates.
func NewTemplateRenderer() *TemplateRenderer {
	r := &TemplateRenderer{templates: make(map[string]*template.Template)}
	for lang, src := range builtinTemplates {
		if err := r.SetTemplate(lang, src); err != nil {
			panic(fmt.Sprintf("builtin %s template: %v", lang, err))
		}
	}
	return r
}

// SetTemplate parses src and registers it for language.
func (r *TemplateRenderer) SetTemplate(language, src string) error {
	tmpl, err := template.New(language).Funcs(templateFuncs).Option("missingkey=error").Parse(src)
	if err != nil {
		return fmt.Errorf("parse %s prompt template: %w", language, err)
	}
	r.mu.Lock()
	r.templates[canonicalLanguage(language)] = tmpl
	r.mu.Unlock()
	return nil
}

// Render implements PromptRenderer.
func (r *TemplateRenderer) Render(_ context.Context, in PromptInput) (string, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[canonicalLanguage(in.Language)]
	if !ok {
		tmpl, ok = r.templates["en"]
	}
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("no prompt template for language %q", in.Language)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, in); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}

var builtinTemplates = map[string]string{
	"en": `Write a calming bedtime story for {{.Child.Name}}, a child in the {{.Child.AgeCategory}} age group.
{{- if .Child.Gender}} {{.Child.Name}} is a {{.Child.Gender}}.{{end}}
{{- if .Child.Interests}} {{.Child.Name}} loves {{join .Child.Interests ", "}}.{{end}}
{{if eq .StoryType "hero"}}The main character is {{.Hero.Name}}{{if .Hero.Description}}, {{.Hero.Description}}{{end}}.
{{else if eq .StoryType "combined"}}{{.Child.Name}} goes on the adventure together with {{.Hero.Name}}{{if .Hero.Description}}, {{.Hero.Description}}{{end}}.
{{else}}{{.Child.Name}} is the main character.
{{end -}}
The story should teach this moral: {{.Moral}}.
{{- if .Theme}}
The theme of the story is {{.Theme}}; make it central to the plot.{{end}}
{{- if .PriorStory}}
Continue from the previous story "{{.PriorStory.Title}}": {{.PriorStory.Summary}}{{end}}
It should take about {{.LengthMinutes}} minutes to read aloud (around {{.WordCount}} words).
Use gentle language, avoid anything frightening, and end peacefully so the child can fall asleep.
Invent original characters for the story.`,

	"es": `Escribe un cuento tranquilo para dormir para {{.Child.Name}}, de la categoría de edad {{.Child.AgeCategory}}.
{{- if .Child.Interests}} A {{.Child.Name}} le encanta: {{join .Child.Interests ", "}}.{{end}}
{{if eq .StoryType "hero"}}El personaje principal es {{.Hero.Name}}{{if .Hero.Description}}, {{.Hero.Description}}{{end}}.
{{else if eq .StoryType "combined"}}{{.Child.Name}} vive la aventura junto a {{.Hero.Name}}{{if .Hero.Description}}, {{.Hero.Description}}{{end}}.
{{else}}{{.Child.Name}} es el personaje principal.
{{end -}}
El cuento debe enseñar esta moraleja: {{.Moral}}.
{{- if .Theme}}
El tema del cuento es {{.Theme}}; hazlo central en la trama.{{end}}
{{- if .PriorStory}}
Continúa el cuento anterior "{{.PriorStory.Title}}": {{.PriorStory.Summary}}{{end}}
Debe durar unos {{.LengthMinutes}} minutos leído en voz alta (unas {{.WordCount}} palabras).
Usa un lenguaje suave, evita cualquier cosa que dé miedo y termina de forma serena para que el niño se duerma.
Inventa personajes originales para el cuento.`,
}
