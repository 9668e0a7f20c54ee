package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// markdownRenderer renders request descriptions and recreates the renderer when wrap width changes.
type markdownRenderer struct {
	width    int
	renderer *glamour.TermRenderer
	cacheKey string
	cached   string
}

// render converts markdown into ANSI-styled text, reusing the last result for identical input.
func (r *markdownRenderer) render(markdown string, width int) string {
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return ""
	}
	wrapWidth := max(width, 24)
	if r.renderer != nil && r.width == wrapWidth && r.cacheKey == markdown {
		return r.cached
	}

	if r.renderer == nil || r.width != wrapWidth {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(wrapWidth),
		)
		if err != nil {
			return markdown
		}
		r.renderer = renderer
		r.width = wrapWidth
	}

	rendered, err := r.renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	r.cacheKey = markdown
	r.cached = strings.Trim(rendered, "\n")
	return r.cached
}
