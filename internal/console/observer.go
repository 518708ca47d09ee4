package console

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/dmva/pkg/va"
)

// Palette.
var (
	colorOK     = lipgloss.Color("#22c55e")
	colorWarn   = lipgloss.Color("#d97706")
	colorErr    = lipgloss.Color("#dc2626")
	colorEvent  = lipgloss.Color("#3b82f6")
	colorDimmed = lipgloss.Color("#6b7280")
)

type styles struct {
	ok, warn, err, event, dim, prompt lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		ok:     r.NewStyle().Foreground(colorOK),
		warn:   r.NewStyle().Foreground(colorWarn),
		err:    r.NewStyle().Foreground(colorErr),
		event:  r.NewStyle().Foreground(colorEvent),
		dim:    r.NewStyle().Foreground(colorDimmed),
		prompt: r.NewStyle().Foreground(colorDimmed),
	}
}

// Observer returns a [va.Observer] printing every notification to the
// console output.
func (c *Console) Observer() va.Observer {
	return printer{c}
}

type printer struct{ c *Console }

func (p printer) codeStyle(code va.ResultCode) lipgloss.Style {
	switch code {
	case va.Success:
		return p.c.styles.ok
	case va.Canceled:
		return p.c.styles.warn
	default:
		return p.c.styles.err
	}
}

func (p printer) line(style lipgloss.Style, format string, args ...any) {
	p.c.println(style.Render(fmt.Sprintf(format, args...)))
}

func (p printer) OnStateChanged(state va.LifecycleState, code va.ResultCode, message string) {
	p.line(p.codeStyle(code), "session %s [%s]%s", state, code, suffix(message))
}

func (p printer) OnDialogResult(payload json.RawMessage, code va.ResultCode, message string) {
	pl := va.Payload(payload)
	intent := pl.Intent()
	if intent == "" {
		intent = "-"
	}
	p.line(p.codeStyle(code), "dialog result [%s] intent=%s%s", code, intent, suffix(message))
	if len(payload) > 0 {
		var buf bytes.Buffer
		if err := json.Indent(&buf, payload, "  ", "  "); err == nil {
			p.c.println("  " + buf.String())
		}
	}
}

func (p printer) OnVocabularyResult(code va.ResultCode, message string) {
	p.line(p.codeStyle(code), "vocabulary [%s]%s", code, suffix(message))
}

func (p printer) OnDialogStarted() {
	p.line(p.c.styles.dim, "dialog started")
}

func (p printer) OnDialogStopped() {
	p.line(p.c.styles.dim, "dialog stopped")
}

func (p printer) OnEvent(ev va.Event) {
	style := p.c.styles.event
	if ev.Type == va.EventError {
		style = p.c.styles.err
	}
	p.line(style, "event %s%s", ev.Type, suffix(ev.Message))
}

func suffix(message string) string {
	if message == "" {
		return ""
	}
	return ": " + message
}
