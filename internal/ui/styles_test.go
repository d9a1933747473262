package ui

import "testing"

func TestRenderPlain(t *testing.T) {
	DisableColor()
	for name, fn := range map[string]func(string) string{
		"pass":   RenderPass,
		"warn":   RenderWarn,
		"fail":   RenderFail,
		"accent": RenderAccent,
		"muted":  RenderMuted,
	} {
		if got := fn("ok"); got != "ok" {
			t.Errorf("%s: got %q, want plain text without color", name, got)
		}
	}
}
