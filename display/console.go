// Package display presents caption results: a terminal line that is
// rewritten while an utterance is in progress, and a websocket feed for
// overlays and browsers.
package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/d1nch8g/livecaption/stt"
)

// Console replaces the current line on partials and moves to a new line on
// finals.
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	partial int
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Show is an engine sink.
func (c *Console) Show(res stt.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := utf8.RuneCountInString(res.Text)
	pad := ""
	if c.partial > n {
		pad = strings.Repeat(" ", c.partial-n)
	}

	if res.IsFinal {
		fmt.Fprintf(c.w, "\r%s%s\n", res.Text, pad)
		c.partial = 0
		return
	}
	fmt.Fprintf(c.w, "\r%s%s", res.Text, pad)
	c.partial = n
}
