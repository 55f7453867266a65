package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"
)

// BarWidth is the number of cells between the brackets.
const BarWidth = 50

// Render draws `[=====>    ] NN.N% (done/total) - url`. Counts are clamped so
// any input renders.
func Render(done, total int, url string) string {
	if total < 0 {
		total = 0
	}
	if done < 0 {
		done = 0
	}
	if done > total {
		done = total
	}
	ratio := 0.0
	if total > 0 {
		ratio = float64(done) / float64(total)
	}
	filled := int(ratio * BarWidth)

	var b strings.Builder
	b.Grow(BarWidth + len(url) + 32)
	b.WriteByte('[')
	b.WriteString(strings.Repeat("=", filled))
	if filled < BarWidth {
		b.WriteByte('>')
		b.WriteString(strings.Repeat(" ", BarWidth-filled-1))
	}
	fmt.Fprintf(&b, "] %.1f%% (%d/%d) - %s", ratio*100, done, total, url)
	return b.String()
}

// Bar rewrites one terminal line in place. Write errors are ignored.
type Bar struct {
	mu      sync.Mutex
	w       io.Writer
	lastLen int
	dirty   bool
}

// NewBar returns a Bar drawing to w; a nil w discards output.
func NewBar(w io.Writer) *Bar {
	if w == nil {
		w = io.Discard
	}
	return &Bar{w: w}
}

// Update redraws the bar.
func (b *Bar) Update(done, total int, url string) {
	line := Render(done, total, url)
	n := utf8.RuneCountInString(line)

	b.mu.Lock()
	defer b.mu.Unlock()
	pad := ""
	if n < b.lastLen {
		pad = strings.Repeat(" ", b.lastLen-n)
	}
	_, _ = io.WriteString(b.w, "\r"+line+pad)
	b.lastLen = n
	b.dirty = true
}

// Finish ends the bar line so later output starts on a fresh line.
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.dirty {
		return
	}
	_, _ = io.WriteString(b.w, "\n")
	b.lastLen = 0
	b.dirty = false
}

// Println prints line above the bar, clearing whatever the bar last drew.
func (b *Bar) Println(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pad := ""
	if n := utf8.RuneCountInString(line); n < b.lastLen {
		pad = strings.Repeat(" ", b.lastLen-n)
	}
	prefix := ""
	if b.dirty {
		prefix = "\r"
	}
	_, _ = io.WriteString(b.w, prefix+line+pad+"\n")
	b.lastLen = 0
	b.dirty = false
}
