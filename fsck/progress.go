package fsck

import (
	"fmt"
	"io"
	"strings"
)

// progress renders pass progress either as an in-place bar for a
// terminal or as machine-readable lines for another process to parse.
type progress struct {
	w       io.Writer
	machine bool
	device  string
	cur     int
	end     int
	lastLen int
}

func (p *progress) add(pass, n int) {
	if p == nil || p.w == nil {
		return
	}
	p.cur += n
	if p.machine {
		fmt.Fprintf(p.w, "%d %d %d %s\n", pass, p.cur, p.end, p.device)
		return
	}
	percent := 0.0
	if p.end > 0 {
		percent = 100.0 * float64(p.cur) / float64(p.end)
	}
	dash := int(percent / 2.0)
	if dash > 50 {
		dash = 50
	}
	line := fmt.Sprintf("Pass %d |%s%s| %5.1f%%", pass,
		strings.Repeat("=", dash), strings.Repeat(" ", 50-dash), percent)
	fmt.Fprintf(p.w, "\r%s", line)
	if len(line) < p.lastLen {
		fmt.Fprintf(p.w, "%s", strings.Repeat(" ", p.lastLen-len(line)))
	}
	p.lastLen = len(line)
}

func (p *progress) clear() {
	if p == nil || p.w == nil || p.machine || p.lastLen == 0 {
		return
	}
	fmt.Fprintf(p.w, "\r%s\r", strings.Repeat(" ", p.lastLen))
	p.lastLen = 0
}
