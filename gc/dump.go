package gc

import (
	"fmt"
	"io"

	"github.com/tinygo-org/semispace/memory"
)

const (
	colorHead  = "\x1b[32m"
	colorTail  = "\x1b[36m"
	colorFree  = "\x1b[2m"
	colorReset = "\x1b[0m"
)

// Dump writes the state of each word of the active space to w, 64 words per
// row: '*' for the first word of an object, '-' for the rest of it and '·'
// for free space. If color is set, the map uses ANSI colors.
func (h *Heap) Dump(w io.Writer, color bool) {
	span := h.Active()
	fmt.Fprintf(w, "heap: %v..%v, %d/%d bytes used\n", span.Bottom, span.End, span.Used(), span.Size())

	words := span.Size() / memory.WordSize
	var (
		word    uintptr
		current string
	)
	emit := func(c byte, col string) {
		if color && col != current {
			io.WriteString(w, col)
			current = col
		}
		switch c {
		case '.':
			io.WriteString(w, "·")
		default:
			w.Write([]byte{c})
		}
		if word%64 == 63 || word+1 == words {
			if color {
				io.WriteString(w, colorReset)
				current = ""
			}
			io.WriteString(w, "\n")
		}
		word++
	}

	h.Walk(func(obj Object) bool {
		n := memory.AlignUp(obj.Size()) / memory.WordSize
		emit('*', colorHead)
		for i := uintptr(1); i < n; i++ {
			emit('-', colorTail)
		}
		return true
	})
	for word < words {
		emit('.', colorFree)
	}
}
