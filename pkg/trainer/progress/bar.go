package progress

import (
	"fmt"
	"io"
	"strings"
)

// Bar renders one line of step progress.
type Bar struct {
	Name      string
	Total     int64 // total steps, -1 for indeterminate
	Completed int64
	Width     int
	Status    string
	Done      bool
	mp        *MultiBar
}

func (b *Bar) Write(w io.Writer) {
	if b.Width == 0 {
		b.Width = 40
	}
	var completed int
	var status string

	if b.Done {
		completed = b.Width
		status = b.Status
	} else if b.Total <= 0 {
		completed = 0
		status = b.Status
	} else {
		completed = int(float64(b.Width) * float64(b.Completed) / float64(b.Total))
		if completed < 0 {
			completed = 0
		}
		if completed > b.Width {
			completed = b.Width
		}
		status = fmt.Sprintf("%d/%d", b.Completed, b.Total)
	}

	fmt.Fprintf(w, "%s [%s%s] %s\n",
		b.Name,
		strings.Repeat("+", completed),
		strings.Repeat("-", b.Width-completed),
		status,
	)
}

func (b *Bar) SetProgress(completed, total int64) {
	b.Completed, b.Total = completed, total
	b.Notify()
}

func (b *Bar) SetStatus(name, status string) {
	b.Name, b.Status = name, status
	b.Notify()
}

func (b *Bar) Finish(status string) {
	b.Status = status
	b.Done = true
	b.Notify()
}

func (b *Bar) Notify() {
	if b.mp != nil {
		b.mp.markChanged()
	}
}
