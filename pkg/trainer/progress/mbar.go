package progress

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// MultiBar redraws its bars in place on a ticker. A zero refresh rate
// disables rendering entirely, which is how quiet runs turn the bars off.
type MultiBar struct {
	w               io.Writer
	width           int
	refresh         time.Duration
	lastWrittenRows int
	bars            []*Bar
	barslock        sync.Mutex

	haschange bool
}

func NewMultiBar(dest io.Writer, width int, refresh time.Duration) *MultiBar {
	return &MultiBar{
		w:       dest,
		width:   width,
		refresh: refresh,
	}
}

func (m *MultiBar) Enabled() bool {
	return m.refresh > 0
}

func (m *MultiBar) NewBar(name string, status string) *Bar {
	bar := &Bar{
		mp:     m,
		Name:   name,
		Status: status,
		Width:  m.width,
	}
	m.barslock.Lock()
	m.bars = append(m.bars, bar)
	m.barslock.Unlock()
	m.print()
	return bar
}

func (m *MultiBar) markChanged() {
	m.barslock.Lock()
	m.haschange = true
	m.barslock.Unlock()
}

func (m *MultiBar) print() {
	if !m.Enabled() {
		return
	}
	m.barslock.Lock()
	defer m.barslock.Unlock()

	buf := &bytes.Buffer{}

	// clear previous rows
	if m.lastWrittenRows > 0 {
		fmt.Fprintf(buf, "\033[%dA\033[J", m.lastWrittenRows)
	}
	for _, b := range m.bars {
		b.Write(buf)
	}
	_, _ = m.w.Write(buf.Bytes())
	m.lastWrittenRows = len(m.bars)
}

// Run redraws until the context is cancelled.
func (m *MultiBar) Run(ctx context.Context) {
	if !m.Enabled() {
		return
	}
	t := time.NewTicker(m.refresh)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.barslock.Lock()
			changed := m.haschange
			m.haschange = false
			m.barslock.Unlock()
			if changed {
				m.print()
			}
		}
	}
}
