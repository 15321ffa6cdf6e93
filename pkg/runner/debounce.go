package runner

import (
	"sync"
	"time"

	"github.com/xiaozhch5/openclaw/internal/observability"
)

// toolUpdateDebouncer batches tool progress notices so a chatty tool does
// not flood observers. Metas accumulate per tool name in arrival order and
// the emit callback fires at most once per interval.
type toolUpdateDebouncer struct {
	interval time.Duration
	emit     func(tool string, metas []string)

	mu      sync.Mutex
	pending map[string][]string
	order   []string
	timer   *time.Timer
	stopped bool
}

func newToolUpdateDebouncer(interval time.Duration, emit func(tool string, metas []string)) *toolUpdateDebouncer {
	if interval <= 0 {
		interval = debounceInterval
	}
	return &toolUpdateDebouncer{
		interval: interval,
		emit:     emit,
		pending:  make(map[string][]string),
	}
}

// Push records a tool progress notice and arms the flush timer if idle.
func (d *toolUpdateDebouncer) Push(tool, meta string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if _, ok := d.pending[tool]; !ok {
		d.order = append(d.order, tool)
	}
	d.pending[tool] = append(d.pending[tool], meta)

	if d.timer == nil {
		d.timer = time.AfterFunc(d.interval, d.Flush)
	}
}

// Flush emits everything pending and disarms the timer. Idempotent: a flush
// with nothing pending emits nothing.
func (d *toolUpdateDebouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if len(d.order) == 0 {
		d.mu.Unlock()
		return
	}
	pending := d.pending
	order := d.order
	d.pending = make(map[string][]string)
	d.order = nil
	d.mu.Unlock()

	for _, tool := range order {
		d.emit(tool, pending[tool])
	}
	observability.RecordDebouncerFlush()
}

// Stop flushes once and rejects further pushes.
func (d *toolUpdateDebouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.Flush()
}
