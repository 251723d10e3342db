package hubs

import (
	"sync"
	"time"

	"github.com/etiennebl/hilolink/internal/pkg/logging"
)

// DefaultWatchdogTimeout is scaled to the vendor's heartbeat interval; the
// device hub emits a heartbeat every minute or so.
const DefaultWatchdogTimeout = 5 * time.Minute

// Watchdog forces a reconnection when no inbound frame arrives within the
// timeout.  The action runs on its own goroutine because expiry fires
// outside any request/response call stack.
type Watchdog struct {
	mu      sync.Mutex
	timeout time.Duration
	action  func()
	timer   *time.Timer
}

func NewWatchdog(timeout time.Duration, action func()) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultWatchdogTimeout
	}
	return &Watchdog{timeout: timeout, action: action}
}

// Trigger arms the watchdog, resetting any pending expiry.
func (w *Watchdog) Trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.timeout, w.expire)
}

// Cancel disarms the watchdog.
func (w *Watchdog) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watchdog) expire() {
	logging.Logger(nil).Warn("Websocket: Watchdog expired")
	go w.action()
}
