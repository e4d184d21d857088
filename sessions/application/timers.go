package application

import "time"

// timerBundle holds the non-serializable timers of one session record.
// All methods must be called with the manager lock held.
type timerBundle struct {
	init  *time.Timer // initialization / fast-path window
	qr    *time.Timer // QR expiry
	retry *time.Timer // delayed automatic re-initialization
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (b *timerBundle) armInit(d time.Duration, fn func()) {
	stopTimer(&b.init)
	b.init = time.AfterFunc(d, fn)
}

// armQR replaces any armed QR timer; only one may exist per session.
func (b *timerBundle) armQR(d time.Duration, fn func()) {
	stopTimer(&b.qr)
	b.qr = time.AfterFunc(d, fn)
}

func (b *timerBundle) armRetry(d time.Duration, fn func()) {
	stopTimer(&b.retry)
	b.retry = time.AfterFunc(d, fn)
}

func (b *timerBundle) stopInit() { stopTimer(&b.init) }
func (b *timerBundle) stopQR()   { stopTimer(&b.qr) }

func (b *timerBundle) stopAll() {
	stopTimer(&b.init)
	stopTimer(&b.qr)
	stopTimer(&b.retry)
}
