package transfer

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Progress - снимок состояния передачи для наблюдателя.
type Progress struct {
	TransferID  uuid.UUID     `json:"transferId"`
	Name        string        `json:"name"`
	State       State         `json:"state"`
	Transferred int64         `json:"transferred"`
	TotalSize   int64         `json:"totalSize"`
	Speed       float64       `json:"speed"` // байт/сек по скользящему окну
	ETA         time.Duration `json:"eta"`
}

// Observer получает прореженные обновления прогресса. Вызывается не чаще
// notifyInterval, независимо от темпа чтения тела.
type Observer func(Progress)

const (
	speedWindow    = 500 * time.Millisecond
	notifyInterval = 100 * time.Millisecond
)

type sample struct {
	at    time.Time
	bytes int64
}

// tracker пересчитывает скорость по скользящему окну, а не по всей
// длительности передачи: после паузы мгновенная скорость не размывается
// временем простоя.
type tracker struct {
	mu          sync.Mutex
	samples     []sample
	transferred int64
	lastNotify  time.Time
	now         func() time.Time
}

func newTracker() *tracker {
	return &tracker{now: time.Now}
}

// Add учитывает n переданных байт.
func (t *tracker) Add(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transferred += n
	t.samples = append(t.samples, sample{at: t.now(), bytes: n})
	t.trim()
}

func (t *tracker) trim() {
	cutoff := t.now().Add(-speedWindow)
	i := 0
	for i < len(t.samples) && t.samples[i].at.Before(cutoff) {
		i++
	}
	t.samples = t.samples[i:]
}

// Transferred возвращает суммарное число переданных байт.
func (t *tracker) Transferred() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transferred
}

// SetTransferred выставляет позицию после резюма с известного offset.
func (t *tracker) SetTransferred(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transferred = n
	t.samples = t.samples[:0]
}

// Speed возвращает скорость в байтах в секунду по последнему окну.
func (t *tracker) Speed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trim()
	if len(t.samples) == 0 {
		return 0
	}
	var total int64
	for _, s := range t.samples {
		total += s.bytes
	}
	elapsed := t.now().Sub(t.samples[0].at)
	if elapsed <= 0 {
		elapsed = speedWindow
	}
	return float64(total) / elapsed.Seconds()
}

// ShouldNotify прореживает уведомления наблюдателя. true не чаще чем раз
// в notifyInterval.
func (t *tracker) ShouldNotify() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if now.Sub(t.lastNotify) < notifyInterval {
		return false
	}
	t.lastNotify = now
	return true
}

func eta(remaining int64, speed float64) time.Duration {
	if speed <= 0 || remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / speed * float64(time.Second))
}
