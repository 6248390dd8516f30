package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// State - состояние передачи. Терминальные: completed и error; передачу в
// состоянии error менеджер не перезапускает сам, решение за пользователем.
type State string

const (
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateError     State = "error"
)

// Manager ведёт независимые параллельные передачи. Пауза или отмена одной
// не трогает остальные: у каждой передачи собственный context.
type Manager struct {
	baseURL  string
	token    string
	client   *http.Client
	cache    *ChunkCache
	observer Observer

	mu        sync.Mutex
	transfers map[uuid.UUID]*Transfer
}

type Option func(*Manager)

// WithObserver подписывает наблюдателя на обновления прогресса.
func WithObserver(fn Observer) Option {
	return func(m *Manager) { m.observer = fn }
}

// WithHTTPClient подменяет HTTP-клиент, в основном для тестов.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

func NewManager(baseURL, token string, cache *ChunkCache, opts ...Option) *Manager {
	m := &Manager{
		baseURL:   baseURL,
		token:     token,
		client:    http.DefaultClient,
		cache:     cache,
		transfers: make(map[uuid.UUID]*Transfer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type transferKind int

const (
	kindUpload transferKind = iota
	kindDownload
)

// Transfer - одна передача с собственным cancel и трекером скорости.
type Transfer struct {
	ID   uuid.UUID
	Name string

	kind    transferKind
	mu      sync.Mutex
	state   State
	err     error
	cancel  context.CancelFunc
	total   int64
	tracker *tracker
	done    chan struct{}

	// upload
	source   io.ReaderAt
	size     int64
	parentID uuid.UUID

	// download
	fileID uuid.UUID
	sink   io.Writer
}

// State возвращает текущее состояние передачи.
func (t *Transfer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// TotalSize возвращает полный размер передачи. Для скачивания известен
// после первого ответа сервера, до того 0.
func (t *Transfer) TotalSize() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Err возвращает ошибку терминального состояния error.
func (t *Transfer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Wait блокируется до выхода передачи из активной фазы: завершение,
// ошибка или пауза.
func (t *Transfer) Wait() {
	<-t.done
}

func (t *Transfer) setState(s State, err error) {
	t.mu.Lock()
	t.state = s
	t.err = err
	t.mu.Unlock()
}

// transition переводит state только если передача всё ещё активна. Пауза,
// случившаяся раньше ошибки отменённого запроса, не затирается ею.
func (t *Transfer) transition(s State, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return false
	}
	t.state = s
	t.err = err
	return true
}

func (m *Manager) get(id uuid.UUID) (*Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok {
		return nil, fmt.Errorf("unknown transfer %s", id)
	}
	return t, nil
}

// Get возвращает передачу по идентификатору.
func (m *Manager) Get(id uuid.UUID) (*Transfer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	return t, ok
}

// Pause останавливает активную передачу, сохраняя уже переданное.
func (m *Manager) Pause(id uuid.UUID) error {
	t, err := m.get(id)
	if err != nil {
		return err
	}
	if !t.transition(StatePaused, nil) {
		return fmt.Errorf("transfer %s is not active", id)
	}
	t.cancel()
	return nil
}

// Resume продолжает приостановленную передачу с последней известной
// позиции.
func (m *Manager) Resume(ctx context.Context, id uuid.UUID) error {
	t, err := m.get(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.state != StatePaused {
		t.mu.Unlock()
		return fmt.Errorf("transfer %s is not paused", id)
	}
	t.state = StateActive
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	switch t.kind {
	case kindUpload:
		go m.runUpload(runCtx, t)
	case kindDownload:
		go m.runDownload(runCtx, t)
	}
	return nil
}

// Remove снимает передачу с учёта. Активная принудительно отменяется, её
// куски в кеше выбрасываются.
func (m *Manager) Remove(id uuid.UUID) error {
	m.mu.Lock()
	t, ok := m.transfers[id]
	delete(m.transfers, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown transfer %s", id)
	}

	if t.transition(StateError, context.Canceled) {
		t.cancel()
	}
	// Дожидаемся выхода рабочей горутины, чтобы чистка кеша не
	// гналась с записью её последнего куска.
	<-t.done
	if t.kind == kindDownload {
		return m.cache.Purge(id)
	}
	return nil
}

func (m *Manager) register(t *Transfer) {
	m.mu.Lock()
	m.transfers[t.ID] = t
	m.mu.Unlock()
}

// notify отправляет наблюдателю снимок прогресса, прореживая частоту.
// force обходит прореживание для переходов состояния.
func (m *Manager) notify(t *Transfer, force bool) {
	if m.observer == nil {
		return
	}
	if !force && !t.tracker.ShouldNotify() {
		return
	}
	transferred := t.tracker.Transferred()
	speed := t.tracker.Speed()
	total := t.TotalSize()
	m.observer(Progress{
		TransferID:  t.ID,
		Name:        t.Name,
		State:       t.State(),
		Transferred: transferred,
		TotalSize:   total,
		Speed:       speed,
		ETA:         eta(total-transferred, speed),
	})
}

func (m *Manager) authorize(req *http.Request) {
	if m.token != "" {
		req.Header.Set("Authorization", m.token)
	}
}
