package transfer

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

// UploadRequest описывает новую загрузку. Source должен позволять чтение
// с произвольного offset: резюм начинается не с нуля.
type UploadRequest struct {
	ParentID uuid.UUID // uuid.Nil - корень владельца
	Filename string
	Source   io.ReaderAt
	Size     int64
}

// StartUpload начинает возобновляемую загрузку. Идентификатор передачи
// выбирается здесь и переживает паузы: сервер по нему склеивает куски.
func (m *Manager) StartUpload(ctx context.Context, req UploadRequest) (*Transfer, error) {
	if req.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	if req.Source == nil {
		return nil, fmt.Errorf("source is required")
	}

	t := &Transfer{
		ID:       uuid.New(),
		Name:     req.Filename,
		kind:     kindUpload,
		state:    StateActive,
		tracker:  newTracker(),
		done:     make(chan struct{}),
		source:   req.Source,
		size:     req.Size,
		total:    req.Size,
		parentID: req.ParentID,
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	m.register(t)
	go m.runUpload(runCtx, t)
	return t, nil
}

func (m *Manager) runUpload(ctx context.Context, t *Transfer) {
	defer close(t.done)

	err := m.uploadOnce(ctx, t, t.tracker.Transferred())
	switch {
	case err == nil:
		t.setState(StateCompleted, nil)
	case t.State() == StatePaused:
		// Отмена пришла от Pause, bytes-sent уже зафиксирован трекером
	default:
		t.transition(StateError, err)
		log.Printf("[Transfer] Загрузка %s завершилась ошибкой: %v", t.ID, err)
	}
	m.notify(t, true)
}

func (m *Manager) uploadOnce(ctx context.Context, t *Transfer, startByte int64) error {
	resp, err := m.sendChunk(ctx, t, startByte)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusConflict {
		// Сервер разошёлся с нами по offset: пересинхронизируемся на
		// фактическую длину частичного блоба и повторяем один раз
		stored, perr := strconv.ParseInt(resp.Header.Get("x-current-size"), 10, 64)
		resp.Body.Close()
		if perr != nil {
			return fmt.Errorf("offset conflict without x-current-size header")
		}
		log.Printf("[Transfer] Рассинхронизация offset для %s: наш %d, сервер %d", t.ID, startByte, stored)
		t.tracker.SetTransferred(stored)

		resp, err = m.sendChunk(ctx, t, stored)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

func (m *Manager) sendChunk(ctx context.Context, t *Transfer, startByte int64) (*http.Response, error) {
	url := m.baseURL + "/file"
	if t.parentID != uuid.Nil {
		url = fmt.Sprintf("%s/file/%s", m.baseURL, t.parentID)
	}

	body := &countingReader{
		r:       io.NewSectionReader(t.source, startByte, t.size-startByte),
		tracker: t.tracker,
		notify:  func() { m.notify(t, false) },
	}
	t.tracker.SetTransferred(startByte)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	m.authorize(req)
	req.Header.Set("filename", t.Name)
	req.Header.Set("x-file-id", t.ID.String())
	req.Header.Set("x-start-byte", strconv.FormatInt(startByte, 10))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = t.size - startByte

	return m.client.Do(req)
}

// countingReader учитывает отданные в запрос байты по мере чтения тела
// транспортом.
type countingReader struct {
	r       io.Reader
	tracker *tracker
	notify  func()
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.tracker.Add(int64(n))
		c.notify()
	}
	return n, err
}
