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

const downloadChunkSize = 64 * 1024

// StartDownload начинает возобновляемое скачивание файла в sink. Принятые
// куски по мере прихода пишутся в durable-кеш, так что резюм возможен
// даже после перезапуска процесса. sink получает итоговый артефакт одним
// куском после подтверждения полного диапазона.
func (m *Manager) StartDownload(ctx context.Context, fileID uuid.UUID, name string, sink io.Writer) (*Transfer, error) {
	t := &Transfer{
		ID:      uuid.New(),
		Name:    name,
		kind:    kindDownload,
		state:   StateActive,
		tracker: newTracker(),
		done:    make(chan struct{}),
		fileID:  fileID,
		sink:    sink,
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	m.register(t)
	go m.runDownload(runCtx, t)
	return t, nil
}

func (m *Manager) runDownload(ctx context.Context, t *Transfer) {
	defer close(t.done)

	err := m.downloadOnce(ctx, t)
	switch {
	case err == nil:
		t.setState(StateCompleted, nil)
	case t.State() == StatePaused:
		// Отмена пришла от Pause, куски в кеше остаются
	default:
		t.transition(StateError, err)
		log.Printf("[Transfer] Скачивание %s завершилось ошибкой: %v", t.ID, err)
	}
	m.notify(t, true)
}

func (m *Manager) downloadOnce(ctx context.Context, t *Transfer) error {
	start, err := m.cache.NextOffset(t.ID)
	if err != nil {
		return err
	}
	t.tracker.SetTransferred(start)

	// Пауза могла застать передачу после записи последнего куска, но до
	// чтения EOF. Тогда весь диапазон уже в кеше, а запрос bytes=<total>-
	// честно получил бы 416. Просить у сервера нечего, сразу собираем.
	if total := t.TotalSize(); total > 0 && start >= total {
		return m.finishDownload(t, total)
	}

	url := fmt.Sprintf("%s/file/%s?action=download", m.baseURL, t.fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	m.authorize(req)
	if start > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	total, err := strconv.ParseInt(resp.Header.Get("X-Total-Size"), 10, 64)
	if err != nil {
		return fmt.Errorf("missing X-Total-Size header: %w", err)
	}
	t.mu.Lock()
	t.total = total
	t.mu.Unlock()

	offset := start
	buf := make([]byte, downloadChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			// Отменённый между чтениями запрос не должен записать
			// кусок, пришедший уже после отмены
			if ctx.Err() != nil {
				return ctx.Err()
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := m.cache.Put(t.ID, offset, chunk); err != nil {
				return err
			}
			offset += int64(n)
			t.tracker.Add(int64(n))
			m.notify(t, false)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	if offset < total {
		return fmt.Errorf("stream ended early: have %d of %d bytes", offset, total)
	}

	return m.finishDownload(t, total)
}

// finishDownload вызывается только после подтверждения полного диапазона:
// собирает артефакт из кеша в sink и вычищает куски передачи.
func (m *Manager) finishDownload(t *Transfer, total int64) error {
	if err := m.cache.Reconstruct(t.ID, total, t.sink); err != nil {
		return err
	}
	return m.cache.Purge(t.ID)
}
