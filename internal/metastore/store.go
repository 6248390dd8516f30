package metastore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"orbitdrive/internal/domain"
)

const (
	directoriesFile = "directories.json"
	filesFile       = "files.json"
	trashFile       = "trash.json"
)

// Store владеет тремя коллекциями метаданных (директории, файлы, корзина)
// и отвечает за их атомарную персистентность. Никакой другой компонент не
// мутирует коллекции напрямую: жизненный цикл явный - Open, операции, Close,
// экземпляр внедряется в сервисы, а не лежит в глобальном состоянии.
//
// Запись сериализуется одной writer-блокировкой на всю логическую операцию
// (поиск + мутация + коммит). Чтения обслуживаются последним закоммиченным
// снимком и писателей не ждут.
type Store struct {
	dir string

	writeMu sync.Mutex // сериализует Update целиком

	snapMu  sync.RWMutex
	current *collections // последний закоммиченный снимок, неизменяемый
	closed  bool
}

type collections struct {
	Directories map[uuid.UUID]*domain.Directory
	Files       map[uuid.UUID]*domain.File
	Trash       map[uuid.UUID]*domain.TrashEntry
}

func newCollections() *collections {
	return &collections{
		Directories: make(map[uuid.UUID]*domain.Directory),
		Files:       make(map[uuid.UUID]*domain.File),
		Trash:       make(map[uuid.UUID]*domain.TrashEntry),
	}
}

func (c *collections) clone() *collections {
	n := &collections{
		Directories: make(map[uuid.UUID]*domain.Directory, len(c.Directories)),
		Files:       make(map[uuid.UUID]*domain.File, len(c.Files)),
		Trash:       make(map[uuid.UUID]*domain.TrashEntry, len(c.Trash)),
	}
	for id, d := range c.Directories {
		n.Directories[id] = d.Clone()
	}
	for id, f := range c.Files {
		n.Files[id] = f.Clone()
	}
	for id, t := range c.Trash {
		n.Trash[id] = t.Clone()
	}
	return n
}

// Open загружает коллекции из каталога данных. Отсутствующий файл означает
// пустую коллекцию (первый запуск). Непарсящийся файл - *CorruptStoreError:
// хранилище не угадывает и не усекает, восстановление - ручное решение
// оператора по бэкапу.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	c := newCollections()

	var dirs []*domain.Directory
	if err := loadCollection(filepath.Join(dir, directoriesFile), &dirs); err != nil {
		return nil, err
	}
	for _, d := range dirs {
		c.Directories[d.ID] = d
	}

	var files []*domain.File
	if err := loadCollection(filepath.Join(dir, filesFile), &files); err != nil {
		return nil, err
	}
	for _, f := range files {
		c.Files[f.ID] = f
	}

	var trash []*domain.TrashEntry
	if err := loadCollection(filepath.Join(dir, trashFile), &trash); err != nil {
		return nil, err
	}
	for _, t := range trash {
		c.Trash[t.ID()] = t
	}

	return &Store{dir: dir, current: c}, nil
}

func loadCollection(path string, out any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &domain.CorruptStoreError{Path: path, Err: err}
	}
	return nil
}

// Close закрывает хранилище. Дальнейшие Update/View возвращают ошибку.
func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	s.closed = true
	return nil
}

// View выполняет fn над последним закоммиченным снимком. Снимок
// неизменяемый: fn не должна мутировать полученные записи, наружу
// отдаются только их копии.
func (s *Store) View(fn func(*Snapshot)) error {
	s.snapMu.RLock()
	c := s.current
	closed := s.closed
	s.snapMu.RUnlock()

	if closed {
		return fmt.Errorf("metadata store is closed")
	}
	fn(&Snapshot{c: c})
	return nil
}

// Update выполняет fn над рабочей копией коллекций под writer-блокировкой
// и атомарно коммитит результат. Ошибка fn отбрасывает рабочую копию
// целиком: частичного применения не бывает. Update возвращает успех только
// после того, как rename сделал новый снимок видимым для следующего Open.
func (s *Store) Update(fn func(*Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.snapMu.RLock()
	base := s.current
	closed := s.closed
	s.snapMu.RUnlock()

	if closed {
		return fmt.Errorf("metadata store is closed")
	}

	work := base.clone()
	tx := &Tx{c: work}
	if err := fn(tx); err != nil {
		return err
	}

	if err := s.commit(work); err != nil {
		return fmt.Errorf("failed to commit metadata: %w", err)
	}

	s.snapMu.Lock()
	s.current = work
	s.snapMu.Unlock()
	return nil
}

// commit записывает снимок всех трёх коллекций: сначала все три временных
// файла целиком, и только когда каждый записан и сброшен на диск,
// переименовывает их поверх живых. Ошибка на этапе записи не трогает ни
// один живой файл. Каждый файл rename делает целым атомарно; крэш между
// тремя rename подряд всё же может оставить коллекции из соседних
// коммитов, это окно здесь осознанно сужено, а не закрыто.
func (s *Store) commit(c *collections) error {
	dirs := make([]*domain.Directory, 0, len(c.Directories))
	for _, d := range c.Directories {
		dirs = append(dirs, d)
	}
	files := make([]*domain.File, 0, len(c.Files))
	for _, f := range c.Files {
		files = append(files, f)
	}
	trash := make([]*domain.TrashEntry, 0, len(c.Trash))
	for _, t := range c.Trash {
		trash = append(trash, t)
	}

	paths := []string{
		filepath.Join(s.dir, directoriesFile),
		filepath.Join(s.dir, filesFile),
		filepath.Join(s.dir, trashFile),
	}
	values := []any{dirs, files, trash}

	for i, path := range paths {
		if err := writeTemp(path+".tmp", values[i]); err != nil {
			for j := 0; j <= i; j++ {
				os.Remove(paths[j] + ".tmp")
			}
			return err
		}
	}
	for _, path := range paths {
		if err := os.Rename(path+".tmp", path); err != nil {
			return fmt.Errorf("failed to replace %s: %w", path, err)
		}
	}
	return nil
}

func writeTemp(tmp string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", tmp, err)
	}

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	// Сбрасываем на диск до rename, иначе атомарность только видимая.
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return nil
}
