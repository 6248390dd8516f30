package metastore

import (
	"github.com/google/uuid"

	"orbitdrive/internal/domain"
)

// Snapshot - read-only view последнего закоммиченного состояния.
type Snapshot struct {
	c *collections
}

func (s *Snapshot) Directory(id uuid.UUID) (*domain.Directory, bool) {
	d, ok := s.c.Directories[id]
	return d, ok
}

func (s *Snapshot) File(id uuid.UUID) (*domain.File, bool) {
	f, ok := s.c.Files[id]
	return f, ok
}

func (s *Snapshot) TrashEntry(id uuid.UUID) (*domain.TrashEntry, bool) {
	t, ok := s.c.Trash[id]
	return t, ok
}

// RootDirectory находит корневую директорию владельца.
func (s *Snapshot) RootDirectory(owner string) (*domain.Directory, bool) {
	for _, d := range s.c.Directories {
		if d.IsRoot() && d.OwnerID == owner {
			return d, true
		}
	}
	return nil, false
}

// TrashEntries возвращает записи корзины владельца.
func (s *Snapshot) TrashEntries(owner string) []*domain.TrashEntry {
	var out []*domain.TrashEntry
	for _, t := range s.c.Trash {
		if t.OwnerID() == owner {
			out = append(out, t)
		}
	}
	return out
}

// Tx - рабочая копия коллекций внутри Update. Записи, полученные из Tx,
// можно мутировать на месте: копия либо коммитится целиком, либо
// отбрасывается целиком.
type Tx struct {
	c *collections
}

func (tx *Tx) Directory(id uuid.UUID) (*domain.Directory, bool) {
	d, ok := tx.c.Directories[id]
	return d, ok
}

func (tx *Tx) File(id uuid.UUID) (*domain.File, bool) {
	f, ok := tx.c.Files[id]
	return f, ok
}

func (tx *Tx) TrashEntry(id uuid.UUID) (*domain.TrashEntry, bool) {
	t, ok := tx.c.Trash[id]
	return t, ok
}

func (tx *Tx) RootDirectory(owner string) (*domain.Directory, bool) {
	for _, d := range tx.c.Directories {
		if d.IsRoot() && d.OwnerID == owner {
			return d, true
		}
	}
	return nil, false
}

func (tx *Tx) PutDirectory(d *domain.Directory) {
	tx.c.Directories[d.ID] = d
}

func (tx *Tx) DeleteDirectory(id uuid.UUID) {
	delete(tx.c.Directories, id)
}

func (tx *Tx) PutFile(f *domain.File) {
	tx.c.Files[f.ID] = f
}

func (tx *Tx) DeleteFile(id uuid.UUID) {
	delete(tx.c.Files, id)
}

func (tx *Tx) PutTrashEntry(t *domain.TrashEntry) {
	tx.c.Trash[t.ID()] = t
}

func (tx *Tx) DeleteTrashEntry(id uuid.UUID) {
	delete(tx.c.Trash, id)
}

// OwnerTrashEntries возвращает записи корзины владельца.
func (tx *Tx) OwnerTrashEntries(owner string) []*domain.TrashEntry {
	var out []*domain.TrashEntry
	for _, t := range tx.c.Trash {
		if t.OwnerID() == owner {
			out = append(out, t)
		}
	}
	return out
}

// KnownID сообщает, занят ли идентификатор в любой из трёх коллекций.
// Идентификаторы глобально уникальны, переиспользования не бывает.
func (tx *Tx) KnownID(id uuid.UUID) bool {
	if _, ok := tx.c.Directories[id]; ok {
		return true
	}
	if _, ok := tx.c.Files[id]; ok {
		return true
	}
	_, ok := tx.c.Trash[id]
	return ok
}
