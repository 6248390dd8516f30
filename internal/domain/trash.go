package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntryKind различает файлы и директории в смешанных списках.
// Вместо строкового поля "type" - замкнутый набор значений, который
// обрабатывается исчерпывающе в каждом месте использования.
type EntryKind string

const (
	KindDirectory EntryKind = "directory"
	KindFile      EntryKind = "file"
)

// Valid сообщает, является ли значение допустимым видом записи.
func (k EntryKind) Valid() bool {
	return k == KindDirectory || k == KindFile
}

// EntryRef ссылается на файл или директорию в пакетных операциях
// (перемещение нескольких элементов за один вызов).
type EntryRef struct {
	Kind EntryKind `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

// TrashEntry - отсоединённая запись в корзине. Ровно одно из полей
// Directory/File заполнено в соответствии с Kind. Поддерево трэшнутой
// директории остаётся в живых коллекциях: в корзину уходит только
// верхний узел, поэтому окончательное удаление каскадирует.
type TrashEntry struct {
	Kind             EntryKind  `json:"kind"`
	Directory        *Directory `json:"directory,omitempty"`
	File             *File      `json:"file,omitempty"`
	OriginalParentID uuid.UUID  `json:"original_parent_id"`
	DeletedAt        time.Time  `json:"deleted_at"`
}

// ID возвращает идентификатор завёрнутой записи.
func (t *TrashEntry) ID() uuid.UUID {
	switch t.Kind {
	case KindDirectory:
		return t.Directory.ID
	case KindFile:
		return t.File.ID
	}
	return uuid.Nil
}

// Name возвращает имя завёрнутой записи.
func (t *TrashEntry) Name() string {
	switch t.Kind {
	case KindDirectory:
		return t.Directory.Name
	case KindFile:
		return t.File.Name
	}
	return ""
}

// OwnerID возвращает владельца завёрнутой записи.
func (t *TrashEntry) OwnerID() string {
	switch t.Kind {
	case KindDirectory:
		return t.Directory.OwnerID
	case KindFile:
		return t.File.OwnerID
	}
	return ""
}

// Clone возвращает глубокую копию записи корзины.
func (t *TrashEntry) Clone() *TrashEntry {
	c := *t
	if t.Directory != nil {
		c.Directory = t.Directory.Clone()
	}
	if t.File != nil {
		c.File = t.File.Clone()
	}
	return &c
}
