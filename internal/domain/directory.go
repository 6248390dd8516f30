package domain

import (
	"time"

	"github.com/google/uuid"
)

type Directory struct {
	ID           uuid.UUID   `json:"id"`
	Name         string      `json:"name"`
	OwnerID      string      `json:"owner_id"`
	ParentID     *uuid.UUID  `json:"parent_id,omitempty"` // nil только у корня владельца
	FileIDs      []uuid.UUID `json:"files"`
	DirectoryIDs []uuid.UUID `json:"directories"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// IsRoot сообщает, является ли директория корнем владельца.
func (d *Directory) IsRoot() bool {
	return d.ParentID == nil
}

// Clone возвращает глубокую копию записи. Снимки хранилища метаданных
// отдают копии, чтобы читатели не видели последующих мутаций.
func (d *Directory) Clone() *Directory {
	c := *d
	if d.ParentID != nil {
		p := *d.ParentID
		c.ParentID = &p
	}
	c.FileIDs = append([]uuid.UUID(nil), d.FileIDs...)
	c.DirectoryIDs = append([]uuid.UUID(nil), d.DirectoryIDs...)
	return &c
}

type DirectoryContent struct {
	Directory   Directory   `json:"directory"`
	Files       []File      `json:"files"`
	Directories []Directory `json:"directories"`
}
