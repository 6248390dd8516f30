package domain

import (
	"mime"
	"time"

	"github.com/google/uuid"
)

type File struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Extension string    `json:"extension"` // с ведущей точкой, как path.Ext
	OwnerID   string    `json:"owner_id"`
	ParentID  uuid.UUID `json:"parent_id"`
	SizeBytes int64     `json:"size_bytes"`
	MIMEType  string    `json:"mime_type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone возвращает копию записи файла.
func (f *File) Clone() *File {
	c := *f
	return &c
}

// MIMETypeByExtension определяет MIME-тип по расширению файла.
func MIMETypeByExtension(ext string) string {
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
