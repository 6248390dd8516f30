// storage.go
package blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// Object определяет интерфейс для читаемого содержимого блоба.
type Object interface {
	io.ReadCloser
	ContentLength() int64
}

type object struct {
	io.ReadCloser
	contentLength int64
}

func (o *object) ContentLength() int64 {
	return o.contentLength
}

// Storage определяет интерфейс блоб-хранилища: содержимое файла,
// адресуемое ключом id+расширение, независимое от метаданных.
//
// Протокол возобновляемой загрузки: Put начинает блоб с нуля (усекая
// прежний частичный с тем же ключом), Append дозаписывает в конец,
// Complete финализирует после последнего куска. Size частичного блоба
// отражает фактическую длину - по ней сверяется offset при резюме.
type Storage interface {
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Append(ctx context.Context, key string, r io.Reader) (int64, error)
	Complete(ctx context.Context, key string) error
	Open(ctx context.Context, key string) (Object, error)
	// OpenRange читает байты [start, end] включительно.
	OpenRange(ctx context.Context, key string, start, end int64) (Object, error)
	Size(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, key string) error
}

// Key строит ключ блоба из идентификатора файла и расширения.
func Key(id uuid.UUID, ext string) string {
	return id.String() + ext
}

// validateKey отсекает ключи, способные выйти за пределы каталога
// хранилища. Ключи формируются из UUID и расширения, всё остальное -
// попытка обхода пути.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	if strings.ContainsAny(key, "/\\") || strings.Contains(key, "..") {
		return fmt.Errorf("invalid blob key: %q", key)
	}
	return nil
}
