package domain

import (
	"errors"
	"fmt"
)

// Базовые ошибки ядра. Сервисы оборачивают их через fmt.Errorf("%w"),
// хендлеры сопоставляют со статусами через errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("access denied")
	ErrConflict            = errors.New("conflict")
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	ErrIO                  = errors.New("i/o failure")
)

// CorruptStoreError означает, что сохранённые метаданные не удалось
// распарсить. Это фатально для запуска: хранилище не пытается молча
// "починить" файл усечением.
type CorruptStoreError struct {
	Path string
	Err  error
}

func (e *CorruptStoreError) Error() string {
	return fmt.Sprintf("corrupt metadata store %s: %v", e.Path, e.Err)
}

func (e *CorruptStoreError) Unwrap() error {
	return e.Err
}

// OffsetMismatchError возвращается координатором загрузки, когда заявленный
// клиентом startByte не совпадает с фактической длиной частичного блоба.
// Клиент должен повторить запрос с offset = StoredSize.
type OffsetMismatchError struct {
	TransferID string
	StartByte  int64
	StoredSize int64
}

func (e *OffsetMismatchError) Error() string {
	return fmt.Sprintf("transfer %s: declared start byte %d does not match stored size %d",
		e.TransferID, e.StartByte, e.StoredSize)
}

func (e *OffsetMismatchError) Is(target error) bool {
	return target == ErrConflict
}
