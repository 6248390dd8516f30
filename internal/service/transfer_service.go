package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"time"

	"github.com/google/uuid"

	"orbitdrive/internal/blob"
	"orbitdrive/internal/domain"
	"orbitdrive/internal/metastore"
)

// TransferService - серверная сторона протокола передачи: отдаёт срезы
// блобов по байтовым диапазонам и принимает возобновляемые загрузки,
// коррелируемые клиентским идентификатором передачи.
type TransferService struct {
	store   *metastore.Store
	storage blob.Storage
	tree    *TreeService
}

func NewTransferService(store *metastore.Store, storage blob.Storage, tree *TreeService) *TransferService {
	return &TransferService{store: store, storage: storage, tree: tree}
}

// ByteRange - запрошенный диапазон. End < 0 означает "до конца блоба",
// отрицательный Start - суффикс из последних -Start байт.
type ByteRange struct {
	Start int64
	End   int64
}

// Download - открытый для чтения срез блоба вместе с метаданными,
// которые нужны клиенту до первого байта тела.
type Download struct {
	File      *domain.File
	Body      blob.Object
	Start     int64
	End       int64
	TotalSize int64
	Partial   bool
}

// OpenDownload открывает файл на скачивание. nil вместо диапазона - весь
// блоб. Начало за пределами блоба - RangeNotSatisfiable.
func (s *TransferService) OpenDownload(ctx context.Context, fileID uuid.UUID, owner string, br *ByteRange) (*Download, error) {
	var file *domain.File
	var opErr error
	err := s.store.View(func(snap *metastore.Snapshot) {
		f, ok := snap.File(fileID)
		if !ok {
			opErr = fmt.Errorf("file %s: %w", fileID, domain.ErrNotFound)
			return
		}
		if f.OwnerID != owner {
			opErr = fmt.Errorf("file %s: %w", fileID, domain.ErrForbidden)
			return
		}
		file = f.Clone()
	})
	if err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}

	key := blob.Key(file.ID, file.Extension)
	totalSize, err := s.storage.Size(ctx, key)
	if err != nil {
		return nil, err
	}

	start, end := int64(0), totalSize-1
	partial := false
	if br != nil {
		start = br.Start
		if start < 0 {
			// Суффиксная форма: последние -start байт.
			start = totalSize + start
			if start < 0 {
				start = 0
			}
		}
		if br.End >= 0 {
			end = br.End
		}
		partial = true
		if start >= totalSize && totalSize > 0 {
			return nil, fmt.Errorf("%w: start %d beyond size %d", domain.ErrRangeNotSatisfiable, start, totalSize)
		}
		if totalSize == 0 || start > end {
			return nil, fmt.Errorf("%w: bytes %d-%d of %d", domain.ErrRangeNotSatisfiable, start, end, totalSize)
		}
		if end >= totalSize {
			end = totalSize - 1
		}
	}

	var body blob.Object
	if totalSize == 0 {
		body, err = s.storage.Open(ctx, key)
	} else {
		body, err = s.storage.OpenRange(ctx, key, start, end)
	}
	if err != nil {
		return nil, err
	}

	return &Download{
		File:      file,
		Body:      body,
		Start:     start,
		End:       end,
		TotalSize: totalSize,
		Partial:   partial,
	}, nil
}

// UploadSpec описывает один кусок возобновляемой загрузки.
type UploadSpec struct {
	TransferID uuid.UUID // выбирается клиентом, переживает паузы
	ParentID   uuid.UUID // uuid.Nil - корень владельца
	Filename   string
	StartByte  int64
	Owner      string
}

// Upload принимает кусок тела начиная со StartByte. Нулевой offset
// начинает блоб заново, усекая прежний частичный с тем же transfer id.
// Ненулевой offset сверяется с фактической длиной сохранённого частичного
// блоба: расхождение - Conflict с фактической длиной, клиент обязан
// пересинхронизироваться (слепое доверие клиентскому offset - известный
// способ испортить блоб кривой дозаписью).
//
// После успешного дочитывания тела файл регистрируется в дереве ровно один
// раз: повторный сигнал завершения для уже зарегистрированного transfer id
// пропускается. Если родительская директория исчезла, файл попадает в
// корень владельца, а не теряется.
func (s *TransferService) Upload(ctx context.Context, spec UploadSpec, body io.Reader) (*domain.File, error) {
	if spec.Owner == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	if spec.TransferID == uuid.Nil {
		return nil, fmt.Errorf("transfer id is required")
	}
	if spec.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	if spec.StartByte < 0 {
		return nil, fmt.Errorf("invalid start byte %d", spec.StartByte)
	}

	ext := path.Ext(spec.Filename)
	key := blob.Key(spec.TransferID, ext)

	var written int64
	var err error
	if spec.StartByte == 0 {
		written, err = s.storage.Put(ctx, key, body)
	} else {
		stored, sizeErr := s.storage.Size(ctx, key)
		if sizeErr != nil {
			if errors.Is(sizeErr, domain.ErrNotFound) {
				stored = 0
			} else {
				return nil, sizeErr
			}
		}
		if stored != spec.StartByte {
			return nil, &domain.OffsetMismatchError{
				TransferID: spec.TransferID.String(),
				StartByte:  spec.StartByte,
				StoredSize: stored,
			}
		}
		written, err = s.storage.Append(ctx, key, body)
	}
	if err != nil {
		// Частичный блоб остаётся на месте: клиент продолжит с
		// фактической длины.
		return nil, fmt.Errorf("failed to store upload chunk: %w", err)
	}

	if err := s.storage.Complete(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to finalize blob: %w", err)
	}

	totalSize := spec.StartByte + written
	return s.register(ctx, spec, ext, totalSize)
}

// register регистрирует загруженный файл в дереве. Идемпотентно по
// transfer id.
func (s *TransferService) register(ctx context.Context, spec UploadSpec, ext string, totalSize int64) (*domain.File, error) {
	var file *domain.File
	err := s.store.Update(func(tx *metastore.Tx) error {
		if existing, ok := tx.File(spec.TransferID); ok {
			// Повторный сигнал завершения: регистрация уже была.
			existing.SizeBytes = totalSize
			existing.UpdatedAt = time.Now().UTC()
			file = existing.Clone()
			return nil
		}

		parent, ok := tx.Directory(spec.ParentID)
		if !ok || parent.OwnerID != spec.Owner {
			root, rootOK := tx.RootDirectory(spec.Owner)
			if !rootOK {
				return fmt.Errorf("no root directory for owner %s: %w", spec.Owner, domain.ErrNotFound)
			}
			log.Printf("[Upload] Родитель %s не найден, сохраняем файл в корень владельца", spec.ParentID)
			parent = root
		}

		now := time.Now().UTC()
		file = &domain.File{
			ID:        spec.TransferID,
			Name:      spec.Filename,
			Extension: ext,
			OwnerID:   spec.Owner,
			ParentID:  parent.ID,
			SizeBytes: totalSize,
			MIMEType:  domain.MIMETypeByExtension(ext),
			CreatedAt: now,
			UpdatedAt: now,
		}
		parent.FileIDs = append(parent.FileIDs, file.ID)
		parent.UpdatedAt = now
		tx.PutFile(file.Clone())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// StoredSize возвращает фактическую длину частичного блоба передачи -
// клиент спрашивает её перед резюмом.
func (s *TransferService) StoredSize(ctx context.Context, transferID uuid.UUID, filename string) (int64, error) {
	ext := path.Ext(filename)
	size, err := s.storage.Size(ctx, blob.Key(transferID, ext))
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	return size, err
}
