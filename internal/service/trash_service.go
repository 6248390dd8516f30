package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"orbitdrive/internal/blob"
	"orbitdrive/internal/domain"
	"orbitdrive/internal/metastore"
)

// TrashService управляет корзиной: список, восстановление, окончательное
// удаление. В корзине лежит только верхний узел поддерева, поэтому
// окончательное удаление директории каскадирует по её дочерним спискам.
type TrashService struct {
	store   *metastore.Store
	storage blob.Storage
}

func NewTrashService(store *metastore.Store, storage blob.Storage) *TrashService {
	return &TrashService{store: store, storage: storage}
}

// ListTrash возвращает содержимое корзины владельца.
func (s *TrashService) ListTrash(ctx context.Context, owner string) ([]domain.TrashEntry, error) {
	if owner == "" {
		return nil, fmt.Errorf("owner id is required")
	}

	items := make([]domain.TrashEntry, 0)
	err := s.store.View(func(snap *metastore.Snapshot) {
		for _, t := range snap.TrashEntries(owner) {
			items = append(items, *t.Clone())
		}
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// RestoreFromTrash возвращает запись из корзины под её исходного родителя.
// Если исходный родитель уже удалён или принадлежит другому владельцу,
// восстановление невозможно: NotFound.
func (s *TrashService) RestoreFromTrash(ctx context.Context, id uuid.UUID, owner string) error {
	return s.store.Update(func(tx *metastore.Tx) error {
		entry, ok := tx.TrashEntry(id)
		if !ok {
			return fmt.Errorf("trash entry %s: %w", id, domain.ErrNotFound)
		}
		if entry.OwnerID() != owner {
			return fmt.Errorf("trash entry %s: %w", id, domain.ErrForbidden)
		}

		parent, ok := tx.Directory(entry.OriginalParentID)
		if !ok || parent.OwnerID != owner {
			return fmt.Errorf("original parent of %s is gone: %w", id, domain.ErrNotFound)
		}

		now := time.Now().UTC()
		switch entry.Kind {
		case domain.KindDirectory:
			dir := entry.Directory
			dir.UpdatedAt = now
			parent.DirectoryIDs = append(parent.DirectoryIDs, dir.ID)
			tx.PutDirectory(dir)
		case domain.KindFile:
			file := entry.File
			file.UpdatedAt = now
			parent.FileIDs = append(parent.FileIDs, file.ID)
			tx.PutFile(file)
		default:
			return fmt.Errorf("unknown trash entry kind %q", entry.Kind)
		}
		parent.UpdatedAt = now
		tx.DeleteTrashEntry(id)
		return nil
	})
}

// Purge окончательно удаляет запись корзины вместе со всем поддеревом:
// блоб и метаданные каждого файла-потомка, метаданные каждой
// директории-потомка, затем саму запись корзины. Отсутствующий блоб не
// прерывает операцию - он логируется и пропускается, чтобы одна потерянная
// копия содержимого не оставляла метаданные-сироты.
func (s *TrashService) Purge(ctx context.Context, id uuid.UUID, owner string) error {
	return s.store.Update(func(tx *metastore.Tx) error {
		entry, ok := tx.TrashEntry(id)
		if !ok {
			return fmt.Errorf("trash entry %s: %w", id, domain.ErrNotFound)
		}
		if entry.OwnerID() != owner {
			return fmt.Errorf("trash entry %s: %w", id, domain.ErrForbidden)
		}
		return s.purgeEntry(ctx, tx, entry)
	})
}

func (s *TrashService) purgeEntry(ctx context.Context, tx *metastore.Tx, entry *domain.TrashEntry) error {
	switch entry.Kind {
	case domain.KindFile:
		s.deleteBlob(ctx, entry.File)
	case domain.KindDirectory:
		s.purgeSubtree(ctx, tx, entry.Directory)
	default:
		return fmt.Errorf("unknown trash entry kind %q", entry.Kind)
	}
	tx.DeleteTrashEntry(entry.ID())
	return nil
}

// purgeSubtree рекурсивно удаляет потомков директории. Сама директория в
// коллекции directories уже отсутствует (она лежит в корзине), поэтому
// обход идёт по её дочерним спискам.
func (s *TrashService) purgeSubtree(ctx context.Context, tx *metastore.Tx, dir *domain.Directory) {
	for _, fid := range dir.FileIDs {
		if f, ok := tx.File(fid); ok {
			s.deleteBlob(ctx, f)
			tx.DeleteFile(fid)
		}
	}
	for _, did := range dir.DirectoryIDs {
		if sub, ok := tx.Directory(did); ok {
			s.purgeSubtree(ctx, tx, sub)
			tx.DeleteDirectory(did)
		}
	}
}

func (s *TrashService) deleteBlob(ctx context.Context, f *domain.File) {
	key := blob.Key(f.ID, f.Extension)
	if err := s.storage.Delete(ctx, key); err != nil {
		// Потерянный блоб не должен блокировать удаление метаданных.
		log.Printf("warning: failed to delete blob %s: %v", key, err)
	}
}

// EmptyTrash окончательно удаляет все записи корзины владельца.
func (s *TrashService) EmptyTrash(ctx context.Context, owner string) error {
	if owner == "" {
		return fmt.Errorf("owner id is required")
	}

	return s.store.Update(func(tx *metastore.Tx) error {
		for _, entry := range tx.OwnerTrashEntries(owner) {
			if err := s.purgeEntry(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}
