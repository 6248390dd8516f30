package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orbitdrive/internal/domain"
	"orbitdrive/internal/metastore"
)

// TreeService выполняет операции над деревом директорий и файлов.
// Все мутации идут через metastore.Update: поиск, проверка прав, мутация и
// коммит происходят под одной writer-блокировкой, частичного применения
// не бывает.
type TreeService struct {
	store *metastore.Store
}

func NewTreeService(store *metastore.Store) *TreeService {
	return &TreeService{store: store}
}

// EnsureRoot возвращает корневую директорию владельца, создавая её при
// первом обращении.
func (s *TreeService) EnsureRoot(ctx context.Context, owner string) (*domain.Directory, error) {
	if owner == "" {
		return nil, fmt.Errorf("owner id is required")
	}

	var root *domain.Directory
	err := s.store.Update(func(tx *metastore.Tx) error {
		if existing, ok := tx.RootDirectory(owner); ok {
			root = existing.Clone()
			return nil
		}

		now := time.Now().UTC()
		root = &domain.Directory{
			ID:        uuid.New(),
			Name:      "root",
			OwnerID:   owner,
			CreatedAt: now,
			UpdatedAt: now,
		}
		tx.PutDirectory(root.Clone())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure root folder: %w", err)
	}
	return root, nil
}

// CreateDirectory создаёт директорию под указанным родителем.
func (s *TreeService) CreateDirectory(ctx context.Context, parentID uuid.UUID, name, owner string) (*domain.Directory, error) {
	if owner == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	if name == "" {
		name = "new-folder"
	}

	var created *domain.Directory
	err := s.store.Update(func(tx *metastore.Tx) error {
		parent, ok := tx.Directory(parentID)
		if !ok {
			return fmt.Errorf("parent directory %s: %w", parentID, domain.ErrNotFound)
		}
		if parent.OwnerID != owner {
			return fmt.Errorf("parent directory %s: %w", parentID, domain.ErrForbidden)
		}

		now := time.Now().UTC()
		pid := parent.ID
		created = &domain.Directory{
			ID:        uuid.New(),
			Name:      name,
			OwnerID:   owner,
			ParentID:  &pid,
			CreatedAt: now,
			UpdatedAt: now,
		}

		parent.DirectoryIDs = append(parent.DirectoryIDs, created.ID)
		parent.UpdatedAt = now
		tx.PutDirectory(created.Clone())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetContent возвращает директорию с разрешёнными дочерними записями.
func (s *TreeService) GetContent(ctx context.Context, dirID uuid.UUID, owner string) (*domain.DirectoryContent, error) {
	var content *domain.DirectoryContent
	var opErr error
	err := s.store.View(func(snap *metastore.Snapshot) {
		dir, ok := snap.Directory(dirID)
		if !ok {
			opErr = fmt.Errorf("directory %s: %w", dirID, domain.ErrNotFound)
			return
		}
		if dir.OwnerID != owner {
			opErr = fmt.Errorf("directory %s: %w", dirID, domain.ErrForbidden)
			return
		}

		content = &domain.DirectoryContent{
			Directory:   *dir.Clone(),
			Files:       make([]domain.File, 0, len(dir.FileIDs)),
			Directories: make([]domain.Directory, 0, len(dir.DirectoryIDs)),
		}
		for _, id := range dir.FileIDs {
			if f, ok := snap.File(id); ok {
				content.Files = append(content.Files, *f.Clone())
			}
		}
		for _, id := range dir.DirectoryIDs {
			if d, ok := snap.Directory(id); ok {
				content.Directories = append(content.Directories, *d.Clone())
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}
	return content, nil
}

// RenameDirectory переименовывает директорию.
func (s *TreeService) RenameDirectory(ctx context.Context, dirID uuid.UUID, newName, owner string) error {
	if newName == "" {
		return fmt.Errorf("new name is required")
	}

	return s.store.Update(func(tx *metastore.Tx) error {
		dir, ok := tx.Directory(dirID)
		if !ok {
			return fmt.Errorf("directory %s: %w", dirID, domain.ErrNotFound)
		}
		if dir.OwnerID != owner {
			return fmt.Errorf("directory %s: %w", dirID, domain.ErrForbidden)
		}
		dir.Name = newName
		dir.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// RenameFile переименовывает файл. Расширение определяется именем файла
// при загрузке и при переименовании не меняется: блоб остаётся по
// прежнему ключу.
func (s *TreeService) RenameFile(ctx context.Context, fileID uuid.UUID, newName, owner string) error {
	if newName == "" {
		return fmt.Errorf("new name is required")
	}

	return s.store.Update(func(tx *metastore.Tx) error {
		file, ok := tx.File(fileID)
		if !ok {
			return fmt.Errorf("file %s: %w", fileID, domain.ErrNotFound)
		}
		if file.OwnerID != owner {
			return fmt.Errorf("file %s: %w", fileID, domain.ErrForbidden)
		}
		file.Name = newName
		file.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// MoveEntries перемещает пакет файлов и директорий под нового родителя.
// Пакет применяется целиком или не применяется вовсе: все проверки
// (существование, права, отсутствие циклов) выполняются до первой мутации
// рабочей копии, а ошибка коммита отбрасывает копию целиком.
func (s *TreeService) MoveEntries(ctx context.Context, targetID uuid.UUID, entries []domain.EntryRef, owner string) error {
	if len(entries) == 0 {
		return nil
	}

	return s.store.Update(func(tx *metastore.Tx) error {
		target, ok := tx.Directory(targetID)
		if !ok {
			return fmt.Errorf("target directory %s: %w", targetID, domain.ErrNotFound)
		}
		if target.OwnerID != owner {
			return fmt.Errorf("target directory %s: %w", targetID, domain.ErrForbidden)
		}

		// Сначала валидируем весь пакет.
		for _, e := range entries {
			switch e.Kind {
			case domain.KindFile:
				f, ok := tx.File(e.ID)
				if !ok {
					return fmt.Errorf("file %s: %w", e.ID, domain.ErrNotFound)
				}
				if f.OwnerID != owner {
					return fmt.Errorf("file %s: %w", e.ID, domain.ErrForbidden)
				}
			case domain.KindDirectory:
				d, ok := tx.Directory(e.ID)
				if !ok {
					return fmt.Errorf("directory %s: %w", e.ID, domain.ErrNotFound)
				}
				if d.OwnerID != owner {
					return fmt.Errorf("directory %s: %w", e.ID, domain.ErrForbidden)
				}
				if d.IsRoot() {
					return fmt.Errorf("cannot move root directory: %w", domain.ErrConflict)
				}
				// Запрет циклов: директория не может стать предком самой
				// себя. Проверяем до любых мутаций.
				if e.ID == targetID || isAncestor(tx, e.ID, targetID) {
					return fmt.Errorf("directory %s would become its own ancestor: %w", e.ID, domain.ErrConflict)
				}
			default:
				return fmt.Errorf("unknown entry kind %q", e.Kind)
			}
		}

		now := time.Now().UTC()
		for _, e := range entries {
			switch e.Kind {
			case domain.KindFile:
				f, _ := tx.File(e.ID)
				if f.ParentID == targetID {
					continue
				}
				if old, ok := tx.Directory(f.ParentID); ok {
					old.FileIDs = removeID(old.FileIDs, e.ID)
					old.UpdatedAt = now
				}
				f.ParentID = targetID
				f.UpdatedAt = now
				target.FileIDs = append(target.FileIDs, e.ID)
			case domain.KindDirectory:
				d, _ := tx.Directory(e.ID)
				if *d.ParentID == targetID {
					continue
				}
				if old, ok := tx.Directory(*d.ParentID); ok {
					old.DirectoryIDs = removeID(old.DirectoryIDs, e.ID)
					old.UpdatedAt = now
				}
				tid := targetID
				d.ParentID = &tid
				d.UpdatedAt = now
				target.DirectoryIDs = append(target.DirectoryIDs, e.ID)
			}
		}
		target.UpdatedAt = now
		return nil
	})
}

// isAncestor сообщает, является ли candidate предком node (идя от node по
// родительским ссылкам вверх до корня).
func isAncestor(tx *metastore.Tx, candidate, node uuid.UUID) bool {
	cur, ok := tx.Directory(node)
	for ok && cur.ParentID != nil {
		if *cur.ParentID == candidate {
			return true
		}
		cur, ok = tx.Directory(*cur.ParentID)
	}
	return false
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// DeleteToTrash отсоединяет узел от родителя и кладёт его в корзину.
// Для директории операция O(1): поддерево остаётся адресуемым через её
// собственные дочерние списки и в корзину не переносится.
func (s *TreeService) DeleteToTrash(ctx context.Context, kind domain.EntryKind, id uuid.UUID, owner string) error {
	if !kind.Valid() {
		return fmt.Errorf("invalid entry kind: %q", kind)
	}

	return s.store.Update(func(tx *metastore.Tx) error {
		now := time.Now().UTC()
		switch kind {
		case domain.KindFile:
			file, ok := tx.File(id)
			if !ok {
				return fmt.Errorf("file %s: %w", id, domain.ErrNotFound)
			}
			if file.OwnerID != owner {
				return fmt.Errorf("file %s: %w", id, domain.ErrForbidden)
			}
			if parent, ok := tx.Directory(file.ParentID); ok {
				parent.FileIDs = removeID(parent.FileIDs, id)
				parent.UpdatedAt = now
			}
			tx.DeleteFile(id)
			tx.PutTrashEntry(&domain.TrashEntry{
				Kind:             domain.KindFile,
				File:             file,
				OriginalParentID: file.ParentID,
				DeletedAt:        now,
			})
		case domain.KindDirectory:
			dir, ok := tx.Directory(id)
			if !ok {
				return fmt.Errorf("directory %s: %w", id, domain.ErrNotFound)
			}
			if dir.OwnerID != owner {
				return fmt.Errorf("directory %s: %w", id, domain.ErrForbidden)
			}
			if dir.IsRoot() {
				return fmt.Errorf("cannot delete root directory: %w", domain.ErrConflict)
			}
			if parent, ok := tx.Directory(*dir.ParentID); ok {
				parent.DirectoryIDs = removeID(parent.DirectoryIDs, id)
				parent.UpdatedAt = now
			}
			tx.DeleteDirectory(id)
			tx.PutTrashEntry(&domain.TrashEntry{
				Kind:             domain.KindDirectory,
				Directory:        dir,
				OriginalParentID: *dir.ParentID,
				DeletedAt:        now,
			})
		}
		return nil
	})
}
