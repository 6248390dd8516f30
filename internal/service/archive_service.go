package service

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"

	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"

	"orbitdrive/internal/blob"
	"orbitdrive/internal/domain"
	"orbitdrive/internal/metastore"
)

// ArchiveService собирает zip-архив поддерева директории в потоковом
// режиме. Работа идёт в два прохода над одной и той же копией формы
// поддерева: первый считает суммарный размер и число файлов (для
// заголовков до начала тела ответа), второй пишет содержимое. Копия
// снимается из одного снимка хранилища, поэтому параллельные мутации
// дерева на архив не влияют.
type ArchiveService struct {
	store   *metastore.Store
	storage blob.Storage
}

func NewArchiveService(store *metastore.Store, storage blob.Storage) *ArchiveService {
	return &ArchiveService{store: store, storage: storage}
}

// archiveNode - зафиксированная форма одной директории поддерева.
type archiveNode struct {
	name     string
	files    []archiveFile
	children []*archiveNode
}

type archiveFile struct {
	name string
	key  string
	size int64
}

// ArchivePlan - результат первого прохода: агрегаты для заголовков и
// зафиксированная форма поддерева для второго прохода.
type ArchivePlan struct {
	Name       string
	TotalSize  int64
	TotalFiles int
	root       *archiveNode
}

// Stat снимает копию формы поддерева и считает агрегаты. Размер берётся
// из блоб-хранилища; файл без блоба считается нулевым вкладом и
// логируется, но архив не прерывает.
func (s *ArchiveService) Stat(ctx context.Context, dirID uuid.UUID, owner string) (*ArchivePlan, error) {
	var root *archiveNode
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
		root = s.copyShape(snap, dir)
	})
	if err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}

	plan := &ArchivePlan{Name: root.name, root: root}
	s.sum(ctx, root, plan)
	return plan, nil
}

// copyShape копирует форму поддерева из снимка: имена, ключи блобов,
// вложенность. После выхода из View архив больше не трогает хранилище
// метаданных.
func (s *ArchiveService) copyShape(snap *metastore.Snapshot, dir *domain.Directory) *archiveNode {
	node := &archiveNode{name: dir.Name}
	for _, fid := range dir.FileIDs {
		f, ok := snap.File(fid)
		if !ok {
			continue
		}
		node.files = append(node.files, archiveFile{
			name: f.Name,
			key:  blob.Key(f.ID, f.Extension),
		})
	}
	for _, did := range dir.DirectoryIDs {
		sub, ok := snap.Directory(did)
		if !ok {
			continue
		}
		node.children = append(node.children, s.copyShape(snap, sub))
	}
	return node
}

// sum - первый проход: размеры и количество файлов.
func (s *ArchiveService) sum(ctx context.Context, node *archiveNode, plan *ArchivePlan) {
	for i := range node.files {
		size, err := s.storage.Size(ctx, node.files[i].key)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				log.Printf("[Archive] Не удалось получить размер блоба %s: %v", node.files[i].key, err)
			} else {
				log.Printf("[Archive] Блоб %s отсутствует, считаем нулевым", node.files[i].key)
			}
			size = 0
		}
		node.files[i].size = size
		plan.TotalSize += size
		plan.TotalFiles++
	}
	for _, child := range node.children {
		s.sum(ctx, child, plan)
	}
}

// Write - второй проход: пишет zip в выходной поток. Вызывается после
// того, как заголовки ответа уже отправлены; любая ошибка здесь может
// только оборвать поток, второй статус-код писать некуда.
func (s *ArchiveService) Write(ctx context.Context, plan *ArchivePlan, w io.Writer) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	if err := s.writeNode(ctx, zw, plan.root, plan.root.name); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func (s *ArchiveService) writeNode(ctx context.Context, zw *zip.Writer, node *archiveNode, zipPath string) error {
	// Явная запись директории сохраняет вложенность и для пустых папок.
	if _, err := zw.Create(zipPath + "/"); err != nil {
		return fmt.Errorf("failed to create archive dir %s: %w", zipPath, err)
	}

	for _, f := range node.files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.writeFile(ctx, zw, f, path.Join(zipPath, f.name)); err != nil {
			return err
		}
	}

	for _, child := range node.children {
		if err := s.writeNode(ctx, zw, child, path.Join(zipPath, child.name)); err != nil {
			return err
		}
	}
	return nil
}

func (s *ArchiveService) writeFile(ctx context.Context, zw *zip.Writer, f archiveFile, name string) error {
	entry, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create archive entry %s: %w", name, err)
	}

	if f.size == 0 {
		// Пустой или потерянный блоб: запись без содержимого, как и
		// обещано заголовками.
		return nil
	}

	obj, err := s.storage.OpenRange(ctx, f.key, 0, f.size-1)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Printf("[Archive] Блоб %s исчез между проходами, пишем пустую запись", f.key)
			return nil
		}
		return fmt.Errorf("failed to open blob %s: %w", f.key, err)
	}
	defer obj.Close()

	if _, err := io.Copy(entry, obj); err != nil {
		return fmt.Errorf("failed to stream blob %s: %w", f.key, err)
	}
	return nil
}
