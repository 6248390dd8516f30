package handler

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"orbitdrive/internal/auth"
	"orbitdrive/internal/domain"
	"orbitdrive/internal/service"
)

type DirectoryHandler struct {
	treeService    *service.TreeService
	trashService   *service.TrashService
	archiveService *service.ArchiveService
}

func NewDirectoryHandler(
	treeService *service.TreeService,
	trashService *service.TrashService,
	archiveService *service.ArchiveService,
) *DirectoryHandler {
	return &DirectoryHandler{
		treeService:    treeService,
		trashService:   trashService,
		archiveService: archiveService,
	}
}

// resolveDirID возвращает id из URL либо корень владельца, если сегмент
// пуст.
func (h *DirectoryHandler) resolveDirID(r *http.Request, param, owner string) (uuid.UUID, error) {
	raw := chi.URLParam(r, param)
	if raw == "" {
		root, err := h.treeService.EnsureRoot(r.Context(), owner)
		if err != nil {
			return uuid.Nil, err
		}
		return root.ID, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid directory id %q: %w", raw, domain.ErrNotFound)
	}
	return id, nil
}

// GetDirectory отдаёт директорию с дочерними записями, а с
// ?action=download - zip-архив всего поддерева.
func (h *DirectoryHandler) GetDirectory(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.VerifyRequest(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	dirID, err := h.resolveDirID(r, "id", identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("action") == "download" {
		h.downloadArchive(w, r, dirID, identity.UserID)
		return
	}

	content, err := h.treeService.GetContent(r.Context(), dirID, identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, content)
}

// downloadArchive стримит zip поддерева. Заголовки с агрегатами ставятся
// до первого байта тела: клиент показывает прогресс, не дожидаясь конца.
func (h *DirectoryHandler) downloadArchive(w http.ResponseWriter, r *http.Request, dirID uuid.UUID, owner string) {
	plan, err := h.archiveService.Stat(r.Context(), dirID, owner)
	if err != nil {
		writeError(w, err)
		return
	}

	encodedName := url.QueryEscape(plan.Name + ".zip")
	asciiName := strings.ReplaceAll(plan.Name, `"`, `\"`) + ".zip"
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, asciiName, encodedName))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("X-Total-Size", strconv.FormatInt(plan.TotalSize, 10))
	w.Header().Set("X-Total-Files", strconv.Itoa(plan.TotalFiles))
	w.WriteHeader(http.StatusOK)

	if err := h.archiveService.Write(r.Context(), plan, w); err != nil {
		// Тело уже началось, второй статус-код писать некуда:
		// обрываем соединение, чтобы клиент не принял обрезанный
		// архив за целый.
		log.Printf("[Archive] Ошибка стриминга архива %s: %v", dirID, err)
		panic(http.ErrAbortHandler)
	}
}

// CreateDirectory создаёт директорию. Пустой сегмент родителя - корень
// владельца.
func (h *DirectoryHandler) CreateDirectory(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.VerifyRequest(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	parentID, err := h.resolveDirID(r, "parentId", identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		FolderName string `json:"folderName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.treeService.CreateDirectory(r.Context(), parentID, req.FolderName, identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// RenameDirectory переименовывает директорию.
func (h *DirectoryHandler) RenameDirectory(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.VerifyRequest(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	dirID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid directory id", http.StatusBadRequest)
		return
	}

	var req struct {
		NewName string `json:"newName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewName == "" {
		http.Error(w, "New name is required", http.StatusBadRequest)
		return
	}

	if err := h.treeService.RenameDirectory(r.Context(), dirID, req.NewName, identity.UserID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// MoveEntries перемещает пакет файлов и директорий в указанную
// директорию. Пакет применяется целиком или не применяется вовсе.
func (h *DirectoryHandler) MoveEntries(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.VerifyRequest(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	targetID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid directory id", http.StatusBadRequest)
		return
	}

	var req struct {
		Entries []domain.EntryRef `json:"entries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	for _, e := range req.Entries {
		if !e.Kind.Valid() {
			http.Error(w, fmt.Sprintf("Invalid entry kind %q", e.Kind), http.StatusBadRequest)
			return
		}
	}

	if err := h.treeService.MoveEntries(r.Context(), targetID, req.Entries, identity.UserID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// DeleteDirectory перемещает директорию в корзину.
func (h *DirectoryHandler) DeleteDirectory(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.VerifyRequest(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	dirID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid directory id", http.StatusBadRequest)
		return
	}

	if err := h.treeService.DeleteToTrash(r.Context(), domain.KindDirectory, dirID, identity.UserID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}
