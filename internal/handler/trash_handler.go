package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"orbitdrive/internal/auth"
	"orbitdrive/internal/service"
)

type TrashHandler struct {
	trashService *service.TrashService
}

func NewTrashHandler(trashService *service.TrashService) *TrashHandler {
	return &TrashHandler{trashService: trashService}
}

// GetTrashItems получает список элементов корзины пользователя.
func (h *TrashHandler) GetTrashItems(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.VerifyRequest(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	entries, err := h.trashService.ListTrash(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// RestoreItem восстанавливает элемент из корзины на прежнее место.
func (h *TrashHandler) RestoreItem(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.VerifyRequest(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid item id", http.StatusBadRequest)
		return
	}

	if err := h.trashService.RestoreFromTrash(r.Context(), id, identity.UserID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// PurgeItem окончательно удаляет элемент корзины вместе с блобами.
func (h *TrashHandler) PurgeItem(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.VerifyRequest(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid item id", http.StatusBadRequest)
		return
	}

	if err := h.trashService.Purge(r.Context(), id, identity.UserID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// EmptyTrash очищает всю корзину пользователя.
func (h *TrashHandler) EmptyTrash(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.VerifyRequest(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.trashService.EmptyTrash(r.Context(), identity.UserID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}
