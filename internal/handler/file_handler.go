package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"orbitdrive/internal/auth"
	"orbitdrive/internal/domain"
	"orbitdrive/internal/service"
)

type FileHandler struct {
	treeService     *service.TreeService
	transferService *service.TransferService
}

func NewFileHandler(
	treeService *service.TreeService,
	transferService *service.TransferService,
) *FileHandler {
	return &FileHandler{
		treeService:     treeService,
		transferService: transferService,
	}
}

// GetFile отдаёт содержимое файла. Без ?action=download - встроенный
// показ; с ним - attachment с поддержкой Range для пауз и резюма.
func (h *FileHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	identity, err := auth.VerifyRequest(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	fileID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid file id", http.StatusBadRequest)
		return
	}

	download := r.URL.Query().Get("action") == "download"

	// Разбираем Range до открытия блоба: кривой заголовок должен дать
	// 416 до каких-либо чтений.
	var br *service.ByteRange
	if download {
		if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
			start, end, err := parseRange(rangeHeader)
			if err != nil {
				log.Printf("[Download] Ошибка парсинга Range %q: %v", rangeHeader, err)
				http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
				return
			}
			br = &service.ByteRange{Start: start, End: end}
		}
	}

	dl, err := h.transferService.OpenDownload(r.Context(), fileID, identity.UserID, br)
	if err != nil {
		writeError(w, err)
		return
	}
	defer dl.Body.Close()

	file := dl.File
	if !download {
		w.Header().Set("Content-Type", file.MIMEType)
		w.Header().Set("Content-Length", strconv.FormatInt(dl.TotalSize, 10))
		w.WriteHeader(http.StatusOK)
		h.stream(w, dl.Body, file.Name)
		return
	}

	// Подготавливаем имя файла для Content-Disposition
	encodedFileName := url.QueryEscape(file.Name)
	asciiName := strings.ReplaceAll(file.Name, `"`, `\"`)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, asciiName, encodedFileName))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("X-Total-Size", strconv.FormatInt(dl.TotalSize, 10))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	if dl.Partial {
		w.Header().Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", dl.Start, dl.End, dl.TotalSize))
		w.Header().Set("Content-Length", strconv.FormatInt(dl.End-dl.Start+1, 10))
		log.Printf("[Download] Отдаем частичный контент: %d-%d/%d", dl.Start, dl.End, dl.TotalSize)
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.Header().Set("Content-Length", strconv.FormatInt(dl.TotalSize, 10))
		log.Printf("[Download] Отдаем полный файл: %d байт", dl.TotalSize)
		w.WriteHeader(http.StatusOK)
	}

	written := h.stream(w, dl.Body, file.Name)
	duration := time.Since(startTime)
	log.Printf("[Download] Завершено. Отправлено %d байт за %v", written, duration)
}

// stream копирует тело с поблочным Flush, чтобы клиент получал байты по
// мере чтения, а не одним куском в конце.
func (h *FileHandler) stream(w http.ResponseWriter, body io.Reader, name string) int64 {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, err := body.Read(buf)
		if n > 0 {
			nw, ew := w.Write(buf[:n])
			written += int64(nw)
			if ew != nil {
				log.Printf("[Download] Ошибка записи %s: %v", name, ew)
				return written
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return written
		}
		if err != nil {
			log.Printf("[Download] Ошибка чтения %s: %v", name, err)
			return written
		}
	}
}

// UploadFile принимает возобновляемую загрузку: сырое тело запроса - байты
// начиная с x-start-byte, идентификатор передачи выбирает клиент и
// переиспользует его при резюме.
func (h *FileHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.VerifyRequest(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	filename := r.Header.Get("filename")
	if filename == "" {
		http.Error(w, "filename header is required", http.StatusBadRequest)
		return
	}

	transferID, err := uuid.Parse(r.Header.Get("x-file-id"))
	if err != nil {
		http.Error(w, "x-file-id header is required", http.StatusBadRequest)
		return
	}

	startByte := int64(0)
	if raw := r.Header.Get("x-start-byte"); raw != "" {
		startByte, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || startByte < 0 {
			http.Error(w, "Invalid x-start-byte header", http.StatusBadRequest)
			return
		}
	}

	parentID := uuid.Nil
	if raw := chi.URLParam(r, "parentId"); raw != "" && raw != "undefined" {
		parentID, err = uuid.Parse(raw)
		if err != nil {
			http.Error(w, "Invalid parent directory id", http.StatusBadRequest)
			return
		}
	}
	if parentID == uuid.Nil {
		root, err := h.treeService.EnsureRoot(r.Context(), identity.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		parentID = root.ID
	}

	file, err := h.transferService.Upload(r.Context(), service.UploadSpec{
		TransferID: transferID,
		ParentID:   parentID,
		Filename:   filename,
		StartByte:  startByte,
		Owner:      identity.UserID,
	}, r.Body)
	if err != nil {
		var mismatch *domain.OffsetMismatchError
		if errors.As(err, &mismatch) {
			// Клиент разошёлся с сервером по offset: сообщаем
			// фактическую длину, чтобы он пересинхронизировался.
			w.Header().Set("x-current-size", strconv.FormatInt(mismatch.StoredSize, 10))
			http.Error(w, mismatch.Error(), http.StatusConflict)
			return
		}
		log.Printf("[Upload] Ошибка загрузки %s: %v", transferID, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, file)
}

// RenameFile переименовывает файл.
func (h *FileHandler) RenameFile(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.VerifyRequest(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	fileID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid file id", http.StatusBadRequest)
		return
	}

	var req struct {
		NewName string `json:"newName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewName == "" {
		http.Error(w, "New name is required", http.StatusBadRequest)
		return
	}

	if err := h.treeService.RenameFile(r.Context(), fileID, req.NewName, identity.UserID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// DeleteFile перемещает файл в корзину.
func (h *FileHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.VerifyRequest(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	fileID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid file id", http.StatusBadRequest)
		return
	}

	if err := h.treeService.DeleteToTrash(r.Context(), domain.KindFile, fileID, identity.UserID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}
