package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"orbitdrive/internal/domain"
)

// writeError сопоставляет ошибку ядра со статусом ответа. Использовать
// только до начала тела: начатый поток уже не может сменить статус.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrForbidden):
		http.Error(w, "Access denied", http.StatusForbidden)
	case errors.Is(err, domain.ErrConflict):
		http.Error(w, "Conflict", http.StatusConflict)
	case errors.Is(err, domain.ErrRangeNotSatisfiable):
		http.Error(w, "Range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
	default:
		log.Printf("internal error: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// parseRange разбирает заголовок Range чисто синтаксически, до открытия
// блоба. Формы: bytes=N-, bytes=N-M и суффиксная bytes=-N; последняя
// кодируется отрицательным start (суффикс из N байт), end < 0 означает
// "до конца". Разрешение против фактического размера делает сервис.
func parseRange(rangeHeader string) (start, end int64, err error) {
	if !strings.HasPrefix(rangeHeader, "bytes=") {
		return 0, 0, fmt.Errorf("invalid range format")
	}

	spec := strings.TrimSpace(strings.TrimPrefix(rangeHeader, "bytes="))
	if strings.Contains(spec, ",") {
		return 0, 0, fmt.Errorf("multiple ranges not supported")
	}

	parts := strings.Split(spec, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid range format")
	}

	if parts[0] == "" {
		// Suffix range: -N
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, fmt.Errorf("invalid suffix range")
		}
		return -n, -1, nil
	}

	start, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("invalid range values")
	}

	if parts[1] == "" {
		// Range: N-
		return start, -1, nil
	}

	end, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	if start > end {
		return 0, 0, fmt.Errorf("invalid range values")
	}
	return start, end, nil
}
