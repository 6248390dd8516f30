package auth

import (
	"fmt"
	"net/http"
)

// VerifyRequest извлекает сессионный токен из запроса и спрашивает у
// сервиса аутентификации, кому он принадлежит. Ядро хранилища получает
// только непрозрачный идентификатор владельца.
func VerifyRequest(r *http.Request) (*Identity, error) {
	token := r.Header.Get("Authorization")
	if token == "" {
		if c, err := r.Cookie("session"); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		return nil, fmt.Errorf("no session token")
	}

	return gClient.Verify(r.Context(), token)
}
