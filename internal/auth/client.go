// auth/client.go
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Identity - результат проверки сессии во внешнем сервисе аутентификации.
type Identity struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// Client ходит во внешний auth-сервис по HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

var gClient *Client

// InitClient инициализирует пакетный клиент. Вызывается один раз при
// старте процесса, до первого VerifyRequest.
func InitClient(baseURL string) {
	gClient = &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Verify обменивает сессионный токен на личность пользователя.
func (c *Client) Verify(ctx context.Context, token string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/session", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build auth request: %w", err)
	}
	req.Header.Set("Authorization", token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth service rejected token: status %d", resp.StatusCode)
	}

	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return nil, fmt.Errorf("failed to decode auth response: %w", err)
	}
	if id.UserID == "" {
		return nil, fmt.Errorf("auth service returned empty user id")
	}
	return &id, nil
}
