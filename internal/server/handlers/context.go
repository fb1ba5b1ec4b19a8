package handlers

import "context"

// contextKey тип для ключей контекста
type contextKey string

// ClientIDKey ключ для хранения client_id устройства в контексте
const ClientIDKey contextKey = "client_id"

// GetClientID извлекает client_id из контекста запроса
func GetClientID(ctx context.Context) (string, bool) {
	clientID, ok := ctx.Value(ClientIDKey).(string)
	return clientID, ok
}
