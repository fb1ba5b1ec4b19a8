package api

// Машинные коды ошибок, возвращаемые сервером.
// Клиент использует код для классификации: retry, пауза или отказ.
const (
	CodeValidation   = "validation_error" // некорректный payload или ссылка на незавершённый медиа-грант
	CodeStaleBatch   = "stale_batch"      // watermark батча старше уже применённого для этого клиента
	CodeAuthExpired  = "auth_expired"     // access token истёк, требуется обновление
	CodeGrantExpired = "grant_expired"    // медиа-грант истёк
	CodeIntegrity    = "integrity_error"  // хеш загруженного объекта не совпал с заявленным
	CodeInternal     = "internal_error"   // временная серверная ошибка, безопасно повторить
)

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`          // Error тип ошибки
	Code    string `json:"code,omitempty"` // Code машинный код для классификации клиентом
	Message string `json:"message"`        // Message описание ошибки
}
