package models

import "time"

// Статусы жизненного цикла медиа-гранта.
const (
	GrantStatusIssued    = "issued"    // грант выдан, загрузка не началась
	GrantStatusUploaded  = "uploaded"  // объект загружен, ожидает finalize
	GrantStatusCompleted = "completed" // загрузка подтверждена, object_key можно ссылать
	GrantStatusExpired   = "expired"   // грант истёк без завершения
)

// MediaGrant одноразовое, ограниченное по времени разрешение загрузить
// один бинарный объект напрямую в хранилище, минуя sync-протокол.
// Потребляется ровно одной успешной загрузкой, затем инвалидируется.
type MediaGrant struct {
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
	ID             string    `json:"id"`              // ID идентификатор гранта (UUID)
	ClientID       string    `json:"client_id"`       // ClientID устройство, запросившее грант
	ObjectKey      string    `json:"object_key"`      // ObjectKey ключ объекта в хранилище
	ContentType    string    `json:"content_type"`    // ContentType заявленный MIME-тип
	DeclaredSHA256 string    `json:"declared_sha256"` // DeclaredSHA256 хеш, заявленный клиентом (опционально)
	ObservedSHA256 string    `json:"observed_sha256"` // ObservedSHA256 хеш, вычисленный при загрузке
	Status         string    `json:"status"`
	DeclaredSize   int64     `json:"declared_size"` // DeclaredSize заявленный размер в байтах
}

// ExpiredAt возвращает true, если грант истёк на момент now
func (g *MediaGrant) ExpiredAt(now time.Time) bool {
	return now.After(g.ExpiresAt)
}
