package models

import (
	"encoding/json"
	"time"
)

// Report представляет полевое донесение о состоянии здоровья/воды.
// Payload сущности "reports"; внутри движка синхронизации передаётся
// как opaque JSON, структура нужна клиентскому CLI и валидации.
type Report struct {
	ReporterID    string   `json:"reporter_id"`
	RegionID      string   `json:"region_id"`
	Language      string   `json:"language"`
	VoiceNote     string   `json:"voice_note,omitempty"` // VoiceNote ключ объекта голосовой заметки
	Symptoms      []string `json:"symptoms"`
	Photos        []string `json:"photos,omitempty"` // Photos ключи объектов фотографий
	GPSLatitude   float64  `json:"gps_latitude"`
	GPSLongitude  float64  `json:"gps_longitude"`
	PatientCount  int      `json:"patient_count"`
	WaterObserved bool     `json:"water_observed"`
}

// SensorReading представляет показание датчика качества воды.
// Payload сущности "sensor_readings".
type SensorReading struct {
	Timestamp    time.Time `json:"timestamp"`
	SensorID     string    `json:"sensor_id"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Turbidity    float64   `json:"turbidity"`
	PH           float64   `json:"ph"`
	Conductivity float64   `json:"electrical_conductivity"`
	Coliform     float64   `json:"coliform_level"`
	BatteryLevel float64   `json:"battery_level"`
}

// mediaFields верхнеуровневые поля payload, содержащие ссылки на медиа.
type mediaFields struct {
	VoiceNote string   `json:"voice_note"`
	Photos    []string `json:"photos"`
}

// MediaRefs извлекает из payload все ссылки на объекты медиа-хранилища.
// Сервер отклоняет изменение, если хоть одна ссылка не финализирована.
func MediaRefs(payload json.RawMessage) []string {
	if len(payload) == 0 {
		return nil
	}

	var fields mediaFields
	if err := json.Unmarshal(payload, &fields); err != nil {
		// Невалидный JSON отлавливается валидацией payload, не здесь
		return nil
	}

	refs := make([]string, 0, len(fields.Photos)+1)
	refs = append(refs, fields.Photos...)
	if fields.VoiceNote != "" {
		refs = append(refs, fields.VoiceNote)
	}
	return refs
}
