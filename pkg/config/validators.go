package config

type UpdateConfigPayload struct {
	SyncEnabled         *bool `json:"sync_enabled,omitempty"`
	SyncIntervalMinutes *int  `json:"sync_interval_minutes,omitempty" validate:"omitempty,min=1"`
	SyncLibrary         *bool `json:"sync_library,omitempty"`
	SyncPayloadFiles    *bool `json:"sync_payload_files,omitempty"`
	SyncReadingProgress *bool `json:"sync_reading_progress,omitempty"`
}
