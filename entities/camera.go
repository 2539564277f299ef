package entities

import (
	"time"
)

// CameraEntry is owned by the registry; other components hold the Id only.
// SourceURI embeds credentials and must never be logged.
type CameraEntry struct {
	Id        string    `json:"id"`
	SourceURI string    `json:"-"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}
