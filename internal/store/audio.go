package store

import (
	"time"

	"github.com/google/uuid"
)

// NewAudioRef returns a fresh opaque reference for an audio artifact.
func NewAudioRef() string {
	return uuid.NewString()
}

// PutAudio stores an audio blob under its reference. Writing an existing
// reference replaces the blob, so a retake keeps the answer's ref stable.
func (s *Store) PutAudio(ref, contentType string, data []byte) error {
	if contentType == "" {
		contentType = "audio/webm"
	}
	_, err := s.db.Exec(
		`INSERT INTO audio_blobs (ref, content_type, data, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(ref) DO UPDATE SET content_type = excluded.content_type, data = excluded.data`,
		ref, contentType, data, time.Now(),
	)
	return err
}

// GetAudio returns the blob and content type for a reference.
func (s *Store) GetAudio(ref string) ([]byte, string, error) {
	var data []byte
	var contentType string
	err := s.db.QueryRow(
		`SELECT data, content_type FROM audio_blobs WHERE ref = ?`, ref,
	).Scan(&data, &contentType)
	return data, contentType, err
}
