package objectstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/skypro1111/media-transcriber/internal/audio"
)

// AudioStore stores audio.Audio values in a Store as JSON documents
type AudioStore struct {
	store Store
}

// NewAudioStore wraps store
func NewAudioStore(store Store) *AudioStore {
	return &AudioStore{store: store}
}

// Create stores a under id
func (s *AudioStore) Create(ctx context.Context, id string, a audio.Audio) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode audio: %w", err)
	}
	return s.store.Create(ctx, id, data)
}

// Read loads the audio stored under id
func (s *AudioStore) Read(ctx context.Context, id string) (audio.Audio, error) {
	data, err := s.store.Read(ctx, id)
	if err != nil {
		return audio.Audio{}, err
	}

	var a audio.Audio
	if err := json.Unmarshal(data, &a); err != nil {
		return audio.Audio{}, fmt.Errorf("failed to decode audio %s: %w", id, err)
	}

	if !a.Format.Valid() {
		return audio.Audio{}, fmt.Errorf("%w: object %s has format %q", audio.ErrUnsupportedFormat, id, a.Format)
	}

	return a, nil
}

// Delete removes id
func (s *AudioStore) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}
