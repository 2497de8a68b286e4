package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/frame-ingest/internal/frame"
)

// DefaultIndexRetention bounds how many artifact records the in-memory index keeps.
const DefaultIndexRetention = 1024

// ArtifactIndex keeps the most recent artifact records for inspection over the API.
type ArtifactIndex struct {
	mu        sync.RWMutex
	retention int
	records   []frame.Artifact
	byID      map[string]frame.Artifact
}

// NewArtifactIndex constructs an ArtifactIndex retaining up to retention records.
func NewArtifactIndex(retention int) *ArtifactIndex {
	if retention <= 0 {
		retention = DefaultIndexRetention
	}
	return &ArtifactIndex{
		retention: retention,
		byID:      make(map[string]frame.Artifact),
	}
}

// RecordArtifact stores an artifact record, evicting the oldest once retention is reached.
func (s *ArtifactIndex) RecordArtifact(_ context.Context, artifact frame.Artifact) error {
	if artifact.ID == "" {
		return errors.New("artifact id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[artifact.ID]; exists {
		return errors.New("artifact already recorded")
	}
	if len(s.records) == s.retention {
		delete(s.byID, s.records[0].ID)
		s.records = append(s.records[:0], s.records[1:]...)
	}
	s.records = append(s.records, artifact)
	s.byID[artifact.ID] = artifact
	return nil
}

// GetArtifact fetches an artifact record by ID, or returns frame.ErrArtifactNotFound.
func (s *ArtifactIndex) GetArtifact(_ context.Context, id string) (frame.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	artifact, ok := s.byID[id]
	if !ok {
		return frame.Artifact{}, fmt.Errorf("%w: %s", frame.ErrArtifactNotFound, id)
	}
	return artifact, nil
}

// RecentArtifacts returns up to limit records, newest first.
func (s *ArtifactIndex) RecentArtifacts(_ context.Context, limit int) ([]frame.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}
	out := make([]frame.Artifact, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}
