package frame

import (
	"context"
	"errors"
	"time"
)

// Queue hands frames from ingress to the persistence workers.
type Queue interface {
	Push(f Frame) error
	Pop(ctx context.Context) (Frame, error)
	Len() int
	Close()
}

// BlobStore writes encoded artifacts and returns a URI.
// Implementations must refuse to overwrite an existing object.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// ArtifactIndex records persisted artifact metadata.
type ArtifactIndex interface {
	RecordArtifact(ctx context.Context, artifact Artifact) error
}

// Publisher pushes artifact notifications to a topic or exchange.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces artifact IDs.
type IDGenerator interface {
	NewID() (string, error)
}

var (
	// ErrQueueClosed is returned by Queue.Push after Close, and by Queue.Pop once a closed queue is empty.
	ErrQueueClosed = errors.New("queue closed")
	// ErrArtifactNotFound is returned by index lookups for an unknown artifact ID.
	ErrArtifactNotFound = errors.New("artifact not found")
)
