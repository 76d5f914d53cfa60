package weather

import (
	"context"
)

// Source abstracts the upstream weather provider queried once per entity.
type Source interface {
	Name() string
	Fetch(ctx context.Context, entity string) (UpstreamRecord, error)
}

// Sink abstracts the downstream ingestion endpoint.
type Sink interface {
	Emit(ctx context.Context, rec NormalizedRecord) error
}

// Recorder keeps emitted records for the status API.
type Recorder interface {
	SaveRecord(rec NormalizedRecord)
}
