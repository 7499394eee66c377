// event_archiver.go implements the EventArchiver background job. It seals published
// sale events into immutable NDJSON segments in object storage, one line per event in
// the same envelope the sinks deliver, and records each segment in event_archives with
// its SHA-256. An event is marked archived in the same transaction that records its
// segment, so no event lands in two recorded segments.
package jobs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cct-registry/cct-registry/internal/config"
	"github.com/cct-registry/cct-registry/internal/db/models"
	"github.com/cct-registry/cct-registry/internal/events"
	"github.com/cct-registry/cct-registry/internal/storage"
	"github.com/cct-registry/cct-registry/internal/telemetry"
	"github.com/cct-registry/cct-registry/pkg/checksum"
)

// ArchiveStore is the slice of the ledger the archiver reads and updates
type ArchiveStore interface {
	ListUnarchived(ctx context.Context, limit int) ([]*models.SaleEvent, error)
	RecordArchive(ctx context.Context, archive *models.EventArchive, sequences []int64) error
}

// EventArchiver periodically seals published events into storage segments
type EventArchiver struct {
	store     ArchiveStore
	storage   storage.Storage
	backend   string
	interval  time.Duration
	minEvents int
	maxEvents int
	prefix    string
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewEventArchiver creates an archiver writing through store to backend
func NewEventArchiver(store ArchiveStore, backend storage.Storage, backendName string, cfg *config.ArchiveConfig) *EventArchiver {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	minEvents := cfg.MinEvents
	if minEvents < 1 {
		minEvents = 1
	}
	maxEvents := cfg.MaxEvents
	if maxEvents < minEvents {
		maxEvents = minEvents
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "sale-events"
	}
	return &EventArchiver{
		store:     store,
		storage:   backend,
		backend:   backendName,
		interval:  interval,
		minEvents: minEvents,
		maxEvents: maxEvents,
		prefix:    prefix,
		stopChan:  make(chan struct{}),
	}
}

// Start runs the archive loop until ctx is cancelled or Stop is called
func (a *EventArchiver) Start(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	slog.Info("event archiver started", "backend", a.backend, "interval", a.interval,
		"min_events", a.minEvents, "max_events", a.maxEvents)

	for {
		select {
		case <-ticker.C:
			a.tick(ctx)
		case <-a.stopChan:
			slog.Info("event archiver stopped")
			return
		case <-ctx.Done():
			slog.Info("event archiver context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. It is safe to call more than once.
func (a *EventArchiver) Stop() {
	a.stopOnce.Do(func() { close(a.stopChan) })
}

func (a *EventArchiver) tick(ctx context.Context) {
	for {
		archive, err := a.RunOnce(ctx)
		if err != nil {
			slog.Error("event archiver: failed to seal segment", "backend", a.backend, "error", err)
			return
		}
		if archive == nil {
			return
		}
	}
}

// SegmentPath returns the storage key of the segment covering first..last
func (a *EventArchiver) SegmentPath(first, last int64) string {
	return fmt.Sprintf("%s/%020d-%020d.ndjson", a.prefix, first, last)
}

// RunOnce seals at most one segment. It returns (nil, nil) when fewer than
// min_events events are waiting.
func (a *EventArchiver) RunOnce(ctx context.Context) (*models.EventArchive, error) {
	pending, err := a.store.ListUnarchived(ctx, a.maxEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to list unarchived sale events: %w", err)
	}
	if len(pending) < a.minEvents {
		return nil, nil
	}

	var buf bytes.Buffer
	sequences := make([]int64, len(pending))
	for i, ev := range pending {
		line, err := events.Encode(ev)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
		sequences[i] = ev.Sequence
	}

	first, last := sequences[0], sequences[len(sequences)-1]
	path := a.SegmentPath(first, last)
	data := buf.Bytes()
	sum := checksum.SumBytes(data)

	result, err := a.storage.Upload(ctx, path, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to upload segment %s: %w", path, err)
	}
	if result.Checksum != "" && result.Checksum != sum {
		return nil, fmt.Errorf("segment %s checksum mismatch: stored %s, computed %s", path, result.Checksum, sum)
	}

	archive := &models.EventArchive{
		ID:             uuid.New().String(),
		FirstSequence:  first,
		LastSequence:   last,
		EventCount:     len(pending),
		StoragePath:    path,
		StorageBackend: a.backend,
		Checksum:       sum,
		SizeBytes:      int64(len(data)),
	}
	if err := a.store.RecordArchive(ctx, archive, sequences); err != nil {
		// The events stay unarchived. Remove the orphaned object so the retry
		// starts from a clean key.
		if delErr := a.storage.Delete(ctx, path); delErr != nil {
			slog.Warn("event archiver: failed to remove orphaned segment", "path", path, "error", delErr)
		}
		return nil, fmt.Errorf("failed to record segment %s: %w", path, err)
	}

	telemetry.ArchiveSegmentsTotal.WithLabelValues(a.backend).Inc()
	slog.Info("sale event segment archived",
		"path", path,
		"first_sequence", first,
		"last_sequence", last,
		"events", len(pending),
		"size_bytes", archive.SizeBytes,
		"checksum", sum,
	)
	return archive, nil
}
