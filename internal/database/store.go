package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/optirex/internal/config"
	"github.com/temcen/optirex/pkg/models"
)

var ErrStoreClosed = errors.New("observation store is closed")

// WriteFuture completes once its write has been applied by the store's
// writer goroutine.
type WriteFuture struct {
	done    chan struct{}
	err     error
	ids     []uuid.UUID
	updated int
}

func newWriteFuture(ids []uuid.UUID) *WriteFuture {
	return &WriteFuture{done: make(chan struct{}), ids: ids}
}

func (f *WriteFuture) complete(updated int, err error) {
	f.updated = updated
	f.err = err
	close(f.done)
}

// Done is closed when the write has been applied or has failed.
func (f *WriteFuture) Done() <-chan struct{} { return f.done }

// Wait blocks until the write completes or ctx is done.
func (f *WriteFuture) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IDs are the identifiers assigned to appended observations. They are known
// before the write completes.
func (f *WriteFuture) IDs() []uuid.UUID { return f.ids }

// Updated is the number of rows an update batch changed. Valid after Done.
func (f *WriteFuture) Updated() int { return f.updated }

type writeKind int

const (
	writeAppend writeKind = iota
	writeUpdate
)

type writeOp struct {
	kind         writeKind
	campaignID   uuid.UUID
	observations []models.Observation
	updates      []models.ObservationUpdate
	future       *WriteFuture
}

// ObservationStore serializes writes through a single goroutine. Every write
// returns a future; Fetch waits until all writes enqueued before it are
// visible, bounded by the configured fetch timeout.
type ObservationStore struct {
	backend      Backend
	queue        chan writeOp
	fetchTimeout time.Duration
	logger       *logrus.Logger

	// sending admits one sender at a time so queue order matches s.last.
	// s.mu is never held while a send blocks.
	sending chan struct{}
	quit    chan struct{}

	mu     sync.Mutex
	last   *WriteFuture
	closed bool
	wg     sync.WaitGroup
}

func NewObservationStore(backend Backend, cfg config.StorageConfig, logger *logrus.Logger) *ObservationStore {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	s := &ObservationStore{
		backend:      backend,
		queue:        make(chan writeOp, cfg.QueueSize),
		fetchTimeout: cfg.FetchTimeout,
		logger:       logger,
		sending:      make(chan struct{}, 1),
		quit:         make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *ObservationStore) run() {
	defer s.wg.Done()
	for op := range s.queue {
		ctx := context.Background()
		switch op.kind {
		case writeAppend:
			err := s.backend.AppendObservations(ctx, op.observations)
			if err != nil {
				s.logger.WithError(err).WithFields(logrus.Fields{
					"campaign_id": op.campaignID,
					"count":       len(op.observations),
				}).Error("Failed to append observations")
			}
			op.future.complete(len(op.observations), err)
		case writeUpdate:
			n, err := s.backend.UpdateObservations(ctx, op.campaignID, op.updates)
			if err != nil {
				s.logger.WithError(err).WithField("campaign_id", op.campaignID).Error("Failed to update observations")
			}
			op.future.complete(n, err)
		}
	}
}

func (s *ObservationStore) enqueue(ctx context.Context, op writeOp) (*WriteFuture, error) {
	select {
	case s.sending <- struct{}{}:
	case <-ctx.Done():
		return nil, &models.StorageUnavailableError{Operation: "enqueue", Err: ctx.Err()}
	}
	defer func() { <-s.sending }()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrStoreClosed
	}

	select {
	case s.queue <- op:
	case <-s.quit:
		return nil, ErrStoreClosed
	case <-ctx.Done():
		return nil, &models.StorageUnavailableError{Operation: "enqueue", Err: ctx.Err()}
	}

	s.mu.Lock()
	s.last = op.future
	s.mu.Unlock()
	return op.future, nil
}

// Append assigns IDs and timestamps to the observations and queues them.
// History is append-only; callers must not modify the slice afterwards.
func (s *ObservationStore) Append(ctx context.Context, campaignID uuid.UUID, observations []models.Observation) (*WriteFuture, error) {
	now := time.Now().UTC()
	batch := make([]models.Observation, len(observations))
	ids := make([]uuid.UUID, len(observations))
	for i, o := range observations {
		if o.ID == uuid.Nil {
			o.ID = uuid.New()
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = now
		}
		o.CampaignID = campaignID
		batch[i] = o
		ids[i] = o.ID
	}
	return s.enqueue(ctx, writeOp{
		kind:         writeAppend,
		campaignID:   campaignID,
		observations: batch,
		future:       newWriteFuture(ids),
	})
}

// UpdateBatch queues backfills of feasibility labels or objective values.
func (s *ObservationStore) UpdateBatch(ctx context.Context, campaignID uuid.UUID, updates []models.ObservationUpdate) (*WriteFuture, error) {
	return s.enqueue(ctx, writeOp{
		kind:       writeUpdate,
		campaignID: campaignID,
		updates:    append([]models.ObservationUpdate(nil), updates...),
		future:     newWriteFuture(nil),
	})
}

// Fetch returns the campaign history once every previously enqueued write
// has been applied. It fails with StorageUnavailableError when that takes
// longer than the fetch timeout or the backend read fails.
func (s *ObservationStore) Fetch(ctx context.Context, campaignID uuid.UUID, filter models.ObservationFilter) ([]models.Observation, error) {
	if err := s.await(ctx, "fetch"); err != nil {
		return nil, err
	}
	observations, err := s.backend.FetchObservations(ctx, campaignID, filter)
	if err != nil {
		return nil, &models.StorageUnavailableError{Operation: "fetch", Err: err}
	}
	return observations, nil
}

// Flush waits for every queued write, bounded like Fetch.
func (s *ObservationStore) Flush(ctx context.Context) error {
	return s.await(ctx, "flush")
}

func (s *ObservationStore) await(ctx context.Context, operation string) error {
	s.mu.Lock()
	barrier := s.last
	s.mu.Unlock()
	if barrier == nil {
		return nil
	}

	timer := time.NewTimer(s.fetchTimeout)
	defer timer.Stop()
	select {
	case <-barrier.Done():
		return nil
	case <-timer.C:
		return &models.StorageUnavailableError{Operation: operation, Wait: s.fetchTimeout}
	case <-ctx.Done():
		return &models.StorageUnavailableError{Operation: operation, Err: ctx.Err()}
	}
}

// Close drains the queue and stops the writer. The backend stays open.
func (s *ObservationStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.quit)
	s.mu.Unlock()

	// Wait out a sender blocked on a full queue before closing it.
	s.sending <- struct{}{}
	close(s.queue)
	<-s.sending

	s.wg.Wait()
	return nil
}

// Pending reports the number of queued writes.
func (s *ObservationStore) Pending() int { return len(s.queue) }

func (s *ObservationStore) String() string {
	return fmt.Sprintf("ObservationStore(queue=%d/%d)", len(s.queue), cap(s.queue))
}
