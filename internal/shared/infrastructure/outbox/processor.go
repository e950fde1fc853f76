package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelzhukov/raylink/internal/shared/domain"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/eventbus"
)

// ProcessorConfig tunes the outbox drain loop.
type ProcessorConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxRetries is how many publish attempts a row gets before it is
	// dead-lettered. Zero or negative dead-letters on the first failure.
	MaxRetries       int
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
}

// DefaultProcessorConfig keeps publish latency under a second at
// chat-bot scale without hammering the store.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PollInterval:     100 * time.Millisecond,
		BatchSize:        100,
		MaxRetries:       5,
		RetryBackoffBase: 1 * time.Second,
		RetryBackoffMax:  1 * time.Minute,
	}
}

// Processor drains the outbox to the event bus. One instance per store
// runs at a time: the worker in deployments, serve in local mode. Rows
// are marked published only after the broker accepts them, so delivery
// is at-least-once and consumers must tolerate replays.
type Processor struct {
	repo      Repository
	publisher eventbus.Publisher
	config    ProcessorConfig
	logger    *slog.Logger

	wg       sync.WaitGroup
	stopChan chan struct{}
	running  bool
	mu       sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// NewProcessor creates an outbox processor. Call Start to begin draining.
func NewProcessor(repo Repository, publisher eventbus.Publisher, config ProcessorConfig, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		repo:      repo,
		publisher: publisher,
		config:    config,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start launches the drain loop. Starting a running processor is a no-op.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopChan = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx)

	p.logger.Info("outbox processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize,
	)

	return nil
}

// Stop halts the drain loop and waits for the in-flight batch to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("outbox processor stopped")
}

// IsRunning reports whether the drain loop is active.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// ProcessOnce drains a single batch synchronously instead of waiting
// for the loop's next tick.
func (p *Processor) ProcessOnce(ctx context.Context) error {
	return p.processBatch(ctx)
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			if err := p.processBatch(ctx); err != nil {
				p.logger.Error("outbox batch failed", "error", err)
			}
		}
	}
}

func (p *Processor) processBatch(ctx context.Context) error {
	messages, err := p.repo.GetUnpublished(ctx, p.config.BatchSize)
	if err != nil {
		p.recordFetchError(err)
		return err
	}

	p.recordBatch(messages)

	for _, msg := range messages {
		if err := p.publishMessage(ctx, msg); err != nil {
			p.handlePublishFailure(ctx, msg, err)
			continue
		}
		if err := p.repo.MarkPublished(ctx, msg.ID); err != nil {
			// The broker has the event but the row stays unpublished, so
			// the next batch sends it again.
			p.logger.Error("published row not marked",
				"id", msg.ID,
				"event_id", msg.EventID,
				"error", err,
			)
			continue
		}
		p.recordPublished()
	}

	return nil
}

// publishMessage wraps the stored event in the envelope consumers decode.
// The row already carries every envelope field, so the wire format does
// not depend on how individual event structs marshal.
func (p *Processor) publishMessage(ctx context.Context, msg *Message) error {
	envelope := eventbus.ConsumedEvent{
		EventID:       msg.EventID,
		AggregateID:   msg.AggregateID,
		AggregateType: msg.AggregateType,
		RoutingKey:    msg.RoutingKey,
		OccurredAt:    msg.CreatedAt,
		Payload:       msg.Payload,
	}
	if meta, ok := decodeMetadata(msg.Metadata); ok {
		envelope.Metadata.AccountID = meta.AccountID
		if meta.CorrelationID != uuid.Nil {
			envelope.Metadata.CorrelationID = meta.CorrelationID.String()
		}
		if meta.CausationID != uuid.Nil {
			envelope.Metadata.CausationID = meta.CausationID.String()
		}
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode event envelope: %w", err)
	}

	return p.publisher.Publish(ctx, msg.RoutingKey, body)
}

// handlePublishFailure schedules a retry or dead-letters the row once
// its attempts are spent.
func (p *Processor) handlePublishFailure(ctx context.Context, msg *Message, pubErr error) {
	attrs := []any{
		"id", msg.ID,
		"routing_key", msg.RoutingKey,
		"event_id", msg.EventID,
		"error", pubErr,
	}
	if meta, ok := decodeMetadata(msg.Metadata); ok {
		attrs = append(attrs,
			"correlation_id", meta.CorrelationID,
			"account_id", meta.AccountID,
		)
	}
	p.logger.Warn("outbox publish failed", attrs...)

	errStr := pubErr.Error()
	if p.shouldDeadLetter(msg) {
		p.recordFailure(pubErr, true)
		if err := p.repo.MarkDead(ctx, msg.ID, errStr); err != nil {
			p.logger.Error("dead-letter mark failed", "id", msg.ID, "error", err)
		}
		return
	}

	p.recordFailure(pubErr, false)
	nextRetryAt := time.Now().Add(p.retryBackoff(msg.RetryCount + 1))
	if err := p.repo.MarkFailed(ctx, msg.ID, errStr, nextRetryAt); err != nil {
		p.logger.Error("retry mark failed", "id", msg.ID, "error", err)
	}
}

func (p *Processor) shouldDeadLetter(msg *Message) bool {
	if p.config.MaxRetries <= 0 {
		return true
	}
	return msg.RetryCount+1 >= p.config.MaxRetries
}

func (p *Processor) retryBackoff(nextRetryCount int) time.Duration {
	base := p.config.RetryBackoffBase
	if base <= 0 {
		base = time.Second
	}
	max := p.config.RetryBackoffMax
	if max <= 0 {
		max = time.Minute
	}
	if nextRetryCount < 1 {
		nextRetryCount = 1
	}

	// Cap the shift so doubling cannot overflow before max applies.
	shift := uint(nextRetryCount - 1)
	if shift > 20 {
		shift = 20
	}
	backoff := base * time.Duration(1<<shift)
	if backoff > max {
		return max
	}
	return backoff
}

func decodeMetadata(raw []byte) (domain.EventMetadata, bool) {
	if len(raw) == 0 {
		return domain.EventMetadata{}, false
	}
	var meta domain.EventMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return domain.EventMetadata{}, false
	}
	return meta, true
}

// Stats is a snapshot of the drain loop's counters since start.
type Stats struct {
	IsRunning       bool
	PublishedCount  uint64
	FailedCount     uint64
	DeadCount       uint64
	LagSeconds      float64
	LastError       string
	LastErrorAt     *time.Time
	LastProcessedAt *time.Time
	OldestMessageAt *time.Time
}

// GetStats returns the current snapshot. The worker logs it and serves
// it at /outboxz.
func (p *Processor) GetStats() Stats {
	p.statsMu.Lock()
	snapshot := p.stats
	p.statsMu.Unlock()

	snapshot.IsRunning = p.IsRunning()
	return snapshot
}

func (p *Processor) recordPublished() {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.PublishedCount++
}

func (p *Processor) recordFailure(err error, dead bool) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	if dead {
		p.stats.DeadCount++
	} else {
		p.stats.FailedCount++
	}
	p.noteErrorLocked(err)
}

func (p *Processor) recordFetchError(err error) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.noteErrorLocked(err)
}

// recordBatch stamps the batch time and recomputes publish lag from the
// oldest row still in flight. Callers pass the batch before publishing.
func (p *Processor) recordBatch(messages []*Message) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	now := time.Now()
	p.stats.LastProcessedAt = &now
	if len(messages) == 0 {
		p.stats.LagSeconds = 0
		p.stats.OldestMessageAt = nil
		return
	}

	oldest := messages[0].CreatedAt
	for _, msg := range messages[1:] {
		if msg.CreatedAt.Before(oldest) {
			oldest = msg.CreatedAt
		}
	}
	p.stats.OldestMessageAt = &oldest
	p.stats.LagSeconds = now.Sub(oldest).Seconds()
}

// noteErrorLocked stamps the last-error fields; callers hold statsMu.
func (p *Processor) noteErrorLocked(err error) {
	now := time.Now()
	p.stats.LastError = err.Error()
	p.stats.LastErrorAt = &now
}
