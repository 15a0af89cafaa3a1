// Package sync coordinates reconciliation between the local store and the
// remote record store.
//
// A single worker goroutine runs sync cycles. Every trigger source (periodic
// timer, network-online edge, force-sync, live remote notification) funnels
// into one buffered channel; a trigger arriving while a cycle is already
// running is dropped, the next periodic tick catches any missed work. Each
// cycle pushes the durable mutation queue first, then pulls remote changes
// past the persisted checkpoint.
package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/converso-app/backend/internal/db"
	"github.com/converso-app/backend/internal/errors"
	"github.com/converso-app/backend/internal/logging"
	"github.com/converso-app/backend/internal/models"
	"github.com/converso-app/backend/internal/network"
	"github.com/converso-app/backend/internal/sync/conflict"
	"github.com/converso-app/backend/internal/sync/queue"
	"github.com/converso-app/backend/internal/sync/remote"
	"github.com/converso-app/backend/internal/uuid"
)

// State is the coordinator's externally visible phase.
type State string

const (
	StateOffline State = "offline"
	StateIdle    State = "idle"
	StatePushing State = "pushing"
	StatePulling State = "pulling"
)

// Event is a coordinator lifecycle notification for local UI consumers.
type Event struct {
	Type       string            `json:"type"`
	EntityType models.EntityType `json:"entity_type,omitempty"`
	EntityID   models.UUID       `json:"entity_id,omitempty"`
	Error      string            `json:"error,omitempty"`
	Timestamp  int64             `json:"timestamp"`
}

const (
	EventSyncStarted   = "sync.started"
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"
	EventConflict      = "sync.conflict"
)

// Status is the read-only snapshot served to status displays.
type Status struct {
	Online       bool   `json:"online"`
	State        State  `json:"state"`
	Suspended    bool   `json:"suspended"`
	PendingCount int    `json:"pending_count"`
	FailedCount  int    `json:"failed_count"`
	LastSyncAt   int64  `json:"last_sync_at"`
	LastError    string `json:"last_error,omitempty"`
}

// Config holds coordinator tuning. Zero values fall back to defaults.
type Config struct {
	DeviceID string
	// Interval between periodic sync cycles. Default 30s.
	Interval time.Duration
	// BatchSize bounds one push pass. Default 50.
	BatchSize int
	// Events receives lifecycle events; may be nil. Called from the worker
	// goroutine, so handlers must not block.
	Events func(Event)
}

// Coordinator is the single sync worker. All remote reconciliation and all
// pull-side store writes go through it.
type Coordinator struct {
	deviceID  string
	database  *db.DB
	store     *db.Store
	queue     *queue.Queue
	resolver  *conflict.Resolver
	remote    remote.RecordStore
	monitor   network.Monitor
	interval  time.Duration
	batchSize int
	events    func(Event)

	trigger chan struct{}
	stopCh  chan struct{}
	wg      gosync.WaitGroup

	// mergeMu serializes the pull-side merge path between the worker's pull
	// pass and live notifications arriving on transport goroutines.
	mergeMu gosync.Mutex

	mu         gosync.RWMutex
	state      State
	running    bool
	inCycle    bool
	suspended  bool
	lastSyncAt int64
	lastErr    string
}

// New creates a Coordinator. The remote store and monitor are injected so
// transports and connectivity sources stay swappable.
func New(database *db.DB, remoteStore remote.RecordStore, monitor network.Monitor, cfg Config) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Coordinator{
		deviceID:  cfg.DeviceID,
		database:  database,
		store:     db.NewStore(database),
		queue:     queue.New(database),
		resolver:  conflict.New(cfg.DeviceID),
		remote:    remoteStore,
		monitor:   monitor,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		events:    cfg.Events,
		trigger:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		state:     StateIdle,
	}
}

// Start launches the worker goroutine. Items stuck in processing from a
// previous crash are reset to pending first.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New(errors.ErrSyncFailed, "coordinator already running")
	}
	c.running = true
	c.mu.Unlock()

	reset, err := c.queue.ResetProcessing()
	if err != nil {
		return err
	}
	if reset > 0 {
		logging.Warn("Recovered in-flight mutations from previous run",
			map[string]interface{}{"count": reset})
	}

	c.wg.Add(1)
	go c.run(ctx)

	logging.Info("Sync coordinator started", map[string]interface{}{
		"device_id":  c.deviceID,
		"interval":   c.interval.String(),
		"batch_size": c.batchSize,
	})
	return nil
}

// Stop shuts the worker down. A cycle in flight runs to completion; shutdown
// only takes effect between cycles.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()
	logging.Info("Sync coordinator stopped", nil)
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	netCh := c.monitor.Subscribe()

	// Drain anything queued while offline as soon as we start.
	c.requestSync()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.requestSync()
		case online := <-netCh:
			if online {
				c.requestSync()
			} else {
				c.setState(StateOffline)
			}
		case <-c.trigger:
			c.cycle(ctx)
		}
	}
}

// requestSync schedules a cycle. Triggers arriving mid-cycle are dropped;
// the next periodic tick catches whatever they would have synced.
func (c *Coordinator) requestSync() {
	c.mu.RLock()
	busy := c.inCycle
	c.mu.RUnlock()
	if busy {
		return
	}
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// cycle runs one push pass followed by one pull pass.
func (c *Coordinator) cycle(ctx context.Context) {
	c.mu.Lock()
	if c.suspended {
		c.mu.Unlock()
		return
	}
	c.inCycle = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inCycle = false
		c.mu.Unlock()
	}()

	if !c.monitor.Online() {
		c.setState(StateOffline)
		return
	}

	c.emit(Event{Type: EventSyncStarted, Timestamp: time.Now().UnixMilli()})

	c.setState(StatePushing)
	pushErr := c.push(ctx)

	if c.isSuspended() {
		c.setState(StateIdle)
		c.fail(pushErr)
		return
	}

	c.setState(StatePulling)
	pullErr := c.pull(ctx)
	c.setState(StateIdle)

	if pushErr != nil || pullErr != nil {
		err := pushErr
		if err == nil {
			err = pullErr
		}
		c.fail(err)
		return
	}

	c.mu.Lock()
	c.lastSyncAt = time.Now().UnixMilli()
	c.lastErr = ""
	c.mu.Unlock()
	c.emit(Event{Type: EventSyncCompleted, Timestamp: time.Now().UnixMilli()})
}

// push drains one bounded batch of pending mutations. Items fail
// independently: one item's error never blocks the rest of the batch.
func (c *Coordinator) push(ctx context.Context) error {
	items, err := c.queue.DequeueBatch(c.batchSize)
	if err != nil {
		return err
	}

	var firstErr error
	for _, item := range items {
		if err := c.queue.MarkProcessing(item.Seq); err != nil {
			logging.Warn("Skipping contended queue item",
				map[string]interface{}{"seq": item.Seq, "error": err.Error()})
			continue
		}

		err := c.pushItem(ctx, item)
		if err == nil {
			// Queue removal and the entity's synced flag commit together; a
			// crash between them must not strand a pending entity with no
			// queue item left to repair it.
			ackErr := c.database.WithTx(func(tx *sql.Tx) error {
				if err := c.queue.MarkDoneTx(tx, item.Seq); err != nil {
					return err
				}
				return db.NewTxStore(tx).MarkSynced(item.EntityType, item.EntityID)
			})
			if ackErr != nil {
				logging.Error("Failed to finalize acknowledged mutation", ackErr,
					map[string]interface{}{"seq": item.Seq})
			}
			continue
		}

		switch remote.Classify(err) {
		case remote.ClassAuth:
			// Put the whole batch back and stop the loop until Resume.
			if _, rerr := c.queue.ResetProcessing(); rerr != nil {
				logging.Error("Failed to reset queue after auth failure", rerr, nil)
			}
			c.suspend(err)
			return err
		case remote.ClassTerminal:
			if merr := c.queue.MarkFailed(item, err, true); merr != nil {
				logging.Error("Failed to park rejected mutation", merr,
					map[string]interface{}{"seq": item.Seq})
			}
		default:
			if merr := c.queue.MarkFailed(item, err, false); merr != nil {
				logging.Error("Failed to schedule mutation retry", merr,
					map[string]interface{}{"seq": item.Seq})
			}
		}
		logging.Warn("Push failed for mutation", map[string]interface{}{
			"seq":         item.Seq,
			"entity_id":   string(item.EntityID),
			"operation":   string(item.Operation),
			"class":       remote.Classify(err).String(),
			"retry_count": item.RetryCount,
			"error":       err.Error(),
		})
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// pushItem performs the remote write for one queue item. Upserts are tagged
// with the local device ID so pulls can exclude the echo.
func (c *Coordinator) pushItem(ctx context.Context, item *models.MutationQueueItem) error {
	if item.Operation == models.OpDelete {
		return c.remote.Delete(ctx, item.EntityType, item.EntityID, c.deviceID)
	}
	return c.remote.Upsert(ctx, &remote.Record{
		EntityType: item.EntityType,
		ID:         item.EntityID,
		DeviceID:   c.deviceID,
		Payload:    item.Payload,
	})
}

// pull fetches remote changes past the checkpoint for both entity types and
// merges them in. Conversations go first so arriving messages find their
// parent. The checkpoint advances to the pull-start time only when the pass
// saw no transport or storage error; malformed payloads are logged, skipped
// and do not hold the checkpoint back.
func (c *Coordinator) pull(ctx context.Context) error {
	start := time.Now().UnixMilli()
	checkpoint, err := c.store.Checkpoint()
	if err != nil {
		return err
	}

	var firstErr error
	for _, et := range []models.EntityType{models.EntityConversation, models.EntityMessage} {
		records, err := c.remote.QueryChangedSince(ctx, et, checkpoint, c.deviceID)
		if err != nil {
			if remote.Classify(err) == remote.ClassAuth {
				c.suspend(err)
				return err
			}
			logging.Warn("Pull query failed", map[string]interface{}{
				"entity_type": string(et),
				"error":       err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		for _, rec := range records {
			if err := c.applyRecord(rec); err != nil {
				var perr *remote.PayloadError
				if stderrors.As(err, &perr) {
					logging.Warn("Skipping malformed remote payload",
						map[string]interface{}{
							"entity_type": string(et),
							"entity_id":   string(rec.ID),
							"error":       err.Error(),
						})
					continue
				}
				logging.Error("Failed to apply remote record", err,
					map[string]interface{}{"entity_id": string(rec.ID)})
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}

	if firstErr != nil {
		return firstErr
	}
	return c.store.SaveCheckpoint(start)
}

// applyRecord merges one remote snapshot into the local store. No local copy
// means a plain insert; otherwise the resolver picks a winner and the winner
// is written back carrying the merged vector, even when the local side wins.
// When the remote snapshot's clock is behind the merge, the winner is also
// re-enqueued for push: the remote store is a blind last-writer-wins upsert
// and every device excludes its own records on pull, so a locally-won merge
// that is never pushed would leave replicas divergent forever. Equal clocks
// short-circuit, which terminates the ping-pong once every replica and the
// remote carry the merged vector.
func (c *Coordinator) applyRecord(rec *remote.Record) error {
	c.mergeMu.Lock()
	defer c.mergeMu.Unlock()

	switch rec.EntityType {
	case models.EntityConversation:
		return c.mergeConversation(rec)
	case models.EntityMessage:
		return c.mergeMessage(rec)
	default:
		return &remote.PayloadError{EntityID: rec.ID,
			Err: fmt.Errorf("unknown entity type %q", rec.EntityType)}
	}
}

func (c *Coordinator) mergeConversation(rec *remote.Record) error {
	incoming := &models.Conversation{}
	if err := json.Unmarshal(rec.Payload, incoming); err != nil {
		return &remote.PayloadError{EntityID: rec.ID, Err: err}
	}
	incoming.ID = rec.ID

	local, err := c.store.GetConversation(rec.ID)
	if stderrors.Is(err, sql.ErrNoRows) {
		incoming.SyncStatus = models.SyncStatusSynced
		return c.store.PutConversation(incoming)
	}
	if err != nil {
		return err
	}
	if local.Vector.Equal(incoming.Vector) {
		// Replicas already agree, nothing to merge.
		return nil
	}

	out := c.resolver.Resolve(local.Vector, incoming.Vector)
	winner := local
	if out.Winner == conflict.RemoteWins {
		winner = incoming
	}
	winner.Vector = out.Merged

	if out.Merged.Equal(incoming.Vector) {
		// The remote snapshot already carries the merged clock; the pull
		// alone converges this replica.
		winner.SyncStatus = models.SyncStatusSynced
		if err := c.store.PutConversation(winner); err != nil {
			return err
		}
	} else {
		// The remote store is behind the merge: a locally-won edit, or a
		// clock entry it never saw. Push the merged winner so the other
		// replicas see it.
		winner.SyncStatus = models.SyncStatusPending
		payload, merr := json.Marshal(winner)
		if merr != nil {
			return merr
		}
		err := c.database.WithTx(func(tx *sql.Tx) error {
			if err := db.NewTxStore(tx).PutConversation(winner); err != nil {
				return err
			}
			return c.queue.EnqueueTx(tx, models.OpUpdate, models.EntityConversation, winner.ID, payload)
		})
		if err != nil {
			return err
		}
	}

	c.recordConflict(models.EntityConversation, rec.ID, out)
	return nil
}

func (c *Coordinator) mergeMessage(rec *remote.Record) error {
	incoming := &models.Message{}
	if err := json.Unmarshal(rec.Payload, incoming); err != nil {
		return &remote.PayloadError{EntityID: rec.ID, Err: err}
	}
	incoming.ID = rec.ID

	local, err := c.store.GetMessage(rec.ID)
	if stderrors.Is(err, sql.ErrNoRows) {
		incoming.SyncStatus = models.SyncStatusSynced
		return c.store.PutMessage(incoming)
	}
	if err != nil {
		return err
	}
	if local.Vector.Equal(incoming.Vector) {
		return nil
	}

	// Message content is immutable, so only the clock and status can differ.
	out := c.resolver.Resolve(local.Vector, incoming.Vector)
	winner := local
	if out.Winner == conflict.RemoteWins {
		winner = incoming
	}
	winner.Vector = out.Merged

	if out.Merged.Equal(incoming.Vector) {
		winner.SyncStatus = models.SyncStatusSynced
		if err := c.store.PutMessage(winner); err != nil {
			return err
		}
	} else {
		winner.SyncStatus = models.SyncStatusPending
		payload, merr := json.Marshal(winner)
		if merr != nil {
			return merr
		}
		err := c.database.WithTx(func(tx *sql.Tx) error {
			if err := db.NewTxStore(tx).PutMessage(winner); err != nil {
				return err
			}
			return c.queue.EnqueueTx(tx, models.OpUpdate, models.EntityMessage, winner.ID, payload)
		})
		if err != nil {
			return err
		}
	}

	c.recordConflict(models.EntityMessage, rec.ID, out)
	return nil
}

// recordConflict journals a tie resolution. Conflicts are never surfaced as
// errors; the journal and an event are the only trace.
func (c *Coordinator) recordConflict(et models.EntityType, id models.UUID, out conflict.Outcome) {
	if !out.Tie {
		return
	}
	entry := &models.ConflictLogEntry{
		ID:         models.UUID(uuid.New()),
		EntityType: et,
		EntityID:   id,
		LocalMax:   out.LocalMax,
		RemoteMax:  out.RemoteMax,
		Winner:     string(out.Winner),
		DetectedAt: time.Now().UnixMilli(),
	}
	if err := c.store.AppendConflictLog(entry); err != nil {
		logging.Error("Failed to journal conflict", err,
			map[string]interface{}{"entity_id": string(id)})
	}
	c.emit(Event{
		Type:       EventConflict,
		EntityType: et,
		EntityID:   id,
		Timestamp:  entry.DetectedAt,
	})
}

// EnqueueMutation records a local mutation: the entity write, the parent
// conversation bump for new messages, the change-log row and the queue append
// commit as one transaction. A storage failure surfaces synchronously; the
// mutation is not partially applied.
//
// entity must be *models.Conversation or *models.Message; nil for delete is
// allowed when only the ID matters (pass a stub carrying the ID).
func (c *Coordinator) EnqueueMutation(op models.Operation, entityType models.EntityType, entity interface{}) error {
	var err error
	switch e := entity.(type) {
	case *models.Conversation:
		if entityType != models.EntityConversation {
			return errors.New(errors.ErrInvalid, "entity type does not match entity")
		}
		err = c.enqueueConversation(op, e)
	case *models.Message:
		if entityType != models.EntityMessage {
			return errors.New(errors.ErrInvalid, "entity type does not match entity")
		}
		err = c.enqueueMessage(op, e)
	default:
		return errors.New(errors.ErrInvalid, "unsupported entity")
	}
	if err != nil {
		return err
	}
	c.requestSync()
	return nil
}

func (c *Coordinator) enqueueConversation(op models.Operation, conv *models.Conversation) error {
	return c.database.WithTx(func(tx *sql.Tx) error {
		txStore := db.NewTxStore(tx)

		var payload json.RawMessage
		if op == models.OpDelete {
			if err := txStore.DeleteConversation(conv.ID); err != nil {
				return err
			}
		} else {
			conv.Touch(c.deviceID)
			data, err := json.Marshal(conv)
			if err != nil {
				return errors.Wrap(errors.ErrEnqueue, "failed to encode conversation", err)
			}
			payload = data
			if err := txStore.PutConversation(conv); err != nil {
				return err
			}
		}

		if err := c.appendChangeLog(txStore, models.EntityConversation, conv.ID, op); err != nil {
			return err
		}
		return c.queue.EnqueueTx(tx, op, models.EntityConversation, conv.ID, payload)
	})
}

func (c *Coordinator) enqueueMessage(op models.Operation, msg *models.Message) error {
	return c.database.WithTx(func(tx *sql.Tx) error {
		txStore := db.NewTxStore(tx)

		var payload json.RawMessage
		if op == models.OpDelete {
			if err := txStore.DeleteMessage(msg.ID); err != nil {
				return err
			}
		} else {
			msg.Stamp(c.deviceID)
			data, err := json.Marshal(msg)
			if err != nil {
				return errors.Wrap(errors.ErrEnqueue, "failed to encode message", err)
			}
			payload = data
			if err := txStore.PutMessage(msg); err != nil {
				return err
			}
		}

		if err := c.appendChangeLog(txStore, models.EntityMessage, msg.ID, op); err != nil {
			return err
		}
		if err := c.queue.EnqueueTx(tx, op, models.EntityMessage, msg.ID, payload); err != nil {
			return err
		}

		// A new message bumps its conversation's timestamp; the bump syncs
		// as its own mutation so other devices reorder their lists.
		if op != models.OpCreate {
			return nil
		}
		conv, err := txStore.GetConversation(msg.ConversationID)
		if err != nil {
			return errors.Wrap(errors.ErrEnqueue, "failed to load parent conversation", err)
		}
		conv.Touch(c.deviceID)
		convPayload, err := json.Marshal(conv)
		if err != nil {
			return errors.Wrap(errors.ErrEnqueue, "failed to encode conversation", err)
		}
		if err := txStore.PutConversation(conv); err != nil {
			return err
		}
		if err := c.appendChangeLog(txStore, models.EntityConversation, conv.ID, models.OpUpdate); err != nil {
			return err
		}
		return c.queue.EnqueueTx(tx, models.OpUpdate, models.EntityConversation, conv.ID, convPayload)
	})
}

func (c *Coordinator) appendChangeLog(txStore *db.Store, et models.EntityType, id models.UUID, op models.Operation) error {
	return txStore.AppendChangeLog(&models.ChangeLogEntry{
		ID:         models.UUID(uuid.New()),
		EntityType: et,
		EntityID:   id,
		Operation:  op,
		Timestamp:  time.Now().UnixMilli(),
	})
}

// OnRemoteChange handles a live notification from the remote transport.
// Self-echoes are dropped; deletes apply directly (last delete wins, no
// resolution); creates and updates flow through the same merge path the pull
// pass uses.
func (c *Coordinator) OnRemoteChange(n remote.Notification) {
	if n.DeviceID == c.deviceID {
		return
	}

	if n.Operation == models.OpDelete {
		c.mergeMu.Lock()
		defer c.mergeMu.Unlock()
		var err error
		switch n.EntityType {
		case models.EntityConversation:
			err = c.store.DeleteConversation(n.EntityID)
		case models.EntityMessage:
			err = c.store.DeleteMessage(n.EntityID)
		}
		if err != nil {
			logging.Error("Failed to apply remote delete", err,
				map[string]interface{}{"entity_id": string(n.EntityID)})
		}
		return
	}

	if n.Record == nil {
		logging.Warn("Dropping notification without record",
			map[string]interface{}{"entity_id": string(n.EntityID)})
		return
	}
	if err := c.applyRecord(n.Record); err != nil {
		logging.Error("Failed to apply remote notification", err,
			map[string]interface{}{"entity_id": string(n.EntityID)})
	}
}

// ForceSync re-arms every failed mutation and schedules an immediate cycle.
func (c *Coordinator) ForceSync() error {
	reset, err := c.queue.RetryFailed()
	if err != nil {
		return err
	}
	if reset > 0 {
		logging.Info("Re-armed failed mutations", map[string]interface{}{"count": reset})
	}
	c.requestSync()
	return nil
}

// Resume clears an auth suspension and schedules a cycle. The queue was
// preserved during suspension and drains now.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	wasSuspended := c.suspended
	c.suspended = false
	c.mu.Unlock()
	if wasSuspended {
		logging.Info("Sync resumed after credential refresh", nil)
	}
	c.requestSync()
}

// Status returns a snapshot for status displays.
func (c *Coordinator) Status() Status {
	counts, err := c.queue.Counts()
	if err != nil {
		logging.Error("Failed to read queue counts", err, nil)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		Online:       c.monitor.Online(),
		State:        c.state,
		Suspended:    c.suspended,
		PendingCount: counts.Pending + counts.Processing,
		FailedCount:  counts.Failed,
		LastSyncAt:   c.lastSyncAt,
		LastError:    c.lastErr,
	}
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Coordinator) isSuspended() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.suspended
}

// suspend halts sync activity after an authentication failure. The queue is
// untouched; Resume restarts the loop.
func (c *Coordinator) suspend(cause error) {
	c.mu.Lock()
	already := c.suspended
	c.suspended = true
	c.lastErr = cause.Error()
	c.mu.Unlock()
	if !already {
		logging.Error("Sync suspended pending re-authentication", cause, nil)
	}
}

func (c *Coordinator) fail(cause error) {
	if cause == nil {
		return
	}
	c.mu.Lock()
	c.lastErr = cause.Error()
	c.mu.Unlock()
	c.emit(Event{
		Type:      EventSyncFailed,
		Error:     cause.Error(),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (c *Coordinator) emit(ev Event) {
	if c.events != nil {
		c.events(ev)
	}
}
