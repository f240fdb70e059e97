package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"keap-export/config"
	"keap-export/models"
)

// ErrInvalidRunState means a run-scoped operation referenced a run that
// is not in the state the operation requires (e.g. ending a run that
// already finished).
var ErrInvalidRunState = errors.New("run is not in a valid state for this operation")

// RunTracker is the single source of truth for run lifecycle,
// per-entity progress and resume checkpoints. Every run-scoped method
// takes the run id explicitly: there is no ambient "current run", so a
// caller can never log against a run it does not hold.
type RunTracker struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewRunTracker(db *gorm.DB, logger *zap.Logger) *RunTracker {
	if db == nil {
		db = config.DB
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunTracker{db: db, logger: logger}
}

// StartRun creates a new run in running status. Calling it twice
// creates two runs; the orchestrator calls it exactly once per
// invocation.
func (t *RunTracker) StartRun(ctx context.Context, notes string) (*models.EtlRun, error) {
	run := &models.EtlRun{
		PublicID:  uuid.NewString(),
		Status:    models.EtlRunStatusRunning,
		StartedAt: time.Now(),
	}
	if notes != "" {
		run.Notes = &notes
	}
	if err := t.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	return run, nil
}

// EndRun transitions the run to a terminal status. It fails with
// ErrInvalidRunState when runID does not reference a running run, so a
// stray second finalization is loud instead of silent.
func (t *RunTracker) EndRun(ctx context.Context, runID uint64, success bool, notes string) error {
	status := models.EtlRunStatusError
	if success {
		status = models.EtlRunStatusSuccess
	}

	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run models.EtlRun
		if err := tx.Where("id = ?", runID).First(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: run %d not found", ErrInvalidRunState, runID)
			}
			return fmt.Errorf("end run %d: %w", runID, err)
		}
		if run.Status != models.EtlRunStatusRunning {
			return fmt.Errorf("%w: run %d is %s, not running", ErrInvalidRunState, runID, run.Status)
		}

		now := time.Now()
		combined := notes
		if run.Notes != nil && *run.Notes != "" && notes != "" {
			combined = *run.Notes + "\n" + notes
		} else if run.Notes != nil && notes == "" {
			combined = *run.Notes
		}

		updates := map[string]interface{}{
			"status":      status,
			"finished_at": now,
		}
		if combined != "" {
			updates["notes"] = combined
		}
		if err := tx.Model(&run).Updates(updates).Error; err != nil {
			return fmt.Errorf("end run %d: %w", runID, err)
		}
		return nil
	})
}

// LogRequest appends a request-log row. It never returns an error:
// losing one observability row must not abort a data sync, so storage
// failures degrade to a local warning.
func (t *RunTracker) LogRequest(ctx context.Context, entry *models.RequestLog) {
	if entry == nil || entry.RunID == 0 {
		t.logger.Warn("request log entry dropped: no run id")
		return
	}
	if err := t.db.WithContext(ctx).Create(entry).Error; err != nil {
		t.logger.Warn("failed to record request log",
			zap.Uint64("run_id", entry.RunID),
			zap.String("entity", entry.Entity),
			zap.Error(err),
		)
	}
}

// ProgressUpdate carries the optional fields of an UpdateProgress call.
type ProgressUpdate struct {
	Offset     *int
	Limit      *int
	ItemsDelta int
	PagesDelta int
	Error      *string
}

// validProgressTransitions lists the allowed forward moves. failed and
// skipped move back to running only on explicit resume; completed
// never moves again.
var validProgressTransitions = map[string][]string{
	models.SyncStatusPending: {models.SyncStatusRunning, models.SyncStatusFailed, models.SyncStatusSkipped},
	models.SyncStatusRunning: {models.SyncStatusCompleted, models.SyncStatusFailed, models.SyncStatusSkipped},
	models.SyncStatusFailed:  {models.SyncStatusRunning, models.SyncStatusSkipped},
	models.SyncStatusSkipped: {models.SyncStatusRunning},
}

func progressTransitionAllowed(from, to string) bool {
	if from == to {
		return true
	}
	for _, allowed := range validProgressTransitions[from] {
		if to == allowed {
			return true
		}
	}
	return false
}

// UpdateProgress upserts the (run, entity) progress row. The offset is
// monotonic: a replayed call with a smaller offset is ignored with a
// warning and never regresses the stored value. Status moves only
// along the allowed transitions.
func (t *RunTracker) UpdateProgress(ctx context.Context, runID uint64, entity, status string, update ProgressUpdate) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.SyncProgress
		err := tx.Where("run_id = ? AND entity = ?", runID, entity).First(&row).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("load progress for %s: %w", entity, err)
			}
			row = models.SyncProgress{
				RunID:  runID,
				Entity: entity,
				Status: models.SyncStatusPending,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create progress for %s: %w", entity, err)
			}
		}

		if !progressTransitionAllowed(row.Status, status) {
			return fmt.Errorf("%w: progress for %s cannot move %s -> %s", ErrInvalidRunState, entity, row.Status, status)
		}

		updates := map[string]interface{}{"status": status}
		if update.Offset != nil {
			if *update.Offset < row.LastOffset {
				t.logger.Warn("ignoring progress offset regression",
					zap.Uint64("run_id", runID),
					zap.String("entity", entity),
					zap.Int("stored", row.LastOffset),
					zap.Int("replayed", *update.Offset),
				)
			} else {
				updates["last_offset"] = *update.Offset
			}
		}
		if update.Limit != nil {
			updates["last_limit"] = *update.Limit
		}
		if update.ItemsDelta != 0 {
			updates["items_processed"] = gorm.Expr("items_processed + ?", update.ItemsDelta)
		}
		if update.PagesDelta != 0 {
			updates["pages_processed"] = gorm.Expr("pages_processed + ?", update.PagesDelta)
		}
		if update.Error != nil {
			updates["error_message"] = *update.Error
		} else if status == models.SyncStatusRunning && row.ErrorMessage != nil {
			// clearing the previous failure on resume
			updates["error_message"] = nil
		}

		if err := tx.Model(&models.SyncProgress{}).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update progress for %s: %w", entity, err)
		}
		return nil
	})
}

// SaveCheckpoint persists an opaque resume blob keyed by
// (run, entity, kind), overwriting any previous blob for the same key.
func (t *RunTracker) SaveCheckpoint(ctx context.Context, runID uint64, entity, kind string, data interface{}) error {
	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal checkpoint for %s: %w", entity, err)
	}

	cp := &models.SyncCheckpoint{
		RunID:  runID,
		Entity: entity,
		Kind:   kind,
		Data:   blob,
	}
	err = t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "run_id"}, {Name: "entity"}, {Name: "kind"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"data":       blob,
			"updated_at": time.Now(),
		}),
	}).Create(cp).Error
	if err != nil {
		return fmt.Errorf("save checkpoint for %s: %w", entity, err)
	}
	return nil
}

// LastCheckpoint loads the blob for (run, entity, kind) into out.
// Returns false when no checkpoint exists.
func (t *RunTracker) LastCheckpoint(ctx context.Context, runID uint64, entity, kind string, out interface{}) (bool, error) {
	var cp models.SyncCheckpoint
	err := t.db.WithContext(ctx).
		Where("run_id = ? AND entity = ? AND kind = ?", runID, entity, kind).
		First(&cp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load checkpoint for %s: %w", entity, err)
	}
	if err := json.Unmarshal(cp.Data, out); err != nil {
		return false, fmt.Errorf("decode checkpoint for %s: %w", entity, err)
	}
	return true, nil
}

// EntitiesToResume returns every entity of the run whose progress is
// not completed, in creation order, so a resumed invocation restarts
// only unfinished work.
func (t *RunTracker) EntitiesToResume(ctx context.Context, runID uint64) ([]models.SyncProgress, error) {
	var rows []models.SyncProgress
	err := t.db.WithContext(ctx).
		Where("run_id = ? AND status <> ?", runID, models.SyncStatusCompleted).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list entities to resume: %w", err)
	}
	return rows, nil
}

// FindResumableRun returns the most recent interrupted or failed run
// that has unfinished entity progress, or nil when there is nothing to
// resume.
func (t *RunTracker) FindResumableRun(ctx context.Context) (*models.EtlRun, error) {
	var run models.EtlRun
	err := t.db.WithContext(ctx).
		Where("status IN ?", []string{models.EtlRunStatusRunning, models.EtlRunStatusError}).
		Where("EXISTS (SELECT 1 FROM sync_progress sp WHERE sp.run_id = etl_runs.id AND sp.status <> ?)",
			models.SyncStatusCompleted).
		Order("started_at DESC").
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find resumable run: %w", err)
	}
	return &run, nil
}

// ReopenRun puts a previously failed run back into running status so a
// resumed invocation can finalize it again. Reopening a successful run
// is refused.
func (t *RunTracker) ReopenRun(ctx context.Context, runID uint64) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run models.EtlRun
		if err := tx.Where("id = ?", runID).First(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: run %d not found", ErrInvalidRunState, runID)
			}
			return fmt.Errorf("reopen run %d: %w", runID, err)
		}
		switch run.Status {
		case models.EtlRunStatusRunning:
			return nil
		case models.EtlRunStatusError:
		default:
			return fmt.Errorf("%w: run %d is %s and cannot be reopened", ErrInvalidRunState, runID, run.Status)
		}

		updates := map[string]interface{}{
			"status":      models.EtlRunStatusRunning,
			"finished_at": nil,
		}
		if err := tx.Model(&run).Updates(updates).Error; err != nil {
			return fmt.Errorf("reopen run %d: %w", runID, err)
		}
		return nil
	})
}

// RecordSourceCount upserts the per-(run, entity) count of items
// retrieved from the source.
func (t *RunTracker) RecordSourceCount(ctx context.Context, runID uint64, entity string, count int) error {
	sc := &models.SourceCount{
		RunID:          runID,
		Entity:         entity,
		ItemsRetrieved: count,
	}
	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "run_id"}, {Name: "entity"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"items_retrieved": count,
			"updated_at":      time.Now(),
		}),
	}).Create(sc).Error
	if err != nil {
		return fmt.Errorf("record source count for %s: %w", entity, err)
	}
	return nil
}

// RunMetrics aggregates the request log for one run.
type RunMetrics struct {
	TotalRequests   int64 `json:"total_requests"`
	TotalItems      int64 `json:"total_items"`
	TotalDurationMs int64 `json:"total_duration_ms"`
	ErrorCount      int64 `json:"error_count"`
	ThrottledCount  int64 `json:"throttled_count"`
}

func (t *RunTracker) RunMetrics(ctx context.Context, runID uint64) (*RunMetrics, error) {
	var m RunMetrics
	err := t.db.WithContext(ctx).Model(&models.RequestLog{}).
		Select(
			"COUNT(*) AS total_requests",
			"COALESCE(SUM(item_count), 0) AS total_items",
			"COALESCE(SUM(duration_ms), 0) AS total_duration_ms",
			"COUNT(CASE WHEN error IS NOT NULL THEN 1 END) AS error_count",
			"COUNT(CASE WHEN retry_count > 0 THEN 1 END) AS throttled_count",
		).
		Where("run_id = ?", runID).
		Scan(&m).Error
	if err != nil {
		return nil, fmt.Errorf("run metrics for %d: %w", runID, err)
	}
	return &m, nil
}

// RecentRuns lists the latest runs, newest first.
func (t *RunTracker) RecentRuns(ctx context.Context, limit int) ([]models.EtlRun, error) {
	if limit <= 0 {
		limit = 10
	}
	var runs []models.EtlRun
	err := t.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	return runs, nil
}

// PruneRuns deletes runs older than the given age along with their
// metadata rows. Entity tables are never touched.
func (t *RunTracker) PruneRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	var pruned int64

	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint64
		if err := tx.Model(&models.EtlRun{}).
			Where("started_at < ?", cutoff).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		for _, model := range []interface{}{
			&models.RequestLog{}, &models.SyncProgress{},
			&models.SyncCheckpoint{}, &models.SourceCount{},
		} {
			if err := tx.Where("run_id IN ?", ids).Delete(model).Error; err != nil {
				return err
			}
		}
		res := tx.Where("id IN ?", ids).Delete(&models.EtlRun{})
		if res.Error != nil {
			return res.Error
		}
		pruned = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return pruned, nil
}
