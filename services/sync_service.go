package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"keap-export/config"
	"keap-export/keap"
	"keap-export/models"
)

// PageFetcher is the narrow fetcher surface the orchestrator consumes.
type PageFetcher interface {
	FetchPage(ctx context.Context, endpoint string, params url.Values, offset, limit int) (*keap.Page, error)
}

// SyncAllInput configures one invocation of the pipeline.
type SyncAllInput struct {
	Entities []string // subset of entity names; empty means all
	Since    string   // ISO 8601; delta mode when set
	DryRun   bool
	Resume   bool
	Notes    string
}

// EntityResult is the terminal outcome of one entity within a run.
type EntityResult struct {
	Entity string `json:"entity"`
	Status string `json:"status"`
	Items  int    `json:"items"`
	Pages  int    `json:"pages"`
	Error  string `json:"error,omitempty"`
}

// SyncSummary is the run-level outcome returned to the CLI.
type SyncSummary struct {
	RunID      uint64            `json:"run_id,omitempty"`
	PublicID   string            `json:"public_id,omitempty"`
	DryRun     bool              `json:"dry_run"`
	Results    []EntityResult    `json:"results"`
	Validation *ValidationReport `json:"validation,omitempty"`
	Duration   time.Duration     `json:"duration"`
}

// Failed reports whether any entity ended failed or skipped.
func (s *SyncSummary) Failed() bool {
	for _, r := range s.Results {
		if r.Status == models.SyncStatusFailed || r.Status == models.SyncStatusSkipped {
			return true
		}
	}
	return false
}

// SyncService drives a run end to end: entities in topological order,
// page-at-a-time, checkpointing after every confirmed page. One bad
// entity never aborts its siblings; entities whose dependency failed
// are short-circuited to skipped.
type SyncService struct {
	db        *gorm.DB
	fetcher   PageFetcher
	writer    *UpsertWriter
	tracker   *RunTracker
	validator *ValidationService
	settings  *config.Settings
	logger    *zap.Logger
	entities  []Entity
}

func NewSyncService(db *gorm.DB, fetcher PageFetcher, settings *config.Settings, logger *zap.Logger) (*SyncService, error) {
	if db == nil {
		db = config.DB
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ordered, err := TopoSort(DefaultEntities())
	if err != nil {
		return nil, err
	}
	return &SyncService{
		db:        db,
		fetcher:   fetcher,
		writer:    NewUpsertWriter(db, logger),
		tracker:   NewRunTracker(db, logger),
		validator: NewValidationService(db, logger),
		settings:  settings,
		logger:    logger,
		entities:  ordered,
	}, nil
}

// Tracker exposes the run tracker for callers that report on runs.
func (s *SyncService) Tracker() *RunTracker { return s.tracker }

// RunAll executes the pipeline. Run-level tracker failures abort the
// invocation; entity-level failures are isolated and reported in the
// summary.
func (s *SyncService) RunAll(ctx context.Context, input *SyncAllInput) (*SyncSummary, error) {
	if input == nil {
		input = &SyncAllInput{}
	}
	if input.Since != "" {
		if _, err := time.Parse(time.RFC3339, input.Since); err != nil {
			return nil, fmt.Errorf("invalid --since timestamp %q (want ISO 8601): %w", input.Since, err)
		}
	}

	selected, err := SelectEntities(s.entities, input.Entities)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	summary := &SyncSummary{DryRun: input.DryRun}

	if input.DryRun {
		s.dryRun(ctx, selected, input, summary)
		summary.Duration = time.Since(started)
		return summary, nil
	}

	run, err := s.resolveRun(ctx, input, selected)
	if err != nil {
		return nil, err
	}
	if run == nil {
		// resume requested but nothing to resume
		summary.Duration = time.Since(started)
		return summary, nil
	}
	summary.RunID = run.ID
	summary.PublicID = run.PublicID

	// Entities already completed in a resumed run are carried forward,
	// not re-synced.
	done := make(map[string]models.SyncProgress)
	if input.Resume {
		var rows []models.SyncProgress
		if err := s.db.WithContext(ctx).
			Where("run_id = ? AND status = ?", run.ID, models.SyncStatusCompleted).
			Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("load completed progress for run %d: %w", run.ID, err)
		}
		for _, row := range rows {
			done[row.Entity] = row
		}
	}

	terminal := make(map[string]string, len(selected))
	for _, entity := range selected {
		if row, ok := done[entity.Name]; ok {
			summary.Results = append(summary.Results, EntityResult{
				Entity: entity.Name,
				Status: models.SyncStatusCompleted,
				Items:  row.ItemsProcessed,
				Pages:  row.PagesProcessed,
			})
			terminal[entity.Name] = models.SyncStatusCompleted
			continue
		}
		if ctx.Err() != nil {
			msg := ctx.Err().Error()
			if err := s.tracker.UpdateProgress(context.WithoutCancel(ctx), run.ID, entity.Name,
				models.SyncStatusFailed, ProgressUpdate{Error: &msg}); err != nil {
				s.logger.Warn("failed to record canceled entity", zap.String("entity", entity.Name), zap.Error(err))
			}
			summary.Results = append(summary.Results, EntityResult{
				Entity: entity.Name,
				Status: models.SyncStatusFailed,
				Error:  msg,
			})
			terminal[entity.Name] = models.SyncStatusFailed
			continue
		}

		if blocked := s.blockedBy(entity, terminal); blocked != "" {
			msg := fmt.Sprintf("dependency %s did not complete", blocked)
			if err := s.tracker.UpdateProgress(ctx, run.ID, entity.Name, models.SyncStatusSkipped,
				ProgressUpdate{Error: &msg}); err != nil {
				s.logger.Warn("failed to record skipped entity", zap.String("entity", entity.Name), zap.Error(err))
			}
			summary.Results = append(summary.Results, EntityResult{
				Entity: entity.Name,
				Status: models.SyncStatusSkipped,
				Error:  msg,
			})
			terminal[entity.Name] = models.SyncStatusSkipped
			continue
		}

		result := s.syncEntity(ctx, run.ID, entity, input)
		summary.Results = append(summary.Results, result)
		terminal[entity.Name] = result.Status
	}

	// Finalization must land even when the invocation was canceled:
	// the run row has to leave running status.
	finCtx := context.WithoutCancel(ctx)

	report, err := s.validator.ValidateRun(finCtx, run.ID)
	if err != nil {
		s.logger.Warn("validation failed to execute", zap.Error(err))
	} else {
		summary.Validation = report
	}

	success := !summary.Failed() && (report == nil || report.Passed)
	if err := s.tracker.EndRun(finCtx, run.ID, success, s.runNotes(summary)); err != nil {
		return nil, fmt.Errorf("finalize run %d: %w", run.ID, err)
	}

	summary.Duration = time.Since(started)
	return summary, nil
}

// resolveRun starts a fresh run, or on -resume picks up the most
// recent interrupted one and narrows the entity set to its unfinished
// work via the stored progress rows.
func (s *SyncService) resolveRun(ctx context.Context, input *SyncAllInput, selected []Entity) (*models.EtlRun, error) {
	if !input.Resume {
		notes := input.Notes
		if notes == "" {
			names := make([]string, len(selected))
			for i, e := range selected {
				names[i] = e.Name
			}
			notes = "Full sync: " + strings.Join(names, ", ")
		}
		return s.tracker.StartRun(ctx, notes)
	}

	run, err := s.tracker.FindResumableRun(ctx)
	if err != nil {
		return nil, err
	}
	if run == nil {
		s.logger.Info("no interrupted run found to resume")
		return nil, nil
	}
	if err := s.tracker.ReopenRun(ctx, run.ID); err != nil {
		return nil, err
	}
	s.logger.Info("resuming interrupted run",
		zap.Uint64("run_id", run.ID),
		zap.String("public_id", run.PublicID),
	)
	return run, nil
}

func (s *SyncService) blockedBy(entity Entity, terminal map[string]string) string {
	for _, dep := range entity.DependsOn {
		switch terminal[dep] {
		case models.SyncStatusFailed, models.SyncStatusSkipped:
			return dep
		}
	}
	return ""
}

// syncEntity runs the per-entity state machine: resume offset from the
// last checkpoint, then fetch/write/checkpoint until the source is
// exhausted. The offset only advances after the page's writes are
// confirmed, so a crash resumes at the last page boundary.
func (s *SyncService) syncEntity(ctx context.Context, runID uint64, entity Entity, input *SyncAllInput) EntityResult {
	result := EntityResult{Entity: entity.Name}

	fail := func(err error) EntityResult {
		msg := err.Error()
		result.Status = models.SyncStatusFailed
		result.Error = msg
		// recorded on a detached context so cancellation still leaves
		// the entity marked failed
		if uerr := s.tracker.UpdateProgress(context.WithoutCancel(ctx), runID, entity.Name, models.SyncStatusFailed,
			ProgressUpdate{Error: &msg}); uerr != nil {
			s.logger.Warn("failed to record entity failure", zap.String("entity", entity.Name), zap.Error(uerr))
		}
		return result
	}

	if err := s.tracker.UpdateProgress(ctx, runID, entity.Name, models.SyncStatusRunning, ProgressUpdate{}); err != nil {
		return fail(err)
	}

	limit := s.settings.PageSize
	offset := 0
	var cp models.PageCheckpoint
	found, err := s.tracker.LastCheckpoint(ctx, runID, entity.Name, models.CheckpointKindPage, &cp)
	if err != nil {
		return fail(err)
	}
	since := input.Since
	if found {
		offset = cp.Offset
		if cp.Limit > 0 {
			limit = cp.Limit
		}
		// a delta run resumed without -since must stay a delta run:
		// switching filters mid-entity would skew the offsets
		if cp.Since != "" && since == "" {
			since = cp.Since
		} else if cp.Since != since {
			s.logger.Warn("requested since differs from checkpointed since",
				zap.String("entity", entity.Name),
				zap.String("requested", since),
				zap.String("checkpointed", cp.Since),
			)
		}
		s.logger.Info("resuming entity from checkpoint",
			zap.String("entity", entity.Name),
			zap.Int("offset", offset),
			zap.String("since", since),
		)
	}

	params := url.Values{}
	if since != "" {
		params.Set("since", since)
	}

	s.logger.Info("sync_start",
		zap.String("entity", entity.Name),
		zap.Uint64("run_id", runID),
		zap.String("since", since),
		zap.Int("start_offset", offset),
	)

	total := 0
	for {
		page, fetchErr := s.fetcher.FetchPage(ctx, entity.Endpoint, params, offset, limit)
		s.logRequest(ctx, runID, entity, page, offset, limit, fetchErr)
		if fetchErr != nil {
			return fail(fmt.Errorf("fetch page at offset %d: %w", offset, fetchErr))
		}

		s.logger.Info("page_fetch",
			zap.String("entity", entity.Name),
			zap.Int("offset", offset),
			zap.Int("items", len(page.Items)),
			zap.Int("retries", page.RetryCount),
			zap.Duration("duration", page.Duration),
		)

		if len(page.Items) == 0 {
			break
		}

		wrote, err := s.writer.WritePage(ctx, entity.Name, page.Items)
		if err != nil {
			return fail(fmt.Errorf("write page at offset %d: %w", offset, err))
		}
		s.logger.Info("upsert_batch",
			zap.String("entity", entity.Name),
			zap.Int("created", wrote.Created),
			zap.Int("updated", wrote.Updated),
			zap.Int("failed", wrote.Failed),
		)

		total += len(page.Items)
		result.Pages++
		offset += len(page.Items)

		// The checkpoint and progress advance only after the page's
		// writes are confirmed.
		if err := s.tracker.SaveCheckpoint(ctx, runID, entity.Name, models.CheckpointKindPage,
			models.PageCheckpoint{Offset: offset, Limit: limit, Since: since}); err != nil {
			return fail(err)
		}
		if err := s.tracker.UpdateProgress(ctx, runID, entity.Name, models.SyncStatusRunning, ProgressUpdate{
			Offset:     intPtr(offset),
			Limit:      intPtr(limit),
			ItemsDelta: wrote.Processed,
			PagesDelta: 1,
		}); err != nil {
			return fail(err)
		}

		if len(page.Items) < limit {
			break
		}
	}

	if err := s.tracker.RecordSourceCount(ctx, runID, entity.Name, offset); err != nil {
		s.logger.Warn("failed to record source count", zap.String("entity", entity.Name), zap.Error(err))
	}
	if err := s.tracker.UpdateProgress(ctx, runID, entity.Name, models.SyncStatusCompleted, ProgressUpdate{}); err != nil {
		return fail(err)
	}

	result.Status = models.SyncStatusCompleted
	result.Items = total
	s.logger.Info("sync_end",
		zap.String("entity", entity.Name),
		zap.Int("items", total),
		zap.Int("pages", result.Pages),
	)
	return result
}

func (s *SyncService) logRequest(ctx context.Context, runID uint64, entity Entity, page *keap.Page, offset, limit int, fetchErr error) {
	entry := &models.RequestLog{
		RunID:      runID,
		Entity:     entity.Name,
		Endpoint:   entity.Endpoint,
		PageOffset: offset,
		PageLimit:  limit,
	}
	if page != nil {
		entry.HTTPStatus = page.HTTPStatus
		entry.ItemCount = len(page.Items)
		entry.DurationMs = int(page.Duration / time.Millisecond)
		entry.RetryCount = page.RetryCount
		if page.ThrottleRemaining >= 0 {
			entry.ThrottleRemaining = intPtr(page.ThrottleRemaining)
		}
	}
	if fetchErr != nil {
		entry.Error = stringPtr(fetchErr.Error())
	}
	// detached so a canceled run still gets its final request row
	s.tracker.LogRequest(context.WithoutCancel(ctx), entry)
}

// dryRun fetches at least one page per entity and computes would-upsert
// counts. No writes, no run row, no checkpoints.
func (s *SyncService) dryRun(ctx context.Context, selected []Entity, input *SyncAllInput, summary *SyncSummary) {
	params := url.Values{}
	if input.Since != "" {
		params.Set("since", input.Since)
	}

	for _, entity := range selected {
		result := EntityResult{Entity: entity.Name}
		page, err := s.fetcher.FetchPage(ctx, entity.Endpoint, params, 0, s.settings.PageSize)
		if err != nil {
			result.Status = models.SyncStatusFailed
			result.Error = err.Error()
			summary.Results = append(summary.Results, result)
			continue
		}
		preview, err := s.writer.PreviewPage(entity.Name, page.Items)
		if err != nil {
			result.Status = models.SyncStatusFailed
			result.Error = err.Error()
			summary.Results = append(summary.Results, result)
			continue
		}
		result.Status = models.SyncStatusCompleted
		result.Items = preview.Processed
		result.Pages = 1
		s.logger.Info("dry_run_page",
			zap.String("entity", entity.Name),
			zap.Int("would_upsert", preview.Processed),
			zap.Int("invalid", preview.Failed),
		)
		summary.Results = append(summary.Results, result)
	}
}

func (s *SyncService) runNotes(summary *SyncSummary) string {
	completed := 0
	items := 0
	for _, r := range summary.Results {
		if r.Status == models.SyncStatusCompleted {
			completed++
		}
		items += r.Items
	}
	notes := fmt.Sprintf("Completed: %d/%d entities, %d items", completed, len(summary.Results), items)
	if summary.Validation != nil && !summary.Validation.Passed {
		notes += fmt.Sprintf("; validation failed (%d checks with findings)", summary.Validation.FailingChecks())
	}
	return notes
}
