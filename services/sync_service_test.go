package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"

	"keap-export/config"
	"keap-export/keap"
	"keap-export/models"
)

type fetchCall struct {
	Endpoint string
	Offset   int
	Since    string
}

// fakeFetcher serves canned pages per endpoint and records every call.
type fakeFetcher struct {
	data     map[string][]json.RawMessage
	failFrom map[string]int // endpoint -> offset at which fetches start failing
	calls    []fetchCall
}

func (f *fakeFetcher) FetchPage(ctx context.Context, endpoint string, params url.Values, offset, limit int) (*keap.Page, error) {
	f.calls = append(f.calls, fetchCall{Endpoint: endpoint, Offset: offset, Since: params.Get("since")})

	if from, ok := f.failFrom[endpoint]; ok && offset >= from {
		return &keap.Page{HTTPStatus: 503, ThrottleRemaining: -1}, errors.New("service unavailable")
	}

	items := f.data[endpoint]
	if offset > len(items) {
		offset = len(items)
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return &keap.Page{
		Items:             items[offset:end],
		HTTPStatus:        200,
		ThrottleRemaining: -1,
	}, nil
}

func (f *fakeFetcher) callsFor(endpoint string) []fetchCall {
	var out []fetchCall
	for _, c := range f.calls {
		if c.Endpoint == endpoint {
			out = append(out, c)
		}
	}
	return out
}

func rawRecords(records ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(records))
	for i, r := range records {
		out[i] = json.RawMessage(r)
	}
	return out
}

func testFixtureData() map[string][]json.RawMessage {
	return map[string][]json.RawMessage{
		"/crm/rest/v1/users": rawRecords(
			`{"id":101,"given_name":"Ann","family_name":"Chovey","email_address":"ann@example.com","status":"Active"}`,
		),
		"/crm/rest/v1/tags": rawRecords(
			`{"id":201,"name":"Customer","category":{"name":"Lifecycle"}}`,
		),
		"/crm/rest/v1/companies": rawRecords(
			`{"id":301,"company_name":"Acme Ltd","owner_id":101}`,
		),
		"/crm/rest/v1/contacts": rawRecords(
			`{"id":401,"given_name":"Bea","company_id":301,"owner_id":101,"email_addresses":[{"email":"bea@example.com","field":"EMAIL1"}]}`,
			`{"id":402,"given_name":"Cal","company_id":301,"owner_id":101}`,
			`{"id":403,"given_name":"Dee","owner_id":101}`,
		),
		"/crm/rest/v1/tagApplications": rawRecords(
			`{"contact":{"id":401},"tag":{"id":201},"date_applied":"2024-01-05T10:00:00Z"}`,
		),
		"/crm/rest/v1/opportunities": rawRecords(
			`{"id":501,"contact":{"id":401},"user":{"id":101},"opportunity_title":"Renewal","estimated_close_value":1200.50}`,
		),
		"/crm/rest/v1/orders": rawRecords(
			`{"id":601,"contact":{"id":401},"title":"Starter pack","status":"PAID","total":30,"order_items":[{"id":6011,"name":"Widget","quantity":3,"price":10}]}`,
		),
	}
}

func TestRunAllSyncsEverythingInDependencyOrder(t *testing.T) {
	fetcher := &fakeFetcher{data: testFixtureData()}
	db := newTestDB(t)
	svc, err := NewSyncService(db, fetcher, &config.Settings{PageSize: 2}, nil)
	if err != nil {
		t.Fatalf("new sync service: %v", err)
	}

	summary, err := svc.RunAll(context.Background(), &SyncAllInput{})
	if err != nil {
		t.Fatalf("run all: %v", err)
	}
	if summary.RunID == 0 || summary.PublicID == "" {
		t.Fatalf("summary has no run identity: %+v", summary)
	}
	if summary.Failed() {
		t.Fatalf("summary reports failure: %+v", summary.Results)
	}
	if len(summary.Results) != 7 {
		t.Fatalf("results = %d entities, want 7", len(summary.Results))
	}

	// users and tags must come out before their dependents
	position := map[string]int{}
	for i, r := range summary.Results {
		position[r.Entity] = i
	}
	if position["contacts"] < position["companies"] || position["companies"] < position["users"] {
		t.Fatalf("entities out of dependency order: %v", summary.Results)
	}

	for _, r := range summary.Results {
		if r.Entity == "contacts" {
			if r.Items != 3 || r.Pages != 2 {
				t.Fatalf("contacts result = %+v, want 3 items over 2 pages", r)
			}
		}
	}

	var run models.EtlRun
	if err := db.First(&run, summary.RunID).Error; err != nil {
		t.Fatalf("reload run: %v", err)
	}
	if run.Status != models.EtlRunStatusSuccess {
		t.Fatalf("run status = %s, want success", run.Status)
	}

	if n := countRows(t, db, &models.Contact{}); n != 3 {
		t.Fatalf("contacts = %d, want 3", n)
	}
	if n := countRows(t, db, &models.OrderItem{}); n != 1 {
		t.Fatalf("order items = %d, want 1", n)
	}
	if n := countRows(t, db, &models.RequestLog{}); n != 8 {
		t.Fatalf("request log rows = %d, want 8 (one per fetched page)", n)
	}
	if n := countRows(t, db, &models.SyncCheckpoint{}); n != 7 {
		t.Fatalf("checkpoints = %d, want one per entity", n)
	}
	if n := countRows(t, db, &models.SourceCount{}); n != 7 {
		t.Fatalf("source counts = %d, want one per entity", n)
	}

	if summary.Validation == nil || !summary.Validation.Passed {
		t.Fatalf("validation = %+v, want passed", summary.Validation)
	}
}

func TestRunAllSkipsDependentsOfFailedEntity(t *testing.T) {
	fetcher := &fakeFetcher{
		data:     testFixtureData(),
		failFrom: map[string]int{"/crm/rest/v1/users": 0},
	}
	db := newTestDB(t)
	svc, err := NewSyncService(db, fetcher, &config.Settings{PageSize: 2}, nil)
	if err != nil {
		t.Fatalf("new sync service: %v", err)
	}

	summary, err := svc.RunAll(context.Background(), &SyncAllInput{})
	if err != nil {
		t.Fatalf("run all: %v", err)
	}

	status := map[string]string{}
	for _, r := range summary.Results {
		status[r.Entity] = r.Status
	}
	if status["users"] != models.SyncStatusFailed {
		t.Fatalf("users status = %s, want failed", status["users"])
	}
	if status["tags"] != models.SyncStatusCompleted {
		t.Fatalf("tags status = %s, want completed (independent of users)", status["tags"])
	}
	for _, entity := range []string{"companies", "contacts", "contact_tags", "opportunities", "orders"} {
		if status[entity] != models.SyncStatusSkipped {
			t.Fatalf("%s status = %s, want skipped", entity, status[entity])
		}
	}

	var run models.EtlRun
	if err := db.First(&run, summary.RunID).Error; err != nil {
		t.Fatalf("reload run: %v", err)
	}
	if run.Status != models.EtlRunStatusError {
		t.Fatalf("run status = %s, want error", run.Status)
	}

	// the failed fetch is still in the request log
	var failedRequests int64
	if err := db.Model(&models.RequestLog{}).
		Where("entity = ? AND error IS NOT NULL", "users").
		Count(&failedRequests).Error; err != nil {
		t.Fatalf("count failed requests: %v", err)
	}
	if failedRequests != 1 {
		t.Fatalf("failed user requests logged = %d, want 1", failedRequests)
	}
}

func TestRunAllDryRunWritesNothing(t *testing.T) {
	fetcher := &fakeFetcher{data: testFixtureData()}
	db := newTestDB(t)
	svc, err := NewSyncService(db, fetcher, &config.Settings{PageSize: 2}, nil)
	if err != nil {
		t.Fatalf("new sync service: %v", err)
	}

	summary, err := svc.RunAll(context.Background(), &SyncAllInput{DryRun: true})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !summary.DryRun || summary.RunID != 0 {
		t.Fatalf("dry run summary carries a run: %+v", summary)
	}
	if summary.Failed() {
		t.Fatalf("dry run reports failure: %+v", summary.Results)
	}

	for _, model := range []interface{}{
		&models.EtlRun{}, &models.SyncProgress{}, &models.SyncCheckpoint{},
		&models.RequestLog{}, &models.SourceCount{},
		&models.Contact{}, &models.Company{}, &models.Order{},
	} {
		if n := countRows(t, db, model); n != 0 {
			t.Fatalf("dry run wrote rows into %T", model)
		}
	}
}

func TestRunAllResumeContinuesSameRunFromCheckpoint(t *testing.T) {
	fetcher := &fakeFetcher{
		data: testFixtureData(),
		// first page of contacts succeeds, the second fails
		failFrom: map[string]int{"/crm/rest/v1/contacts": 2},
	}
	db := newTestDB(t)
	svc, err := NewSyncService(db, fetcher, &config.Settings{PageSize: 2}, nil)
	if err != nil {
		t.Fatalf("new sync service: %v", err)
	}
	ctx := context.Background()

	first, err := svc.RunAll(ctx, &SyncAllInput{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !first.Failed() {
		t.Fatal("first run should have failed on contacts")
	}

	// the upstream recovers
	fetcher.failFrom = nil
	fetcher.calls = nil

	second, err := svc.RunAll(ctx, &SyncAllInput{Resume: true})
	if err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if second.RunID != first.RunID {
		t.Fatalf("resume started run %d, want to continue run %d", second.RunID, first.RunID)
	}
	if second.Failed() {
		t.Fatalf("resumed run failed: %+v", second.Results)
	}

	// completed entities are carried, not re-fetched
	if calls := fetcher.callsFor("/crm/rest/v1/users"); len(calls) != 0 {
		t.Fatalf("users re-fetched on resume: %v", calls)
	}
	contactCalls := fetcher.callsFor("/crm/rest/v1/contacts")
	if len(contactCalls) == 0 || contactCalls[0].Offset != 2 {
		t.Fatalf("contacts resume calls = %v, want first offset 2", contactCalls)
	}

	var run models.EtlRun
	if err := db.First(&run, second.RunID).Error; err != nil {
		t.Fatalf("reload run: %v", err)
	}
	if run.Status != models.EtlRunStatusSuccess {
		t.Fatalf("resumed run status = %s, want success", run.Status)
	}

	var progress models.SyncProgress
	if err := db.Where("run_id = ? AND entity = ?", run.ID, "contacts").First(&progress).Error; err != nil {
		t.Fatalf("reload contacts progress: %v", err)
	}
	if progress.Status != models.SyncStatusCompleted || progress.ItemsProcessed != 3 {
		t.Fatalf("contacts progress = %+v, want completed with 3 items", progress)
	}
	if n := countRows(t, db, &models.Contact{}); n != 3 {
		t.Fatalf("contacts = %d, want 3", n)
	}
}

func TestRunAllResumeKeepsCheckpointedSince(t *testing.T) {
	since := "2024-06-01T00:00:00Z"
	fetcher := &fakeFetcher{
		data:     testFixtureData(),
		failFrom: map[string]int{"/crm/rest/v1/contacts": 2},
	}
	db := newTestDB(t)
	svc, err := NewSyncService(db, fetcher, &config.Settings{PageSize: 2}, nil)
	if err != nil {
		t.Fatalf("new sync service: %v", err)
	}
	ctx := context.Background()

	first, err := svc.RunAll(ctx, &SyncAllInput{Since: since})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !first.Failed() {
		t.Fatal("first run should have failed on contacts")
	}

	fetcher.failFrom = nil
	fetcher.calls = nil

	// resumed without -since: the delta filter comes from the checkpoint
	second, err := svc.RunAll(ctx, &SyncAllInput{Resume: true})
	if err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if second.Failed() {
		t.Fatalf("resumed run failed: %+v", second.Results)
	}

	contactCalls := fetcher.callsFor("/crm/rest/v1/contacts")
	if len(contactCalls) == 0 {
		t.Fatal("contacts not fetched on resume")
	}
	if contactCalls[0].Since != since {
		t.Fatalf("resumed contacts since = %q, want checkpointed %q", contactCalls[0].Since, since)
	}
}

// cancelFetcher cancels the run's context when the trigger endpoint is
// first fetched, the way a SIGTERM lands mid-run.
type cancelFetcher struct {
	inner   *fakeFetcher
	trigger string
	cancel  context.CancelFunc
}

func (f *cancelFetcher) FetchPage(ctx context.Context, endpoint string, params url.Values, offset, limit int) (*keap.Page, error) {
	if endpoint == f.trigger {
		f.cancel()
		return nil, context.Canceled
	}
	return f.inner.FetchPage(ctx, endpoint, params, offset, limit)
}

func TestRunAllCancellationStillFinalizesRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &cancelFetcher{
		inner:   &fakeFetcher{data: testFixtureData()},
		trigger: "/crm/rest/v1/contacts",
		cancel:  cancel,
	}
	db := newTestDB(t)
	svc, err := NewSyncService(db, fetcher, &config.Settings{PageSize: 2}, nil)
	if err != nil {
		t.Fatalf("new sync service: %v", err)
	}

	summary, err := svc.RunAll(ctx, &SyncAllInput{})
	if err != nil {
		t.Fatalf("canceled run must still finalize: %v", err)
	}
	if !summary.Failed() {
		t.Fatalf("canceled run reported clean: %+v", summary.Results)
	}

	var run models.EtlRun
	if err := db.First(&run, summary.RunID).Error; err != nil {
		t.Fatalf("reload run: %v", err)
	}
	if run.Status != models.EtlRunStatusError {
		t.Fatalf("run status after cancellation = %s, want error", run.Status)
	}

	// the entity in flight and every entity after it are marked failed
	status := map[string]string{}
	var rows []models.SyncProgress
	if err := db.Where("run_id = ?", run.ID).Find(&rows).Error; err != nil {
		t.Fatalf("load progress: %v", err)
	}
	for _, row := range rows {
		status[row.Entity] = row.Status
	}
	if status["contacts"] != models.SyncStatusFailed {
		t.Fatalf("contacts progress = %s, want failed", status["contacts"])
	}
	for _, entity := range []string{"contact_tags", "opportunities", "orders"} {
		if status[entity] != models.SyncStatusFailed {
			t.Fatalf("%s progress = %s, want failed after cancellation", entity, status[entity])
		}
	}
	if status["users"] != models.SyncStatusCompleted {
		t.Fatalf("users progress = %s, want completed before cancellation", status["users"])
	}
}

func TestRunAllResumeWithNothingToResume(t *testing.T) {
	fetcher := &fakeFetcher{data: testFixtureData()}
	db := newTestDB(t)
	svc, err := NewSyncService(db, fetcher, &config.Settings{PageSize: 2}, nil)
	if err != nil {
		t.Fatalf("new sync service: %v", err)
	}

	summary, err := svc.RunAll(context.Background(), &SyncAllInput{Resume: true})
	if err != nil {
		t.Fatalf("resume on empty db: %v", err)
	}
	if summary.RunID != 0 || len(summary.Results) != 0 {
		t.Fatalf("resume on empty db produced work: %+v", summary)
	}
}

func TestRunAllRejectsBadInput(t *testing.T) {
	fetcher := &fakeFetcher{data: testFixtureData()}
	db := newTestDB(t)
	svc, err := NewSyncService(db, fetcher, &config.Settings{PageSize: 2}, nil)
	if err != nil {
		t.Fatalf("new sync service: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.RunAll(ctx, &SyncAllInput{Since: "last tuesday"}); err == nil {
		t.Fatal("expected error for malformed since timestamp")
	}
	if _, err := svc.RunAll(ctx, &SyncAllInput{Entities: []string{"invoices"}}); err == nil {
		t.Fatal("expected error for unknown entity")
	}
}

func TestRunAllEntitySubsetPullsDependenciesOnlyWhenListed(t *testing.T) {
	fetcher := &fakeFetcher{data: testFixtureData()}
	db := newTestDB(t)
	svc, err := NewSyncService(db, fetcher, &config.Settings{PageSize: 2}, nil)
	if err != nil {
		t.Fatalf("new sync service: %v", err)
	}

	summary, err := svc.RunAll(context.Background(), &SyncAllInput{Entities: []string{"tags", "users"}})
	if err != nil {
		t.Fatalf("subset run: %v", err)
	}
	if len(summary.Results) != 2 {
		t.Fatalf("subset results = %d, want 2", len(summary.Results))
	}
	if n := countRows(t, db, &models.Contact{}); n != 0 {
		t.Fatalf("contacts synced in a users/tags subset run: %d rows", n)
	}

	var unexpected []string
	for _, c := range fetcher.calls {
		if c.Endpoint != "/crm/rest/v1/users" && c.Endpoint != "/crm/rest/v1/tags" {
			unexpected = append(unexpected, c.Endpoint)
		}
	}
	if len(unexpected) > 0 {
		t.Fatalf("subset run fetched extra endpoints: %v", unexpected)
	}
}

func TestRunAllPassesSinceToFetcher(t *testing.T) {
	since := "2024-06-01T00:00:00Z"
	var seen url.Values
	fetcher := &paramRecordingFetcher{inner: &fakeFetcher{data: testFixtureData()}, record: func(p url.Values) { seen = p }}
	db := newTestDB(t)
	svc, err := NewSyncService(db, fetcher, &config.Settings{PageSize: 2}, nil)
	if err != nil {
		t.Fatalf("new sync service: %v", err)
	}

	if _, err := svc.RunAll(context.Background(), &SyncAllInput{Entities: []string{"users"}, Since: since}); err != nil {
		t.Fatalf("delta run: %v", err)
	}
	if got := seen.Get("since"); got != since {
		t.Fatalf("since param = %q, want %q", got, since)
	}
}

type paramRecordingFetcher struct {
	inner  *fakeFetcher
	record func(url.Values)
}

func (f *paramRecordingFetcher) FetchPage(ctx context.Context, endpoint string, params url.Values, offset, limit int) (*keap.Page, error) {
	f.record(params)
	return f.inner.FetchPage(ctx, endpoint, params, offset, limit)
}
