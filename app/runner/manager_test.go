package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/event-comb/app/adapter"
	"github.com/lysyi3m/event-comb/app/database"
	"github.com/lysyi3m/event-comb/app/ingest"
	"github.com/lysyi3m/event-comb/app/runlog"
	"github.com/lysyi3m/event-comb/app/source"
)

type fakeAdapter struct {
	candidates []adapter.Candidate
	warnings   []string
	err        error
	block      bool
}

func (f *fakeAdapter) Fetch(ctx context.Context, req adapter.Request) (*adapter.Result, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &adapter.Result{Candidates: f.candidates, Warnings: f.warnings}, nil
}

// inflight records how many fetches overlap.
type inflight struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (f *inflight) enter() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current++
	f.peak = max(f.peak, f.current)
}

func (f *inflight) leave() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current--
}

func (f *inflight) maxSeen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

// slowAdapter returns its candidates after delay, or fails when ctx ends first.
type slowAdapter struct {
	tracker    *inflight
	delay      time.Duration
	candidates []adapter.Candidate
}

func (s *slowAdapter) Fetch(ctx context.Context, req adapter.Request) (*adapter.Result, error) {
	s.tracker.enter()
	defer s.tracker.leave()

	select {
	case <-time.After(s.delay):
		return &adapter.Result{Candidates: s.candidates}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type testEnv struct {
	manager    *Manager
	sourceRepo database.SourceRepository
	eventRepo  database.EventRepository
	sink       *runlog.Sink
	registry   *adapter.Registry
	configs    *source.ConfigCache
}

func newTestEnv(t *testing.T, concurrency int) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.NewConnection(database.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	sink, err := runlog.NewSink(filepath.Join(t.TempDir(), "ingest.log"))
	if err != nil {
		t.Fatalf("Failed to create run log: %v", err)
	}

	registry := adapter.NewRegistry()
	env := &testEnv{
		sourceRepo: database.NewSourceRepository(db),
		eventRepo:  database.NewEventRepository(db),
		sink:       sink,
		registry:   registry,
		configs:    source.NewConfigCache(t.TempDir(), registry),
	}

	engine := ingest.NewEngine(env.eventRepo, ingest.NewNormalizer(time.UTC), nil, nil)
	env.manager = NewManager(env.sourceRepo, env.eventRepo, env.configs, env.registry, engine, sink, nil, concurrency)

	return env
}

// addSource registers a fake adapter under the source's own name.
func (e *testEnv) addSource(t *testing.T, name string, a adapter.Adapter) string {
	t.Helper()

	e.registry.Register(name, a)
	if err := e.configs.Put(&source.Config{Name: name, URL: "https://example.com/" + name, Adapter: name}); err != nil {
		t.Fatalf("Failed to add config: %v", err)
	}

	id, err := e.sourceRepo.UpsertSource(context.Background(), name, "https://example.com/"+name, name, true)
	if err != nil {
		t.Fatalf("Failed to add source: %v", err)
	}
	return id
}

func candidate(title string, day int, url string) adapter.Candidate {
	return adapter.Candidate{
		Title: title,
		Start: time.Date(2025, 9, day, 20, 0, 0, 0, time.UTC),
		URL:   url,
	}
}

func TestManager_RunSourceIdempotent(t *testing.T) {
	env := newTestEnv(t, 1)
	id := env.addSource(t, "teatro", &fakeAdapter{candidates: []adapter.Candidate{
		candidate("Concerto X", 10, "http://a/1"),
	}})
	ctx := context.Background()

	first, err := env.manager.RunSource(ctx, id)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if first.State != StateCompletedOK {
		t.Errorf("Expected completed_ok, got: %s", first.State)
	}
	if first.EventsNew != 1 || first.EventsSkipped != 0 || first.EventsTotal != 1 {
		t.Errorf("Expected new=1 skipped=0 total=1, got new=%d skipped=%d total=%d",
			first.EventsNew, first.EventsSkipped, first.EventsTotal)
	}

	second, err := env.manager.RunSource(ctx, id)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if second.EventsNew != 0 || second.EventsSkipped != 1 || second.EventsTotal != 1 {
		t.Errorf("Expected new=0 skipped=1 total=1, got new=%d skipped=%d total=%d",
			second.EventsNew, second.EventsSkipped, second.EventsTotal)
	}
	if second.EventsFound != 1 {
		t.Errorf("Expected found=1, got: %d", second.EventsFound)
	}

	if env.manager.State(id) != StateCompletedOK {
		t.Errorf("Expected stored state completed_ok, got: %s", env.manager.State(id))
	}
}

func TestManager_RunAllIsolatesFailures(t *testing.T) {
	env := newTestEnv(t, 1)
	ids := []string{
		env.addSource(t, "a-cinema", &fakeAdapter{candidates: []adapter.Candidate{
			candidate("Film 1", 10, "http://cinema/1"),
			candidate("Film 2", 11, "http://cinema/2"),
		}}),
		env.addSource(t, "b-broken", &fakeAdapter{err: errors.New("dial tcp: connection refused")}),
		env.addSource(t, "c-teatro", &fakeAdapter{candidates: []adapter.Candidate{
			candidate("Prova", 12, ""),
		}}),
	}

	batch, err := env.manager.RunAll(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(batch.Results) != 3 {
		t.Fatalf("Expected 3 results, got: %d", len(batch.Results))
	}

	byName := make(map[string]Result)
	for _, r := range batch.Results {
		byName[r.Name] = r
	}

	if r := byName["a-cinema"]; r.State != StateCompletedOK || r.EventsNew != 2 {
		t.Errorf("Expected a-cinema ok with 2 new, got: %+v", r)
	}
	if r := byName["b-broken"]; r.State != StateFatalError || r.FatalError == "" || r.EventsNew != 0 {
		t.Errorf("Expected b-broken fatal with 0 new, got: %+v", r)
	}
	if r := byName["c-teatro"]; r.State != StateCompletedOK || r.EventsNew != 1 {
		t.Errorf("Expected c-teatro ok with 1 new, got: %+v", r)
	}

	if batch.Summary.SourcesExecuted != 3 || batch.Summary.TotalNew != 3 || batch.Summary.TotalErrors != 1 {
		t.Errorf("Unexpected summary: %+v", batch.Summary)
	}

	for _, id := range ids {
		src, err := env.sourceRepo.GetSource(context.Background(), id)
		if err != nil || src == nil {
			t.Fatalf("Expected source %s, got err: %v", id, err)
		}
		if src.LastRunAt == nil {
			t.Errorf("Expected last run time for %s", src.Name)
		}
	}

	lines, err := env.sink.Tail(10)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("Expected 3 log lines, got: %v", lines)
	}
	if !strings.Contains(lines[1], "[b-broken] FATAL: dial tcp: connection refused") {
		t.Errorf("Expected fatal line, got: %s", lines[1])
	}
	if !strings.Contains(lines[0], "[a-cinema] OK: found=2 new=2 skipped=0 total=2 duration=") {
		t.Errorf("Expected OK line, got: %s", lines[0])
	}
}

func TestManager_WarningsCompleteWithErrors(t *testing.T) {
	env := newTestEnv(t, 1)
	id := env.addSource(t, "teatro", &fakeAdapter{
		candidates: []adapter.Candidate{
			candidate("Concerto X", 10, "http://a/1"),
			{Title: "", Start: time.Date(2025, 9, 10, 20, 0, 0, 0, time.UTC)},
		},
		warnings: []string{`item 3 ("Prova"): unparseable date "domani"`},
	})

	result, err := env.manager.RunSource(context.Background(), id)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if result.State != StateCompletedWithErrors {
		t.Errorf("Expected completed_with_errors, got: %s", result.State)
	}
	if len(result.Errors) != 1 {
		t.Errorf("Expected only the adapter warning, got: %v", result.Errors)
	}
	if result.EventsFound != 2 || result.EventsNew != 1 || result.EventsSkipped != 0 {
		t.Errorf("Expected found=2 new=1 skipped=0, got found=%d new=%d skipped=%d",
			result.EventsFound, result.EventsNew, result.EventsSkipped)
	}

	lines, _ := env.sink.Tail(10)
	if len(lines) != 2 {
		t.Fatalf("Expected 2 log lines, got: %v", lines)
	}
	if !strings.Contains(lines[0], "[teatro] ERROR: item 3") {
		t.Errorf("Expected error line first, got: %s", lines[0])
	}
	if !strings.Contains(lines[1], "[teatro] OK:") {
		t.Errorf("Expected OK line last, got: %s", lines[1])
	}
}

func TestManager_RunAllTimeout(t *testing.T) {
	env := newTestEnv(t, 1)
	env.addSource(t, "a-fast", &fakeAdapter{candidates: []adapter.Candidate{candidate("Film", 10, "")}})
	slowID := env.addSource(t, "b-slow", &fakeAdapter{block: true})
	env.addSource(t, "c-never", &fakeAdapter{candidates: []adapter.Candidate{candidate("Prova", 12, "")}})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	batch, err := env.manager.RunAll(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(batch.Results) != 2 {
		t.Fatalf("Expected 2 results, got: %+v", batch.Results)
	}
	if batch.Results[0].Name != "a-fast" || batch.Results[0].State != StateCompletedOK {
		t.Errorf("Expected a-fast to complete, got: %+v", batch.Results[0])
	}
	if batch.Results[1].Name != "b-slow" || batch.Results[1].FatalError != "cancelled" {
		t.Errorf("Expected b-slow to be cancelled, got: %+v", batch.Results[1])
	}

	src, _ := env.sourceRepo.GetSource(context.Background(), slowID)
	if src == nil || src.LastRunAt == nil {
		t.Error("Expected last run time for the cancelled source")
	}
}

func TestManager_RunSourceUnknown(t *testing.T) {
	env := newTestEnv(t, 1)

	_, err := env.manager.RunSource(context.Background(), uuid.NewString())
	if !errors.Is(err, ErrSourceNotFound) {
		t.Errorf("Expected ErrSourceNotFound, got: %v", err)
	}
}

func TestWriteTable(t *testing.T) {
	batch := NewBatch(
		Result{Name: "città", State: StateCompletedOK, EventsFound: 2, EventsNew: 1, EventsSkipped: 1, EventsTotal: 4, DurationSeconds: 1.5},
		Result{Name: "broken", State: StateFatalError, FatalError: "HTTP error: 503", Errors: []string{}},
	)

	var buf bytes.Buffer
	if err := WriteTable(&buf, batch); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	lines := strings.Split(buf.String(), "\n")
	if !strings.HasPrefix(lines[0], "SOURCE  STATUS") {
		t.Errorf("Expected header row, got: %s", lines[0])
	}
	if !strings.HasPrefix(lines[1], "città   completed_ok") {
		t.Errorf("Expected aligned row, got: %q", lines[1])
	}
	if !strings.Contains(buf.String(), "broken: HTTP error: 503") {
		t.Errorf("Expected fatal error listed, got: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "sources=2 new=1 errors=1") {
		t.Errorf("Expected summary line, got: %s", buf.String())
	}
}

func TestManager_RunAllConcurrentSharedCandidate(t *testing.T) {
	env := newTestEnv(t, 4)
	tracker := &inflight{}

	for i := 1; i <= 6; i++ {
		env.addSource(t, fmt.Sprintf("source-%d", i), &slowAdapter{
			tracker: tracker,
			delay:   50 * time.Millisecond,
			candidates: []adapter.Candidate{
				candidate("Concerto X", 10, ""),
				candidate(fmt.Sprintf("Solo %d", i), 11, ""),
			},
		})
	}

	batch, err := env.manager.RunAll(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(batch.Results) != 6 {
		t.Fatalf("Expected 6 results, got: %d", len(batch.Results))
	}

	newCount, skipped := 0, 0
	for _, r := range batch.Results {
		if r.State != StateCompletedOK {
			t.Errorf("Expected %s to complete ok, got: %+v", r.Name, r)
		}
		newCount += r.EventsNew
		skipped += r.EventsSkipped
	}
	if newCount != 7 || skipped != 5 {
		t.Errorf("Expected 7 new and 5 skipped across sources, got new=%d skipped=%d", newCount, skipped)
	}
	if batch.Summary.SourcesExecuted != 6 || batch.Summary.TotalNew != 7 {
		t.Errorf("Unexpected summary: %+v", batch.Summary)
	}

	total, err := env.eventRepo.GetEventCount(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if total != 7 {
		t.Errorf("Expected 7 stored events, got: %d", total)
	}

	shared, err := env.eventRepo.GetEventsByDay(context.Background(), "2025-09-10")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(shared) != 1 {
		t.Errorf("Expected one stored row for the shared event, got: %d", len(shared))
	}

	if peak := tracker.maxSeen(); peak < 2 || peak > 4 {
		t.Errorf("Expected between 2 and 4 sources in flight, got: %d", peak)
	}
}

func TestManager_RunAllCompletionOrder(t *testing.T) {
	env := newTestEnv(t, 3)
	tracker := &inflight{}

	env.addSource(t, "a-slow", &slowAdapter{tracker: tracker, delay: 300 * time.Millisecond})
	env.addSource(t, "b-medium", &slowAdapter{tracker: tracker, delay: 150 * time.Millisecond})
	env.addSource(t, "c-fast", &slowAdapter{tracker: tracker, delay: 10 * time.Millisecond})

	batch, err := env.manager.RunAll(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var names []string
	for _, r := range batch.Results {
		names = append(names, r.Name)
	}
	if strings.Join(names, ",") != "c-fast,b-medium,a-slow" {
		t.Errorf("Expected results in completion order, got: %v", names)
	}
}

func TestManager_RunAllTimeoutWithSeveralInFlight(t *testing.T) {
	env := newTestEnv(t, 2)
	tracker := &inflight{}

	env.addSource(t, "a-stuck", &fakeAdapter{block: true})
	env.addSource(t, "b-stuck", &slowAdapter{tracker: tracker, delay: time.Minute})
	env.addSource(t, "c-waiting", &fakeAdapter{candidates: []adapter.Candidate{candidate("Prova", 12, "")}})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	batch, err := env.manager.RunAll(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(batch.Results) != 2 {
		t.Fatalf("Expected a partial batch of 2 results, got: %+v", batch.Results)
	}
	for _, r := range batch.Results {
		if r.Name == "c-waiting" {
			t.Errorf("Expected the unstarted source to be left out, got: %+v", r)
		}
		if r.State != StateFatalError || r.FatalError != "cancelled" {
			t.Errorf("Expected %s to be cancelled, got: %+v", r.Name, r)
		}
	}
	if batch.Summary.SourcesExecuted != 2 || batch.Summary.TotalErrors != 2 {
		t.Errorf("Unexpected summary: %+v", batch.Summary)
	}

	total, _ := env.eventRepo.GetEventCount(context.Background())
	if total != 0 {
		t.Errorf("Expected no stored events, got: %d", total)
	}
}

func TestNewBatch(t *testing.T) {
	batch := NewBatch(Result{Name: "teatro", State: StateCompletedWithErrors, EventsNew: 3, Errors: []string{"item 2: bad date"}})

	if batch.ID == "" {
		t.Error("Expected batch id")
	}
	if batch.Summary.SourcesExecuted != 1 || batch.Summary.TotalNew != 3 || batch.Summary.TotalErrors != 1 {
		t.Errorf("Unexpected summary: %+v", batch.Summary)
	}

	empty := NewBatch()
	if empty.Results == nil || len(empty.Results) != 0 {
		t.Errorf("Expected empty non-nil results, got: %v", empty.Results)
	}
}
