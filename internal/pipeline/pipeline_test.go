package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"pingme/internal/decode"
	"pingme/internal/enrich"
	"pingme/internal/metrics"
	"pingme/internal/model"
	"pingme/internal/storage"
)

const vault = "0x00000000000000000000000000000000000000aa"

type fakeDecoder struct {
	importance model.Level
}

func (d fakeDecoder) Decode(_ context.Context, raw model.RawLog) model.DomainEvent {
	return model.DomainEvent{
		ID:              decode.EventID(raw.TxHash, raw.LogIndex),
		ContractAddress: raw.ContractAddress,
		ContractName:    "Vault",
		EventName:       raw.EventName,
		BlockNumber:     raw.BlockNumber,
		TxHash:          raw.TxHash,
		LogIndex:        raw.LogIndex,
		Raw:             raw,
		Importance:      d.importance,
	}
}

type fixedAnalyzer struct {
	mu    sync.Mutex
	level model.Level
	calls int
}

func (a *fixedAnalyzer) Analyze(_ context.Context, ev model.DomainEvent) enrich.Analysis {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	analysis := enrich.Fallback(ev)
	analysis.Urgency = a.level
	return analysis
}

type sent struct {
	userID string
	msgs   []model.NotificationMessage
	batch  bool
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (n *recordingNotifier) Send(_ context.Context, userID string, msg model.NotificationMessage) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{userID: userID, msgs: []model.NotificationMessage{msg}})
	return true, nil
}

func (n *recordingNotifier) SendBatch(_ context.Context, userID string, msgs []model.NotificationMessage) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{userID: userID, msgs: msgs, batch: true})
	return true, nil
}

func (n *recordingNotifier) all() []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]sent, len(n.sent))
	copy(out, n.sent)
	return out
}

type recordingPublisher struct {
	mu  sync.Mutex
	ids []string
}

func (p *recordingPublisher) Publish(_ context.Context, ev model.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, ev.ID)
	return nil
}

type failingEvents struct{}

func (failingEvents) SaveEvent(context.Context, model.DomainEvent) (bool, error) {
	return false, errors.New("db down")
}

func (failingEvents) MarkProcessed(context.Context, string) error { return nil }

func rawLog(event string, logIndex uint64) model.RawLog {
	return model.RawLog{
		ContractAddress: vault,
		EventName:       event,
		BlockNumber:     100,
		TxHash:          "0x1111111111111111111111111111111111111111111111111111111111111111",
		LogIndex:        logIndex,
	}
}

func userPref(id string) model.UserPreference {
	pref := model.DefaultPreference(id)
	pref.UrgencyThreshold = model.LevelMedium
	return pref
}

func noon() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func TestProcessIsIdempotent(t *testing.T) {
	store := storage.NewMemory()
	store.PutPreference(userPref("u1"))
	notifier := &recordingNotifier{}
	publisher := &recordingPublisher{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	p := New(Options{
		Decoder:     fakeDecoder{importance: model.LevelHigh},
		Events:      store,
		Preferences: store,
		Analyzer:    &fixedAnalyzer{level: model.LevelHigh},
		Notifier:    notifier,
		Publisher:   publisher,
		Metrics:     m,
		Now:         noon,
	})
	defer p.Close()

	ctx := context.Background()
	raw := rawLog("Withdraw", 3)
	if err := p.Process(ctx, raw); err != nil {
		t.Fatalf("first process: %v", err)
	}
	if err := p.Process(ctx, raw); err != nil {
		t.Fatalf("second process: %v", err)
	}

	if store.EventCount() != 1 {
		t.Fatalf("expected 1 stored event, got %d", store.EventCount())
	}
	id := decode.EventID(raw.TxHash, raw.LogIndex)
	ev, ok := store.Event(id)
	if !ok || !ev.Processed {
		t.Fatalf("event should be processed: %+v", ev)
	}
	if got := notifier.all(); len(got) != 1 || got[0].userID != "u1" {
		t.Fatalf("expected exactly one notification, got %+v", got)
	}
	if len(publisher.ids) != 1 {
		t.Fatalf("expected one publish, got %v", publisher.ids)
	}
	if got := testutil.ToFloat64(m.DuplicatesTotal); got != 1 {
		t.Fatalf("expected 1 duplicate, got %v", got)
	}
}

func TestEnrichmentTimeoutStillSends(t *testing.T) {
	store := storage.NewMemory()
	store.PutPreference(userPref("u1"))
	notifier := &recordingNotifier{}

	slow := generatorFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	analyzer := enrich.NewAnalyzer(slow, enrich.Config{Timeout: 20 * time.Millisecond}, nil, nil)

	p := New(Options{
		Decoder:     fakeDecoder{importance: model.LevelLow},
		Events:      store,
		Preferences: store,
		Analyzer:    analyzer,
		Notifier:    notifier,
		Now:         noon,
	})
	defer p.Close()

	if err := p.Process(context.Background(), rawLog("Transfer", 0)); err != nil {
		t.Fatalf("process: %v", err)
	}
	got := notifier.all()
	if len(got) != 1 {
		t.Fatalf("expected one notification after fallback, got %+v", got)
	}
	if got[0].msgs[0].Priority != model.LevelMedium {
		t.Fatalf("fallback urgency should be medium, got %s", got[0].msgs[0].Priority)
	}
}

type generatorFunc func(ctx context.Context, prompt string) (string, error)

func (f generatorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func TestSharedEnrichmentAcrossUsers(t *testing.T) {
	store := storage.NewMemory()
	for _, id := range []string{"u1", "u2", "u3"} {
		store.PutPreference(userPref(id))
	}
	analyzer := &fixedAnalyzer{level: model.LevelHigh}
	notifier := &recordingNotifier{}

	p := New(Options{
		Decoder:     fakeDecoder{},
		Events:      store,
		Preferences: store,
		Analyzer:    analyzer,
		Notifier:    notifier,
		Now:         noon,
	})
	defer p.Close()

	if err := p.Process(context.Background(), rawLog("Withdraw", 1)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if analyzer.calls != 1 {
		t.Fatalf("expected one analysis, got %d", analyzer.calls)
	}
	if got := notifier.all(); len(got) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(got))
	}
}

func TestRecordHandlerSkipsNotification(t *testing.T) {
	store := storage.NewMemory()
	store.PutPreference(userPref("u1"))
	notifier := &recordingNotifier{}
	handlers, err := ParseHandlers(map[string]string{"sync": "record"})
	if err != nil {
		t.Fatalf("parse handlers: %v", err)
	}

	p := New(Options{
		Decoder:     fakeDecoder{},
		Events:      store,
		Preferences: store,
		Analyzer:    &fixedAnalyzer{level: model.LevelHigh},
		Notifier:    notifier,
		Handlers:    handlers,
		Now:         noon,
	})
	defer p.Close()

	raw := rawLog("Sync", 2)
	if err := p.Process(context.Background(), raw); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(notifier.all()) != 0 {
		t.Fatalf("record handler must not notify")
	}
	ev, _ := store.Event(decode.EventID(raw.TxHash, raw.LogIndex))
	if !ev.Processed {
		t.Fatalf("recorded event should be processed")
	}
}

func TestBelowThresholdAndQuietHours(t *testing.T) {
	store := storage.NewMemory()
	store.PutPreference(userPref("threshold"))
	quiet := userPref("quiet")
	quiet.QuietHours = model.QuietHours{Enabled: true, Start: "11:00", End: "13:00", Timezone: "UTC"}
	store.PutPreference(quiet)

	notifier := &recordingNotifier{}
	analyzer := &fixedAnalyzer{level: model.LevelLow}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	p := New(Options{
		Decoder:     fakeDecoder{},
		Events:      store,
		Preferences: store,
		Analyzer:    analyzer,
		Notifier:    notifier,
		Metrics:     m,
		Now:         noon,
	})
	defer p.Close()

	if err := p.Process(context.Background(), rawLog("Transfer", 4)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(notifier.all()) != 0 {
		t.Fatalf("expected no notifications")
	}
	if got := testutil.ToFloat64(m.SuppressedTotal.WithLabelValues("below_threshold")); got != 1 {
		t.Fatalf("expected below_threshold 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.SuppressedTotal.WithLabelValues("quiet_hours")); got != 1 {
		t.Fatalf("expected quiet_hours 1, got %v", got)
	}
}

func TestSaveErrorStopsProcessing(t *testing.T) {
	store := storage.NewMemory()
	store.PutPreference(userPref("u1"))
	notifier := &recordingNotifier{}

	p := New(Options{
		Decoder:     fakeDecoder{},
		Events:      failingEvents{},
		Preferences: store,
		Analyzer:    &fixedAnalyzer{level: model.LevelHigh},
		Notifier:    notifier,
		Now:         noon,
	})
	defer p.Close()

	if err := p.Process(context.Background(), rawLog("Withdraw", 5)); err == nil {
		t.Fatalf("expected save error")
	}
	if len(notifier.all()) != 0 {
		t.Fatalf("save failure must not notify")
	}
}

func TestRemovedLogSkipped(t *testing.T) {
	store := storage.NewMemory()
	p := New(Options{Decoder: fakeDecoder{}, Events: store, Preferences: store, Now: noon})
	defer p.Close()

	raw := rawLog("Withdraw", 6)
	raw.Removed = true
	if err := p.Process(context.Background(), raw); err != nil {
		t.Fatalf("process: %v", err)
	}
	if store.EventCount() != 0 {
		t.Fatalf("removed logs must not be stored")
	}
}

func TestBatchModeFlushesOnClose(t *testing.T) {
	store := storage.NewMemory()
	pref := userPref("u1")
	pref.BatchMode = true
	store.PutPreference(pref)
	notifier := &recordingNotifier{}

	p := New(Options{
		Decoder:     fakeDecoder{},
		Events:      store,
		Preferences: store,
		Analyzer:    &fixedAnalyzer{level: model.LevelHigh},
		Notifier:    notifier,
		BatchWindow: time.Hour,
		Now:         noon,
	})

	p.HandleLog(rawLog("Withdraw", 7))
	p.HandleLog(rawLog("Deposit", 8))
	p.Close()

	got := notifier.all()
	if len(got) != 1 || !got[0].batch || len(got[0].msgs) != 2 {
		t.Fatalf("expected one batch of 2, got %+v", got)
	}

	p.HandleLog(rawLog("Withdraw", 9))
	if store.EventCount() != 2 {
		t.Fatalf("logs after close must be dropped, got %d events", store.EventCount())
	}
}

func TestParseHandlers(t *testing.T) {
	handlers, err := ParseHandlers(map[string]string{"Sync": " RECORD ", "mint": "notify"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if handlers.Kind("sync") != HandlerRecord || handlers.Kind("SYNC") != HandlerRecord {
		t.Fatalf("sync should be record")
	}
	if handlers.Kind("Transfer") != HandlerNotify {
		t.Fatalf("unconfigured events default to notify")
	}
	if _, err := ParseHandlers(map[string]string{"x": "drop"}); err == nil {
		t.Fatalf("expected unknown kind error")
	}
	var empty Handlers
	if empty.Kind("any") != HandlerNotify {
		t.Fatalf("nil handlers default to notify")
	}
}

type brokenPreferences struct {
	*storage.Memory
	broken string
}

func (b brokenPreferences) GetPreference(ctx context.Context, userID string) (model.UserPreference, error) {
	if userID == b.broken {
		return model.UserPreference{}, errors.New("parse quiet hours: corrupt row")
	}
	return b.Memory.GetPreference(ctx, userID)
}

func TestBadPreferenceDoesNotBlockOtherUsers(t *testing.T) {
	store := storage.NewMemory()
	store.PutPreference(userPref("bad"))
	store.PutPreference(userPref("good"))
	notifier := &recordingNotifier{}

	p := New(Options{
		Decoder:     fakeDecoder{importance: model.LevelHigh},
		Events:      store,
		Preferences: brokenPreferences{Memory: store, broken: "bad"},
		Analyzer:    &fixedAnalyzer{level: model.LevelHigh},
		Notifier:    notifier,
		Now:         noon,
	})
	defer p.Close()

	raw := rawLog("Withdraw", 9)
	if err := p.Process(context.Background(), raw); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := notifier.all(); len(got) != 1 || got[0].userID != "good" {
		t.Fatalf("expected only good to be notified, got %+v", got)
	}
	ev, ok := store.Event(decode.EventID(raw.TxHash, raw.LogIndex))
	if !ok || !ev.Processed {
		t.Fatalf("event should be processed: %+v", ev)
	}
}
