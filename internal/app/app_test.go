package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pawrelay/internal/avatarid"
	"pawrelay/internal/config"
	"pawrelay/internal/eventbus"
	"pawrelay/internal/storage"
	logx "pawrelay/pkg/logx"
)

const testID avatarid.ID = "avtr_1A2B3C4D-0000-1111-2222-333344445555"

func TestRelayRecord(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r, ok := relayRecord(eventbus.Event{
		Type: eventbus.TypeRelayFailed,
		Time: at,
		Data: eventbus.RelayOutcome{AvatarID: testID.String(), Status: 503, Err: "unavailable", Took: 1500 * time.Millisecond},
	})
	if !ok {
		t.Fatal("relay.failed not converted")
	}
	want := storage.RelayRecord{At: at, AvatarID: testID.String(), OK: false, Status: 503, Error: "unavailable", TookMS: 1500}
	if r != want {
		t.Fatalf("record = %+v, want %+v", r, want)
	}

	if _, ok := relayRecord(eventbus.Event{Type: eventbus.TypeAvatarEnqueued, Data: []avatarid.ID{testID}}); ok {
		t.Fatal("enqueue event converted")
	}
	if _, ok := relayRecord(eventbus.Event{Type: "other", Data: eventbus.RelayOutcome{}}); ok {
		t.Fatal("unknown type converted")
	}
}

type memStore struct {
	mu      sync.Mutex
	records []storage.RelayRecord
}

func (m *memStore) AppendRelay(_ context.Context, r storage.RelayRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}
func (m *memStore) Prune(context.Context, time.Time) (int, error) { return 0, nil }
func (m *memStore) Close() error                                  { return nil }

func TestRunJournal(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	st := &memStore{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		runJournal(context.Background(), events, st, logx.Nop())
	}()

	bus.Publish(eventbus.Event{Type: eventbus.TypeAvatarEnqueued, Data: []avatarid.ID{testID}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeRelaySucceeded, Data: eventbus.RelayOutcome{AvatarID: testID.String()}})
	time.Sleep(20 * time.Millisecond)
	unsub()
	<-done

	if len(st.records) != 1 || !st.records[0].OK || st.records[0].At.IsZero() {
		t.Fatalf("records = %+v", st.records)
	}
}

func TestMapStorageConfig(t *testing.T) {
	cfg := config.Default()
	if _, enabled, err := mapStorageConfig(cfg); enabled || err != nil {
		t.Fatalf("nil storage = %v, %v", enabled, err)
	}
	cfg.Storage = &config.StorageConfig{Driver: "SQLite", Path: "./j.db", Retention: "24h"}
	js, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled {
		t.Fatalf("sqlite = %v, %v", enabled, err)
	}
	if js.store.Driver != "sqlite" || js.store.BusyTimeout != time.Second || js.retention != 24*time.Hour || js.schedule != config.DefaultPruneSchedule {
		t.Fatalf("settings = %+v", js)
	}
	cfg.Storage = &config.StorageConfig{Driver: "file"}
	if _, _, err := mapStorageConfig(cfg); err == nil {
		t.Fatal("expected missing path error")
	}
}

func writeConfig(t *testing.T, dir string, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, "pawrelay.json")
	if err := os.WriteFile(p, b, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestAppPipeline(t *testing.T) {
	var mu sync.Mutex
	var posted []string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		posted = append(posted, r.URL.Query().Get("avatarId"))
		mu.Unlock()
	}))
	defer api.Close()

	dir := t.TempDir()
	root := filepath.Join(dir, "cache")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	cfgPath := writeConfig(t, dir, map[string]any{
		"logging": map[string]any{"level": "error", "console": true},
		"watch":   map[string]any{"root": root, "poll_interval": "50ms"},
		"relay":   map[string]any{"base_url": api.URL + "/"},
		"status":  map[string]any{"enabled": false},
		"storage": map[string]any{"driver": "file", "path": filepath.Join(dir, "journal")},
	})

	a, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	entry := filepath.Join(root, "abcdef", "0123")
	if err := os.MkdirAll(entry, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(entry, "__data"), []byte("\x00\x01bundle "+testID.String()+" tail"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(entry, "__info"), []byte("meta"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !a.History().Contains(testID) {
		if time.Now().After(deadline) {
			t.Fatalf("id never reached history; stats=%+v", a.Queue().Stats())
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopSignal); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	mu.Lock()
	if len(posted) == 0 || posted[0] != testID.String() {
		t.Fatalf("posted = %v", posted)
	}
	mu.Unlock()

	f, err := os.Open(filepath.Join(dir, "journal.relays.jsonl"))
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	found := false
	for sc.Scan() {
		var r storage.RelayRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatal(err)
		}
		if r.AvatarID == testID.String() && r.OK {
			found = true
		}
	}
	if !found {
		t.Fatal("no successful journal record")
	}

	if _, err := a.Queue().Enqueue(testID); err == nil {
		t.Fatal("queue accepted ids after Stop")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	cases := []map[string]any{
		{"relay": map[string]any{"base_url": "gopher://x"}},
		{"storage": map[string]any{"driver": "mongo", "path": "x"}},
		{"watch": map[string]any{"poll_interval": "fast"}},
	}
	for i, c := range cases {
		p := writeConfig(t, dir, c)
		if _, err := New(p); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}

	if _, err := New(filepath.Join(dir, "missing.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file err = %v", err)
	}
}

func TestApplyConfigLive(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, map[string]any{
		"logging": map[string]any{"level": "error"},
		"watch":   map[string]any{"root": dir},
		"status":  map[string]any{"enabled": false},
	})
	a, err := New(p)
	if err != nil {
		t.Fatal(err)
	}
	oldCfg := config.Default()
	oldCfg.Logging.Level = "error"
	oldCfg.Watch.Root = dir
	oldCfg.Status.Enabled = false

	newCfg := *oldCfg
	newCfg.Dispatch.MaxConcurrent = 7
	newCfg.History.Capacity = 2
	for i := range 3 {
		a.History().Append(avatarid.ID(fmt.Sprintf("avtr_%08d-0000-0000-0000-000000000000", i)))
	}
	a.applyConfig(context.Background(), oldCfg, &newCfg)

	if got := a.Queue().Stats().MaxConcurrent; got != 7 {
		t.Fatalf("max_concurrent = %d, want 7", got)
	}
	if a.History().Capacity() != 2 || a.History().Len() != 2 {
		t.Fatalf("history cap=%d len=%d", a.History().Capacity(), a.History().Len())
	}
	if !strings.HasSuffix(a.History().Snapshot()[1].String(), "2-0000-0000-0000-000000000000") {
		t.Fatalf("wrong ids kept: %v", a.History().Snapshot())
	}
}
