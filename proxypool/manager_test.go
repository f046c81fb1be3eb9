package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"sendcode_nexus/internal/remote"
	"sendcode_nexus/internal/remote/remotetest"
	"sendcode_nexus/internal/shared/types"
	"sendcode_nexus/proxypool/model"
	"sendcode_nexus/proxypool/storage"
	"sendcode_nexus/proxypool/trial"
)

const testPhone = "+79998887766"

type testEnv struct {
	cfg     *types.Config
	okPath  string
	store   *storage.SuccessStore
	conn    *remotetest.Connector
	manager *Manager
	events  *eventRecorder
}

func newTestEnv(t *testing.T, proxies string, def remotetest.Behavior) *testEnv {
	t.Helper()
	dir := t.TempDir()
	proxiesPath := filepath.Join(dir, "proxies.txt")
	if err := os.WriteFile(proxiesPath, []byte(proxies), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := types.DefaultConfig()
	cfg.FilesConf.ProxiesFile = proxiesPath
	cfg.FilesConf.OkProxiesFile = filepath.Join(dir, "ok_proxies.txt")
	cfg.TrialConf.StaggerDelay = 0
	cfg.TrialConf.ConnectTimeout = 50 * time.Millisecond
	cfg.TrialConf.AuthCheckTimeout = 30 * time.Millisecond
	cfg.TrialConf.SendTimeout = 50 * time.Millisecond

	conn := remotetest.NewConnector(def)
	engine := trial.NewEngine(conn, trial.Settings{
		ConnectTimeout:     cfg.TrialConf.ConnectTimeout,
		AuthCheckTimeout:   cfg.TrialConf.AuthCheckTimeout,
		SendTimeout:        cfg.TrialConf.SendTimeout,
		CheckAuthorization: true,
	})
	store := storage.NewSuccessStore(cfg.FilesConf.OkProxiesFile)
	events := &eventRecorder{}

	return &testEnv{
		cfg:     cfg,
		okPath:  cfg.FilesConf.OkProxiesFile,
		store:   store,
		conn:    conn,
		manager: NewManager(cfg, store, engine, events),
		events:  events,
	}
}

func (e *testEnv) okFile(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(e.okPath)
	if err != nil {
		t.Fatalf("read success list: %v", err)
	}
	return string(data)
}

type eventRecorder struct {
	mu       sync.Mutex
	started  []string
	statuses []trial.Status
	finished []*model.AggregateResult
}

func (r *eventRecorder) OnBatchStart(batchID, target string, endpoints int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, batchID)
}

func (r *eventRecorder) OnTrialStatus(batchID string, status trial.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *eventRecorder) OnBatchFinish(result *model.AggregateResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, result)
}

func TestDispatch_EmptySource(t *testing.T) {
	env := newTestEnv(t, "# nothing here\n\n", remotetest.Behavior{})

	res, err := env.manager.Dispatch(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if res.Attempted != 0 || len(res.Succeeded) != 0 {
		t.Fatalf("result = %+v, want attempted 0, succeeded []", res)
	}
	if got := env.okFile(t); got != "" {
		t.Fatalf("success list = %q, want empty file", got)
	}
}

func TestDispatch_SingleSuccess(t *testing.T) {
	env := newTestEnv(t, "1.2.3.4:1080\n", remotetest.Behavior{})

	res, err := env.manager.Dispatch(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if res.Attempted != 1 || len(res.Succeeded) != 1 || res.Succeeded[0].String() != "1.2.3.4:1080" {
		t.Fatalf("result = %+v", res)
	}
	if got := env.okFile(t); got != "1.2.3.4:1080\n" {
		t.Fatalf("success list = %q", got)
	}
	if res.BatchID == "" || res.FinishedAt.Before(res.StartedAt) {
		t.Errorf("batch metadata not filled: %+v", res)
	}
	if env.manager.LastResult() != res {
		t.Error("LastResult() should return the latest batch")
	}
	saved, err := env.manager.SavedProxies()
	if err != nil || len(saved) != 1 {
		t.Errorf("SavedProxies() = %v, %v", saved, err)
	}
}

func TestDispatch_ConnectTimeout(t *testing.T) {
	env := newTestEnv(t, "1.2.3.4:1080\n", remotetest.Behavior{ConnectHang: true})

	res, err := env.manager.Dispatch(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if res.Attempted != 1 || len(res.Succeeded) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.Tally[model.OutcomeConnectFailure] != 1 {
		t.Fatalf("tally = %v, want one connect failure", res.Tally)
	}
}

func TestDispatch_FloodWait(t *testing.T) {
	env := newTestEnv(t, "1.2.3.4:1080\n", remotetest.Behavior{SendErr: &remote.FloodWaitError{Seconds: 30}})

	res, err := env.manager.Dispatch(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if res.Attempted != 1 || len(res.Succeeded) != 0 || res.Tally[model.OutcomeFloodWait] != 1 {
		t.Fatalf("result = %+v", res)
	}

	var sawWait bool
	for _, s := range env.events.statuses {
		if s.Outcome != nil && s.Outcome.Kind == model.OutcomeFloodWait && s.Outcome.WaitSeconds == 30 {
			sawWait = true
		}
	}
	if !sawWait {
		t.Error("no flood wait status line with 30 seconds")
	}
}

func TestDispatch_AllFailStillReports(t *testing.T) {
	env := newTestEnv(t, "a:1\nb:2\nc:3\n", remotetest.Behavior{ConnectErr: errors.New("refused")})

	res, err := env.manager.Dispatch(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if res.Attempted != 3 || len(res.Succeeded) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(env.events.started) != 1 || len(env.events.finished) != 1 {
		t.Fatalf("listener saw %d starts, %d finishes", len(env.events.started), len(env.events.finished))
	}
}

func TestDispatch_SingleModeUsesFirstEntry(t *testing.T) {
	env := newTestEnv(t, "bad line\n1.1.1.1:1080\n2.2.2.2:1080\n", remotetest.Behavior{})
	env.cfg.CommonConf.Mode = types.ModeSingle

	res, err := env.manager.Dispatch(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if res.Attempted != 1 || res.Succeeded[0].Host != "1.1.1.1" {
		t.Fatalf("result = %+v", res)
	}
	if env.conn.Connects(model.Endpoint{Host: "2.2.2.2", Port: 1080}) != 0 {
		t.Fatal("single mode must only try the first entry")
	}
}

func TestDispatch_BatchModeCapsEndpoints(t *testing.T) {
	env := newTestEnv(t, "a:1\nb:2\nc:3\nd:4\n", remotetest.Behavior{})
	env.cfg.TrialConf.MaxEndpoints = 2

	res, err := env.manager.Dispatch(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if res.Attempted != 2 {
		t.Fatalf("attempted = %d, want 2", res.Attempted)
	}
}

func TestDispatch_InvalidTarget(t *testing.T) {
	env := newTestEnv(t, "a:1\n", remotetest.Behavior{})
	for _, target := range []string{"", "+", "79998887766", "+7999 888", "+7a"} {
		if _, err := env.manager.Dispatch(context.Background(), target); !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("Dispatch(%q) error = %v, want ErrInvalidTarget", target, err)
		}
	}
}

func TestDispatch_UnreadableSource(t *testing.T) {
	env := newTestEnv(t, "", remotetest.Behavior{})
	env.cfg.FilesConf.ProxiesFile = t.TempDir()

	if _, err := env.manager.Dispatch(context.Background(), testPhone); err == nil {
		t.Fatal("expected an error for an unreadable proxy source")
	}
	if env.manager.Running() {
		t.Fatal("manager still marked running after a failed dispatch")
	}
}

func TestDispatch_PersistFailureKeepsResult(t *testing.T) {
	env := newTestEnv(t, "1.2.3.4:1080\n", remotetest.Behavior{})
	env.manager.storage = storage.NewSuccessStore(filepath.Join(t.TempDir(), "missing-dir", "ok.txt"))

	res, err := env.manager.Dispatch(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if res.PersistError == "" || len(res.Succeeded) != 1 {
		t.Fatalf("result = %+v, want succeeded list with a persist error", res)
	}
}

// gatedAttempter blocks every attempt until release is closed.
type gatedAttempter struct {
	release chan struct{}
}

func (g *gatedAttempter) Attempt(_ context.Context, _ string, ep model.Endpoint, _ trial.Observer) model.Record {
	<-g.release
	return model.Record{Endpoint: ep, Outcome: model.Success()}
}

func TestDispatch_RejectsConcurrentBatch(t *testing.T) {
	env := newTestEnv(t, "1.2.3.4:1080\n", remotetest.Behavior{})
	gate := &gatedAttempter{release: make(chan struct{})}
	env.manager.attempter = gate

	done := make(chan struct{})
	go func() {
		defer close(done)
		env.manager.Dispatch(context.Background(), testPhone)
	}()

	deadline := time.Now().Add(time.Second)
	for !env.manager.Running() {
		if time.Now().After(deadline) {
			t.Fatal("first batch never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := env.manager.Dispatch(context.Background(), testPhone); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Dispatch() error = %v, want ErrBusy", err)
	}
	close(gate.release)
	<-done
}

func TestAggregate_OnlySuccessCounts(t *testing.T) {
	a := model.Endpoint{Host: "a", Port: 1}
	b := model.Endpoint{Host: "b", Port: 2}
	records := []model.Record{
		{Endpoint: a, Outcome: model.AlreadyAuthorized()},
		{Endpoint: b, Outcome: model.Success()},
		{Endpoint: a, Outcome: model.FloodWait(10)},
		{Endpoint: a, Outcome: model.Success()},
	}

	res := Aggregate(records)
	if res.Attempted != 4 {
		t.Fatalf("attempted = %d", res.Attempted)
	}
	if len(res.Succeeded) != 2 || res.Succeeded[0] != b || res.Succeeded[1] != a {
		t.Fatalf("succeeded = %v, want [b a] in record order", res.Succeeded)
	}
}

func genOutcome(t *rapid.T) model.Outcome {
	switch rapid.IntRange(0, 4).Draw(t, "kind") {
	case 0:
		return model.Success()
	case 1:
		return model.AlreadyAuthorized()
	case 2:
		return model.ConnectFailure(rapid.StringMatching(`[a-z ]{0,10}`).Draw(t, "detail"))
	case 3:
		return model.FloodWait(rapid.IntRange(0, 86400).Draw(t, "seconds"))
	default:
		return model.SendFailure(rapid.StringMatching(`[a-z ]{0,10}`).Draw(t, "detail"))
	}
}

func TestProperty_AggregateIsPureAndExact(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "n")
		records := make([]model.Record, n)
		for i := range records {
			records[i] = model.Record{
				Endpoint: model.Endpoint{Host: "10.0.0.1", Port: rapid.IntRange(1, 65535).Draw(t, "port")},
				Outcome:  genOutcome(t),
			}
		}

		first := Aggregate(records)
		second := Aggregate(records)
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("Aggregate is not idempotent: %+v vs %+v", first, second)
		}
		if first.Attempted != n {
			t.Fatalf("attempted = %d, want %d", first.Attempted, n)
		}

		want := make([]model.Endpoint, 0)
		for _, rec := range records {
			if rec.Outcome.Kind == model.OutcomeSuccess {
				want = append(want, rec.Endpoint)
			}
		}
		if !reflect.DeepEqual(first.Succeeded, want) {
			t.Fatalf("succeeded = %v, want %v", first.Succeeded, want)
		}
	})
}
