package batch

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/dbehnke/dvbs2-tablegen/internal/testhelpers"
	"github.com/dbehnke/dvbs2-tablegen/pkg/artifact"
	"github.com/dbehnke/dvbs2-tablegen/pkg/dvbs2"
	"github.com/dbehnke/dvbs2-tablegen/pkg/ldpc"
	"github.com/dbehnke/dvbs2-tablegen/pkg/logger"
	"github.com/dbehnke/dvbs2-tablegen/pkg/metrics"
)

func shortKeys() []dvbs2.Key {
	var keys []dvbs2.Key
	for _, k := range dvbs2.Keys() {
		if k.Frame == dvbs2.FrameShort {
			keys = append(keys, k)
		}
	}
	return keys
}

type fixture struct {
	input   string
	store   *artifact.Store
	logs    *bytes.Buffer
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, keys []dvbs2.Key) *fixture {
	t.Helper()
	f := &fixture{
		input:   t.TempDir(),
		store:   artifact.NewStore(t.TempDir()),
		logs:    &bytes.Buffer{},
		metrics: metrics.New(),
	}
	for _, k := range keys {
		if _, err := testhelpers.WriteSyntheticTable(f.input, k); err != nil {
			t.Fatalf("WriteSyntheticTable failed: %v", err)
		}
	}
	return f
}

func (f *fixture) runner(force bool) *Runner {
	return NewRunner(Options{InputDir: f.input, Workers: 4, Force: force},
		f.store, logger.NewTestLogger(f.logs), f.metrics)
}

func TestRunCompilesAllKeys(t *testing.T) {
	keys := shortKeys()
	f := newFixture(t, keys)
	r := f.runner(false)

	var (
		mu     sync.Mutex
		events []Event
	)
	r.OnEvent(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	report, err := r.Run(context.Background(), keys)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Err() != nil {
		t.Fatalf("Unexpected task failures: %v", report.Err())
	}
	if got := report.Count(StatusCompiled); got != len(keys) {
		t.Errorf("Expected %d compiled, got %d", len(keys), got)
	}

	for i, res := range report.Results {
		if res.Key != keys[i] {
			t.Errorf("Result %d: expected key %s, got %s", i, keys[i], res.Key)
		}
		if !f.store.Valid(res.Key) {
			t.Errorf("%s: artifact not valid", res.Key)
		}
		if res.Metadata == nil {
			t.Errorf("%s: missing metadata", res.Key)
		}
	}

	if len(events) != len(keys)+2 {
		t.Fatalf("Expected %d events, got %d", len(keys)+2, len(events))
	}
	if events[0].Type != EventRunStarted || events[len(events)-1].Type != EventRunFinished {
		t.Errorf("Unexpected first/last events: %s, %s", events[0].Type, events[len(events)-1].Type)
	}
	for i, ev := range events[1 : len(events)-1] {
		if ev.Type != EventTask || ev.Done != i+1 || ev.Total != len(keys) {
			t.Errorf("Task event %d: unexpected %+v", i, ev)
		}
		if ev.RunID != report.RunID {
			t.Errorf("Task event %d: run id %s, expected %s", i, ev.RunID, report.RunID)
		}
	}

	metas := report.Metadata()
	if len(metas) != len(keys) || metas[0].Addr != 0 || metas[1].Addr != metas[0].Coefficients {
		t.Errorf("Unexpected metadata layout %+v", metas)
	}

	if !strings.Contains(f.logs.String(), report.RunID) {
		t.Error("Expected run id in log output")
	}
}

func TestRunSkipsValidArtifacts(t *testing.T) {
	keys := shortKeys()[:3]
	f := newFixture(t, keys)

	if _, err := f.runner(false).Run(context.Background(), keys); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	first, err := os.ReadFile(f.store.Path(keys[0]))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	// Inputs are no longer needed once artifacts are valid
	if err := os.RemoveAll(f.input); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	report, err := f.runner(false).Run(context.Background(), keys)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if got := report.Count(StatusSkipped); got != len(keys) {
		t.Errorf("Expected %d skipped, got %d: %v", len(keys), got, report.Err())
	}
	if report.Results[0].Metadata == nil {
		t.Error("Skipped result should carry metadata recovered from the artifact")
	}

	// Force recompiles and produces identical bytes
	f2 := newFixture(t, keys)
	f2.store = f.store
	report, err = f2.runner(true).Run(context.Background(), keys)
	if err != nil {
		t.Fatalf("Forced run failed: %v", err)
	}
	if got := report.Count(StatusCompiled); got != len(keys) {
		t.Errorf("Expected %d compiled, got %d", len(keys), got)
	}
	second, _ := os.ReadFile(f.store.Path(keys[0]))
	if !bytes.Equal(first, second) {
		t.Error("Recompilation produced different bytes")
	}
}

func TestRunRecompilesCorruptArtifact(t *testing.T) {
	keys := shortKeys()[:1]
	f := newFixture(t, keys)

	path := f.store.Path(keys[0])
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("DVBL garbage"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	report, err := f.runner(false).Run(context.Background(), keys)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Results[0].Status != StatusCompiled {
		t.Errorf("Expected corrupt artifact to be recompiled, got %s", report.Results[0].Status)
	}
	if !strings.Contains(f.logs.String(), "Existing artifact is invalid") {
		t.Error("Expected a warning about the invalid artifact")
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	keys := shortKeys()
	f := newFixture(t, keys)

	missing := keys[0]
	malformed := keys[1]
	mismatched := keys[2]

	if err := os.Remove(filepath.Join(f.input, ldpc.TableFileName(missing))); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(f.input, ldpc.TableFileName(malformed)), []byte("1,2,x\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(f.input, ldpc.TableFileName(mismatched)), []byte("1,2,3\n4,5,6\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	report, err := f.runner(false).Run(context.Background(), keys)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := report.Count(StatusFailed); got != 3 {
		t.Errorf("Expected 3 failures, got %d", got)
	}
	if got := report.Count(StatusCompiled); got != len(keys)-3 {
		t.Errorf("Expected %d compiled, got %d", len(keys)-3, got)
	}

	byKey := make(map[dvbs2.Key]Result)
	for _, res := range report.Results {
		byKey[res.Key] = res
	}
	if err := byKey[missing].Err; !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected not-exist error for %s, got %v", missing, err)
	}
	if err := byKey[malformed].Err; !errors.Is(err, dvbs2.ErrMalformedTable) {
		t.Errorf("Expected ErrMalformedTable for %s, got %v", malformed, err)
	}
	if err := byKey[mismatched].Err; !errors.Is(err, dvbs2.ErrGroupCountMismatch) {
		t.Errorf("Expected ErrGroupCountMismatch for %s, got %v", mismatched, err)
	}

	joined := report.Err().Error()
	for _, k := range []dvbs2.Key{missing, malformed, mismatched} {
		if !strings.Contains(joined, k.String()) {
			t.Errorf("Expected %s in joined error %q", k, joined)
		}
		if f.store.Valid(k) {
			t.Errorf("%s: failed task left a valid artifact", k)
		}
	}
}

func TestRunCancelled(t *testing.T) {
	keys := shortKeys()[:4]
	f := newFixture(t, keys)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.runner(false).Run(ctx, keys)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if got := report.Count(StatusFailed); got != len(keys) {
		t.Errorf("Expected every task to fail, got %d", got)
	}
}

func TestRunRecordsMetrics(t *testing.T) {
	keys := shortKeys()[:2]
	f := newFixture(t, keys)

	if _, err := f.runner(false).Run(context.Background(), keys); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := f.runner(false).Run(context.Background(), keys); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rec := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`dvbs2_tablegen_tasks_total{frame="FECFRAME_SHORT",status="compiled"} 2`,
		`dvbs2_tablegen_tasks_total{frame="FECFRAME_SHORT",status="skipped"} 2`,
		`dvbs2_tablegen_runs_total 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected %q in metrics output", want)
		}
	}
}

func TestRunFailsWithoutROMMetadata(t *testing.T) {
	keys := shortKeys()[:3]
	f := newFixture(t, keys)

	// A third row length gives a table the encoder cannot walk
	bad := keys[1]
	groups, err := testhelpers.SyntheticGroups(bad)
	if err != nil {
		t.Fatalf("SyntheticGroups failed: %v", err)
	}
	groups[len(groups)-1] = ldpc.Group{1, 2, 3, 4, 5}
	path := filepath.Join(f.input, ldpc.TableFileName(bad))
	if err := os.WriteFile(path, []byte(testhelpers.FormatGroups(groups)), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	report, err := f.runner(false).Run(context.Background(), keys)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	res := report.Results[1]
	if res.Status != StatusFailed {
		t.Fatalf("Expected %s to fail, got %s", bad, res.Status)
	}
	if !errors.Is(res.Err, dvbs2.ErrMalformedTable) {
		t.Errorf("Expected ErrMalformedTable, got %v", res.Err)
	}
	if f.store.Valid(bad) {
		t.Errorf("Expected no artifact for %s", bad)
	}

	metas := report.Metadata()
	if len(metas) != 2 {
		t.Fatalf("Expected metadata for 2 codes, got %d", len(metas))
	}
	for _, md := range metas {
		if md.Key == bad {
			t.Errorf("Unexpected metadata for %s", bad)
		}
	}
	if metas[1].Addr != metas[0].Coefficients {
		t.Errorf("Expected second code at %d, got %d", metas[0].Coefficients, metas[1].Addr)
	}
}
