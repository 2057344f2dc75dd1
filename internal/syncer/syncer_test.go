package syncer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"gcodesync/internal/ledger"
	"gcodesync/internal/order"
	"gcodesync/internal/remote"
	"gcodesync/internal/status"

	"github.com/gin-gonic/gin"
)

// fakeOrderService mimics the order API: a list endpoint plus per-order
// file downloads, counting every download request it serves.
type fakeOrderService struct {
	mu         sync.Mutex
	listStatus int
	listBody   string
	failIDs    map[string]int
	downloads  map[string]int
}

func newFakeOrderService(body string) *fakeOrderService {
	return &fakeOrderService{
		listStatus: http.StatusOK,
		listBody:   body,
		failIDs:    map[string]int{},
		downloads:  map[string]int{},
	}
}

func (f *fakeOrderService) router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/ordenes", func(c *gin.Context) {
		f.mu.Lock()
		code, body := f.listStatus, f.listBody
		f.mu.Unlock()
		c.Data(code, "application/json", []byte(body))
	})
	r.GET("/api/orden/archivo/:id", func(c *gin.Context) {
		id := c.Param("id")
		f.mu.Lock()
		f.downloads[id]++
		code, failing := f.failIDs[id]
		f.mu.Unlock()
		if failing {
			c.String(code, "unavailable")
			return
		}
		c.Data(http.StatusOK, "application/octet-stream", []byte("G0 ; order "+id+"\n"))
	})
	return r
}

func (f *fakeOrderService) setListStatus(code int) {
	f.mu.Lock()
	f.listStatus = code
	f.mu.Unlock()
}

func (f *fakeOrderService) setFailing(id string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code == 0 {
		delete(f.failIDs, id)
		return
	}
	f.failIDs[id] = code
}

func (f *fakeOrderService) downloadCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads[id]
}

func (f *fakeOrderService) totalDownloads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.downloads {
		n += c
	}
	return n
}

type harness struct {
	svc        *fakeOrderService
	syncer     *Syncer
	dir        string
	statusPath string
	ordersPath string
	observed   *recordingObserver
}

type recordingObserver struct {
	mu      sync.Mutex
	results []Result
}

func (o *recordingObserver) CycleCompleted(r Result) {
	o.mu.Lock()
	o.results = append(o.results, r)
	o.mu.Unlock()
}

func (o *recordingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.results)
}

func newHarness(t *testing.T, body string, machineID string) *harness {
	t.Helper()
	svc := newFakeOrderService(body)
	srv := httptest.NewServer(svc.router())
	t.Cleanup(srv.Close)

	client, err := remote.NewClient(remote.Options{ServerURL: srv.URL, ListTimeout: 2 * time.Second, DownloadTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	root := t.TempDir()
	h := &harness{
		svc:        svc,
		dir:        filepath.Join(root, "gcode_files"),
		statusPath: filepath.Join(root, "db_status.txt"),
		ordersPath: filepath.Join(root, "ordenes.json"),
		observed:   &recordingObserver{},
	}
	opts := Options{
		DownloadDir:  h.dir,
		OrdersFile:   h.ordersPath,
		MachineID:    machineID,
		Naming:       order.Naming{Scheme: order.SchemeFile},
		PollInterval: 20 * time.Millisecond,
	}
	h.syncer = New(opts, client, client, status.NewFileReporter(h.statusPath), ledger.NewDir(h.dir), h.observed)
	return h
}

func (h *harness) statusFlag(t *testing.T) string {
	t.Helper()
	got, err := os.ReadFile(h.statusPath)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	return string(got)
}

func (h *harness) localFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

const threeOrders = `[
	{"id": 1, "archivo_nombre": "tapa.gcode", "maquina": "cnc1"},
	{"id": 2, "archivo_nombre": "base.gcode", "maquina": "cnc1"},
	{"id": 3, "archivo_nombre": "eje.gcode", "maquina": "cnc1"}
]`

func TestCycleIsIdempotent(t *testing.T) {
	h := newHarness(t, threeOrders, "cnc1")

	first := h.syncer.RunCycle(context.Background())
	afterFirst := h.localFiles(t)
	second := h.syncer.RunCycle(context.Background())

	if first.Count(OutcomeDownloaded) != 3 {
		t.Fatalf("first cycle downloaded %d, want 3", first.Count(OutcomeDownloaded))
	}
	if second.Count(OutcomeDownloaded) != 0 || second.Count(OutcomePresent) != 3 {
		t.Fatalf("second cycle = %+v, want all present", second.Items)
	}
	if !reflect.DeepEqual(afterFirst, h.localFiles(t)) {
		t.Fatalf("file set changed between cycles: %v vs %v", afterFirst, h.localFiles(t))
	}
	for _, id := range []string{"1", "2", "3"} {
		if got := h.svc.downloadCount(id); got != 1 {
			t.Fatalf("order %s downloaded %d times, want 1", id, got)
		}
	}
}

func TestServerErrorSetsErrorFlag(t *testing.T) {
	h := newHarness(t, threeOrders, "cnc1")
	h.svc.setListStatus(http.StatusInternalServerError)

	res := h.syncer.RunCycle(context.Background())

	if got := h.statusFlag(t); got != "ERROR" {
		t.Fatalf("status flag = %q, want ERROR", got)
	}
	if res.Status != status.Error || res.FetchKind != "server" {
		t.Fatalf("result = %+v, want server error", res)
	}
	if h.svc.totalDownloads() != 0 {
		t.Fatalf("no download expected after fetch failure")
	}
}

func TestMalformedListSetsErrorFlag(t *testing.T) {
	h := newHarness(t, `{"oops"`, "cnc1")

	res := h.syncer.RunCycle(context.Background())

	if got := h.statusFlag(t); got != "ERROR" {
		t.Fatalf("status flag = %q, want ERROR", got)
	}
	if res.FetchKind != "parse" {
		t.Fatalf("FetchKind = %q, want parse", res.FetchKind)
	}
}

func TestEmptyListSetsOKWithoutDownloads(t *testing.T) {
	h := newHarness(t, `[]`, "cnc1")

	res := h.syncer.RunCycle(context.Background())

	if got := h.statusFlag(t); got != "OK" {
		t.Fatalf("status flag = %q, want OK", got)
	}
	if res.Orders != 0 || h.svc.totalDownloads() != 0 || len(h.localFiles(t)) != 0 {
		t.Fatalf("expected no downloads, got result %+v", res)
	}
	mirror, err := os.ReadFile(h.ordersPath)
	if err != nil || string(mirror) != `[]` {
		t.Fatalf("orders mirror = %q, %v; want verbatim body", mirror, err)
	}
}

func TestFiltersByMachine(t *testing.T) {
	h := newHarness(t, `[
		{"id": 10, "archivo_nombre": "uno.gcode", "maquina": "cnc1"},
		{"id": 11, "archivo_nombre": "dos.gcode", "maquina": "cnc2"}
	]`, "cnc1")

	res := h.syncer.RunCycle(context.Background())

	if got := h.localFiles(t); !reflect.DeepEqual(got, []string{"uno.gcode"}) {
		t.Fatalf("local files = %v, want [uno.gcode]", got)
	}
	if h.svc.downloadCount("11") != 0 {
		t.Fatalf("order for cnc2 must not be requested")
	}
	if res.Count(OutcomeOtherMachine) != 1 {
		t.Fatalf("expected one order skipped by machine, got %+v", res.Items)
	}
}

func TestSkipsMissingOrPlaceholderFileNames(t *testing.T) {
	h := newHarness(t, `[
		{"id": 20, "maquina": "cnc1"},
		{"id": 21, "archivo_nombre": "null", "maquina": "cnc1"},
		{"id": 22, "archivo_nombre": null, "maquina": "cnc1"}
	]`, "cnc1")

	res := h.syncer.RunCycle(context.Background())

	if h.svc.totalDownloads() != 0 {
		t.Fatalf("no download attempts expected, got %d", h.svc.totalDownloads())
	}
	if res.Count(OutcomeMissingFile) != 3 {
		t.Fatalf("expected three missing-file skips, got %+v", res.Items)
	}
	if got := h.statusFlag(t); got != "OK" {
		t.Fatalf("status flag = %q, want OK", got)
	}
}

func TestDownloadFailureIsIsolated(t *testing.T) {
	h := newHarness(t, threeOrders, "cnc1")
	h.svc.setFailing("2", http.StatusNotFound)

	res := h.syncer.RunCycle(context.Background())

	if got := h.localFiles(t); !reflect.DeepEqual(got, []string{"eje.gcode", "tapa.gcode"}) {
		t.Fatalf("local files = %v, want first and third", got)
	}
	if got := h.statusFlag(t); got != "OK" {
		t.Fatalf("status flag = %q, want OK", got)
	}
	if res.Count(OutcomeFailed) != 1 || res.Items[1].Outcome != OutcomeFailed {
		t.Fatalf("expected second order failed, got %+v", res.Items)
	}

	// the failed order is retried next cycle because its file is still absent
	h.svc.setFailing("2", 0)
	h.syncer.RunCycle(context.Background())
	if h.svc.downloadCount("2") != 2 || h.svc.downloadCount("1") != 1 {
		t.Fatalf("unexpected download counts: 1=%d 2=%d", h.svc.downloadCount("1"), h.svc.downloadCount("2"))
	}
}

func TestEmptyMachineIDAcceptsAll(t *testing.T) {
	h := newHarness(t, `[
		{"id": 1, "archivo_nombre": "a.gcode", "maquina": "cnc1"},
		{"id": 2, "archivo_nombre": "b.gcode"}
	]`, "")

	res := h.syncer.RunCycle(context.Background())
	if res.Count(OutcomeDownloaded) != 2 {
		t.Fatalf("expected both orders downloaded, got %+v", res.Items)
	}
}

func TestRunInitializesErrorAndLoopsUntilCancelled(t *testing.T) {
	h := newHarness(t, threeOrders, "cnc1")
	h.svc.setListStatus(http.StatusServiceUnavailable)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.syncer.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for h.observed.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.observed.count() < 2 {
		t.Fatalf("expected at least two cycles, got %d", h.observed.count())
	}
	if got := h.statusFlag(t); got != "ERROR" {
		t.Fatalf("status flag = %q, want ERROR", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}

func TestTriggerCoalesces(t *testing.T) {
	s := New(Options{}, nil, nil, status.NewFileReporter(""), nil)
	if !s.Trigger() {
		t.Fatalf("first trigger should be queued")
	}
	if s.Trigger() {
		t.Fatalf("second trigger should coalesce with the pending one")
	}
}

func TestCancelledFetchDoesNotTouchFlag(t *testing.T) {
	h := newHarness(t, threeOrders, "cnc1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.syncer.RunCycle(ctx)

	if !res.Canceled {
		t.Fatalf("expected cancelled result, got %+v", res)
	}
	if _, err := os.Stat(h.statusPath); !os.IsNotExist(err) {
		t.Fatalf("status file should not be written on shutdown, stat err = %v", err)
	}
}
