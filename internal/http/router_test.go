package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Krakaw/scratchpad/internal/domain"
	"github.com/Krakaw/scratchpad/internal/service/scratch"
	"github.com/Krakaw/scratchpad/internal/service/shared"
	"github.com/Krakaw/scratchpad/internal/ws"
)

type fakeScratches struct {
	created   []scratch.CreateOptions
	actions   []string
	createErr error
	actionErr error
	statuses  []domain.ScratchStatus
}

func (f *fakeScratches) Create(ctx context.Context, opts scratch.CreateOptions) (*domain.Scratch, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, opts)
	return domain.NewScratch(domain.SanitizeName(opts.Branch), opts.Branch, "default"), nil
}

func (f *fakeScratches) act(op, name string) error {
	if f.actionErr != nil {
		return f.actionErr
	}
	f.actions = append(f.actions, op+":"+name)
	return nil
}

func (f *fakeScratches) Start(ctx context.Context, name string) error { return f.act("start", name) }
func (f *fakeScratches) Stop(ctx context.Context, name string) error  { return f.act("stop", name) }
func (f *fakeScratches) Restart(ctx context.Context, name string) error {
	return f.act("restart", name)
}
func (f *fakeScratches) Delete(ctx context.Context, name string) error {
	return f.act("delete", name)
}

func (f *fakeScratches) List(ctx context.Context) ([]domain.ScratchStatus, error) {
	return f.statuses, nil
}

func (f *fakeScratches) Get(ctx context.Context, name string) (domain.ScratchStatus, error) {
	for _, s := range f.statuses {
		if s.Name == name {
			return s, nil
		}
	}
	return domain.ScratchStatus{}, domain.ErrNotFound
}

func (f *fakeScratches) Logs(ctx context.Context, name, service string, tail int) ([]string, error) {
	return []string{"line one"}, nil
}

type fakeShared struct {
	started []string
	stopped []string
	bulk    []string
}

func (f *fakeShared) StatusAll(ctx context.Context) ([]shared.ServiceStatus, error) {
	return []shared.ServiceStatus{{Name: "postgres", Running: true}}, nil
}

func (f *fakeShared) StartAll(ctx context.Context) error {
	f.bulk = append(f.bulk, "start")
	return nil
}

func (f *fakeShared) StopAll(ctx context.Context) error {
	f.bulk = append(f.bulk, "stop")
	return nil
}

func (f *fakeShared) StartService(ctx context.Context, key string) error {
	f.started = append(f.started, key)
	return nil
}

func (f *fakeShared) StopService(ctx context.Context, key string) error {
	f.stopped = append(f.stopped, key)
	return nil
}

type fakeDatabases struct{}

func (fakeDatabases) ListDatabases(ctx context.Context, key string) ([]string, error) {
	return []string{"scratch_demo"}, nil
}

type fakeProxy struct {
	regenerated int
	reloaded    int
}

func (f *fakeProxy) Regenerate(ctx context.Context) error { f.regenerated++; return nil }
func (f *fakeProxy) Reload(ctx context.Context) error     { f.reloaded++; return nil }
func (f *fakeProxy) GetConfig() (string, error)           { return "# config", nil }

func newTestRouter(scratches *fakeScratches) (*Router, *fakeShared, *fakeProxy) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	services := &fakeShared{}
	proxy := &fakeProxy{}
	hub := ws.NewHub(logger)
	router := NewRouter(logger, scratches, services, fakeDatabases{}, proxy, hub, func(ctx context.Context) error { return nil })
	return router, services, proxy
}

func TestCreateScratchEndpoint(t *testing.T) {
	scratches := &fakeScratches{}
	router, _, _ := newTestRouter(scratches)

	body := strings.NewReader(`{"branch":"Feature/One"}`)
	req := httptest.NewRequest(http.MethodPost, "/scratches", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(scratches.created) != 1 || scratches.created[0].Branch != "Feature/One" {
		t.Fatalf("create not invoked: %v", scratches.created)
	}
}

func TestCreateScratchRequiresBranchOrName(t *testing.T) {
	router, _, _ := newTestRouter(&fakeScratches{})

	req := httptest.NewRequest(http.MethodPost, "/scratches", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateScratchConflict(t *testing.T) {
	scratches := &fakeScratches{createErr: domain.ErrAlreadyExists}
	router, _, _ := newTestRouter(scratches)

	req := httptest.NewRequest(http.MethodPost, "/scratches", strings.NewReader(`{"branch":"demo"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestScratchActions(t *testing.T) {
	scratches := &fakeScratches{}
	router, _, _ := newTestRouter(scratches)

	for _, action := range []string{"start", "stop", "restart"} {
		req := httptest.NewRequest(http.MethodPost, "/scratches/demo/"+action, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", action, rec.Code, rec.Body.String())
		}
	}
	if len(scratches.actions) != 3 {
		t.Fatalf("unexpected actions %v", scratches.actions)
	}
}

func TestDeleteScratchNotFound(t *testing.T) {
	scratches := &fakeScratches{actionErr: domain.ErrNotFound}
	router, _, _ := newTestRouter(scratches)

	req := httptest.NewRequest(http.MethodDelete, "/scratches/ghost", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetScratch(t *testing.T) {
	scratches := &fakeScratches{statuses: []domain.ScratchStatus{{Name: "demo", Status: domain.StatusRunning}}}
	router, _, _ := newTestRouter(scratches)

	req := httptest.NewRequest(http.MethodGet, "/scratches/demo", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got domain.ScratchStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "demo" || got.Status != domain.StatusRunning {
		t.Fatalf("unexpected body %+v", got)
	}
}

func TestScratchLogsEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(&fakeScratches{})

	req := httptest.NewRequest(http.MethodGet, "/scratches/demo/logs/web?tail=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "line one") {
		t.Fatalf("log line missing: %s", rec.Body.String())
	}
}

func TestServiceEndpoints(t *testing.T) {
	router, services, _ := newTestRouter(&fakeScratches{})

	req := httptest.NewRequest(http.MethodGet, "/services", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "postgres") {
		t.Fatalf("list services failed: %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/services/start", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || len(services.bulk) != 1 {
		t.Fatalf("bulk start failed: %d %v", rec.Code, services.bulk)
	}

	req = httptest.NewRequest(http.MethodPost, "/services/postgres/stop", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || len(services.stopped) != 1 {
		t.Fatalf("single stop failed: %d %v", rec.Code, services.stopped)
	}

	req = httptest.NewRequest(http.MethodGet, "/services/postgres/databases", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "scratch_demo") {
		t.Fatalf("databases listing failed: %d %s", rec.Code, rec.Body.String())
	}
}

func TestProxyEndpoints(t *testing.T) {
	router, _, proxy := newTestRouter(&fakeScratches{})

	req := httptest.NewRequest(http.MethodGet, "/proxy/config", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "# config" {
		t.Fatalf("proxy config failed: %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/proxy/reload", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || proxy.regenerated != 1 || proxy.reloaded != 1 {
		t.Fatalf("proxy reload failed: %d regen=%d reload=%d", rec.Code, proxy.regenerated, proxy.reloaded)
	}
}

func TestGithubWebhookPushEvent(t *testing.T) {
	scratches := &fakeScratches{}
	router, _, _ := newTestRouter(scratches)

	body := strings.NewReader(`{"ref":"refs/heads/feature/one"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(scratches.created) != 1 || scratches.created[0].Branch != "feature/one" {
		t.Fatalf("branch not extracted from ref: %v", scratches.created)
	}
}

func TestGithubWebhookPullRequestEvent(t *testing.T) {
	scratches := &fakeScratches{}
	router, _, _ := newTestRouter(scratches)

	body := strings.NewReader(`{"action":"opened","pull_request":{"head":{"ref":"fix/two"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(scratches.created) != 1 || scratches.created[0].Branch != "fix/two" {
		t.Fatalf("branch not extracted from pull request: %v", scratches.created)
	}
}

func TestGithubWebhookWithoutBranch(t *testing.T) {
	scratches := &fakeScratches{}
	router, _, _ := newTestRouter(scratches)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(`{"action":"closed"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(scratches.created) != 0 {
		t.Fatalf("create must not be invoked: %v", scratches.created)
	}
}

func TestHealthz(t *testing.T) {
	router, _, _ := newTestRouter(&fakeScratches{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	degraded := func(ctx context.Context) error { return errors.New("socket gone") }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	down := NewRouter(logger, &fakeScratches{}, &fakeShared{}, fakeDatabases{}, &fakeProxy{}, ws.NewHub(logger), degraded)
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when docker is down, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	router, _, _ := newTestRouter(&fakeScratches{})

	req := httptest.NewRequest(http.MethodPut, "/scratches", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
