package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"sarthi/internal/config"
	"sarthi/internal/db"
	"sarthi/internal/engine"
	"sarthi/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{Engine: e, BasePath: "/v1"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestResolutionLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v1/users/alice"

	res, data := doJSON(t, client, http.MethodPost, base+"/resolutions", map[string]any{
		"text": "Learn guitar and play one full song",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created ResolutionResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal resolution: %v", err)
	}
	if created.Resolution.Type != "learning" || created.Resolution.Status != "draft" {
		t.Fatalf("unexpected resolution: %+v", created.Resolution)
	}
	id := created.Resolution.ID

	res, data = doJSON(t, client, http.MethodPost, base+"/resolutions/"+id+"/decompose", map[string]any{})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("decompose status %d: %s", res.StatusCode, string(data))
	}
	var dec DecomposeResponse
	if err := json.Unmarshal(data, &dec); err != nil {
		t.Fatalf("unmarshal decompose: %v", err)
	}
	if len(dec.Plan) != 8 || len(dec.Week1Tasks) != 5 {
		t.Fatalf("plan=%d tasks=%d, want 8/5", len(dec.Plan), len(dec.Week1Tasks))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/resolutions/"+id+"/approve", map[string]any{
		"decision": "accept",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	var approved ApproveResponse
	if err := json.Unmarshal(data, &approved); err != nil {
		t.Fatalf("unmarshal approve: %v", err)
	}
	if approved.Status != "active" || len(approved.ActivatedTasks) != 5 {
		t.Fatalf("unexpected approve result: %+v", approved)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/resolutions/"+id, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	var fetched ResolutionResponse
	if err := json.Unmarshal(data, &fetched); err != nil {
		t.Fatalf("unmarshal get: %v", err)
	}
	if fetched.Resolution.Status != "active" || len(fetched.Tasks) != 5 {
		t.Fatalf("unexpected fetched resolution: status=%s tasks=%d", fetched.Resolution.Status, len(fetched.Tasks))
	}

	// The approval entry is undoable; undoing it sends everything back
	// to draft.
	res, data = doJSON(t, client, http.MethodGet, base+"/agent-log?action_type=resolution_approved", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("agent-log status %d: %s", res.StatusCode, string(data))
	}
	var logPage AgentLogResponse
	if err := json.Unmarshal(data, &logPage); err != nil {
		t.Fatalf("unmarshal agent-log: %v", err)
	}
	if len(logPage.Items) != 1 || !logPage.Items[0].UndoAvailable {
		t.Fatalf("expected one undoable approval entry: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/agent-log/"+logPage.Items[0].ID+"/undo", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("undo status %d: %s", res.StatusCode, string(data))
	}
	var undone ActionEntryDTO
	if err := json.Unmarshal(data, &undone); err != nil {
		t.Fatalf("unmarshal undo: %v", err)
	}
	if undone.UndoneAt == nil {
		t.Fatalf("undo response missing undone_at: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/resolutions/"+id, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get after undo status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &fetched); err != nil {
		t.Fatalf("unmarshal get after undo: %v", err)
	}
	if fetched.Resolution.Status != "draft" {
		t.Fatalf("resolution after undo = %s, want draft", fetched.Resolution.Status)
	}
}

func TestWeeklyPlanRunIdempotent(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v1/users/alice"

	res, data := doJSON(t, client, http.MethodPost, base+"/weekly-plan/run", map[string]any{})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first run status %d: %s", res.StatusCode, string(data))
	}
	var first SnapshotResponse
	if err := json.Unmarshal(data, &first); err != nil {
		t.Fatalf("unmarshal first: %v", err)
	}
	if first.Skipped || first.Entry == nil {
		t.Fatalf("first run should produce an entry: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/weekly-plan/run", map[string]any{})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second run status %d: %s", res.StatusCode, string(data))
	}
	var second SnapshotResponse
	if err := json.Unmarshal(data, &second); err != nil {
		t.Fatalf("unmarshal second: %v", err)
	}
	if !second.Reused || second.Entry == nil || second.Entry.ID != first.Entry.ID {
		t.Fatalf("expected reused entry %s, got %s", first.Entry.ID, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/weekly-plan/latest", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("latest status %d: %s", res.StatusCode, string(data))
	}
}

func TestAgentLogCursorError(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/users/alice/agent-log?cursor=%21%21%21", nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for malformed cursor, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "validation_failed" {
		t.Fatalf("code = %q, want validation_failed: %s", envelope.Error.Code, string(data))
	}
}

func TestResolutionNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/users/alice/resolutions/missing", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	url := srv.URL + "/v1/users/alice/preferences"

	res, data := doJSON(t, client, http.MethodPut, url, map[string]any{
		"coaching_paused":       true,
		"weekly_plans_enabled":  false,
		"interventions_enabled": true,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, url, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	var prefs struct {
		CoachingPaused     bool `json:"coaching_paused"`
		WeeklyPlansEnabled bool `json:"weekly_plans_enabled"`
	}
	if err := json.Unmarshal(data, &prefs); err != nil {
		t.Fatalf("unmarshal prefs: %v", err)
	}
	if !prefs.CoachingPaused || prefs.WeeklyPlansEnabled {
		t.Fatalf("flags not persisted: %s", string(data))
	}

	// A paused user's runs come back skipped, not failed.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/users/alice/weekly-plan/run", map[string]any{})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("run status %d: %s", res.StatusCode, string(data))
	}
	var snap SnapshotResponse
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if !snap.Skipped || snap.Reason != engine.ReasonCoachingPaused {
		t.Fatalf("expected pause skip: %s", string(data))
	}
}

func TestJobsRunAllUsers(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for _, owner := range []string{"alice", "bob"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/users/"+owner+"/resolutions", map[string]any{
			"text": "Journal every morning before work",
		})
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create for %s: %d %s", owner, res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs/weekly-plan", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("job status %d: %s", res.StatusCode, string(data))
	}
	var result struct {
		UsersProcessed   int `json:"users_processed"`
		SnapshotsWritten int `json:"snapshots_written"`
		Failed           int `json:"failed"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.UsersProcessed != 2 || result.SnapshotsWritten != 2 || result.Failed != 0 {
		t.Fatalf("unexpected job result: %s", string(data))
	}
}
