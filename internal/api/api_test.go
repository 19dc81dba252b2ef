package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/celerix-gacha/internal/accounts"
	"github.com/celerix-dev/celerix-gacha/internal/errs"
	"github.com/celerix-dev/celerix-gacha/internal/journal"
	"github.com/celerix-dev/celerix-gacha/internal/ledger"
	"github.com/celerix-dev/celerix-gacha/internal/model"
	"github.com/celerix-dev/celerix-gacha/pkg/schema"
)

type fakeSyncer struct {
	busy    bool
	started []string
}

func (f *fakeSyncer) Start(ctx context.Context, configPath, userID string) error {
	if f.busy {
		return errs.ErrSyncInProgress
	}
	f.started = append(f.started, userID+"@"+configPath)
	return nil
}

type fakeCredentials struct {
	saved map[string]model.Credential
}

func (f *fakeCredentials) Save(cred model.Credential, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f.saved[path] = cred
	return os.WriteFile(path, []byte("{}"), 0o600)
}

type fakeRuns struct {
	runs []journal.Run
}

func (f *fakeRuns) Recent(ctx context.Context, user, account string, limit int) ([]journal.Run, error) {
	if len(f.runs) > limit {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

type fixture struct {
	router *gin.Engine
	root   string
	sync   *fakeSyncer
	creds  *fakeCredentials
	store  *ledger.Store
}

func setupTestRouter(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "alice", "accounts", "10001"), 0o755); err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		root:  root,
		sync:  &fakeSyncer{},
		creds: &fakeCredentials{saved: map[string]model.Credential{}},
		store: ledger.NewStore(root, nil),
	}
	h := &Handler{
		Layout:      accounts.Layout{Root: root},
		Runner:      f.sync,
		Ledgers:     f.store,
		Credentials: f.creds,
		Runs: &fakeRuns{runs: []journal.Run{
			{User: "alice", Account: "10001", Outcome: journal.OutcomeFailure, Stage: "auth", StartedAt: time.Unix(2, 0)},
			{User: "alice", Account: "10001", Outcome: journal.OutcomeSuccess, StartedAt: time.Unix(1, 0)},
		}},
	}

	r := gin.New()
	r.GET("/healthz", Health)
	h.Register(r.Group("/api"))
	f.router = r
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := setupTestRouter(t)

	req, _ := http.NewRequest("GET", "/healthz", nil)
	w := f.do(req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestSync(t *testing.T) {
	f := setupTestRouter(t)

	req, _ := http.NewRequest("POST", "/api/users/alice/accounts/10001/sync", nil)
	w := f.do(req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	want := "alice@" + filepath.Join(f.root, "alice", "accounts", "10001", "config.json")
	if len(f.sync.started) != 1 || f.sync.started[0] != want {
		t.Errorf("Expected one run %q, got %v", want, f.sync.started)
	}

	f.sync.busy = true
	w = f.do(req)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 while running, got %d", w.Code)
	}

	req, _ = http.NewRequest("POST", "/api/users/alice/accounts/99999/sync", nil)
	w = f.do(req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown account, got %d", w.Code)
	}

	req, _ = http.NewRequest("POST", "/api/users/alice/accounts/../sync", nil)
	w = f.do(req)
	if w.Code == http.StatusAccepted {
		t.Errorf("Path traversal must not start a sync")
	}
}

func TestLedgerAndMetadata(t *testing.T) {
	f := setupTestRouter(t)

	req, _ := http.NewRequest("GET", "/api/users/alice/accounts/10001/ledger", nil)
	if w := f.do(req); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 before the first sync, got %d", w.Code)
	}

	_, err := f.store.Save("alice", "10001", []model.RawDraw{
		{TimeMs: 1000, Category: "normal", PoolName: "Standard", CharName: "X", Rarity: 5, IsNew: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	w := f.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var l map[string]struct {
		P  string  `json:"p"`
		PT int     `json:"pt"`
		C  [][]any `json:"c"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &l); err != nil {
		t.Fatal(err)
	}
	ev, ok := l["1"]
	if !ok || ev.P != "Standard" || ev.PT != 1 || len(ev.C) != 1 || ev.C[0][0] != "X" || ev.C[0][1] != float64(6) {
		t.Errorf("Unexpected ledger %s", w.Body.String())
	}

	req, _ = http.NewRequest("GET", "/api/users/alice/accounts/10001/metadata", nil)
	w = f.do(req)
	var meta schema.Metadata
	json.Unmarshal(w.Body.Bytes(), &meta)
	if w.Code != http.StatusOK || meta.GameUID != "10001" || meta.RecordCount != 1 {
		t.Errorf("Unexpected metadata %d %s", w.Code, w.Body.String())
	}
}

func multipartBody(t *testing.T, name, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	mw.Close()
	return body, mw.FormDataContentType()
}

func TestImport(t *testing.T) {
	f := setupTestRouter(t)
	export := `{"data": {"1600000000": {"p": "中坚寻访", "c": [["A", 5, 1], ["B", 2, 0]]}}}`

	tests := []struct {
		name    string
		account string
		file    string
		content string
		want    int
	}{
		{"ok", "10001", "export.json", export, http.StatusOK},
		{"wrong extension", "10001", "export.txt", export, http.StatusBadRequest},
		{"not json", "10001", "export.json", "nope", http.StatusBadRequest},
		{"unknown account", "99999", "export.json", export, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.file, tt.content)
			req, _ := http.NewRequest("POST", "/api/users/alice/accounts/"+tt.account+"/import", body)
			req.Header.Set("Content-Type", ct)
			w := f.do(req)
			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}

	l, err := f.store.Load("alice", "10001")
	if err != nil {
		t.Fatal(err)
	}
	if ev := l["1600000000"]; ev.PoolType != schema.PoolTypeClassic || ev.Draws[0].Rarity != 6 {
		t.Errorf("Unexpected imported event %+v", ev)
	}

	req, _ := http.NewRequest("POST", "/api/users/alice/accounts/10001/import", nil)
	if w := f.do(req); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without a file, got %d", w.Code)
	}
}

func TestGetRuns(t *testing.T) {
	f := setupTestRouter(t)

	req, _ := http.NewRequest("GET", "/api/users/alice/accounts/10001/runs?limit=1", nil)
	w := f.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var runs []journal.Run
	json.Unmarshal(w.Body.Bytes(), &runs)
	if len(runs) != 1 || runs[0].Stage != "auth" {
		t.Errorf("Expected the latest failed run, got %+v", runs)
	}

	req, _ = http.NewRequest("GET", "/api/users/alice/accounts/10001/runs?limit=zero", nil)
	if w := f.do(req); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for a bad limit, got %d", w.Code)
	}
}

func TestAccounts(t *testing.T) {
	f := setupTestRouter(t)

	body, _ := json.Marshal(map[string]string{"account": "20002", "username": "13800000000", "password": "hunter2"})
	req, _ := http.NewRequest("POST", "/api/users/alice/accounts", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := f.do(req)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	path := filepath.Join(f.root, "alice", "accounts", "20002", "config.json")
	if got := f.creds.saved[path]; got.Password != "hunter2" {
		t.Errorf("Expected credentials saved at %s, got %v", path, f.creds.saved)
	}

	req, _ = http.NewRequest("POST", "/api/users/alice/accounts", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	if w := f.do(req); w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for a duplicate account, got %d", w.Code)
	}

	body, _ = json.Marshal(map[string]string{"account": "30003", "username": "only"})
	req, _ = http.NewRequest("POST", "/api/users/alice/accounts", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	if w := f.do(req); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without a password, got %d", w.Code)
	}

	body, _ = json.Marshal(map[string]string{"account": "main", "token": "opaque"})
	req, _ = http.NewRequest("POST", "/api/users/alice/accounts", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	if w := f.do(req); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for an account that is not a game uid, got %d", w.Code)
	}

	req, _ = http.NewRequest("GET", "/api/users/alice/accounts", nil)
	w = f.do(req)
	var names []string
	json.Unmarshal(w.Body.Bytes(), &names)
	if len(names) != 2 || names[0] != "10001" || names[1] != "20002" {
		t.Errorf("Expected [10001 20002], got %v", names)
	}
}
