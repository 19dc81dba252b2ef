// Package remotetest provides an in-process fake of the remote service.
package remotetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/celerix-dev/celerix-gacha/internal/remote"
)

// Binding is one linked game identity reported by the binding list.
type Binding struct {
	AppCode   string
	UID       string
	IsDefault bool
}

// Category is one draw category.
type Category struct {
	ID   string
	Name string
}

// Record is one draw as served by the records endpoint.
type Record struct {
	Ts       int64
	Pos      int
	PoolName string
	CharName string
	Rarity   int
	IsNew    bool
}

// Failure overrides an endpoint's answer. A non-zero HTTPStatus wins over Code.
type Failure struct {
	HTTPStatus int
	Code       int
	Body       string
}

// Request is a recorded call.
type Request struct {
	Path      string
	Query     map[string]string
	Body      map[string]any
	RoleToken string
}

// Server fakes every endpoint of the chain plus the record inquiry API.
// Configure fields before the first request.
type Server struct {
	*httptest.Server

	InitialToken string
	AppToken     string
	DeviceToken  string
	Bindings     []Binding
	// DeviceBindings is served when the binding list is queried with the
	// device token. Nil means Bindings.
	DeviceBindings []Binding
	Categories     []Category
	Records        map[string][]Record
	Fail           map[string]Failure

	mu       sync.Mutex
	requests []Request
}

// Endpoint paths.
const (
	PathInitialAuth = "/user/auth/v1/token_by_phone_password"
	PathWarmUp      = "/user"
	PathAppToken    = "/user/oauth2/v2/grant"
	PathBindingList = "/account/binding/v1/binding_list"
	PathDeviceToken = "/account/binding/v1/u8_token_by_uid"
	PathRoleLogin   = "/user/api/role/login"
	PathCategories  = "/user/api/inquiry/gacha/cate"
	PathDrawRecords = "/user/api/inquiry/gacha/history"
)

// New starts a Server with one default binding and no records.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		InitialToken: "initial-token",
		AppToken:     "app-token",
		DeviceToken:  "device-token",
		Bindings:     []Binding{{AppCode: "arknights", UID: "10001", IsDefault: true}},
		Records:      map[string][]Record{},
		Fail:         map[string]Failure{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc(PathInitialAuth, s.token(func() string { return s.InitialToken }))
	mux.HandleFunc(PathWarmUp, s.warmUp)
	mux.HandleFunc(PathAppToken, s.token(func() string { return s.AppToken }))
	mux.HandleFunc(PathBindingList, s.bindingList)
	mux.HandleFunc(PathDeviceToken, s.token(func() string { return s.DeviceToken }))
	mux.HandleFunc(PathRoleLogin, s.roleLogin)
	mux.HandleFunc(PathCategories, s.categories)
	mux.HandleFunc(PathDrawRecords, s.records)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Endpoints points every URL at the fake.
func (s *Server) Endpoints() remote.Endpoints {
	return remote.WithBase(s.URL)
}

// Requests returns the calls received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Hits counts the calls received on path.
func (s *Server) Hits(path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Path == path {
			n++
		}
	}
	return n
}

// Last returns the most recent call on path.
func (s *Server) Last(path string) (Request, bool) {
	reqs := s.Requests()
	for i := len(reqs) - 1; i >= 0; i-- {
		if reqs[i].Path == path {
			return reqs[i], true
		}
	}
	return Request{}, false
}

func (s *Server) record(r *http.Request) Request {
	req := Request{
		Path:      r.URL.Path,
		Query:     map[string]string{},
		RoleToken: r.Header.Get(remote.RoleTokenHeader),
	}
	for k := range r.URL.Query() {
		req.Query[k] = r.URL.Query().Get(k)
	}
	if r.Body != nil && r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&req.Body)
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return req
}

// failed writes the configured failure for path, if any.
func (s *Server) failed(w http.ResponseWriter, path string, codeField string) bool {
	f, ok := s.Fail[path]
	if !ok {
		return false
	}
	switch {
	case f.HTTPStatus != 0:
		http.Error(w, f.Body, f.HTTPStatus)
	case f.Body != "":
		w.Write([]byte(f.Body))
	default:
		writeJSON(w, map[string]any{codeField: f.Code, "msg": "injected failure"})
	}
	return true
}

func (s *Server) token(value func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := s.record(r)
		if s.failed(w, req.Path, "status") {
			return
		}
		writeJSON(w, map[string]any{"status": 0, "msg": "OK", "data": map[string]any{"token": value()}})
	}
}

func (s *Server) warmUp(w http.ResponseWriter, r *http.Request) {
	req := s.record(r)
	if s.failed(w, req.Path, "status") {
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "csrf", Value: "warm", Path: "/"})
	writeJSON(w, map[string]any{"status": 0})
}

func (s *Server) bindingList(w http.ResponseWriter, r *http.Request) {
	req := s.record(r)
	if s.failed(w, req.Path, "status") {
		return
	}
	bindings := s.Bindings
	if s.DeviceBindings != nil && req.Query["token"] == s.DeviceToken {
		bindings = s.DeviceBindings
	}

	var apps []map[string]any
	index := map[string]int{}
	for _, b := range bindings {
		i, ok := index[b.AppCode]
		if !ok {
			i = len(apps)
			index[b.AppCode] = i
			apps = append(apps, map[string]any{"appCode": b.AppCode, "bindingList": []map[string]any{}})
		}
		apps[i]["bindingList"] = append(apps[i]["bindingList"].([]map[string]any), map[string]any{
			"uid":       b.UID,
			"isDefault": b.IsDefault,
			"nickName":  "Doctor",
		})
	}
	if apps == nil {
		apps = []map[string]any{}
	}
	writeJSON(w, map[string]any{"status": 0, "data": map[string]any{"list": apps}})
}

func (s *Server) roleLogin(w http.ResponseWriter, r *http.Request) {
	req := s.record(r)
	if s.failed(w, req.Path, "code") {
		return
	}
	writeJSON(w, map[string]any{"code": 0, "msg": ""})
}

func (s *Server) categories(w http.ResponseWriter, r *http.Request) {
	req := s.record(r)
	if s.failed(w, req.Path, "code") {
		return
	}
	cats := make([]map[string]any, 0, len(s.Categories))
	for _, c := range s.Categories {
		cats = append(cats, map[string]any{"id": c.ID, "name": c.Name})
	}
	writeJSON(w, map[string]any{"code": 0, "data": cats})
}

func (s *Server) records(w http.ResponseWriter, r *http.Request) {
	req := s.record(r)
	if s.failed(w, req.Path, "code") {
		return
	}
	all := s.Records[req.Query["category"]]
	size, err := strconv.Atoi(req.Query["size"])
	if err != nil || size <= 0 {
		size = 10
	}

	start := 0
	if ts := req.Query["gachaTs"]; ts != "" {
		pos, _ := strconv.Atoi(req.Query["pos"])
		for i, rec := range all {
			if strconv.FormatInt(rec.Ts, 10) == ts && rec.Pos == pos {
				start = i + 1
				break
			}
		}
	}
	end := min(start+size, len(all))

	list := make([]map[string]any, 0, end-start)
	for _, rec := range all[start:end] {
		list = append(list, map[string]any{
			"poolId":   req.Query["category"],
			"poolName": rec.PoolName,
			"charId":   "char_" + strings.ToLower(rec.CharName),
			"charName": rec.CharName,
			"rarity":   rec.Rarity,
			"isNew":    rec.IsNew,
			"gachaTs":  strconv.FormatInt(rec.Ts, 10),
			"pos":      rec.Pos,
		})
	}
	writeJSON(w, map[string]any{"code": 0, "data": map[string]any{"list": list, "hasMore": end < len(all)}})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
