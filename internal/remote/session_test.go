package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, h http.Handler) (*Session, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	s, err := NewSession(WithBase(srv.URL), Options{}, nil)
	require.NoError(t, err)
	return s, srv
}

func TestEnvelope_StatusAndCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":0,"data":{"token":"a"}}`))
	})
	mux.HandleFunc("/code", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"data":[{"id":"normal"}]}`))
	})
	s, srv := newTestSession(t, mux)
	ctx := context.Background()

	env, err := s.Envelope(ctx, Call{URL: srv.URL + "/status"})
	require.NoError(t, err)
	var tok struct{ Token string }
	require.NoError(t, env.Decode(&tok))
	assert.Equal(t, "a", tok.Token)

	env, err = s.Envelope(ctx, Call{URL: srv.URL + "/code"})
	require.NoError(t, err)
	var cats []struct{ ID string }
	require.NoError(t, env.Decode(&cats))
	assert.Equal(t, "normal", cats[0].ID)
}

func TestEnvelope_Failures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/business", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":101,"msg":"wrong password"}`))
	})
	mux.HandleFunc("/http", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	mux.HandleFunc("/nocode", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{}}`))
	})
	mux.HandleFunc("/html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html></html>`))
	})
	s, srv := newTestSession(t, mux)
	ctx := context.Background()

	_, err := s.Envelope(ctx, Call{URL: srv.URL + "/business"})
	var be *BusinessError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, 101, be.Code)
	assert.Equal(t, "wrong password", be.Msg)

	_, err = s.Envelope(ctx, Call{URL: srv.URL + "/http"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)

	_, err = s.Envelope(ctx, Call{URL: srv.URL + "/nocode"})
	assert.ErrorIs(t, err, ErrMalformedResponse)

	_, err = s.Envelope(ctx, Call{URL: srv.URL + "/html"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestSession_KeepsCookiesAndRoleToken(t *testing.T) {
	var gotCookie, gotToken string
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "csrf", Value: "seed", Path: "/"})
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("csrf"); err == nil {
			gotCookie = c.Value
		}
		gotToken = r.Header.Get(RoleTokenHeader)
		w.Write([]byte(`{"code":0,"data":{}}`))
	})
	s, srv := newTestSession(t, mux)
	ctx := context.Background()

	_, err := s.Do(ctx, Call{URL: srv.URL + "/user"})
	require.NoError(t, err)

	s.SetRoleToken("device")
	assert.Equal(t, "device", s.roleToken())
	_, err = s.Envelope(ctx, Call{URL: srv.URL + "/data"})
	require.NoError(t, err)
	assert.Equal(t, "seed", gotCookie)
	assert.Equal(t, "device", gotToken)

	_, err = s.Envelope(ctx, Call{URL: srv.URL + "/data", Header: map[string]string{RoleTokenHeader: "override"}})
	require.NoError(t, err)
	assert.Equal(t, "override", gotToken)
	assert.Equal(t, "device", s.roleToken(), "per-call header must not leak into the session")
}

func TestEndpoints_Merge(t *testing.T) {
	base := WithBase("http://a")
	merged := base.Merge(Endpoints{RoleLogin: "http://b/login"})
	assert.Equal(t, "http://b/login", merged.RoleLogin)
	assert.Equal(t, base.InitialAuth, merged.InitialAuth)
}
