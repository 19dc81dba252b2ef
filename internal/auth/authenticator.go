// Package auth turns stored account credentials into an authenticated session
// against the remote service through a fixed sequence of token exchanges.
// There is no retry inside the chain: the first failing step ends the run.
package auth

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-gacha/internal/errs"
	"github.com/celerix-dev/celerix-gacha/internal/model"
	"github.com/celerix-dev/celerix-gacha/internal/remote"
)

// Application identifiers expected by the remote service.
const (
	DefaultAppCode     = "be36d44aa36bfb5b"
	DefaultGameAppCode = "arknights"
)

// CredentialLoader provides the secrets for an account config.
type CredentialLoader interface {
	Load(path string) (model.Credential, error)
}

// Authenticator runs the authentication chain.
type Authenticator struct {
	creds     CredentialLoader
	endpoints remote.Endpoints
	opts      remote.Options
	logger    *zap.Logger
}

// New returns an Authenticator that resolves credentials through creds.
func New(creds CredentialLoader, endpoints remote.Endpoints, opts remote.Options, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		creds:     creds,
		endpoints: endpoints,
		opts:      opts,
		logger:    logger.Named("auth"),
	}
}

type step struct {
	target     State
	name       string
	bestEffort bool
	run        func(ctx context.Context) error
}

// chain holds the state of one authentication attempt.
type chain struct {
	session *remote.Session
	tokens  Tokens
	state   State
	logger  *zap.Logger
}

// Authenticate walks the chain for the account config at configPath. On
// failure the error is a *Failure naming the state that was not reached.
func (a *Authenticator) Authenticate(ctx context.Context, configPath string) (*Result, error) {
	c := &chain{state: StateNoCredentials, logger: a.logger.With(zap.String("config", configPath))}

	cred, err := a.creds.Load(configPath)
	if err != nil {
		return nil, c.fail(StateHaveCredentials, err)
	}
	c.state = StateHaveCredentials

	c.session, err = remote.NewSession(a.endpoints, a.opts, a.logger)
	if err != nil {
		return nil, c.fail(StateHaveInitialToken, err)
	}

	var steps []step
	if cred.IsToken() {
		// A stored token stands in for the password login.
		c.tokens.Initial = cred.Token
		c.state = StateHaveInitialToken
	} else {
		steps = append(steps, step{target: StateHaveInitialToken, name: "initial token", run: c.initialToken(cred)})
	}
	steps = append(steps,
		step{name: "session warm-up", bestEffort: true, run: c.warmUp},
		step{target: StateHaveAppToken, name: "app token", run: c.appToken},
		step{target: StateHaveAccountID, name: "account binding", run: c.accountID},
		step{target: StateHaveDeviceToken, name: "device token", run: c.deviceToken},
		step{target: StateAuthenticated, name: "role login", run: c.roleLogin},
	)

	for _, s := range steps {
		if err := s.run(ctx); err != nil {
			if s.bestEffort {
				c.logger.Warn("best-effort step failed", zap.String("step", s.name), zap.Error(err))
				continue
			}
			return nil, c.fail(s.target, err)
		}
		if !s.bestEffort {
			c.state = s.target
			c.logger.Debug("step done", zap.String("step", s.name), zap.Stringer("state", c.state))
		}
	}

	c.logger.Info("authenticated", zap.String("game_uid", c.tokens.AccountID))
	return &Result{Session: c.session, Tokens: c.tokens}, nil
}

func (c *chain) fail(target State, err error) error {
	c.logger.Error("authentication failed",
		zap.Stringer("reached", c.state),
		zap.Stringer("target", target),
		zap.Error(err),
	)
	return &Failure{State: target, Err: err}
}

type tokenData struct {
	Token string `json:"token"`
}

// exchange posts body to url and returns data.token.
func (c *chain) exchange(ctx context.Context, url string, body any) (string, error) {
	env, err := c.session.Envelope(ctx, remote.Call{Method: http.MethodPost, URL: url, Body: body})
	if err != nil {
		return "", err
	}
	var data tokenData
	if err := env.Decode(&data); err != nil {
		return "", err
	}
	if data.Token == "" {
		return "", fmt.Errorf("%w: %s: empty token", remote.ErrMalformedResponse, url)
	}
	return data.Token, nil
}

func (c *chain) initialToken(cred model.Credential) func(context.Context) error {
	return func(ctx context.Context) error {
		tok, err := c.exchange(ctx, c.session.Endpoints().InitialAuth, map[string]any{
			"phone":    cred.Username,
			"password": cred.Password,
		})
		if err != nil {
			return err
		}
		c.tokens.Initial = tok
		return nil
	}
}

// warmUp seeds the session-scoped anti-forgery cookies.
func (c *chain) warmUp(ctx context.Context) error {
	_, err := c.session.Do(ctx, remote.Call{URL: c.session.Endpoints().WarmUp})
	return err
}

func (c *chain) appToken(ctx context.Context) error {
	tok, err := c.exchange(ctx, c.session.Endpoints().AppToken, map[string]any{
		"token":   c.tokens.Initial,
		"appCode": DefaultAppCode,
		"type":    1,
	})
	if err != nil {
		return err
	}
	c.tokens.App = tok
	return nil
}

func (c *chain) accountID(ctx context.Context) error {
	list, err := fetchBindings(ctx, c.session, c.tokens.App, nil)
	if err != nil {
		return err
	}
	uid, degraded, err := selectBinding(list)
	if err != nil {
		return err
	}
	if degraded {
		c.logger.Warn("no default binding, using the first one found", zap.String("game_uid", uid))
	}
	c.tokens.AccountID = uid
	return nil
}

func (c *chain) deviceToken(ctx context.Context) error {
	tok, err := c.exchange(ctx, c.session.Endpoints().DeviceToken, map[string]any{
		"token": c.tokens.App,
		"uid":   c.tokens.AccountID,
	})
	if err != nil {
		return err
	}
	c.tokens.Device = tok
	return nil
}

func (c *chain) roleLogin(ctx context.Context) error {
	c.session.SetRoleToken(c.tokens.Device)
	_, err := c.session.Do(ctx, remote.Call{
		Method: http.MethodPost,
		URL:    c.session.Endpoints().RoleLogin,
		Body: map[string]any{
			"token":       c.tokens.Device,
			"source_from": "",
			"share_type":  "",
			"share_by":    "",
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrRoleLogin, err)
	}
	return nil
}
