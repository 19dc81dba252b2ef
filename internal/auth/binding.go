package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/celerix-dev/celerix-gacha/internal/errs"
	"github.com/celerix-dev/celerix-gacha/internal/remote"
)

type binding struct {
	UID       string `json:"uid"`
	IsDefault bool   `json:"isDefault"`
	NickName  string `json:"nickName"`
}

type appBindings struct {
	AppCode     string    `json:"appCode"`
	BindingList []binding `json:"bindingList"`
}

type bindingList struct {
	List []appBindings `json:"list"`
}

func fetchBindings(ctx context.Context, s *remote.Session, token string, header map[string]string) (bindingList, error) {
	var list bindingList
	env, err := s.Envelope(ctx, remote.Call{
		Method: http.MethodGet,
		URL:    s.Endpoints().BindingList,
		Query:  map[string]string{"token": token, "appCode": DefaultGameAppCode},
		Header: header,
	})
	if err != nil {
		return list, err
	}
	if err := env.Decode(&list); err != nil {
		return list, err
	}
	return list, nil
}

// selectBinding picks the default binding. Without one it falls back to the
// first binding found and reports degraded.
func selectBinding(list bindingList) (uid string, degraded bool, err error) {
	var first *binding
	for i := range list.List {
		for j := range list.List[i].BindingList {
			b := &list.List[i].BindingList[j]
			if b.IsDefault {
				if b.UID == "" {
					return "", false, fmt.Errorf("%w: default binding without uid", remote.ErrMalformedResponse)
				}
				return b.UID, false, nil
			}
			if first == nil {
				first = b
			}
		}
	}
	if first == nil {
		return "", false, errs.ErrNoAccountBound
	}
	if first.UID == "" {
		return "", false, fmt.Errorf("%w: binding without uid", remote.ErrMalformedResponse)
	}
	return first.UID, true, nil
}

// VerifyAccount re-reads the binding list using the device token and checks
// that its default binding is the account the session resolved.
func (a *Authenticator) VerifyAccount(ctx context.Context, res *Result) error {
	list, err := fetchBindings(ctx, res.Session, res.Tokens.Device, map[string]string{
		remote.RoleTokenHeader: res.Tokens.Device,
	})
	if err != nil {
		return fmt.Errorf("%w: verify account: %w", errs.ErrAuth, err)
	}
	uid, degraded, err := selectBinding(list)
	if err != nil {
		return fmt.Errorf("%w: verify account: %w", errs.ErrAuth, err)
	}
	if degraded || uid != res.Tokens.AccountID {
		return fmt.Errorf("%w: verify account: session resolved %q, device token reports %q",
			errs.ErrAuth, res.Tokens.AccountID, uid)
	}
	return nil
}
