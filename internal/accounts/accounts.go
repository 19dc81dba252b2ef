// Package accounts maps users and their game accounts onto the users
// directory: <root>/<user>/accounts/<account>/{config,data,metadata}.json.
package accounts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/celerix-dev/celerix-gacha/internal/errs"
)

// DefaultUser owns ledgers synced without a user id.
const DefaultUser = "default_user"

const (
	AccountsDir  = "accounts"
	ConfigFile   = "config.json"
	DataFile     = "data.json"
	MetadataFile = "metadata.json"
)

// Account is one discovered account config.
type Account struct {
	User       string `json:"user"`
	Name       string `json:"account"`
	ConfigPath string `json:"config_path"`
}

// Key identifies the account for locking and logging.
func (a Account) Key() string {
	return a.User + "/" + a.Name
}

// ValidName reports whether name can be used as a single path segment.
func ValidName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", errs.ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("%w: %q", errs.ErrInvalidName, name)
	}
	return nil
}

// ValidGameUID reports whether name is a game UID, the only directory name a
// sync stores its ledger under.
func ValidGameUID(name string) error {
	if name == "" || strings.Trim(name, "0123456789") != "" {
		return fmt.Errorf("%w: account %q is not a game uid", errs.ErrInvalidName, name)
	}
	return nil
}

// ResolveUser substitutes DefaultUser for an empty user id.
func ResolveUser(user string) string {
	if user == "" {
		return DefaultUser
	}
	return user
}

// Layout resolves paths below a users directory.
type Layout struct {
	Root string
}

// AccountDir returns <root>/<user>/accounts/<account>.
func (l Layout) AccountDir(user, account string) (string, error) {
	user = ResolveUser(user)
	if err := ValidName(user); err != nil {
		return "", err
	}
	if err := ValidName(account); err != nil {
		return "", err
	}
	return filepath.Join(l.Root, user, AccountsDir, account), nil
}

// ConfigPath returns the credential config of an account.
func (l Layout) ConfigPath(user, account string) (string, error) {
	dir, err := l.AccountDir(user, account)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFile), nil
}

// Exists reports whether the account directory is present.
func (l Layout) Exists(user, account string) bool {
	dir, err := l.AccountDir(user, account)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// Accounts lists the account directories of user.
func (l Layout) Accounts(user string) ([]string, error) {
	user = ResolveUser(user)
	if err := ValidName(user); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(l.Root, user, AccountsDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Discover returns every account that has a config file, ordered by user
// then account. A missing root yields no accounts.
func (l Layout) Discover() ([]Account, error) {
	users, err := os.ReadDir(l.Root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read users dir: %w", err)
	}

	var out []Account
	for _, u := range users {
		if !u.IsDir() {
			continue
		}
		names, err := l.Accounts(u.Name())
		if err != nil {
			return nil, fmt.Errorf("list accounts of %s: %w", u.Name(), err)
		}
		for _, name := range names {
			path := filepath.Join(l.Root, u.Name(), AccountsDir, name, ConfigFile)
			if info, err := os.Stat(path); err != nil || info.IsDir() {
				continue
			}
			out = append(out, Account{User: u.Name(), Name: name, ConfigPath: path})
		}
	}
	return out, nil
}
