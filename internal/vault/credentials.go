package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-gacha/internal/atomicfile"
	"github.com/celerix-dev/celerix-gacha/internal/errs"
	"github.com/celerix-dev/celerix-gacha/internal/model"
)

// Account config field names.
const (
	fieldUsername = "username"
	fieldPassword = "password"
	fieldToken    = "encrypted_token"
)

// Vault loads and stores account credentials in per-account JSON config files.
type Vault struct {
	cipher *Cipher
	logger *zap.Logger
}

// New returns a Vault that encrypts with c.
func New(c *Cipher, logger *zap.Logger) *Vault {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{cipher: c, logger: logger.Named("vault")}
}

// Load reads the credential stored in the config at path.
//
// A password that does not decrypt is taken to be plaintext: the config is
// rewritten with the encrypted form before the plaintext pair is returned, and
// the load fails if that rewrite does.
func (v *Vault) Load(path string) (model.Credential, error) {
	fields, err := readConfig(path)
	if err != nil {
		return model.Credential{}, fmt.Errorf("%w: %w", errs.ErrCredential, err)
	}

	token, err := stringField(fields, fieldToken)
	if err != nil {
		return model.Credential{}, fmt.Errorf("%w: %w", errs.ErrCredential, err)
	}
	if token != "" {
		plain, err := v.cipher.Decrypt(token)
		if err != nil {
			return model.Credential{}, fmt.Errorf("%w: decrypt token: %w", errs.ErrCredential, err)
		}
		return model.Credential{Token: plain}, nil
	}

	username, err := stringField(fields, fieldUsername)
	if err != nil {
		return model.Credential{}, fmt.Errorf("%w: %w", errs.ErrCredential, err)
	}
	password, err := stringField(fields, fieldPassword)
	if err != nil {
		return model.Credential{}, fmt.Errorf("%w: %w", errs.ErrCredential, err)
	}
	if username == "" || password == "" {
		return model.Credential{}, fmt.Errorf("%w: %s has neither a token nor a username and password", errs.ErrCredential, path)
	}

	plain, err := v.cipher.Decrypt(password)
	switch {
	case err == nil:
		return model.Credential{Username: username, Password: plain}, nil
	case errors.Is(err, ErrInvalidCiphertext):
		cred := model.Credential{Username: username, Password: password}
		v.logger.Info("plaintext password found, encrypting account config", zap.String("path", path))
		if err := v.Save(cred, path); err != nil {
			return model.Credential{}, fmt.Errorf("%w: encrypt plaintext password: %w", errs.ErrCredential, err)
		}
		return cred, nil
	default:
		return model.Credential{}, fmt.Errorf("%w: decrypt password: %w", errs.ErrCredential, err)
	}
}

// Save encrypts the secret part of cred and merges it into the config at path.
// Unrelated fields already in the file are kept as they are.
func (v *Vault) Save(cred model.Credential, path string) error {
	fields, err := readConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		fields = make(map[string]json.RawMessage)
	} else if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrStorage, err)
	}

	switch {
	case cred.Token != "":
		enc, err := v.cipher.Encrypt(cred.Token)
		if err != nil {
			return err
		}
		if err := setString(fields, fieldToken, enc); err != nil {
			return err
		}
	case cred.Username != "" && cred.Password != "":
		enc, err := v.cipher.Encrypt(cred.Password)
		if err != nil {
			return err
		}
		if err := setString(fields, fieldUsername, cred.Username); err != nil {
			return err
		}
		if err := setString(fields, fieldPassword, enc); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: nothing to save", errs.ErrCredential)
	}

	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := atomicfile.WriteFile(path, append(data, '\n'), 0o600, 0o700); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrStorage, err)
	}
	return nil
}

func readConfig(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read account config: %w", err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("account config %s is not a JSON object: %w", path, err)
	}
	return fields, nil
}

// stringField returns "" for a missing or null field.
func stringField(fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := fields[name]
	if !ok {
		return "", nil
	}
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("field %q is not a string", name)
	}
	if s == nil {
		return "", nil
	}
	return *s, nil
}

func setString(fields map[string]json.RawMessage, name, value string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	fields[name] = raw
	return nil
}
