package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"optbot/internal/model"
)

// ErrDuplicateAccount is returned by SaveAccount for a username already on file.
var ErrDuplicateAccount = errors.New("config: account already exists")

// LoadAccounts reads the credentials file, shaped {"users": [...]}. The
// format follows the file extension (json, yaml, toml).
func LoadAccounts(path string) ([]model.Account, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var users []model.Account
	if err := v.UnmarshalKey("users", &users); err != nil {
		return nil, fmt.Errorf("config: decode users in %s: %w", path, err)
	}
	return users, nil
}

// ValidateAccounts checks that every account carries the fields a login
// needs and that usernames are unique, since they key the instrument cache.
func ValidateAccounts(accounts []model.Account) error {
	var errs []error
	seen := make(map[string]bool, len(accounts))
	for i, a := range accounts {
		var missing []string
		for _, f := range []struct{ name, v string }{
			{"username", a.Username},
			{"client_id", a.ClientID},
			{"pin", a.PIN},
			{"api_key", a.APIKey},
			{"totp", a.TOTPSecret},
		} {
			if strings.TrimSpace(f.v) == "" {
				missing = append(missing, f.name)
			}
		}
		if len(missing) > 0 {
			errs = append(errs, fmt.Errorf("account %d (%s): missing %s", i, a.Username, strings.Join(missing, ", ")))
		}
		if a.Username != "" {
			if seen[a.Username] {
				errs = append(errs, fmt.Errorf("account %d: duplicate username %s", i, a.Username))
			}
			seen[a.Username] = true
		}
	}
	return errors.Join(errs...)
}

// SaveAccount appends acct to the credentials file, creating it if needed.
func SaveAccount(path string, acct model.Account) error {
	var users []model.Account
	if _, err := os.Stat(path); err == nil {
		if users, err = LoadAccounts(path); err != nil {
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: stat %s: %w", path, err)
	}

	for _, u := range users {
		if u.Username == acct.Username {
			return fmt.Errorf("%w: %s", ErrDuplicateAccount, acct.Username)
		}
	}
	users = append(users, acct)

	if err := ValidateAccounts(users); err != nil {
		return err
	}

	// Plain maps keep the on-disk field names identical across formats.
	rows := make([]map[string]any, len(users))
	for i, u := range users {
		rows[i] = map[string]any{
			"username":  u.Username,
			"client_id": u.ClientID,
			"pin":       u.PIN,
			"api_key":   u.APIKey,
			"totp":      u.TOTPSecret,
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("config: mkdir %s: %w", dir, err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.Set("users", rows)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return os.Chmod(path, 0o600)
}
