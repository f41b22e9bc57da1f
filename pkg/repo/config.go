package repo

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config stores repository-local settings: the commit author identity
// and named remotes. It lives at .hx/config.toml.
type Config struct {
	User    UserConfig        `toml:"user"`
	Remotes map[string]string `toml:"remotes"`
}

// UserConfig identifies the commit author.
type UserConfig struct {
	Name  string `toml:"name"`
	Email string `toml:"email"`
}

// Author formats the configured identity as "Name <email>".
func (u UserConfig) Author() string {
	if u.Email == "" {
		return u.Name
	}
	return fmt.Sprintf("%s <%s>", u.Name, u.Email)
}

func (r *Repo) configPath() string {
	return filepath.Join(r.HxDir, "config.toml")
}

// ReadConfig reads .hx/config.toml. Missing config returns an empty
// config.
func (r *Repo) ReadConfig() (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(r.configPath(), &cfg); err != nil {
		if os.IsNotExist(err) {
			return &Config{Remotes: make(map[string]string)}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if cfg.Remotes == nil {
		cfg.Remotes = make(map[string]string)
	}
	return &cfg, nil
}

// WriteConfig atomically writes .hx/config.toml.
func (r *Repo) WriteConfig(cfg *Config) error {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Remotes == nil {
		cfg.Remotes = make(map[string]string)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("write config: encode: %w", err)
	}

	tmp, err := os.CreateTemp(r.HxDir, ".config-tmp-*")
	if err != nil {
		return fmt.Errorf("write config: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: close: %w", err)
	}
	if err := os.Rename(tmpName, r.configPath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: rename: %w", err)
	}
	return nil
}

// SetRemote stores or updates a named remote address.
func (r *Repo) SetRemote(name, addr string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("set remote: remote name is required")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("set remote: remote address is required")
	}

	cfg, err := r.ReadConfig()
	if err != nil {
		return err
	}
	cfg.Remotes[name] = addr
	return r.WriteConfig(cfg)
}

// RemoteAddr returns the configured address for the given remote name.
func (r *Repo) RemoteAddr(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("remote name is required")
	}

	cfg, err := r.ReadConfig()
	if err != nil {
		return "", err
	}
	addr, ok := cfg.Remotes[name]
	if !ok || strings.TrimSpace(addr) == "" {
		return "", fmt.Errorf("remote %q is not configured", name)
	}
	return addr, nil
}
