// Package config persists runner registration under the agent root:
// settings in .runner, the credential in .credentials. Both are plain
// JSON files; the credential file is written with owner-only
// permissions.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	settingsFile    = ".runner"
	credentialsFile = ".credentials"
)

// ErrNotConfigured is returned when the agent root holds no settings.
var ErrNotConfigured = errors.New("runner is not configured")

// Settings is the persisted registration of this runner.
type Settings struct {
	Name          string   `json:"name"`
	ServerURL     string   `json:"serverUrl"`
	WorkFolder    string   `json:"workFolder"`
	Labels        []string `json:"labels,omitempty"`
	RunnerGroup   string   `json:"runnerGroup,omitempty"`
	Ephemeral     bool     `json:"ephemeral,omitempty"`
	DisableUpdate bool     `json:"disableUpdate,omitempty"`
}

// Credentials holds the service token. Stored separately from the
// settings so it can be deleted on its own.
type Credentials struct {
	Scheme string `json:"scheme"`
	Token  string `json:"token"`
}

// Store reads and writes configuration under one agent root. Two
// listeners must never share a root; the run command guards this with
// a file lock.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) IsConfigured() bool {
	_, err := os.Stat(filepath.Join(s.root, settingsFile))
	return err == nil
}

func (s *Store) HasCredentials() bool {
	_, err := os.Stat(filepath.Join(s.root, credentialsFile))
	return err == nil
}

func (s *Store) Settings() (*Settings, error) {
	var settings Settings
	if err := s.read(settingsFile, &settings); err != nil {
		return nil, err
	}

	return &settings, nil
}

func (s *Store) Credentials() (*Credentials, error) {
	var credentials Credentials
	if err := s.read(credentialsFile, &credentials); err != nil {
		return nil, err
	}

	return &credentials, nil
}

func (s *Store) SaveSettings(settings *Settings) error {
	return s.write(settingsFile, settings, 0644)
}

func (s *Store) SaveCredentials(credentials *Credentials) error {
	return s.write(credentialsFile, credentials, 0600)
}

// Remove deletes the registration. Missing files are not an error so
// remove is idempotent.
func (s *Store) Remove() error {
	for _, name := range []string{credentialsFile, settingsFile} {
		if err := os.Remove(filepath.Join(s.root, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	return nil
}

func (s *Store) read(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.root, name))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: missing %s", ErrNotConfigured, name)
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}

	return nil
}

func (s *Store) write(name string, v any, perm os.FileMode) error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	// Write-then-rename keeps a crash from leaving a torn file.
	path := filepath.Join(s.root, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
