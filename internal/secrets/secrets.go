// Package secrets is the encrypted credential store backing registry
// authentication. Values are sealed with nacl/secretbox and only ever
// decrypted in memory, immediately before a leg starts; they are never
// written to logs or run records.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
	"gopkg.in/yaml.v3"
)

// EnvKey names the environment variable carrying the base64 32-byte store key.
const EnvKey = "LEGWORK_SECRET_KEY"

const (
	storeVersion = 1
	keySize      = 32
	nonceSize    = 24
)

// ErrNoKey is returned when the key environment variable is missing.
var ErrNoKey = errors.New("secrets: " + EnvKey + " is not set")

type envelope struct {
	Version int              `yaml:"version"`
	Entries map[string]entry `yaml:"entries"`
}

type entry struct {
	Nonce      string `yaml:"nonce"`
	Ciphertext string `yaml:"ciphertext"`
}

// Store reads and writes the sealed secret file.
type Store struct {
	path string
	key  [keySize]byte
}

// Open loads the store key from the environment.
func Open(path string) (*Store, error) {
	encoded := strings.TrimSpace(os.Getenv(EnvKey))
	if encoded == "" {
		return nil, ErrNoKey
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("secrets: decode %s: %w", EnvKey, err)
	}
	return OpenWithKey(path, key)
}

// OpenWithKey builds a store around explicit key material (primarily tests).
func OpenWithKey(path string, key []byte) (*Store, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("secrets: key must be %d bytes, got %d", keySize, len(key))
	}
	s := &Store{path: path}
	copy(s.key[:], key)
	return s, nil
}

// GenerateKey produces a fresh base64 store key for LEGWORK_SECRET_KEY.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("secrets: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Set seals a value under the given name, replacing any previous entry.
func (s *Store) Set(name, value string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("secrets: name is required")
	}
	env, err := s.load()
	if err != nil {
		return err
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("secrets: nonce: %w", err)
	}
	sealed := secretbox.Seal(nil, []byte(value), &nonce, &s.key)
	env.Entries[name] = entry{
		Nonce:      base64.StdEncoding.EncodeToString(nonce[:]),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	}
	return s.save(env)
}

// Get opens a single entry.
func (s *Store) Get(name string) (string, error) {
	env, err := s.load()
	if err != nil {
		return "", err
	}
	return s.open(env, name)
}

// Delete removes an entry. Removing an absent entry is an error so typos
// surface.
func (s *Store) Delete(name string) error {
	env, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := env.Entries[name]; !ok {
		return fmt.Errorf("secrets: unknown secret %s", name)
	}
	delete(env.Entries, name)
	return s.save(env)
}

// Names lists stored secret names, sorted.
func (s *Store) Names() ([]string, error) {
	env, err := s.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(env.Entries))
	for name := range env.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Resolve decrypts the named secrets in one pass. Any failure aborts the
// whole resolution so a leg fails before touching the network.
func (s *Store) Resolve(names []string) (map[string]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	env, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(names))
	for _, name := range names {
		value, err := s.open(env, name)
		if err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, nil
}

func (s *Store) open(env envelope, name string) (string, error) {
	ent, ok := env.Entries[name]
	if !ok {
		return "", fmt.Errorf("secrets: unknown secret %s", name)
	}
	nonceBytes, err := base64.StdEncoding.DecodeString(ent.Nonce)
	if err != nil || len(nonceBytes) != nonceSize {
		return "", fmt.Errorf("secrets: %s has a corrupt nonce", name)
	}
	sealed, err := base64.StdEncoding.DecodeString(ent.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("secrets: %s has corrupt ciphertext", name)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], nonceBytes)
	plain, ok := secretbox.Open(nil, sealed, &nonce, &s.key)
	if !ok {
		return "", fmt.Errorf("secrets: cannot decrypt %s (wrong key?)", name)
	}
	return string(plain), nil
}

func (s *Store) load() (envelope, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return envelope{Version: storeVersion, Entries: map[string]entry{}}, nil
		}
		return envelope{}, fmt.Errorf("secrets: read %s: %w", s.path, err)
	}
	var env envelope
	if err := yaml.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("secrets: parse %s: %w", s.path, err)
	}
	if env.Version != storeVersion {
		return envelope{}, fmt.Errorf("secrets: unsupported store version %d", env.Version)
	}
	if env.Entries == nil {
		env.Entries = map[string]entry{}
	}
	return env, nil
}

func (s *Store) save(env envelope) error {
	data, err := yaml.Marshal(env)
	if err != nil {
		return fmt.Errorf("secrets: encode store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("secrets: ensure store dir: %w", err)
	}
	// Secrets stay owner-readable only, even though they are sealed.
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("secrets: write %s: %w", s.path, err)
	}
	return nil
}
