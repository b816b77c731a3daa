// Package profiles persists named macro sets as JSON files on disk.
package profiles

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/evmacro/evmacro/macros"
	"github.com/evmacro/evmacro/types"
	"github.com/evmacro/evmacro/utils"
)

// profileVersion is bumped when the on-disk record shape changes.
const profileVersion = 1

// Profile is the on-disk record. Step delays serialize as nanoseconds.
type Profile struct {
	Version int             `json:"version"`
	Name    string          `json:"name"`
	SavedAt time.Time       `json:"savedAt"`
	Macros  []*macros.Macro `json:"macros"`
}

// Store reads and writes profiles under a single directory. It is safe for
// concurrent use because every operation works on whole files and writes go
// through an atomic rename.
type Store struct {
	dir string
}

// NewStore ensures the profile directory exists and returns a store over it.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating profile directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory the store persists into.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, "/\\") || strings.HasPrefix(name, ".") {
		return "", types.NewError(types.KindMalformed, "invalid profile name: %q", name)
	}
	return filepath.Join(s.dir, name+".json"), nil
}

// Save writes the macro set under the given profile name, replacing any
// existing profile of that name. The write is temp-file + rename so a crash
// never leaves a half-written profile behind.
func (s *Store) Save(name string, set []*macros.Macro) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	record := Profile{
		Version: profileVersion,
		Name:    name,
		SavedAt: time.Now().UTC(),
		Macros:  set,
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding profile %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return types.NewError(types.KindIOError, "writing profile %s: %v", name, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return types.NewError(types.KindIOError, "writing profile %s: %v", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return types.NewError(types.KindIOError, "writing profile %s: %v", name, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return types.NewError(types.KindIOError, "writing profile %s: %v", name, err)
	}

	utils.Verbose("Profile saved: %s (%d macros)", name, len(set))
	return nil
}

// Load reads a profile back. Missing files map to NotFound; anything that
// does not decode as a current-version profile maps to CorruptData.
func (s *Store) Load(name string) (*Profile, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, types.NewError(types.KindNotFound, "profile not found: %s", name)
	}
	if err != nil {
		return nil, types.NewError(types.KindIOError, "reading profile %s: %v", name, err)
	}

	var record Profile
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, types.NewError(types.KindCorruptData, "profile %s: %v", name, err)
	}
	if record.Version != profileVersion {
		return nil, types.NewError(types.KindCorruptData, "profile %s: unsupported version %d", name, record.Version)
	}
	for _, m := range record.Macros {
		if m == nil || m.ID == "" || m.Name == "" {
			return nil, types.NewError(types.KindCorruptData, "profile %s: macro record missing id or name", name)
		}
	}
	return &record, nil
}

// List returns the saved profile names in sorted order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, types.NewError(types.KindIOError, "listing profiles: %v", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base := entry.Name()
		if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(base, ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a saved profile. Deleting a missing profile is NotFound.
func (s *Store) Delete(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); os.IsNotExist(err) {
		return types.NewError(types.KindNotFound, "profile not found: %s", name)
	} else if err != nil {
		return types.NewError(types.KindIOError, "deleting profile %s: %v", name, err)
	}
	utils.Verbose("Profile deleted: %s", name)
	return nil
}
