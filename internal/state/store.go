// Package state persists supervised-service records to state/services.yaml.
// All mutation goes through Update, which serializes writers and stamps a
// monotonically increasing version on every change. Everything outside the
// supervisor only reads, and a reader may always see the previous version;
// the file on disk is the source of truth across daemon restarts.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/warden/internal/lock"
	"github.com/msageha/warden/internal/model"
	yamlutil "github.com/msageha/warden/internal/yaml"
)

const servicesFileType = "state_services"

type Store struct {
	wardenDir string
	path      string
	locks     *lock.MutexMap
}

func NewStore(wardenDir string) *Store {
	return &Store{
		wardenDir: wardenDir,
		path:      filepath.Join(wardenDir, "state", "services.yaml"),
		locks:     lock.NewMutexMap(),
	}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the state file fresh. A missing file is an empty state, not an
// error. A corrupt file is quarantined and recovered (backup first, skeleton
// otherwise) so a reader never crashes on bad YAML.
func (s *Store) Load() (*model.ServicesState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return emptyState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read services state: %w", err)
	}

	st, perr := parseServices(data)
	if perr == nil {
		return st, nil
	}

	if rerr := yamlutil.RecoverCorruptedFile(s.wardenDir, s.path, servicesFileType); rerr != nil {
		return nil, fmt.Errorf("recover services state: %v (after parse error: %w)", rerr, perr)
	}
	data, err = os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reread services state after recovery: %w", err)
	}
	st, perr = parseServices(data)
	if perr != nil {
		return nil, fmt.Errorf("services state unreadable after recovery: %w", perr)
	}
	return st, nil
}

// Get returns one record by service name.
func (s *Store) Get(name string) (model.ServiceRecord, bool, error) {
	st, err := s.Load()
	if err != nil {
		return model.ServiceRecord{}, false, err
	}
	rec, ok := st.Services[name]
	return rec, ok, nil
}

// Update applies mutate to the named record under the writer lock, stamps
// version and updated_at, and writes the whole file atomically. The mutate
// func receives the current record, zero-valued for a name never seen.
func (s *Store) Update(name string, mutate func(*model.ServiceRecord)) (model.ServiceRecord, error) {
	s.locks.Lock(servicesFileType)
	defer s.locks.Unlock(servicesFileType)

	st, err := s.Load()
	if err != nil {
		return model.ServiceRecord{}, err
	}

	rec := st.Services[name]
	rec.Name = name
	mutate(&rec)
	rec.Version++
	now := time.Now().UTC().Format(time.RFC3339)
	rec.UpdatedAt = &now
	st.Services[name] = rec

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return model.ServiceRecord{}, fmt.Errorf("create state dir: %w", err)
	}
	if err := yamlutil.AtomicWrite(s.path, st); err != nil {
		return model.ServiceRecord{}, fmt.Errorf("write services state: %w", err)
	}
	return rec, nil
}

func parseServices(data []byte) (*model.ServicesState, error) {
	if err := yamlutil.ValidateSchemaHeaderFromBytes(data, servicesFileType); err != nil {
		return nil, err
	}
	var st model.ServicesState
	if err := yamlv3.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if st.Services == nil {
		st.Services = make(map[string]model.ServiceRecord)
	}
	return &st, nil
}

func emptyState() *model.ServicesState {
	return &model.ServicesState{
		SchemaVersion: yamlutil.CurrentSchemaVersion,
		FileType:      servicesFileType,
		Services:      make(map[string]model.ServiceRecord),
	}
}
