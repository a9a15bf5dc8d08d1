package runtime

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// RegistryVersion is the schema version written by this release.
const RegistryVersion = 2

var (
	ErrDuplicateInstallation = errors.New("installation already exists")
	ErrInstallationNotFound  = errors.New("installation not found")
	ErrUnsupportedVersion    = errors.New("unsupported registry version")
)

// registryDocument is the on-disk form of the registry.
type registryDocument struct {
	Version       int                   `yaml:"version"`
	Installations []registryInstallation `yaml:"installations"`
}

type registryInstallation struct {
	Name        string `yaml:"name"`
	Home        string `yaml:"home,omitempty"`
	DefaultArgs string `yaml:"defaultArgs,omitempty"`

	// Version 1 stored the executable path here.
	PathToMsTest string `yaml:"pathToMsTest,omitempty"`
}

// Registry holds the configured installations. Readers get an immutable
// snapshot without locking; writers persist first and then swap the
// snapshot, so a failed write changes nothing.
type Registry struct {
	path     string
	mu       sync.Mutex
	snapshot atomic.Pointer[[]ToolInstallation]
}

// NewRegistry returns an empty registry that persists to path.
func NewRegistry(path string) *Registry {
	r := &Registry{path: path}
	empty := []ToolInstallation{}
	r.snapshot.Store(&empty)
	return r
}

// LoadRegistry reads the registry at path. A missing file is an empty
// registry. Older schema versions are upgraded and written back.
func LoadRegistry(path string) (*Registry, error) {
	r := NewRegistry(path)

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	var doc registryDocument
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse registry %s: %w", path, err)
	}

	upgraded, err := upgradeRegistry(&doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	installations := make([]ToolInstallation, 0, len(doc.Installations))
	for _, i := range doc.Installations {
		installations = append(installations, NewToolInstallation(i.Name, i.Home, i.DefaultArgs))
	}

	if upgraded {
		if err := r.SetInstallations(installations...); err != nil {
			return nil, fmt.Errorf("failed to save upgraded registry: %w", err)
		}
		return r, nil
	}
	r.snapshot.Store(&installations)
	return r, nil
}

// upgradeRegistry migrates doc to RegistryVersion in place and reports
// whether anything changed.
func upgradeRegistry(doc *registryDocument) (bool, error) {
	switch doc.Version {
	case RegistryVersion:
		return false, nil
	case 0, 1:
		for i := range doc.Installations {
			inst := &doc.Installations[i]
			if inst.Home == "" && inst.PathToMsTest != "" {
				inst.Home = inst.PathToMsTest
			}
			inst.PathToMsTest = ""
		}
		doc.Version = RegistryVersion
		return true, nil
	default:
		return false, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}
}

// Path returns the file the registry persists to.
func (r *Registry) Path() string {
	return r.path
}

// Installations returns the current snapshot. The slice is shared and must
// not be modified.
func (r *Registry) Installations() []ToolInstallation {
	return *r.snapshot.Load()
}

// SetInstallations replaces all installations and saves the registry.
func (r *Registry) SetInstallations(installations ...ToolInstallation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setLocked(installations)
}

// Put adds inst, refusing a name that is already registered.
func (r *Registry) Put(inst ToolInstallation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.snapshot.Load()
	if _, ok := Resolve(inst.Name, current); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateInstallation, inst.Name)
	}
	next := make([]ToolInstallation, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, inst)
	return r.setLocked(next)
}

// Replace stores inst in place of the installation with the same name,
// appending it when there is none.
func (r *Registry) Replace(inst ToolInstallation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.snapshot.Load()
	next := make([]ToolInstallation, 0, len(current)+1)
	replaced := false
	for _, existing := range current {
		if existing.Name == inst.Name {
			if !replaced {
				next = append(next, inst)
				replaced = true
			}
			continue
		}
		next = append(next, existing)
	}
	if !replaced {
		next = append(next, inst)
	}
	return r.setLocked(next)
}

// Remove deletes the installation named name.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.snapshot.Load()
	next := make([]ToolInstallation, 0, len(current))
	for _, inst := range current {
		if inst.Name != name {
			next = append(next, inst)
		}
	}
	if len(next) == len(current) {
		return fmt.Errorf("%w: %s", ErrInstallationNotFound, name)
	}
	return r.setLocked(next)
}

func (r *Registry) setLocked(installations []ToolInstallation) error {
	snapshot := append([]ToolInstallation{}, installations...)
	if err := r.save(snapshot); err != nil {
		return err
	}
	r.snapshot.Store(&snapshot)
	return nil
}

func (r *Registry) save(installations []ToolInstallation) error {
	doc := registryDocument{Version: RegistryVersion}
	for _, i := range installations {
		doc.Installations = append(doc.Installations, registryInstallation{
			Name:        i.Name,
			Home:        i.Home,
			DefaultArgs: i.DefaultArgs,
		})
	}

	b, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write registry: %w", err)
	}
	return nil
}
