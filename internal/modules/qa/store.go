package qa

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

// Rule maps one input change to a command.
type Rule struct {
	Letter  byte   `cbor:"1,keyasint"`
	Channel uint8  `cbor:"2,keyasint"`
	Value   uint8  `cbor:"3,keyasint"`
	Command []byte `cbor:"4,keyasint"`
}

func (r Rule) matches(letter byte, ch, value int) bool {
	return r.Letter == letter && int(r.Channel) == ch && int(r.Value) == value
}

// Store persists the rule table.
type Store interface {
	Load() ([]Rule, error)
	Save(rules []Rule) error
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsEmpty,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("qa: cbor encoder mode: %v", err))
	}
}

// FileStore keeps the rules CBOR-encoded in one file. A missing file is an
// empty table.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load() ([]Rule, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rules []Rule
	if err := cbor.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return rules, nil
}

// Save replaces the file by renaming a freshly written temporary.
func (f *FileStore) Save(rules []Rule) error {
	data, err := encMode.Marshal(rules)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// MemStore keeps the rules in memory.
type MemStore struct {
	Rules []Rule
	Saves int
	Err   error
}

func (m *MemStore) Load() ([]Rule, error) {
	return append([]Rule(nil), m.Rules...), m.Err
}

func (m *MemStore) Save(rules []Rule) error {
	if m.Err != nil {
		return m.Err
	}
	m.Saves++
	m.Rules = append([]Rule(nil), rules...)
	return nil
}
