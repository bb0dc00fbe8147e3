// Package cmnd holds the module registry: the bounded table of hardware
// module descriptors and the dispatch of decoded commands to them.
package cmnd

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Registry errors.
var (
	ErrUnknownModule   = errors.New("unknown module")
	ErrNoDecoder       = errors.New("module has no decoder")
	ErrTableFull       = errors.New("module table full")
	ErrDuplicateModule = errors.New("module already registered")
	ErrNoInit          = errors.New("module has no init function")
	ErrEmptyCommand    = errors.New("empty command")
)

// DefaultMaxModules is the table size used when none is configured.
const DefaultMaxModules = 16

// Descriptor describes one hardware module. Letter identifies it; Channels is
// the number of logical channels it schedules through the slot manager.
//
// Decode receives the payload after the module letter and returns the number
// of bytes it consumed. Execute may be nil for decode-only modules.
type Descriptor struct {
	Name     string
	Letter   byte
	Channels int
	Init     func() error
	Decode   func(payload []byte) (State, int, error)
	Execute  func(State) error

	// Shutdown, when set, runs before the module's slots are reset at exit.
	Shutdown func() error
}

// Registry is an ordered, bounded table of descriptors. It is built at boot
// and read-only afterwards.
type Registry struct {
	modules []Descriptor
	max     int
	log     *zap.Logger
}

// NewRegistry creates a registry that holds up to max modules.
func NewRegistry(max int, log *zap.Logger) *Registry {
	if max <= 0 {
		max = DefaultMaxModules
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{max: max, log: log}
}

// Register appends d to the table.
func (r *Registry) Register(d Descriptor) error {
	if len(r.modules) >= r.max {
		return fmt.Errorf("register %q: %w", d.Letter, ErrTableFull)
	}
	if _, ok := r.Resolve(d.Letter); ok {
		return fmt.Errorf("register %q: %w", d.Letter, ErrDuplicateModule)
	}
	r.modules = append(r.modules, d)
	r.log.Info("module registered",
		zap.String("module", d.Name),
		zap.String("letter", string(d.Letter)),
		zap.Int("channels", d.Channels))
	return nil
}

// Unregister removes the module with the given letter. It reports whether the
// letter was registered.
func (r *Registry) Unregister(letter byte) bool {
	i, ok := r.Resolve(letter)
	if !ok {
		return false
	}
	r.modules = append(r.modules[:i], r.modules[i+1:]...)
	return true
}

// Resolve returns the table index of the module with the given letter.
func (r *Registry) Resolve(letter byte) (int, bool) {
	for i := range r.modules {
		if r.modules[i].Letter == letter {
			return i, true
		}
	}
	return -1, false
}

// Lookup returns the descriptor registered for letter.
func (r *Registry) Lookup(letter byte) (Descriptor, bool) {
	i, ok := r.Resolve(letter)
	if !ok {
		return Descriptor{}, false
	}
	return r.modules[i], true
}

// Modules returns the registered descriptors in registration order.
func (r *Registry) Modules() []Descriptor {
	out := make([]Descriptor, len(r.modules))
	copy(out, r.modules)
	return out
}

// Decode reads the leading module letter of buf and hands the rest to that
// module's decoder. The consumed count includes the letter.
func (r *Registry) Decode(buf []byte) (State, int, error) {
	if len(buf) == 0 {
		return State{}, 0, ErrEmptyCommand
	}

	letter := buf[0]
	i, ok := r.Resolve(letter)
	if !ok {
		return State{}, 0, fmt.Errorf("decode %q: %w", letter, ErrUnknownModule)
	}
	d := r.modules[i]
	if d.Decode == nil {
		return State{}, 0, fmt.Errorf("decode %q: %w", letter, ErrNoDecoder)
	}

	s, n, err := d.Decode(buf[1:])
	if err != nil {
		return State{}, 0, fmt.Errorf("decode %s: %w", d.Name, err)
	}
	s.Action = letter
	return s, n + 1, nil
}

// Execute runs s on the module named by s.Action. A module without an
// executor accepts every command as a no-op.
func (r *Registry) Execute(s State) error {
	i, ok := r.Resolve(s.Action)
	if !ok {
		return fmt.Errorf("execute %q: %w", s.Action, ErrUnknownModule)
	}
	d := r.modules[i]
	if d.Execute == nil {
		return nil
	}
	if err := d.Execute(s); err != nil {
		return fmt.Errorf("execute %s: %w", d.Name, err)
	}
	return nil
}

// InitAll calls every module's init function in registration order. A
// failing module does not keep the others from initialising; all failures
// are returned together.
func (r *Registry) InitAll() error {
	var errs error
	for _, d := range r.modules {
		if d.Init == nil {
			r.log.Error("module without init", zap.String("module", d.Name))
			errs = multierr.Append(errs, fmt.Errorf("init %s: %w", d.Name, ErrNoInit))
			continue
		}
		if err := d.Init(); err != nil {
			r.log.Error("module init failed", zap.String("module", d.Name), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("init %s: %w", d.Name, err))
		}
	}
	return errs
}
