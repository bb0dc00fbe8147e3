// Package qa runs quick actions: local rules that launch a stored command
// when an input changes, without a round trip through the broker.
//
//	Q0<L><ch><v><command><sum> - add a rule launching command when input L/ch reports v
//	Q1<L><ch><v><sum>          - remove the rule for L/ch/v
//	Q2<sum>                    - remove every rule
//	Q3<sum>                    - pause every rule
//	Q4<sum>                    - resume
//
// The embedded command is fully decoded when the rule is added, and carries
// its own checksum. The outer sum covers the command digit, ch and v.
package qa

import (
	"errors"
	"fmt"

	"github.com/sweeney/homectl/internal/cmnd"
	"github.com/sweeney/homectl/internal/codec"
	"github.com/sweeney/homectl/internal/modules"
	"go.uber.org/zap"
)

const (
	Letter = 'Q'
	Name   = "QA"
)

const (
	cmdAdd = iota
	cmdRemove
	cmdClear
	cmdPause
	cmdResume
)

// DefaultMaxRules bounds the rule table when no limit is configured.
const DefaultMaxRules = 5

var (
	ErrTableFull = errors.New("qa: rule table full")
	ErrNoRule    = errors.New("qa: no such rule")
)

// Launcher decodes and runs commands. The controller is one.
type Launcher interface {
	Decode(payload []byte) (cmnd.State, int, error)
	Launch(payload []byte) error
}

type Module struct {
	env    modules.Env
	launch Launcher
	store  Store
	inputs map[byte]int
	max    int
	rules  []Rule
	paused bool
}

// New creates the module. inputs lists the module letters a rule may listen
// on, with their channel counts.
func New(env modules.Env, launch Launcher, store Store, inputs map[byte]int, maxRules int) *Module {
	if maxRules <= 0 {
		maxRules = DefaultMaxRules
	}
	return &Module{
		env:    env.Named("qa"),
		launch: launch,
		store:  store,
		inputs: inputs,
		max:    maxRules,
	}
}

func (m *Module) Descriptor() cmnd.Descriptor {
	return cmnd.Descriptor{
		Name:    Name,
		Letter:  Letter,
		Init:    m.Init,
		Decode:  m.Decode,
		Execute: m.Execute,
	}
}

// Init loads the stored rules. Rules whose command no longer decodes are
// dropped. An unreadable store leaves the table empty.
func (m *Module) Init() error {
	rules, err := m.store.Load()
	if err != nil {
		m.env.Log.Error("load rules, starting empty", zap.Error(err))
		rules = nil
	}

	m.rules = m.rules[:0]
	for _, r := range rules {
		if len(m.rules) == m.max {
			m.env.Log.Warn("rule table full, dropping stored rules", zap.Int("max", m.max))
			break
		}
		if _, _, err := m.launch.Decode(r.Command); err != nil {
			m.env.Log.Warn("dropping stored rule",
				zap.String("trigger", r.trigger()),
				zap.ByteString("command", r.Command),
				zap.Error(err))
			continue
		}
		m.rules = append(m.rules, r)
	}
	m.env.Log.Info("quick actions loaded", zap.Int("rules", len(m.rules)))
	return nil
}

func (m *Module) Decode(payload []byte) (cmnd.State, int, error) {
	r := codec.NewReader(payload)

	cmd, err := r.Digit()
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	s := cmnd.State{Command: uint8(cmd)}

	switch cmd {
	case cmdClear, cmdPause, cmdResume:
		if s.Sum, err = r.Sum(cmd); err != nil {
			return cmnd.State{}, r.Pos(), err
		}
		return s, r.Pos(), nil
	case cmdAdd, cmdRemove:
	default:
		return cmnd.State{}, r.Pos(), fmt.Errorf("command %d: %w", cmd, codec.ErrOutOfRange)
	}

	letter, err := r.Byte()
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	channels, ok := m.inputs[letter]
	if !ok {
		return cmnd.State{}, r.Pos(), fmt.Errorf("trigger module %q: %w", letter, codec.ErrOutOfRange)
	}
	ch, err := r.Channel()
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	if int(ch) >= channels {
		return cmnd.State{}, r.Pos(), fmt.Errorf("trigger channel %d of %d: %w", ch, channels, codec.ErrOutOfRange)
	}
	v, err := r.Digit()
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	if v > 1 {
		return cmnd.State{}, r.Pos(), fmt.Errorf("trigger value %d: %w", v, codec.ErrOutOfRange)
	}
	s.Target, s.Channel, s.Value = letter, ch, uint16(v)

	if cmd == cmdAdd {
		rest := r.Rest()
		if len(rest) == 0 {
			return cmnd.State{}, r.Pos(), codec.ErrShortPayload
		}
		if rest[0] == Letter {
			return cmnd.State{}, r.Pos(), fmt.Errorf("nested quick action: %w", codec.ErrOutOfRange)
		}
		_, n, err := m.launch.Decode(rest)
		if err != nil {
			return cmnd.State{}, r.Pos(), fmt.Errorf("rule command: %w", err)
		}
		s.Nested = append([]byte(nil), rest[:n]...)
		if err := r.Skip(n); err != nil {
			return cmnd.State{}, r.Pos(), err
		}
	}

	if s.Sum, err = r.Sum(cmd, int(ch), v); err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	return s, r.Pos(), nil
}

func (m *Module) Execute(s cmnd.State) error {
	switch s.Command {
	case cmdAdd:
		return m.add(Rule{Letter: s.Target, Channel: s.Channel, Value: uint8(s.Value), Command: s.Nested})
	case cmdRemove:
		return m.remove(s.Target, int(s.Channel), int(s.Value))
	case cmdClear:
		return m.commit(nil)
	case cmdPause:
		m.paused = true
		m.env.Log.Info("quick actions paused")
		return nil
	case cmdResume:
		m.paused = false
		m.env.Log.Info("quick actions resumed")
		return nil
	}
	return modules.UnknownCommand(s)
}

// Trigger launches the rule matching an input change, unless paused.
func (m *Module) Trigger(letter byte, ch, value int) {
	if m.paused {
		return
	}
	i := m.find(letter, ch, value)
	if i < 0 {
		return
	}
	r := m.rules[i]
	m.env.Log.Debug("rule matched", zap.String("trigger", r.trigger()), zap.ByteString("command", r.Command))
	if err := m.launch.Launch(r.Command); err != nil {
		m.env.Log.Warn("rule command failed", zap.String("trigger", r.trigger()), zap.Error(err))
	}
}

// Rules returns a copy of the rule table.
func (m *Module) Rules() []Rule {
	return append([]Rule(nil), m.rules...)
}

// Paused reports whether rules are suspended.
func (m *Module) Paused() bool { return m.paused }

func (m *Module) add(r Rule) error {
	rules := m.Rules()
	if i := m.find(r.Letter, int(r.Channel), int(r.Value)); i >= 0 {
		rules[i] = r
		return m.commit(rules)
	}
	if len(m.rules) >= m.max {
		return fmt.Errorf("%d rules: %w", len(m.rules), ErrTableFull)
	}
	if err := m.commit(append(rules, r)); err != nil {
		return err
	}
	m.env.Log.Info("rule added", zap.String("trigger", r.trigger()), zap.ByteString("command", r.Command))
	return nil
}

func (m *Module) remove(letter byte, ch, value int) error {
	i := m.find(letter, ch, value)
	if i < 0 {
		return fmt.Errorf("%c%d%d: %w", letter, ch, value, ErrNoRule)
	}
	rules := m.Rules()
	return m.commit(append(rules[:i], rules[i+1:]...))
}

func (m *Module) find(letter byte, ch, value int) int {
	for i, r := range m.rules {
		if r.matches(letter, ch, value) {
			return i
		}
	}
	return -1
}

// commit persists rules and only then replaces the live table, so a failed
// save leaves the previous rules in effect.
func (m *Module) commit(rules []Rule) error {
	if err := m.store.Save(rules); err != nil {
		return fmt.Errorf("save rules: %w", err)
	}
	m.rules = rules
	return nil
}

func (r Rule) trigger() string {
	return fmt.Sprintf("%c%d=%d", r.Letter, r.Channel, r.Value)
}
