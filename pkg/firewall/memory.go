package firewall

import (
	"github.com/pkg/errors"
)

// Memory is an in-process Backend. It backs the dry-run firewall mode for
// unprivileged runs and the test suite. Semantics mirror the real tool:
// chains must exist before use, handles are 1-based positions.
type Memory struct {
	chains map[string][][]string
}

// NewMemory creates a memory backend with the given chains pre-created,
// standing in for the tool's built-in chains.
func NewMemory(builtin ...string) *Memory {
	m := &Memory{chains: make(map[string][][]string)}
	for _, chain := range builtin {
		m.chains[chain] = nil
	}
	return m
}

func (m *Memory) EnsureChain(chain string) error {
	if _, ok := m.chains[chain]; !ok {
		m.chains[chain] = nil
	}
	return nil
}

func (m *Memory) ChainExists(chain string) (bool, error) {
	_, ok := m.chains[chain]
	return ok, nil
}

func (m *Memory) ListRules(chain string) ([]Rule, error) {
	specs, ok := m.chains[chain]
	if !ok {
		return nil, errors.Errorf("no chain %v", chain)
	}

	rules := make([]Rule, len(specs))
	for i, spec := range specs {
		rules[i] = Rule{Handle: i + 1, Spec: spec}
	}
	return rules, nil
}

func (m *Memory) InsertRule(chain string, spec []string, position int) error {
	specs, ok := m.chains[chain]
	if !ok {
		return errors.Errorf("no chain %v", chain)
	}

	if position < 1 || position > len(specs) {
		m.chains[chain] = append(specs, spec)
		return nil
	}

	specs = append(specs, nil)
	copy(specs[position:], specs[position-1:])
	specs[position-1] = spec
	m.chains[chain] = specs
	return nil
}

func (m *Memory) DeleteRule(chain string, handle int) error {
	specs, ok := m.chains[chain]
	if !ok {
		return errors.Errorf("no chain %v", chain)
	}
	if handle < 1 || handle > len(specs) {
		return errors.Errorf("no rule %v in chain %v", handle, chain)
	}
	m.chains[chain] = append(specs[:handle-1], specs[handle:]...)
	return nil
}

func (m *Memory) FlushChain(chain string) error {
	if _, ok := m.chains[chain]; !ok {
		return errors.Errorf("no chain %v", chain)
	}
	m.chains[chain] = nil
	return nil
}

func (m *Memory) DeleteChain(chain string) error {
	specs, ok := m.chains[chain]
	if !ok {
		return errors.Errorf("no chain %v", chain)
	}
	if len(specs) > 0 {
		return errors.Errorf("chain %v is not empty", chain)
	}
	delete(m.chains, chain)
	return nil
}
