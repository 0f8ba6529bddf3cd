package firewall

import (
	"strconv"
	"strings"

	"github.com/coreos/go-iptables/iptables"
	"github.com/pkg/errors"
)

const filterTable = "filter"

// IPTables adapts go-iptables to the Backend capability. One instance serves
// one address family.
type IPTables struct {
	ipt *iptables.IPTables
}

func NewIPTables() (*IPTables, error) {
	ipt, err := iptables.New()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get iptables link")
	}
	return &IPTables{ipt: ipt}, nil
}

func NewIP6Tables() (*IPTables, error) {
	ipt, err := iptables.NewWithProtocol(iptables.ProtocolIPv6)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get ip6tables link")
	}
	return &IPTables{ipt: ipt}, nil
}

func (t *IPTables) EnsureChain(chain string) error {
	exists, err := t.ipt.ChainExists(filterTable, chain)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return t.ipt.NewChain(filterTable, chain)
}

func (t *IPTables) ChainExists(chain string) (bool, error) {
	return t.ipt.ChainExists(filterTable, chain)
}

// ListRules scrapes the tool's list output. Lines look like
// "-A CHAIN -s 1.2.3.4/32 -j DROP"; the chain creation line is skipped.
func (t *IPTables) ListRules(chain string) ([]Rule, error) {
	lines, err := t.ipt.List(filterTable, chain)
	if err != nil {
		return nil, err
	}

	var rules []Rule
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "-A" || fields[1] != chain {
			continue
		}
		rules = append(rules, Rule{
			Handle: len(rules) + 1,
			Spec:   fields[2:],
		})
	}
	return rules, nil
}

func (t *IPTables) InsertRule(chain string, spec []string, position int) error {
	if position < 1 {
		return t.ipt.Append(filterTable, chain, spec...)
	}
	return t.ipt.Insert(filterTable, chain, position, spec...)
}

func (t *IPTables) DeleteRule(chain string, handle int) error {
	return t.ipt.Delete(filterTable, chain, strconv.Itoa(handle))
}

func (t *IPTables) FlushChain(chain string) error {
	return t.ipt.ClearChain(filterTable, chain)
}

func (t *IPTables) DeleteChain(chain string) error {
	return t.ipt.DeleteChain(filterTable, chain)
}
