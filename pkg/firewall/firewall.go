// Package firewall reconciles per-address block rules in a dedicated chain.
// The backend is a capability interface so the decision engine stays
// independent of the rule tool; every operation is written to be safely
// re-run, a crash between steps is completed by the next invocation.
package firewall

import (
	"strings"

	"github.com/pkg/errors"
)

// Rule is one entry of a chain. Handle is the 1-based position of the rule
// within its chain at list time.
type Rule struct {
	Handle int
	Spec   []string
}

// Backend is the capability required from the underlying rule tool.
// InsertRule with a position below 1 appends.
type Backend interface {
	EnsureChain(chain string) error
	ChainExists(chain string) (bool, error)
	ListRules(chain string) ([]Rule, error)
	InsertRule(chain string, spec []string, position int) error
	DeleteRule(chain string, handle int) error
	FlushChain(chain string) error
	DeleteChain(chain string) error
}

// Hook names a pre-existing chain that should jump into the managed chain,
// and where. Position 0 appends the jump after any jump rules already
// present, so relative order between coexisting jump targets is kept.
type Hook struct {
	Chain    string
	Position int
}

type Reconciler struct {
	v4, v6 Backend
	chain  string
	hooks  []Hook
	action string
}

func NewReconciler(v4, v6 Backend, chain string, hooks []Hook, action string) *Reconciler {
	return &Reconciler{
		v4:     v4,
		v6:     v6,
		chain:  chain,
		hooks:  hooks,
		action: action,
	}
}

// Ban makes sure the managed chain exists, is hooked into every configured
// hook chain, and contains a block rule for address. Re-running it against
// fully or partially installed state is a no-op for the parts already there.
func (r *Reconciler) Ban(address string) error {
	be := r.backendFor(address)

	if err := be.EnsureChain(r.chain); err != nil {
		return errors.Wrapf(err, "failed to ensure chain %v", r.chain)
	}

	for _, h := range r.hooks {
		if err := r.ensureHook(be, h); err != nil {
			return errors.Wrapf(err, "failed to hook %v into %v", r.chain, h.Chain)
		}
	}

	rules, err := be.ListRules(r.chain)
	if err != nil {
		return errors.Wrapf(err, "failed to list rules of %v", r.chain)
	}
	for _, rule := range rules {
		if sameSource(ruleSource(rule.Spec), address) {
			return nil
		}
	}

	spec := []string{"-s", address, "-j", r.action}
	return errors.Wrapf(be.InsertRule(r.chain, spec, 0), "failed to insert block rule for %v", address)
}

// Unban deletes the block rule for address, if any. A missing rule or a
// missing chain is success, not an error.
func (r *Reconciler) Unban(address string) error {
	be := r.backendFor(address)

	exists, err := be.ChainExists(r.chain)
	if err != nil {
		return errors.Wrapf(err, "failed to check chain %v", r.chain)
	}
	if !exists {
		return nil
	}

	rules, err := be.ListRules(r.chain)
	if err != nil {
		return errors.Wrapf(err, "failed to list rules of %v", r.chain)
	}
	for _, rule := range rules {
		if sameSource(ruleSource(rule.Spec), address) {
			return errors.Wrapf(be.DeleteRule(r.chain, rule.Handle), "failed to delete block rule for %v", address)
		}
	}
	return nil
}

// WipeAll unhooks and removes the managed chain for both address families.
func (r *Reconciler) WipeAll() error {
	if err := r.wipeFamily(r.v4); err != nil {
		return err
	}
	if r.v6 != r.v4 {
		return r.wipeFamily(r.v6)
	}
	return nil
}

func (r *Reconciler) wipeFamily(be Backend) error {
	for _, h := range r.hooks {
		exists, err := be.ChainExists(h.Chain)
		if err != nil {
			return errors.Wrapf(err, "failed to check chain %v", h.Chain)
		}
		if !exists {
			continue
		}

		rules, err := be.ListRules(h.Chain)
		if err != nil {
			return errors.Wrapf(err, "failed to list rules of %v", h.Chain)
		}
		// Descending so earlier deletions don't shift pending handles.
		for i := len(rules) - 1; i >= 0; i-- {
			if ruleTarget(rules[i].Spec) != r.chain {
				continue
			}
			if err := be.DeleteRule(h.Chain, rules[i].Handle); err != nil {
				return errors.Wrapf(err, "failed to unhook %v from %v", r.chain, h.Chain)
			}
		}
	}

	exists, err := be.ChainExists(r.chain)
	if err != nil {
		return errors.Wrapf(err, "failed to check chain %v", r.chain)
	}
	if !exists {
		return nil
	}
	if err := be.FlushChain(r.chain); err != nil {
		return errors.Wrapf(err, "failed to flush chain %v", r.chain)
	}
	return errors.Wrapf(be.DeleteChain(r.chain), "failed to delete chain %v", r.chain)
}

func (r *Reconciler) ensureHook(be Backend, h Hook) error {
	rules, err := be.ListRules(h.Chain)
	if err != nil {
		return err
	}

	last := 0
	for _, rule := range rules {
		target := ruleTarget(rule.Spec)
		if target == r.chain {
			return nil
		}
		if isJumpTarget(target) {
			last = rule.Handle
		}
	}

	spec := []string{"-j", r.chain}
	if h.Position > 0 {
		return be.InsertRule(h.Chain, spec, h.Position)
	}
	if last == 0 {
		return be.InsertRule(h.Chain, spec, 0)
	}
	return be.InsertRule(h.Chain, spec, last+1)
}

func (r *Reconciler) backendFor(address string) Backend {
	host := address
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	if strings.Contains(host, ":") {
		return r.v6
	}
	return r.v4
}

func ruleSource(spec []string) string {
	return tokenAfter(spec, "-s")
}

func ruleTarget(spec []string) string {
	return tokenAfter(spec, "-j")
}

func tokenAfter(spec []string, flag string) string {
	for i, tok := range spec {
		if tok == flag && i+1 < len(spec) {
			return spec[i+1]
		}
	}
	return ""
}

// Verdicts that are not user chains. A jump to anything else counts as a
// jump rule for hook-position purposes.
var builtinTargets = map[string]bool{
	"ACCEPT": true, "DROP": true, "REJECT": true, "RETURN": true,
	"LOG": true, "QUEUE": true, "NFQUEUE": true, "MASQUERADE": true,
	"SNAT": true, "DNAT": true, "MARK": true,
}

func isJumpTarget(target string) bool {
	return target != "" && !builtinTargets[target]
}

// The tool normalizes bare addresses to host CIDR form; strip that before
// comparing.
func sameSource(a, b string) bool {
	return trimHostMask(a) == trimHostMask(b) && a != "" && b != ""
}

func trimHostMask(addr string) string {
	addr = strings.TrimSuffix(addr, "/32")
	return strings.TrimSuffix(addr, "/128")
}
