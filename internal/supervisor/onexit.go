package supervisor

import (
	"strconv"

	"github.com/loykin/jwrapper/internal/config"
)

// Rule tells which entry of the exit policy produced a decision.
type Rule int

const (
	// RuleNone means nothing matched and the built-in shutdown applied.
	RuleNone Rule = iota
	// RuleDefault means the operator's catch-all matched.
	RuleDefault
	// RuleExact means an entry for the exact exit code matched.
	RuleExact
)

func (r Rule) String() string {
	switch r {
	case RuleExact:
		return "exact"
	case RuleDefault:
		return "default"
	default:
		return "none"
	}
}

// ExitPolicy is the on_exit table. Lookup order is the exact code, then
// "default", then shutdown.
type ExitPolicy struct {
	exact  map[int]string
	def    string
	hasDef bool
}

// NewExitPolicy builds a policy from the validated config table.
func NewExitPolicy(table map[string]string) ExitPolicy {
	p := ExitPolicy{exact: make(map[int]string, len(table))}
	for k, v := range table {
		if k == "default" {
			p.def, p.hasDef = v, true
			continue
		}
		if code, err := strconv.Atoi(k); err == nil {
			p.exact[code] = v
		}
	}
	return p
}

// Decide returns the action for an exit code and the rule that chose it.
func (p ExitPolicy) Decide(code int) (string, Rule) {
	if a, ok := p.exact[code]; ok {
		return a, RuleExact
	}
	if p.hasDef {
		return p.def, RuleDefault
	}
	return config.ActionShutdown, RuleNone
}
