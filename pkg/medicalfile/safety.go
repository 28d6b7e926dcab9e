package medicalfile

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// GateKind names a class of semi-immutable chart records guarded by the
// safety gate.
type GateKind string

const (
	GateLabResult      GateKind = "labResult"
	GateVaccination    GateKind = "vaccination"
	GateVascularAccess GateKind = "vascularAccess"
)

// GateRule is one policy line: whether destructive operations on a record
// kind demand an explicit confirmation from the caller.
type GateRule struct {
	Kind    string `yaml:"kind" json:"kind"`
	Confirm bool   `yaml:"confirm" json:"confirm"`
}

type policyConfig struct {
	Gates []GateRule `yaml:"gates" json:"gates"`
}

// Policy is the safety-gate predicate set. It carries no state machine; the
// reconciliation and editing layers consult it before every destructive
// operation and surface a declined operation, not an error.
type Policy struct {
	confirm map[GateKind]bool
}

// DefaultPolicy requires confirmation for all three guarded kinds, modeling
// "validated clinical data is not casually deleted".
func DefaultPolicy() Policy {
	return Policy{confirm: map[GateKind]bool{
		GateLabResult:      true,
		GateVaccination:    true,
		GateVascularAccess: true,
	}}
}

// LoadPolicy reads gate rules from a YAML file, falling back to the default
// policy when no path is configured. An unreadable file keeps the defaults
// and reports the error so startup can log it.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultPolicy(), err
	}

	var cfg policyConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return DefaultPolicy(), err
	}

	policy := DefaultPolicy()
	for _, rule := range cfg.Gates {
		policy.confirm[GateKind(rule.Kind)] = rule.Confirm
	}
	return policy, nil
}

// RequiresConfirmation reports whether destroying a record of this kind
// needs an explicit confirmation signal. Unknown kinds always do.
func (p Policy) RequiresConfirmation(kind GateKind) bool {
	confirm, ok := p.confirm[kind]
	if !ok {
		return true
	}
	return confirm
}

// AllowDestruction is the gate itself: true only when the kind needs no
// confirmation or the caller supplied one.
func (p Policy) AllowDestruction(kind GateKind, confirmed bool) bool {
	if p.RequiresConfirmation(kind) {
		return confirmed
	}
	return true
}

// IsMutationAllowed reports whether a record may be edited at all.
// Abandoned vascular accesses are immutable; lab results and vaccinations
// stay editable (their deletions are what the confirmation gate covers).
func (p Policy) IsMutationAllowed(record interface{}, kind GateKind) bool {
	switch kind {
	case GateVascularAccess:
		if access, ok := record.(VascularAccess); ok {
			return access.Status != AccessAbandoned
		}
		if access, ok := record.(*VascularAccess); ok && access != nil {
			return access.Status != AccessAbandoned
		}
		return false
	case GateLabResult, GateVaccination:
		return true
	default:
		return false
	}
}
