package config

import (
	"github.com/tevino/abool"
)

// ValidityFlag tracks whether the configuration changed since it was last
// refreshed. It is not safe for concurrent use; give each reader its own.
type ValidityFlag struct {
	flag *abool.AtomicBool
}

// NewValidityFlag returns a flag bound to the current configuration state.
func NewValidityFlag() *ValidityFlag {
	vf := &ValidityFlag{}
	vf.Refresh()
	return vf
}

// IsValid returns if the configuration is still unchanged.
func (vf *ValidityFlag) IsValid() bool {
	return vf.flag.IsSet()
}

// Refresh rebinds the flag to the current configuration state.
func (vf *ValidityFlag) Refresh() {
	vf.flag = getValidityFlag()
}

// Changed reports whether the configuration changed since the last call and
// rebinds the flag if so.
func (vf *ValidityFlag) Changed() bool {
	if vf.flag.IsSet() {
		return false
	}
	vf.Refresh()
	return true
}
