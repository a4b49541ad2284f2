package bn6

import "github.com/cliffdevs/tango/internal/hooks"

// ROMIdentity is the placeholder ROM identity bn6 registers itself under.
var ROMIdentity = hooks.ROMIdentity{Code: [4]byte{'B', 'R', '6', 'E'}, Revision: 0}

// Register installs this title's Table factory into reg under ROMIdentity.
func Register(reg *hooks.Registry) {
	reg.Register(ROMIdentity, NewTable)
}
