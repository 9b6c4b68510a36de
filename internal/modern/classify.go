package modern

import (
	"strings"

	"github.com/smazurov/virtualcam/internal/surface"
)

// Classify tells reader targets from preview targets. A surface that
// reports its role wins. Otherwise the description decides: reader surfaces
// describe themselves as Surface(name=null), on-screen surfaces carry a
// name. Anything else is RoleUnknown.
func Classify(t surface.Surface) surface.Role {
	if rr, ok := t.(surface.RoleReporter); ok {
		if role := rr.SurfaceRole(); role != surface.RoleUnknown {
			return role
		}
	}

	desc := t.String()
	const prefix = "Surface(name="
	i := strings.Index(desc, prefix)
	if i < 0 {
		return surface.RoleUnknown
	}
	rest := desc[i+len(prefix):]
	end := strings.IndexByte(rest, ')')
	if end < 0 {
		return surface.RoleUnknown
	}
	switch name := rest[:end]; name {
	case "null":
		return surface.RoleReader
	case "":
		return surface.RoleUnknown
	default:
		return surface.RolePreview
	}
}
