package api

import "github.com/phoenix-rtos/lfsd/internal/lfserr"

// Operation names recorded against internal/metrics' op/code attributes,
// adapted from a FUSE op-name constants table to this engine's PhID-keyed
// surface.
const (
	OpCreate    = "Create"
	OpOpen      = "Open"
	OpClose     = "Close"
	OpRead      = "Read"
	OpWrite     = "Write"
	OpTruncate  = "Truncate"
	OpLookup    = "Lookup"
	OpReaddir   = "Readdir"
	OpLink      = "Link"
	OpUnlink    = "Unlink"
	OpDestroy   = "Destroy"
	OpGetAttr   = "GetAttr"
	OpSetAttr   = "SetAttr"
	OpSetDevice = "SetDevice"
	OpStatfs    = "Statfs"
	OpSync      = "Sync"
	OpGrow      = "Grow"
	OpGC        = "GC"
)

// record instruments one API call's count, error code and latency. Call it
// as "defer a.record(OpX, &err)()" right after acquiring the lock, so the
// recorded latency includes lock wait the same way a FUSE filesystem times
// its ops from request entry.
func (a *API) record(op string, err *error) func() {
	start := a.clock.Now()
	return func() {
		m := a.fs.Metrics()
		if m == nil {
			return
		}
		m.OpCount(nil, op)
		if *err != nil {
			label := "UNKNOWN"
			if code, ok := lfserr.CodeOf(*err); ok {
				label = code.String()
			}
			m.OpError(nil, op, label)
		}
		m.OpLatency(nil, op, a.clock.Now().Sub(start))
	}
}
