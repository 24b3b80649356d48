package accessory

import (
	"github.com/user/rangetag/logger"
)

// sweep evicts Discovered records whose last advertisement is older than
// the stale threshold. Runs only on the run-loop goroutine, so a tick can
// never overlap another tick or a transport event.
//
// Connected and Ranging records are never evicted here: a transient link
// drop returns them to Discovered with a refreshed last_seen instead of
// destroying the record outright.
func (m *Manager) sweep(nowMs int64) {
	// Iterate a stable snapshot; removals below shift live positions.
	for _, rec := range m.reg.all() {
		if rec.Status != StatusDiscovered {
			continue
		}
		if nowMs-rec.LastSeen <= m.cfg.Sweep.StaleMs {
			continue
		}

		// Re-resolve the position: earlier removals in this sweep have
		// shifted indexes.
		position := m.reg.IndexOf(rec.UniqueID)
		if position < 0 {
			continue
		}
		if err := m.reg.Remove(position); err != nil {
			logger.Error(m.prefix, "sweep remove %s failed: %v", shortID(rec.UniqueID), err)
			continue
		}
		logger.Info(m.prefix, "evicted stale %s (last seen %dms ago)",
			shortID(rec.UniqueID), nowMs-rec.LastSeen)
	}
}
