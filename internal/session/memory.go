package session

import "runtime"

// logMem logs Go heap statistics at a lifecycle point when Debug is set.
func (m *Manager) logMem(point string) {
	if !m.cfg.Debug {
		return
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.cfg.Logger.Debug().
		Str("point", point).
		Uint64("heap_alloc_mb", ms.HeapAlloc>>20).
		Uint64("heap_sys_mb", ms.HeapSys>>20).
		Uint64("sys_mb", ms.Sys>>20).
		Uint32("num_gc", ms.NumGC).
		Msg("memory")
}
