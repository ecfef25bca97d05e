package arbiter

// idleGuard suppresses the engine idle hook for the lifetime of a token.
// Work performed while holding engine access would otherwise reach the hook
// and recurse into the handoff protocol.
type idleGuard struct {
	eng  IdleHooker
	prev func()
}

func suppressIdle(eng IdleHooker) *idleGuard {
	if eng == nil {
		return nil
	}
	g := &idleGuard{eng: eng, prev: eng.IdleHook()}
	eng.SetIdleHook(func() {})
	return g
}

func (g *idleGuard) restore() {
	if g == nil {
		return
	}
	g.eng.SetIdleHook(g.prev)
}
