package realtime

// Session bundles the connection manager, its connectivity observable and
// the listener registry for one authenticated session. Feature channels
// hold the registry and the manager (as an emitter); only Close tears the
// shared connection down.
type Session struct {
	Manager  *Manager
	Registry *Registry
	States   *StateObservable
}

func NewSession(cfg Config) *Session {
	states := NewStateObservable()
	mgr := NewManager(cfg, states)
	reg := NewRegistry(mgr)
	return &Session{Manager: mgr, Registry: reg, States: states}
}

// Close ends the session: transport torn down, heartbeat stopped, attempt
// counter reset, then every listener binding cleared.
func (s *Session) Close() {
	s.Manager.Disconnect()
	s.Registry.Clear()
}
