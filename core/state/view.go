package state

// View exposes a prefixed slice of the state. Contracts receive a View keyed
// by their address so that storage of different contracts never collides.
type View struct {
	m      *Manager
	prefix []byte
}

// Scoped returns a view whose keys are prefixed with prefix.
func (m *Manager) Scoped(prefix []byte) *View {
	return &View{m: m, prefix: append([]byte(nil), prefix...)}
}

func (v *View) key(k []byte) []byte {
	out := make([]byte, 0, len(v.prefix)+len(k))
	out = append(out, v.prefix...)
	return append(out, k...)
}

func (v *View) KVGet(key []byte, out interface{}) (bool, error) {
	return v.m.KVGet(v.key(key), out)
}

func (v *View) KVPut(key []byte, value interface{}) error {
	return v.m.KVPut(v.key(key), value)
}

func (v *View) KVDelete(key []byte) error {
	return v.m.KVDelete(v.key(key))
}
