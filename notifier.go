package unduck

import "sync/atomic"

// SessionNotifier is the callback object handed to a SessionContainer's
// session-creation subscription. It carries an intrusive reference count:
// the Coordinator keeps one reference for its bookkeeping and the
// subscription holds another for as long as it is registered, so neither
// holder can free the object while the other still needs it. The platform
// invokes OnSessionCreated on a thread it controls.
type SessionNotifier struct {
	refs     atomic.Int32
	callback atomic.Pointer[func(Session)]
}

// NewSessionNotifier returns a notifier with a reference count of one,
// owned by the creator. onSessionCreated receives each newly created
// session; it must not retain or release the session it is given.
func NewSessionNotifier(onSessionCreated func(Session)) *SessionNotifier {
	n := &SessionNotifier{}
	n.callback.Store(&onSessionCreated)
	n.refs.Store(1)
	return n
}

// Retain adds a reference and returns the new count.
func (n *SessionNotifier) Retain() int32 {
	return n.refs.Add(1)
}

// Release drops a reference and returns the remaining count. At zero the
// notifier discards its callback and becomes inert; a callback already in
// flight still completes.
func (n *SessionNotifier) Release() int32 {
	refs := n.refs.Add(-1)
	if refs == 0 {
		n.callback.Store(nil)
	}
	return refs
}

// Refs returns the current reference count.
func (n *SessionNotifier) Refs() int32 {
	return n.refs.Load()
}

// OnSessionCreated delivers a newly created session to the callback.
// No-op once the notifier has been fully released.
func (n *SessionNotifier) OnSessionCreated(s Session) {
	if fn := n.callback.Load(); fn != nil && *fn != nil {
		(*fn)(s)
	}
}
