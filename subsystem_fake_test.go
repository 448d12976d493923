package unduck

import (
	"errors"
	"sync"
)

var errNotSubscribed = errors.New("notifier not subscribed")

// fakeSubsystem implements SessionSubsystem for tests. Every handout of an
// endpoint, container, or session bumps a reference counter that the
// matching Release drops, so tests can assert that all handles return to
// baseline.
type fakeSubsystem struct {
	mu            sync.Mutex
	endpoints     []*fakeEndpoint
	setupErr      error
	foreignOwned  bool // Setup reports owned=false
	endpointsErr  error
	setupCalls    int
	teardownCalls int
}

func newFakeSubsystem(endpoints ...*fakeEndpoint) *fakeSubsystem {
	return &fakeSubsystem{endpoints: endpoints}
}

func (f *fakeSubsystem) Setup() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setupCalls++
	if f.setupErr != nil {
		return false, f.setupErr
	}
	return !f.foreignOwned, nil
}

func (f *fakeSubsystem) Teardown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardownCalls++
}

func (f *fakeSubsystem) RenderEndpoints() ([]Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.endpointsErr != nil {
		return nil, f.endpointsErr
	}
	endpoints := make([]Endpoint, 0, len(f.endpoints))
	for _, ep := range f.endpoints {
		ep.refs++
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

func (f *fakeSubsystem) addEndpoint(ep *fakeEndpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endpoints = append(f.endpoints, ep)
}

type fakeEndpoint struct {
	id          string
	container   *fakeContainer
	activateErr error
	refs        int
}

func newFakeEndpoint(id string, sessions ...*fakeSession) *fakeEndpoint {
	return &fakeEndpoint{
		id:        id,
		container: &fakeContainer{sessions: sessions},
	}
}

func (e *fakeEndpoint) ID() string { return e.id }

func (e *fakeEndpoint) SessionContainer() (SessionContainer, error) {
	if e.activateErr != nil {
		return nil, e.activateErr
	}
	e.container.mu.Lock()
	e.container.refs++
	e.container.mu.Unlock()
	return e.container, nil
}

func (e *fakeEndpoint) Release() { e.refs-- }

type fakeContainer struct {
	mu          sync.Mutex
	sessions    []*fakeSession
	notifiers   []*SessionNotifier
	sessionsErr error
	registerErr error
	refs        int
}

func (c *fakeContainer) Sessions() ([]Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionsErr != nil {
		return nil, c.sessionsErr
	}
	snapshot := make([]Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		s.retain()
		snapshot = append(snapshot, s)
	}
	return snapshot, nil
}

func (c *fakeContainer) RegisterNotifier(n *SessionNotifier) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registerErr != nil {
		return c.registerErr
	}
	n.Retain()
	c.notifiers = append(c.notifiers, n)
	return nil
}

func (c *fakeContainer) UnregisterNotifier(n *SessionNotifier) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, held := range c.notifiers {
		if held == n {
			c.notifiers = append(c.notifiers[:i], c.notifiers[i+1:]...)
			n.Release()
			return nil
		}
	}
	return errNotSubscribed
}

func (c *fakeContainer) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs--
}

func (c *fakeContainer) subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.notifiers)
}

func (c *fakeContainer) addSession(s *fakeSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = append(c.sessions, s)
}

// fireSessionCreated simulates the platform announcing a new session to
// every subscribed notifier. The caller owns s for the duration of each
// callback, as the platform would.
func (c *fakeContainer) fireSessionCreated(s *fakeSession) {
	c.mu.Lock()
	notifiers := make([]*SessionNotifier, len(c.notifiers))
	copy(notifiers, c.notifiers)
	c.mu.Unlock()
	for _, n := range notifiers {
		n.OnSessionCreated(s)
	}
}

type fakeSession struct {
	mu       sync.Mutex
	pid      int
	pidErr   error
	setErr   error
	optedOut bool
	setCalls int
	refs     int
}

func newFakeSession(pid int) *fakeSession {
	return &fakeSession{pid: pid}
}

func (s *fakeSession) ProcessID() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pidErr != nil {
		return 0, s.pidErr
	}
	return s.pid, nil
}

func (s *fakeSession) SetDuckingPreference(optOut bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.optedOut = optOut
	s.setCalls++
	return nil
}

func (s *fakeSession) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs--
}

func (s *fakeSession) retain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs++
}

func (s *fakeSession) isOptedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.optedOut
}

func (s *fakeSession) setCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCalls
}

func (s *fakeSession) refCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}
