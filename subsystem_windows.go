//go:build windows

package unduck

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	ole "github.com/go-ole/go-ole"
	"github.com/moutend/go-wca/pkg/wca"
	"golang.org/x/sys/windows"
)

func init() {
	RegisterSessionSubsystem(&wasapiSubsystem{})
}

// wasapiSubsystem binds the portable session interfaces to the Windows
// Core Audio session APIs through go-ole and go-wca.
type wasapiSubsystem struct{}

func (w *wasapiSubsystem) Setup() (bool, error) {
	err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED)
	if err == nil {
		return true, nil
	}
	var oleErr *ole.OleError
	if errors.As(err, &oleErr) {
		switch oleErr.Code() {
		case uintptr(windows.S_FALSE):
			// Already initialized on this thread with the same model;
			// the matching CoUninitialize is still owed.
			return true, nil
		case uintptr(windows.RPC_E_CHANGED_MODE):
			// Initialized elsewhere with a different threading model.
			// Usable from here, but not ours to tear down.
			return false, nil
		}
	}
	return false, fmt.Errorf("CoInitializeEx: %w", err)
}

func (w *wasapiSubsystem) Teardown() {
	ole.CoUninitialize()
}

func (w *wasapiSubsystem) RenderEndpoints() ([]Endpoint, error) {
	var enumerator *wca.IMMDeviceEnumerator
	if err := wca.CoCreateInstance(wca.CLSID_MMDeviceEnumerator, 0, wca.CLSCTX_ALL, wca.IID_IMMDeviceEnumerator, &enumerator); err != nil {
		return nil, fmt.Errorf("MMDeviceEnumerator: %w", err)
	}
	defer enumerator.Release()

	var collection *wca.IMMDeviceCollection
	if err := enumerator.EnumAudioEndpoints(wca.ERender, wca.DEVICE_STATE_ACTIVE, &collection); err != nil {
		return nil, fmt.Errorf("EnumAudioEndpoints: %w", err)
	}
	defer collection.Release()

	var count uint32
	if err := collection.GetCount(&count); err != nil {
		return nil, fmt.Errorf("endpoint count: %w", err)
	}

	endpoints := make([]Endpoint, 0, count)
	for i := uint32(0); i < count; i++ {
		var device *wca.IMMDevice
		if err := collection.Item(i, &device); err != nil || device == nil {
			continue
		}
		var id string
		if err := device.GetId(&id); err != nil || id == "" {
			id = fmt.Sprintf("endpoint-%d", i)
		}
		endpoints = append(endpoints, &wasapiEndpoint{id: id, device: device})
	}
	return endpoints, nil
}

type wasapiEndpoint struct {
	id     string
	device *wca.IMMDevice
}

func (e *wasapiEndpoint) ID() string { return e.id }

func (e *wasapiEndpoint) SessionContainer() (SessionContainer, error) {
	var manager *wca.IAudioSessionManager2
	if err := e.device.Activate(wca.IID_IAudioSessionManager2, wca.CLSCTX_ALL, nil, &manager); err != nil {
		return nil, fmt.Errorf("IAudioSessionManager2: %w", err)
	}
	return &wasapiContainer{manager: manager}, nil
}

func (e *wasapiEndpoint) Release() {
	if e.device != nil {
		e.device.Release()
		e.device = nil
	}
}

// wasapiContainer wraps one endpoint's IAudioSessionManager2. It keeps
// the COM wrapper of each registered notifier so unregistration can hand
// the same object pointer back to the platform.
type wasapiContainer struct {
	manager *wca.IAudioSessionManager2

	mu   sync.Mutex
	subs map[*SessionNotifier]*sessionNotificationCOM
}

func (c *wasapiContainer) Sessions() ([]Session, error) {
	var enumerator *wca.IAudioSessionEnumerator
	if err := c.manager.GetSessionEnumerator(&enumerator); err != nil {
		return nil, fmt.Errorf("session enumerator: %w", err)
	}
	defer enumerator.Release()

	var count int
	if err := enumerator.GetCount(&count); err != nil {
		return nil, fmt.Errorf("session count: %w", err)
	}

	sessions := make([]Session, 0, count)
	for i := 0; i < count; i++ {
		var control *wca.IAudioSessionControl
		if err := enumerator.GetSession(i, &control); err != nil || control == nil {
			continue
		}
		sessions = append(sessions, &wasapiSession{control: control})
	}
	return sessions, nil
}

func (c *wasapiContainer) RegisterNotifier(n *SessionNotifier) error {
	com := newSessionNotificationCOM(n)
	hr, _, _ := syscall.SyscallN(
		c.manager.VTable().RegisterSessionNotification,
		uintptr(unsafe.Pointer(c.manager)),
		uintptr(unsafe.Pointer(com)),
	)
	if hr != 0 {
		releaseSessionNotificationCOM(com)
		return fmt.Errorf("RegisterSessionNotification: %w", ole.NewError(hr))
	}
	c.mu.Lock()
	if c.subs == nil {
		c.subs = make(map[*SessionNotifier]*sessionNotificationCOM)
	}
	c.subs[n] = com
	c.mu.Unlock()
	return nil
}

func (c *wasapiContainer) UnregisterNotifier(n *SessionNotifier) error {
	c.mu.Lock()
	com, ok := c.subs[n]
	if ok {
		delete(c.subs, n)
	}
	c.mu.Unlock()
	if !ok {
		return errors.New("notifier not registered with this container")
	}

	hr, _, _ := syscall.SyscallN(
		c.manager.VTable().UnregisterSessionNotification,
		uintptr(unsafe.Pointer(c.manager)),
		uintptr(unsafe.Pointer(com)),
	)
	// The platform's reference is gone either way; drop the wrapper's own.
	releaseSessionNotificationCOM(com)
	if hr != 0 {
		return fmt.Errorf("UnregisterSessionNotification: %w", ole.NewError(hr))
	}
	return nil
}

func (c *wasapiContainer) Release() {
	if c.manager != nil {
		c.manager.Release()
		c.manager = nil
	}
}

// wasapiSession wraps an IAudioSessionControl and resolves its
// IAudioSessionControl2 capability on first use. Sessions that expose no
// owning process (system sounds, cross-process sessions) surface that as
// an error from ProcessID and are left alone by callers.
type wasapiSession struct {
	control  *wca.IAudioSessionControl
	control2 *wca.IAudioSessionControl2
}

func (s *wasapiSession) resolve() (*wca.IAudioSessionControl2, error) {
	if s.control2 != nil {
		return s.control2, nil
	}
	dispatch, err := s.control.QueryInterface(wca.IID_IAudioSessionControl2)
	if err != nil {
		return nil, fmt.Errorf("IAudioSessionControl2: %w", err)
	}
	s.control2 = (*wca.IAudioSessionControl2)(unsafe.Pointer(dispatch))
	return s.control2, nil
}

func (s *wasapiSession) ProcessID() (int, error) {
	control2, err := s.resolve()
	if err != nil {
		return 0, err
	}
	var pid uint32
	if err := control2.GetProcessId(&pid); err != nil {
		return 0, fmt.Errorf("owning process: %w", err)
	}
	return int(pid), nil
}

func (s *wasapiSession) SetDuckingPreference(optOut bool) error {
	control2, err := s.resolve()
	if err != nil {
		return err
	}
	if err := control2.SetDuckingPreference(optOut); err != nil {
		return fmt.Errorf("SetDuckingPreference: %w", err)
	}
	return nil
}

func (s *wasapiSession) Release() {
	if s.control2 != nil {
		s.control2.Release()
		s.control2 = nil
	}
	if s.control != nil {
		s.control.Release()
		s.control = nil
	}
}
