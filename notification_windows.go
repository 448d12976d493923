//go:build windows

package unduck

import (
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	ole "github.com/go-ole/go-ole"
	"github.com/moutend/go-wca/pkg/wca"
)

// IAudioSessionNotification
var iidAudioSessionNotification = ole.NewGUID("{641DD20B-4D41-49CC-ABA3-174B9477BB08}")

const (
	hrOK          = uintptr(0x00000000)
	hrNoInterface = uintptr(0x80004002) // E_NOINTERFACE
	hrPointer     = uintptr(0x80004003) // E_POINTER
)

type sessionNotificationVtbl struct {
	queryInterface   uintptr
	addRef           uintptr
	release          uintptr
	onSessionCreated uintptr
}

// sessionNotificationCOM adapts a SessionNotifier to the COM
// IAudioSessionNotification contract: an intrusively reference-counted
// object whose OnSessionCreated the platform invokes on a thread it
// controls. It holds one reference on the portable notifier from
// construction until its own count reaches zero.
type sessionNotificationCOM struct {
	vtbl     *sessionNotificationVtbl
	refs     int32
	notifier *SessionNotifier
}

var (
	notificationVtblOnce sync.Once
	notificationVtbl     sessionNotificationVtbl

	// liveNotifications keeps every object with outstanding COM
	// references reachable, since the platform's pointer to it is
	// invisible to the garbage collector.
	liveNotificationsMu sync.Mutex
	liveNotifications   = make(map[*sessionNotificationCOM]struct{})
)

func newSessionNotificationCOM(n *SessionNotifier) *sessionNotificationCOM {
	notificationVtblOnce.Do(func() {
		notificationVtbl = sessionNotificationVtbl{
			queryInterface:   syscall.NewCallback(notificationQueryInterface),
			addRef:           syscall.NewCallback(notificationAddRef),
			release:          syscall.NewCallback(notificationRelease),
			onSessionCreated: syscall.NewCallback(notificationOnSessionCreated),
		}
	})
	obj := &sessionNotificationCOM{vtbl: &notificationVtbl, refs: 1, notifier: n}
	n.Retain()
	liveNotificationsMu.Lock()
	liveNotifications[obj] = struct{}{}
	liveNotificationsMu.Unlock()
	return obj
}

// releaseSessionNotificationCOM drops the creator's reference.
func releaseSessionNotificationCOM(obj *sessionNotificationCOM) {
	notificationRelease(obj)
}

func notificationQueryInterface(this *sessionNotificationCOM, riid *ole.GUID, ppv *unsafe.Pointer) uintptr {
	if ppv == nil {
		return hrPointer
	}
	if ole.IsEqualGUID(riid, ole.IID_IUnknown) || ole.IsEqualGUID(riid, iidAudioSessionNotification) {
		*ppv = unsafe.Pointer(this)
		notificationAddRef(this)
		return hrOK
	}
	*ppv = nil
	return hrNoInterface
}

func notificationAddRef(this *sessionNotificationCOM) uintptr {
	return uintptr(atomic.AddInt32(&this.refs, 1))
}

func notificationRelease(this *sessionNotificationCOM) uintptr {
	refs := atomic.AddInt32(&this.refs, -1)
	if refs == 0 {
		liveNotificationsMu.Lock()
		delete(liveNotifications, this)
		liveNotificationsMu.Unlock()
		this.notifier.Release()
		this.notifier = nil
	}
	return uintptr(refs)
}

func notificationOnSessionCreated(this *sessionNotificationCOM, newSession *wca.IAudioSessionControl) uintptr {
	if newSession == nil {
		return hrOK
	}
	// The platform owns newSession for the duration of the call. Take a
	// reference for the wrapper and give it back when done; the portable
	// callback never retains the session.
	newSession.AddRef()
	s := &wasapiSession{control: newSession}
	this.notifier.OnSessionCreated(s)
	s.Release()
	return hrOK
}
