// Package unduck opts the current process's audio output out of the
// operating system's automatic communications ducking, where the OS lowers
// an application's playback volume while a higher-priority sound (a call,
// a notification) is playing.
//
// A Coordinator walks every active render endpoint, sets the ducking
// opt-out preference on each audio session owned by this process, and
// subscribes to session-creation notifications so that sessions appearing
// later are opted out too:
//
//	c := unduck.NewCoordinator()
//	c.Initialize()
//	defer c.Close()
//
// Initialize is best effort: endpoints or sessions that cannot be reached
// are skipped, never fatal. On total subsystem failure it returns having
// done nothing and the process stays subject to the OS default.
//
// # Platform Support
//
// The Windows implementation binds to the Core Audio session APIs (WASAPI)
// through go-ole and go-wca. On other platforms no session subsystem is
// registered and Initialize is a no-op. A custom SessionSubsystem can be
// injected with WithSessionSubsystem, which is also how the tests drive
// the Coordinator against a fake.
package unduck
