package window

import "time"

// Config holds the sampling budgets of every wait a session performs.
// Each wait is Retries samples separated by Tick.
type Config struct {
	PopupRetries int
	PopupTick    time.Duration

	// Readiness sub-wait after a popup (or the main window) is confirmed.
	ReadyRetries int
	ReadyTick    time.Duration

	DismissRetries int
	DismissTick    time.Duration

	FocusRetries int
	FocusTick    time.Duration

	// IdleTimeout bounds the process's wait-for-input-idle call. Sessions
	// without a process poll the window state instead.
	IdleTimeout time.Duration
	IdleRetries int
	IdleTick    time.Duration

	// ExpectPopupAttempts bounds how many wrongly titled windows
	// ExpectingPopup closes before giving up.
	ExpectPopupAttempts int

	LaunchRetries int
	LaunchTick    time.Duration

	CloseRetries int
	CloseTick    time.Duration

	// MenuSettle is the pause after expanding a menu before reading it.
	MenuSettle time.Duration

	// ValueSettle separates the steps of the keyboard value fallback.
	// Zero keeps element.DefaultSettle.
	ValueSettle time.Duration
}

// DefaultConfig returns the budgets used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		PopupRetries:        50,
		PopupTick:           100 * time.Millisecond,
		ReadyRetries:        20,
		ReadyTick:           100 * time.Millisecond,
		DismissRetries:      20,
		DismissTick:         100 * time.Millisecond,
		FocusRetries:        10,
		FocusTick:           50 * time.Millisecond,
		IdleTimeout:         10 * time.Second,
		IdleRetries:         50,
		IdleTick:            100 * time.Millisecond,
		ExpectPopupAttempts: 3,
		LaunchRetries:       100,
		LaunchTick:          100 * time.Millisecond,
		CloseRetries:        50,
		CloseTick:           100 * time.Millisecond,
		MenuSettle:          50 * time.Millisecond,
	}
}
