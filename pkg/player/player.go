// Package player declares what the host's media player must provide to screens that embed
// audio or video. Positions and durations are whole seconds.
package player

type Player interface {
	Duration() int
	CurrentPosition() int
	IsFullScreen() bool

	Play()
	Pause()
	Stop()
	Seek(seconds int)
	ExitFullScreen()

	// OnFullScreenChanged registers fn to be called with the new state whenever the
	// player enters or leaves full screen.
	OnFullScreenChanged(fn func(fullScreen bool))
}
