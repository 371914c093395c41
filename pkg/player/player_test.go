package player

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakePlayer is a minimal in-memory Player.
type fakePlayer struct {
	duration   int
	position   int
	playing    bool
	fullScreen bool
	listeners  []func(bool)
}

var _ Player = (*fakePlayer)(nil)

func (p *fakePlayer) Duration() int        { return p.duration }
func (p *fakePlayer) CurrentPosition() int { return p.position }
func (p *fakePlayer) IsFullScreen() bool   { return p.fullScreen }
func (p *fakePlayer) Play()                { p.playing = true }
func (p *fakePlayer) Pause()               { p.playing = false }

func (p *fakePlayer) Stop() {
	p.playing = false
	p.position = 0
}

func (p *fakePlayer) Seek(seconds int) {
	switch {
	case seconds < 0:
		p.position = 0
	case seconds > p.duration:
		p.position = p.duration
	default:
		p.position = seconds
	}
}

func (p *fakePlayer) enterFullScreen() { p.setFullScreen(true) }
func (p *fakePlayer) ExitFullScreen()  { p.setFullScreen(false) }

func (p *fakePlayer) setFullScreen(v bool) {
	if p.fullScreen == v {
		return
	}
	p.fullScreen = v
	for _, fn := range p.listeners {
		fn(v)
	}
}

func (p *fakePlayer) OnFullScreenChanged(fn func(bool)) {
	p.listeners = append(p.listeners, fn)
}

func TestPlayerContract(t *testing.T) {
	p := &fakePlayer{duration: 300}
	var changes []bool
	p.OnFullScreenChanged(func(fs bool) { changes = append(changes, fs) })

	p.Play()
	p.Seek(120)
	assert.Equal(t, 120, p.CurrentPosition())
	assert.Equal(t, 300, p.Duration())

	p.Seek(1000)
	assert.Equal(t, 300, p.CurrentPosition())

	p.enterFullScreen()
	assert.True(t, p.IsFullScreen())
	p.ExitFullScreen()
	p.ExitFullScreen()
	assert.Equal(t, []bool{true, false}, changes)

	p.Stop()
	assert.Zero(t, p.CurrentPosition())
}
