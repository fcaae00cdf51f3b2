package scan

import (
	"testing"
	"time"

	"github.com/itohio/muxscan/pkg/sim"
	"github.com/stretchr/testify/assert"
)

func TestCommandReader_Poll(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Command
	}{
		{"start", "START\n", []Command{CommandStart}},
		{"reset is start", "RESET\n", []Command{CommandStart}},
		{"pause", "PAUSE\n", []Command{CommandPause}},
		{"resume", "RESUME\n", []Command{CommandResume}},
		{"crlf", "PAUSE\r\n", []Command{CommandPause, CommandNone}},
		{"surrounding whitespace", "  RESUME \t\n", []Command{CommandResume}},
		{"inner whitespace", "PA USE\n", []Command{CommandNone}},
		{"inner tab", "RES\tUME\nSTART\n", []Command{CommandStart}},
		{"several queued", "PAUSE\nRESUME\n", []Command{CommandPause, CommandResume, CommandNone}},
		{"unknown token dropped", "HELLO\nPAUSE\n", []Command{CommandPause}},
		{"case sensitive", "pause\n", []Command{CommandNone}},
		{"incomplete line", "PAU", []Command{CommandNone}},
		{"empty lines", "\n\r\n\n", []Command{CommandNone}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := sim.NewTransport(nil)
			r := NewCommandReader(tr, sim.NewClock(time.Unix(0, 0)))
			tr.Send(tt.input)
			for i, want := range tt.want {
				assert.Equal(t, want, r.Poll(0), "poll %d", i)
			}
		})
	}
}

func TestCommandReader_SplitAcrossPolls(t *testing.T) {
	tr := sim.NewTransport(nil)
	r := NewCommandReader(tr, sim.NewClock(time.Unix(0, 0)))

	tr.Send("RES")
	assert.Equal(t, CommandNone, r.Poll(0))
	tr.Send("UME")
	assert.Equal(t, CommandNone, r.Poll(0))
	tr.Send("\n")
	assert.Equal(t, CommandResume, r.Poll(0))
}

func TestCommandReader_Overflow(t *testing.T) {
	tr := sim.NewTransport(nil)
	r := NewCommandReader(tr, sim.NewClock(time.Unix(0, 0)))

	// A long line is discarded entirely, even if it ends in a valid token.
	tr.Send("XXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXPAUSE\n")
	assert.Equal(t, CommandNone, r.Poll(0))
	assert.Equal(t, 0, tr.Buffered())

	tr.Send("PAUSE\n")
	assert.Equal(t, CommandPause, r.Poll(0))
}

func TestCommandReader_BoundedWait(t *testing.T) {
	tr := sim.NewTransport(nil)
	clock := sim.NewClock(time.Unix(0, 0))
	r := NewCommandReader(tr, clock)

	assert.Equal(t, CommandNone, r.Poll(time.Millisecond))
	assert.Equal(t, time.Millisecond, clock.Slept())

	// A command already waiting returns without sleeping.
	tr.Send("START\n")
	assert.Equal(t, CommandStart, r.Poll(time.Second))
	assert.Equal(t, time.Millisecond, clock.Slept())
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "START", CommandStart.String())
	assert.Equal(t, "PAUSE", CommandPause.String())
	assert.Equal(t, "RESUME", CommandResume.String())
	assert.Equal(t, "NONE", CommandNone.String())
}
