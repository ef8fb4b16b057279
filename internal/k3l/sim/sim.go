// Package sim is an in-memory board runtime. It records every command, lets callers
// inject events and audio, and can answer commands the way a real board would.
package sim

import (
	"sync"
	"time"

	"github.com/pccr10001/trunkie/internal/k3l"
)

// Board implements k3l.API over any number of simulated devices.
type Board struct {
	mu       sync.Mutex
	devices  []k3l.DeviceInfo
	handler  k3l.Handler
	commands []k3l.Command
	statuses map[k3l.CommandCode]k3l.Status
	listen   map[[2]int]bool

	// AutoRespond makes the board emit the events that normally follow a command,
	// e.g. EvConnect after CmConnect and EvChannelFree after CmDisconnect.
	AutoRespond bool
	// RespondDelay postpones automatic events, mimicking the runtime thread.
	RespondDelay time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(devices ...k3l.DeviceInfo) *Board {
	for i := range devices {
		devices[i].Device = i
	}
	return &Board{
		devices:  devices,
		statuses: make(map[k3l.CommandCode]k3l.Status),
		listen:   make(map[[2]int]bool),
		stop:     make(chan struct{}),
	}
}

func (b *Board) Devices() []k3l.DeviceInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]k3l.DeviceInfo(nil), b.devices...)
}

func (b *Board) Subscribe(h k3l.Handler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

// SetStatus makes every later command with code return st.
func (b *Board) SetStatus(code k3l.CommandCode, st k3l.Status) {
	b.mu.Lock()
	b.statuses[code] = st
	b.mu.Unlock()
}

func (b *Board) SendCommand(cmd k3l.Command) k3l.Status {
	b.mu.Lock()
	if cmd.Buffer != nil {
		cmd.Buffer = append([]byte(nil), cmd.Buffer...)
	}
	b.commands = append(b.commands, cmd)
	st, forced := b.statuses[cmd.Code]
	if !forced && (cmd.Device < 0 || cmd.Device >= len(b.devices)) {
		st = k3l.StatusNotFound
	}
	key := [2]int{cmd.Device, cmd.Object}
	if st == k3l.StatusSuccess {
		switch cmd.Code {
		case k3l.CmStartListen:
			b.listen[key] = true
		case k3l.CmStopListen, k3l.CmDisconnect:
			delete(b.listen, key)
		}
	}
	auto := b.AutoRespond && st == k3l.StatusSuccess
	b.mu.Unlock()

	if auto {
		b.respond(cmd)
	}
	return st
}

func (b *Board) respond(cmd k3l.Command) {
	var follow []k3l.Event
	ev := func(code k3l.EventCode) k3l.Event {
		return k3l.Event{Code: code, Device: cmd.Device, Object: cmd.Object}
	}
	switch cmd.Code {
	case k3l.CmMakeCall:
		follow = append(follow, ev(k3l.EvCallSuccess))
	case k3l.CmConnect:
		follow = append(follow, ev(k3l.EvConnect))
	case k3l.CmDisconnect:
		follow = append(follow, ev(k3l.EvChannelFree))
	case k3l.CmSendSMS:
		follow = append(follow, ev(k3l.EvSMSSendResult))
	}
	if len(follow) == 0 {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for _, e := range follow {
			select {
			case <-b.stop:
				return
			case <-time.After(b.RespondDelay):
			}
			b.Emit(e)
		}
	}()
}

// Emit delivers ev to the subscribed handler on the caller's goroutine.
func (b *Board) Emit(ev k3l.Event) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h != nil {
		h.OnEvent(ev)
	}
}

// Audio delivers one buffer of received audio.
func (b *Board) Audio(device, object int, data []byte) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h != nil {
		h.OnAudio(device, object, data)
	}
}

// Listening reports whether the channel currently has listen (RX audio) enabled.
func (b *Board) Listening(device, object int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listen[[2]int{device, object}]
}

// StartAudioClock feeds packetSize bytes of audio every interval to each listening
// channel until Close.
func (b *Board) StartAudioClock(interval time.Duration, packetSize int) {
	tone := toneSamples(packetSize)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-b.stop:
				return
			case <-ticker.C:
				b.mu.Lock()
				targets := make([][2]int, 0, len(b.listen))
				for k := range b.listen {
					targets = append(targets, k)
				}
				b.mu.Unlock()
				for _, k := range targets {
					b.Audio(k[0], k[1], tone)
				}
			}
		}
	}()
}

// Commands returns a copy of every command issued so far.
func (b *Board) Commands() []k3l.Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]k3l.Command(nil), b.commands...)
}

// CommandsFor filters Commands by channel.
func (b *Board) CommandsFor(device, object int) []k3l.Command {
	var out []k3l.Command
	for _, c := range b.Commands() {
		if c.Device == device && c.Object == object {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many commands with code were issued to the channel.
func (b *Board) Count(device, object int, code k3l.CommandCode) int {
	n := 0
	for _, c := range b.CommandsFor(device, object) {
		if c.Code == code {
			n++
		}
	}
	return n
}

func (b *Board) Reset() {
	b.mu.Lock()
	b.commands = nil
	b.mu.Unlock()
}

func (b *Board) Close() error {
	b.stopOnce.Do(func() { close(b.stop) })
	b.wg.Wait()
	return nil
}

// toneSamples returns an A-law encoded square wave, loud enough to show on meters.
func toneSamples(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		if (i/4)%2 == 0 {
			out[i] = 0xAA
		} else {
			out[i] = 0x2A
		}
	}
	return out
}
