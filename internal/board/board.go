// Package board builds the channel objects for every device the runtime reports
// and resolves device/channel addresses.
package board

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pccr10001/trunkie/internal/channel"
	"github.com/pccr10001/trunkie/internal/k3l"
	"github.com/pccr10001/trunkie/pkg/logger"
)

var (
	ErrInvalidDevice  = errors.New("invalid device")
	ErrInvalidChannel = errors.New("invalid channel")
)

func IsAddressError(err error) bool {
	return errors.Is(err, ErrInvalidDevice) || errors.Is(err, ErrInvalidChannel)
}

// Board is one device and its channels.
type Board struct {
	Info     k3l.DeviceInfo
	channels []*channel.Channel
}

func (b *Board) Device() int { return b.Info.Device }

func (b *Board) Serial() string { return b.Info.Serial }

func (b *Board) Channels() []*channel.Channel {
	return append([]*channel.Channel(nil), b.channels...)
}

func (b *Board) Channel(object int) (*channel.Channel, error) {
	if object < 0 || object >= len(b.channels) {
		return nil, fmt.Errorf("B%dC%d: %w", b.Info.Device, object, ErrInvalidChannel)
	}
	return b.channels[object], nil
}

// Registry owns every board. It is built once from the runtime's device list.
type Registry struct {
	env    *channel.Env
	boards []*Board
	serial map[string]*Board

	closeOnce sync.Once
}

// New enumerates the devices of env.API and creates their channels.
func New(env *channel.Env) (*Registry, error) {
	if env == nil || env.API == nil {
		return nil, errors.New("board registry needs a runtime")
	}
	r := &Registry{env: env, serial: make(map[string]*Board)}
	devs := env.API.Devices()
	sort.Slice(devs, func(i, j int) bool { return devs[i].Device < devs[j].Device })
	for _, info := range devs {
		if info.Device != len(r.boards) {
			return nil, fmt.Errorf("device numbering has a gap at %d", info.Device)
		}
		b := &Board{Info: info, channels: make([]*channel.Channel, info.Channels)}
		for obj := range b.channels {
			b.channels[obj] = channel.New(info.Device, obj, info.Signaling, env)
		}
		r.boards = append(r.boards, b)
		if info.Serial != "" {
			r.serial[info.Serial] = b
		}
		logger.Log.Infof("Board %d (%s): %d %s channels", info.Device, info.Serial, info.Channels, info.Signaling)
	}
	return r, nil
}

func (r *Registry) Env() *channel.Env { return r.env }

func (r *Registry) Boards() []*Board {
	return append([]*Board(nil), r.boards...)
}

func (r *Registry) Board(device int) (*Board, error) {
	if device < 0 || device >= len(r.boards) {
		return nil, fmt.Errorf("B%d: %w", device, ErrInvalidDevice)
	}
	return r.boards[device], nil
}

func (r *Registry) BySerial(serial string) (*Board, error) {
	b, ok := r.serial[serial]
	if !ok {
		return nil, fmt.Errorf("board %q: %w", serial, ErrInvalidDevice)
	}
	return b, nil
}

// Channel resolves a device/channel address.
func (r *Registry) Channel(device, object int) (*channel.Channel, error) {
	b, err := r.Board(device)
	if err != nil {
		return nil, err
	}
	return b.Channel(object)
}

// SerialOf returns the serial of device, or "" when there is none.
func (r *Registry) SerialOf(device int) string {
	if b, err := r.Board(device); err == nil {
		return b.Info.Serial
	}
	return ""
}

// Snapshots lists every channel's last published state.
func (r *Registry) Snapshots() []channel.Snapshot {
	var out []channel.Snapshot
	for _, b := range r.boards {
		for _, ch := range b.channels {
			out = append(out, ch.Snapshot())
		}
	}
	return out
}

// Close destroys every channel. Calls in progress are released.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		for _, b := range r.boards {
			for _, ch := range b.channels {
				ch.Destroy()
			}
		}
	})
}
