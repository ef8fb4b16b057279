package worker

import (
	"errors"

	"github.com/pccr10001/trunkie/internal/board"
	"github.com/pccr10001/trunkie/internal/channel"
	"github.com/pccr10001/trunkie/internal/lock"
)

var errNotStarted = errors.New("worker manager not started")

// ChannelStatus returns the last published state of one channel.
func (m *Manager) ChannelStatus(device, object int) (channel.Snapshot, error) {
	ch, err := m.Channel(device, object)
	if err != nil {
		return channel.Snapshot{}, err
	}
	return ch.Snapshot(), nil
}

// Channel resolves an address through the registry the manager was started with.
func (m *Manager) Channel(device, object int) (*channel.Channel, error) {
	m.mu.RLock()
	reg := m.reg
	m.mu.RUnlock()
	if reg == nil {
		return nil, errNotStarted
	}
	return reg.Channel(device, object)
}

func IsLockFailedError(err error) bool {
	return lock.IsLockFailedError(err)
}

func IsQueueFullError(err error) bool {
	return channel.IsQueueFullError(err)
}

func IsAddressError(err error) bool {
	return board.IsAddressError(err)
}

func IsChannelBusyError(err error) bool {
	return channel.IsChannelBusyError(err)
}
