package channel

import "errors"

var (
	ErrChannelBusy  = errors.New("channel is not idle")
	ErrNoCall       = errors.New("no call on channel")
	ErrStaleSession = errors.New("session no longer owns the channel")
	ErrUnsupported  = errors.New("operation not supported by signaling")
	ErrQueueFull    = errors.New("command queue full")
	ErrDestroyed    = errors.New("channel destroyed")
	ErrOutOfOrder   = errors.New("lifecycle step out of order")
)

func IsChannelBusyError(err error) bool {
	return errors.Is(err, ErrChannelBusy)
}

func IsQueueFullError(err error) bool {
	return errors.Is(err, ErrQueueFull)
}
