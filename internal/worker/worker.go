package worker

import (
	"fmt"

	"github.com/pccr10001/trunkie/internal/board"
	"github.com/pccr10001/trunkie/internal/channel"
	"github.com/pccr10001/trunkie/internal/fifo"
	"github.com/pccr10001/trunkie/internal/k3l"
	"github.com/pccr10001/trunkie/internal/lock"
	"github.com/pccr10001/trunkie/pkg/logger"
)

// DeviceWorker serializes the events and commands of one board. Each queue has its
// own dispatch goroutine, so a slow command never delays event handling.
type DeviceWorker struct {
	board    *board.Board
	events   *fifo.Fifo[k3l.Event]
	commands *fifo.Fifo[channel.CommandRequest]
}

type WorkerStats struct {
	Device   int        `json:"device"`
	Serial   string     `json:"serial"`
	Events   fifo.Stats `json:"events"`
	Commands fifo.Stats `json:"commands"`
}

func NewDeviceWorker(b *board.Board, opts Options) *DeviceWorker {
	w := &DeviceWorker{board: b}
	w.events = fifo.New("events", b.Device(), opts.EventFifoSize, w.handleEvent)
	w.commands = fifo.New("commands", b.Device(), opts.CommandFifoSize, w.handleCommand)
	return w
}

func (w *DeviceWorker) Start() {
	logger.Log.Infof("Worker for board %d (%s) running", w.board.Device(), w.board.Serial())
	w.events.Start()
	w.commands.Start()
}

// Stop drains and joins both queues.
func (w *DeviceWorker) Stop() {
	w.events.Stop()
	w.commands.Stop()
	logger.Log.Infof("Worker for board %d stopped", w.board.Device())
}

func (w *DeviceWorker) Stats() WorkerStats {
	return WorkerStats{
		Device:   w.board.Device(),
		Serial:   w.board.Serial(),
		Events:   w.events.Stats(),
		Commands: w.commands.Stats(),
	}
}

func (w *DeviceWorker) handleEvent(ev k3l.Event) error {
	ch, err := w.board.Channel(ev.Object)
	if err != nil {
		return fmt.Errorf("%s: %w", ev.Code, err)
	}
	if err := ch.HandleEvent(ev); err != nil {
		if lock.IsLockFailedError(err) {
			return fmt.Errorf("lock contention, %s skipped: %w", ev.Code, err)
		}
		return err
	}
	return nil
}

func (w *DeviceWorker) handleCommand(req channel.CommandRequest) error {
	ch, err := w.board.Channel(req.Object)
	if err != nil {
		return fmt.Errorf("%s: %w", req.Type, err)
	}
	return ch.HandleCommand(req)
}
