package worker

import (
	"errors"
	"sync"

	"github.com/pccr10001/trunkie/internal/board"
	"github.com/pccr10001/trunkie/internal/channel"
	"github.com/pccr10001/trunkie/internal/k3l"
	"github.com/pccr10001/trunkie/pkg/logger"
)

// DropCounter is told about requests refused by a full queue.
type DropCounter interface {
	EventDropped(device int)
	CommandDropped(device int)
}

type Options struct {
	EventFifoSize   int
	CommandFifoSize int
	Drops           DropCounter
}

// Manager owns one DeviceWorker per board. It receives the runtime callbacks and
// the channels' command requests and routes both to the owning device's queues.
type Manager struct {
	api  k3l.API
	opts Options

	mu      sync.RWMutex
	reg     *board.Registry
	workers []*DeviceWorker
}

func NewManager(api k3l.API, opts Options) *Manager {
	if opts.EventFifoSize <= 0 {
		opts.EventFifoSize = 500
	}
	if opts.CommandFifoSize <= 0 {
		opts.CommandFifoSize = 250
	}
	return &Manager{api: api, opts: opts}
}

// Start creates and starts the device workers for reg, then subscribes to the runtime.
func (m *Manager) Start(reg *board.Registry) error {
	m.mu.Lock()
	if m.reg != nil {
		m.mu.Unlock()
		return errors.New("worker manager already started")
	}
	m.reg = reg
	for _, b := range reg.Boards() {
		w := NewDeviceWorker(b, m.opts)
		w.Start()
		m.workers = append(m.workers, w)
	}
	m.mu.Unlock()

	m.api.Subscribe(m)
	logger.Log.Infof("Worker Manager started with %d device workers", len(m.workers))
	return nil
}

// Stop detaches from the runtime and joins every worker after its queues drain.
func (m *Manager) Stop() {
	m.api.Subscribe(nil)
	m.mu.Lock()
	workers := m.workers
	m.workers = nil
	m.mu.Unlock()
	for _, w := range workers {
		w.Stop()
	}
}

func (m *Manager) worker(device int) *DeviceWorker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if device < 0 || device >= len(m.workers) {
		return nil
	}
	return m.workers[device]
}

// OnEvent implements k3l.Handler. It never blocks the runtime thread.
func (m *Manager) OnEvent(ev k3l.Event) {
	if ev.Code.Immediate() {
		m.handleImmediate(ev)
		return
	}
	w := m.worker(ev.Device)
	if w == nil {
		logger.Log.Warnf("Event for unknown device: %s", ev)
		return
	}
	if !w.events.Enqueue(ev) {
		logger.Log.Errorf("[B%d] Event queue full, dropping %s", ev.Device, ev)
		if m.opts.Drops != nil {
			m.opts.Drops.EventDropped(ev.Device)
		}
	}
}

// OnAudio implements k3l.Handler; audio goes straight to the channel.
func (m *Manager) OnAudio(device, object int, data []byte) {
	w := m.worker(device)
	if w == nil {
		return
	}
	ch, err := w.board.Channel(object)
	if err != nil {
		return
	}
	ch.OnAudio(data)
}

// EnqueueCommand implements channel.CommandQueue.
func (m *Manager) EnqueueCommand(req channel.CommandRequest) bool {
	w := m.worker(req.Device)
	if w == nil {
		return false
	}
	if !w.commands.Enqueue(req) {
		logger.Log.Errorf("[B%d] Command queue full, dropping %s", req.Device, req)
		if m.opts.Drops != nil {
			m.opts.Drops.CommandDropped(req.Device)
		}
		return false
	}
	return true
}

// Stats reports queue counters per device.
func (m *Manager) Stats() []WorkerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]WorkerStats, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w.Stats())
	}
	return out
}
