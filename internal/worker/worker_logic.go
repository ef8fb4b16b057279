package worker

import (
	"strings"
	"time"

	"github.com/pccr10001/trunkie/internal/gsm"
	"github.com/pccr10001/trunkie/internal/k3l"
	"github.com/pccr10001/trunkie/internal/logic"
	"github.com/pccr10001/trunkie/internal/model"
	"github.com/pccr10001/trunkie/internal/repository"
	"github.com/pccr10001/trunkie/pkg/logger"
)

// handleImmediate runs on the runtime thread for events that cannot wait behind
// the device queue.
func (m *Manager) handleImmediate(ev k3l.Event) {
	switch ev.Code {
	case k3l.EvAudioListenerLost:
		logger.Log.Warnf("[B%d] Audio listener lost, registering again", ev.Device)
		if err := k3l.Send(m.api, k3l.Command{Device: ev.Device, Code: k3l.CmRegisterAudioListener}); err != nil {
			logger.Log.Errorf("[B%d] Failed to register audio listener: %v", ev.Device, err)
		}
	case k3l.EvDeviceFail:
		logger.Log.Errorf("[B%d] Device failure (add_info=%d): %s", ev.Device, ev.AddInfo, ev.Params)
	}
}

// Messages stores GSM traffic and hands it to the webhooks. It implements
// channel.SMSSink.
type Messages struct {
	serialOf func(device int) string
	smsRepo  *repository.SMSRepository
	boards   *repository.BoardRepository
	webhooks *logic.WebhookService
}

func NewMessages(serialOf func(int) string, smsRepo *repository.SMSRepository, boards *repository.BoardRepository, webhooks *logic.WebhookService) *Messages {
	return &Messages{
		serialOf: serialOf,
		smsRepo:  smsRepo,
		boards:   boards,
		webhooks: webhooks,
	}
}

func (s *Messages) SMSReceived(device, object int, msg gsm.Message) {
	serial := s.serialOf(device)
	logger.Log.Infof("[%s] SMS From %s: %s", serial, msg.From, msg.Text)

	sms := &model.SMS{
		BoardSerial: serial,
		Channel:     object,
		Phone:       msg.From,
		Content:     msg.Text,
		Timestamp:   msg.Timestamp,
		Type:        "received",
		IsRead:      false,
		RawPDU:      strings.ToUpper(msg.RawPDU),
		CreatedAt:   time.Now(),
	}
	if sms.Timestamp.IsZero() {
		sms.Timestamp = time.Now()
	}

	if s.smsRepo != nil {
		if err := s.smsRepo.Create(sms); err != nil {
			logger.Log.Errorf("[%s] Failed to store SMS: %v", serial, err)
		}
	}
	if s.webhooks != nil {
		s.webhooks.Dispatch(sms)
	}
}

// Sent records an outgoing message once the channel has queued it.
func (s *Messages) Sent(device, object int, to, text string) {
	serial := s.serialOf(device)
	sms := &model.SMS{
		BoardSerial: serial,
		Channel:     object,
		Phone:       to,
		Content:     text,
		Timestamp:   time.Now(),
		Type:        "sent",
		IsRead:      true,
	}
	if s.smsRepo != nil {
		if err := s.smsRepo.Create(sms); err != nil {
			logger.Log.Errorf("[%s] Failed to store sent SMS: %v", serial, err)
		}
	}
}

func (s *Messages) SMSSent(device, object int, ref int, err error) {
	if err != nil {
		logger.Log.Warnf("[%s] SMS %d on channel %d failed: %v", s.serialOf(device), ref, object, err)
		return
	}
	logger.Log.Infof("[%s] SMS %d sent on channel %d", s.serialOf(device), ref, object)
}

func (s *Messages) OperatorChanged(device int, operator string) {
	if s.boards == nil {
		return
	}
	if err := s.boards.UpdateOperator(s.serialOf(device), operator); err != nil {
		logger.Log.Errorf("[B%d] Failed to save operator: %v", device, err)
	}
}
