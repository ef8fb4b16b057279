package logic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"text/template"
	"time"

	"github.com/pccr10001/trunkie/internal/model"
	"github.com/pccr10001/trunkie/internal/repository"
	"github.com/pccr10001/trunkie/pkg/logger"
)

// Webhook events.
const (
	EventSMS  = "sms"
	EventCall = "call"
)

// Webhook platforms. Anything else gets the generic JSON body.
const (
	PlatformGeneric  = "generic"
	PlatformTelegram = "telegram"
	PlatformSlack    = "slack"
)

const maxAttempts = 3

var retryBackoff = 500 * time.Millisecond

type WebhookService struct {
	repo   *repository.WebhookRepository
	client *http.Client

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex // orders wg.Add against Close
	closed bool
	wg     sync.WaitGroup
}

func NewWebhookService(repo *repository.WebhookRepository) *WebhookService {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebhookService{
		repo:   repo,
		client: &http.Client{Timeout: 10 * time.Second},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Dispatch notifies every webhook subscribed to SMS on the message's board.
func (s *WebhookService) Dispatch(sms *model.SMS) {
	s.dispatch(sms.BoardSerial, EventSMS, sms, sms.Content)
}

// DispatchCall notifies every webhook subscribed to finished calls on the board.
func (s *WebhookService) DispatchCall(rec *model.CallRecord) {
	text := fmt.Sprintf("Call %s -> %s (%s, %s)", rec.Orig, rec.Dest, rec.Direction, rec.CauseName)
	s.dispatch(rec.BoardSerial, EventCall, rec, text)
}

// Close abandons pending retries and waits for in-flight deliveries.
func (s *WebhookService) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// track starts fn unless the service is closing.
func (s *WebhookService) track(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (s *WebhookService) dispatch(serial, event string, data any, text string) {
	if s.ctx.Err() != nil {
		return
	}
	webhooks, err := s.repo.FindFor(serial, event)
	if err != nil {
		logger.Log.Errorf("Failed to fetch %s webhooks for board %s: %v", event, serial, err)
		return
	}

	for _, wh := range webhooks {
		payload, err := render(wh, event, serial, data, text)
		if err != nil {
			logger.Log.Errorf("Webhook %d: build payload failed: %v", wh.ID, err)
			continue
		}
		if !s.track(func() { s.deliver(wh, payload) }) {
			logger.Log.Warnf("Webhook %d skipped: service closed", wh.ID)
			return
		}
	}
}

// deliver posts payload, retrying transport errors and 5xx answers.
func (s *WebhookService) deliver(wh model.Webhook, payload []byte) {
	backoff := retryBackoff
	for attempt := 1; ; attempt++ {
		status, err := s.post(wh.URL, payload)
		switch {
		case err == nil && status < 400:
			logger.Log.Debugf("Webhook sent to %s", wh.URL)
			return
		case err == nil && status < 500:
			logger.Log.Errorf("Webhook %s rejected payload: %d", wh.URL, status)
			return
		case err == nil:
			err = fmt.Errorf("status %d", status)
		}
		if attempt == maxAttempts {
			logger.Log.Errorf("Webhook %s failed after %d attempts: %v", wh.URL, attempt, err)
			return
		}
		logger.Log.Warnf("Webhook %s attempt %d failed: %v", wh.URL, attempt, err)
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (s *WebhookService) post(url string, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// render applies the webhook template and shapes the body for its platform.
// A broken template falls back to the default text.
func render(wh model.Webhook, event, serial string, data any, text string) ([]byte, error) {
	content := text
	if wh.Template != "" {
		if out, err := execTemplate(wh.Template, data); err != nil {
			logger.Log.Warnf("Webhook %d: template failed: %v", wh.ID, err)
		} else {
			content = out
		}
	}

	switch wh.Platform {
	case PlatformTelegram:
		body := map[string]any{"text": content, "parse_mode": "Markdown"}
		if wh.ChannelID != "" {
			body["chat_id"] = wh.ChannelID
		}
		return json.Marshal(body)
	case PlatformSlack:
		return json.Marshal(map[string]any{"text": content})
	}
	return json.Marshal(map[string]any{
		"event": event,
		"board": serial,
		"text":  content,
		event:   data,
	})
}

func execTemplate(src string, data any) (string, error) {
	tmpl, err := template.New("msg").Option("missingkey=error").Parse(src)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
