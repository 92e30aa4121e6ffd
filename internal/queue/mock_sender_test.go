package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/imrishuroy/go-beer-pipeline/internal/aws"
)

type sentMessage struct {
	QueueURL string
	Msg      aws.OutboundMessage
}

type visibilityChange struct {
	ReceiptHandle string
	Timeout       time.Duration
}

// mockSender records calls; sendErr fails sends to the matching queue url.
type mockSender struct {
	mu          sync.Mutex
	sent        []sentMessage
	visibility  []visibilityChange
	sendErr     map[string]error
	visibilityE error
}

func newMockSender() *mockSender {
	return &mockSender{sendErr: map[string]error{}}
}

func (m *mockSender) Send(ctx context.Context, queueURL string, msg aws.OutboundMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.sendErr[queueURL]; err != nil {
		return "", err
	}
	m.sent = append(m.sent, sentMessage{QueueURL: queueURL, Msg: msg})
	return "sent-" + queueURL, nil
}

func (m *mockSender) ChangeVisibility(ctx context.Context, queueURL, receiptHandle string, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if receiptHandle == "" {
		return errors.New("empty receipt handle")
	}
	m.visibility = append(m.visibility, visibilityChange{ReceiptHandle: receiptHandle, Timeout: timeout})
	return m.visibilityE
}
