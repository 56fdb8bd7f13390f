package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"goldenscan/internal/domain"

	tele "gopkg.in/telebot.v3"
)

type stubSender struct {
	sent    []string
	targets []int64
	err     error
}

func (s *stubSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	if chat, ok := to.(*tele.Chat); ok {
		s.targets = append(s.targets, chat.ID)
	}
	if msg, ok := what.(string); ok {
		s.sent = append(s.sent, msg)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &tele.Message{}, nil
}

func sampleResults() []domain.BacktestResult {
	return []domain.BacktestResult{
		{
			Code:           "sh.600000",
			Name:           "SPDB",
			AvgProfit:      1.2345,
			AvgProfitRatio: 0.03456,
			WinProbability: 0.75,
			TradeCount:     4,
			LastCrossDate:  time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	d := NewAlertDispatcher(&stubSender{})

	if !d.Subscribe(42) {
		t.Error("first subscribe should report true")
	}
	if d.Subscribe(42) {
		t.Error("duplicate subscribe should report false")
	}
	if !d.IsSubscribed(42) {
		t.Error("chat should be subscribed")
	}
	if d.SubscriberCount() != 1 {
		t.Errorf("expected 1 subscriber, got %d", d.SubscriberCount())
	}
	if !d.Unsubscribe(42) {
		t.Error("unsubscribe should report true")
	}
	if d.Unsubscribe(42) {
		t.Error("second unsubscribe should report false")
	}
}

func TestNotifyResultsBroadcasts(t *testing.T) {
	sender := &stubSender{}
	d := NewAlertDispatcher(sender)
	d.Subscribe(1)
	d.Subscribe(2)

	if err := d.NotifyResults(context.Background(), "sma golden cross scan", sampleResults()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.targets) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(sender.targets))
	}
	if sender.targets[0] != 1 || sender.targets[1] != 2 {
		t.Errorf("expected ordered chat ids, got %v", sender.targets)
	}
	msg := sender.sent[0]
	if !strings.HasPrefix(msg, "sma golden cross scan:") {
		t.Errorf("expected title prefix, got %q", msg)
	}
	if !strings.Contains(msg, "sh.600000 SPDB") {
		t.Errorf("expected instrument identity, got %q", msg)
	}
	if !strings.Contains(msg, "avg profit 1.23") {
		t.Errorf("expected two-decimal profit, got %q", msg)
	}
	if !strings.Contains(msg, "ratio 0.0346") {
		t.Errorf("expected four-decimal ratio, got %q", msg)
	}
	if !strings.Contains(msg, "win 75%") {
		t.Errorf("expected win percentage, got %q", msg)
	}
	if !strings.Contains(msg, "cross 2024-06-10") {
		t.Errorf("expected cross date, got %q", msg)
	}
}

func TestNotifyResultsNoSubscribersIsNoop(t *testing.T) {
	sender := &stubSender{}
	d := NewAlertDispatcher(sender)

	if err := d.NotifyResults(context.Background(), "scan", sampleResults()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Error("no messages expected without subscribers")
	}
}

func TestNotifyResultsEmptyResultsIsNoop(t *testing.T) {
	sender := &stubSender{}
	d := NewAlertDispatcher(sender)
	d.Subscribe(1)

	if err := d.NotifyResults(context.Background(), "scan", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Error("no messages expected for an empty result set")
	}
}

func TestNotifyResultsAggregatesFailures(t *testing.T) {
	sender := &stubSender{err: errors.New("blocked")}
	d := NewAlertDispatcher(sender)
	d.Subscribe(1)
	d.Subscribe(2)

	err := d.NotifyResults(context.Background(), "scan", sampleResults())
	if err == nil {
		t.Fatal("expected aggregated delivery error")
	}
	if !strings.Contains(err.Error(), "failed sending 2 alerts") {
		t.Errorf("expected both failures reported, got %v", err)
	}
	if len(sender.targets) != 2 {
		t.Error("a failed delivery must not stop the rest")
	}
}

func TestParseAlertMode(t *testing.T) {
	if mode, err := parseAlertMode(nil); err != nil || mode != "status" {
		t.Errorf("expected default status, got %q %v", mode, err)
	}
	if mode, err := parseAlertMode([]string{"ON"}); err != nil || mode != "on" {
		t.Errorf("expected on, got %q %v", mode, err)
	}
	if _, err := parseAlertMode([]string{"maybe"}); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestFormatResultMissingName(t *testing.T) {
	line := formatResult(domain.BacktestResult{Code: "sz.000001", TradeCount: 1})
	if !strings.Contains(line, "sz.000001 -") {
		t.Errorf("expected placeholder name, got %q", line)
	}
	if strings.Contains(line, "cross") {
		t.Errorf("zero cross date must be omitted, got %q", line)
	}
}
