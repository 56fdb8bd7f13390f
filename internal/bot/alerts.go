package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"goldenscan/internal/domain"

	tele "gopkg.in/telebot.v3"
)

type messageSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// AlertDispatcher broadcasts qualifying scan results to subscribed chats.
type AlertDispatcher struct {
	sender messageSender

	mu          sync.RWMutex
	subscribers map[int64]struct{}
}

func NewAlertDispatcher(sender messageSender) *AlertDispatcher {
	return &AlertDispatcher{
		sender:      sender,
		subscribers: make(map[int64]struct{}),
	}
}

func (d *AlertDispatcher) Subscribe(chatID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.subscribers[chatID]; exists {
		return false
	}
	d.subscribers[chatID] = struct{}{}
	return true
}

func (d *AlertDispatcher) Unsubscribe(chatID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.subscribers[chatID]; !exists {
		return false
	}
	delete(d.subscribers, chatID)
	return true
}

func (d *AlertDispatcher) IsSubscribed(chatID int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, exists := d.subscribers[chatID]
	return exists
}

func (d *AlertDispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

// NotifyResults fans the formatted result list out to every subscriber.
// Delivery failures are aggregated into one error and never stop the rest.
func (d *AlertDispatcher) NotifyResults(ctx context.Context, title string, results []domain.BacktestResult) error {
	_ = ctx
	if d == nil || d.sender == nil || len(results) == 0 {
		return nil
	}

	chatIDs := d.snapshotSubscribers()
	if len(chatIDs) == 0 {
		return nil
	}

	msg := formatResultMessage(title, results)
	var failures []string
	for _, chatID := range chatIDs {
		if _, err := d.sender.Send(&tele.Chat{ID: chatID}, msg); err != nil {
			failures = append(failures, fmt.Sprintf("chat %d: %v", chatID, err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("failed sending %d alerts: %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

func (d *AlertDispatcher) snapshotSubscribers() []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	chatIDs := make([]int64, 0, len(d.subscribers))
	for chatID := range d.subscribers {
		chatIDs = append(chatIDs, chatID)
	}
	sort.Slice(chatIDs, func(i, j int) bool { return chatIDs[i] < chatIDs[j] })
	return chatIDs
}

func parseAlertMode(args []string) (string, error) {
	if len(args) == 0 {
		return "status", nil
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "on":
		return "on", nil
	case "off":
		return "off", nil
	case "status":
		return "status", nil
	default:
		return "", fmt.Errorf("invalid mode")
	}
}

func formatResultMessage(title string, results []domain.BacktestResult) string {
	lines := make([]string, 0, len(results)+1)
	lines = append(lines, title+":")
	for _, r := range results {
		lines = append(lines, formatResult(r))
	}
	return strings.Join(lines, "\n")
}

// formatResult renders one screened instrument. Money rounds to two
// decimals, ratios to four; the stored values stay unrounded.
func formatResult(r domain.BacktestResult) string {
	name := r.Name
	if name == "" {
		name = "-"
	}
	line := fmt.Sprintf(
		"%s %s | avg profit %.2f | ratio %.4f | win %.0f%% | trades %d",
		r.Code, name, r.AvgProfit, r.AvgProfitRatio, r.WinProbability*100, r.TradeCount,
	)
	if !r.LastCrossDate.IsZero() {
		line += " | cross " + r.LastCrossDate.Format("2006-01-02")
	}
	return line
}
