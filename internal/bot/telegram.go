package bot

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"goldenscan/internal/domain"
	"goldenscan/internal/signal"

	tele "gopkg.in/telebot.v3"
)

// LatestReader serves the cached results of the most recent scan.
type LatestReader interface {
	Latest(ctx context.Context, kind signal.Kind) ([]domain.BacktestResult, error)
}

// StartTelegramBot wires the chat commands and starts long polling. Returns
// nil when no token is configured; callers treat that as "bot disabled".
func StartTelegramBot(scanService LatestReader) *AlertDispatcher {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return nil
	}
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		log.Fatalf("failed to create Telegram bot: %v", err)
	}
	alerts := NewAlertDispatcher(b)

	b.Handle("/start", func(c tele.Context) error {
		return c.Send("Golden cross scanner.\n" +
			"/latest sma|macd - most recent scan results\n" +
			"/alerts on|off|status - scan notifications for this chat")
	})

	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})

	b.Handle("/latest", func(c tele.Context) error {
		if scanService == nil {
			return c.Send("Scan service unavailable")
		}
		kind, err := parseKindArg(c.Args())
		if err != nil {
			return c.Send("Usage: /latest sma | /latest macd")
		}

		results, err := scanService.Latest(context.Background(), kind)
		if err != nil {
			return c.Send(fmt.Sprintf("Error fetching results: %v", err))
		}
		if len(results) == 0 {
			return c.Send(fmt.Sprintf("No cached %s results. The scan may not have run yet.", kind))
		}
		title := fmt.Sprintf("Latest %s golden cross results", kind)
		return c.Send(formatResultMessage(title, results))
	})

	b.Handle("/alerts", func(c tele.Context) error {
		chat := c.Chat()
		if chat == nil {
			return c.Send("Unable to detect chat")
		}

		mode, err := parseAlertMode(c.Args())
		if err != nil {
			return c.Send("Usage: /alerts on | /alerts off | /alerts status")
		}

		switch mode {
		case "on":
			if alerts.Subscribe(chat.ID) {
				return c.Send("Scan alerts enabled for this chat.")
			}
			return c.Send("Scan alerts are already enabled for this chat.")
		case "off":
			if alerts.Unsubscribe(chat.ID) {
				return c.Send("Scan alerts disabled for this chat.")
			}
			return c.Send("Scan alerts are already disabled for this chat.")
		default:
			if alerts.IsSubscribed(chat.ID) {
				return c.Send("Alerts status: ON")
			}
			return c.Send("Alerts status: OFF")
		}
	})

	log.Println("Telegram bot started")
	go b.Start()
	return alerts
}

func parseKindArg(args []string) (signal.Kind, error) {
	if len(args) == 0 {
		return signal.KindSMA, nil
	}
	kind := signal.Kind(strings.ToLower(strings.TrimSpace(args[0])))
	if !kind.IsValid() {
		return "", fmt.Errorf("unknown scan kind")
	}
	return kind, nil
}
