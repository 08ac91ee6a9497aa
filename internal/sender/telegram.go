package sender

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "yapefwd/pkg/logx"
)

// maxPartLen is Telegram's message size limit in runes; longer text is
// split into parts (the transport-level analog of multipart SMS).
const maxPartLen = 4096

type Config struct {
	Token      string
	RatePerSec int           // default: 3
	Timeout    time.Duration // per delivery attempt; default: 10s
}

// Telegram delivers messages to Telegram chats. A destination address
// is the decimal chat id.
type Telegram struct {
	bot *tele.Bot
	log logx.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
	timeout time.Duration
}

func NewTelegram(cfg Config, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	t := &Telegram{bot: b, log: log}
	t.Apply(cfg)
	return t, nil
}

// Apply updates rate and timeout knobs at runtime (config hot reload).
// The token cannot change without a restart.
func (t *Telegram) Apply(cfg Config) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	t.mu.Lock()
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	t.timeout = timeout
	t.mu.Unlock()
}

func (t *Telegram) Send(ctx context.Context, address, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(address), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid destination address %q: %w", address, err)
	}

	t.mu.Lock()
	lim := t.limiter
	timeout := t.timeout
	t.mu.Unlock()

	to := &tele.Chat{ID: chatID}
	for _, part := range SplitMessage(text, maxPartLen) {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		if err := t.sendPart(ctx, to, part, timeout); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) sendPart(ctx context.Context, to *tele.Chat, part string, timeout time.Duration) error {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(to, part, &tele.SendOptions{DisableWebPagePreview: true})
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-sctx.Done():
		return sctx.Err()
	}
}

// SplitMessage splits text into rune-bounded parts of at most max
// runes, preferring to break at the last newline (then space) inside
// the limit so words survive intact.
func SplitMessage(text string, max int) []string {
	if max <= 0 {
		max = maxPartLen
	}
	runes := []rune(text)
	if len(runes) <= max {
		return []string{text}
	}

	var parts []string
	for len(runes) > max {
		cut := max
		for i := max; i > max/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		if cut == max {
			for i := max; i > max/2; i-- {
				if runes[i-1] == ' ' {
					cut = i
					break
				}
			}
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), " \n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
