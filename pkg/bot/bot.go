// Package bot wires the Telegram transport to the dialog controller.
// It translates updates into dialog events and renders replies as
// messages with reply or inline keyboards.
package bot

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"

	"github.com/klio-ai/klio/pkg/config"
	"github.com/klio-ai/klio/pkg/dialog"
)

// Main menu button labels. These double as message text, so the text
// handlers below must be registered before the OnText fallback.
const (
	btnTopics = "Темы"
	btnTest   = "Тест"
	btnAsk    = "Задать вопрос"

	askHint = "Напиши свой вопрос по истории России."
)

// cbAnswer is the callback unique for quiz answer buttons; the data
// part carries the option index.
const cbAnswer = "ans"

// turnTimeout bounds one full turn including gateway calls over every
// rotation credential.
const turnTimeout = 90 * time.Second

// Bot runs the Telegram long-polling loop.
type Bot struct {
	tb   *tele.Bot
	ctrl *dialog.Controller
	log  zerolog.Logger
}

// New connects to the Telegram API and registers handlers. The bot
// does not start polling until Start is called.
func New(cfg config.TelegramConfig, ctrl *dialog.Controller, logger zerolog.Logger) (*Bot, error) {
	tb, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}

	b := &Bot{tb: tb, ctrl: ctrl, log: logger}
	b.register()
	return b, nil
}

// Start begins long polling. It blocks until Stop is called.
func (b *Bot) Start() {
	b.log.Info().Str("bot", b.tb.Me.Username).Msg("telegram polling started")
	b.tb.Start()
}

// Stop terminates the polling loop.
func (b *Bot) Stop() {
	b.tb.Stop()
}

func (b *Bot) register() {
	b.tb.Use(b.recoverMiddleware())

	b.tb.Handle("/start", b.event(dialog.Event{Kind: dialog.EventStart}))
	b.tb.Handle("/topics", b.event(dialog.Event{Kind: dialog.EventListTopics}))
	b.tb.Handle("/test", b.event(dialog.Event{Kind: dialog.EventStartTest}))

	b.tb.Handle(btnTopics, b.event(dialog.Event{Kind: dialog.EventListTopics}))
	b.tb.Handle(btnTest, b.event(dialog.Event{Kind: dialog.EventStartTest}))
	b.tb.Handle(btnAsk, func(c tele.Context) error {
		return c.Send(askHint, mainMenu())
	})

	b.tb.Handle(&tele.Btn{Unique: cbAnswer}, b.onAnswer)
	b.tb.Handle(tele.OnText, b.onText)
}

// event builds a handler that forwards a fixed dialog event.
func (b *Bot) event(ev dialog.Event) tele.HandlerFunc {
	return func(c tele.Context) error {
		return b.dispatch(c, ev)
	}
}

func (b *Bot) onText(c tele.Context) error {
	return b.dispatch(c, dialog.Event{Kind: dialog.EventText, Text: c.Text()})
}

func (b *Bot) onAnswer(c tele.Context) error {
	defer func() { _ = c.Respond() }()

	choice, err := strconv.Atoi(c.Data())
	if err != nil {
		b.log.Warn().Str("data", c.Data()).Msg("bad answer callback")
		return nil
	}
	return b.dispatch(c, dialog.Event{Kind: dialog.EventAnswer, Choice: choice})
}

func (b *Bot) dispatch(c tele.Context, ev dialog.Event) error {
	if c.Sender() == nil {
		return nil
	}
	userID := c.Sender().ID

	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	start := time.Now()
	reply := b.ctrl.Handle(ctx, userID, ev)
	b.log.Debug().
		Int64("user", userID).
		Int("event", int(ev.Kind)).
		Dur("took", time.Since(start)).
		Msg("turn handled")

	return b.send(c, reply)
}

// send renders a dialog reply: topic lists become a one-time reply
// keyboard, quiz options become inline buttons, plain text restores
// the main menu.
func (b *Bot) send(c tele.Context, reply dialog.Reply) error {
	switch {
	case len(reply.Topics) > 0:
		m := &tele.ReplyMarkup{ResizeKeyboard: true, OneTimeKeyboard: true}
		rows := make([]tele.Row, 0, len(reply.Topics))
		for _, topic := range reply.Topics {
			rows = append(rows, m.Row(m.Text(topic)))
		}
		m.Reply(rows...)
		return c.Send(reply.Text, m)

	case len(reply.Options) > 0:
		m := &tele.ReplyMarkup{}
		rows := make([]tele.Row, 0, len(reply.Options))
		for i, opt := range reply.Options {
			rows = append(rows, m.Row(m.Data(opt, cbAnswer, strconv.Itoa(i))))
		}
		m.Inline(rows...)
		return c.Send(reply.Text, m)

	default:
		return c.Send(reply.Text, mainMenu())
	}
}

func mainMenu() *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{ResizeKeyboard: true}
	m.Reply(
		m.Row(m.Text(btnTopics), m.Text(btnTest)),
		m.Row(m.Text(btnAsk)),
	)
	return m
}

// recoverMiddleware keeps a panicking handler from killing the
// polling loop.
func (b *Bot) recoverMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error().Interface("panic", r).Msg("handler panicked")
				}
			}()
			return next(c)
		}
	}
}
