// Package dialog drives the conversation: a finite-state machine that
// maps user input and current state to gateway calls and replies. All
// user-facing wording lives here and nowhere else.
package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/klio-ai/klio/pkg/analytics"
	"github.com/klio-ai/klio/pkg/models"
	"github.com/klio-ai/klio/pkg/quota"
)

// EventKind names an inbound conversational event.
type EventKind int

const (
	EventStart EventKind = iota
	EventListTopics
	EventChooseTopic
	EventCustomTopicRequested
	EventStartTest
	EventAnswer
	EventText
)

// Event is one inbound user action.
type Event struct {
	Kind   EventKind
	Text   string
	Choice int
}

// Reply is what the controller hands back to the transport layer.
// Topics renders as a topic keyboard, Options as answer buttons.
type Reply struct {
	Text    string
	Topics  []string
	Options []string
}

// Generator is the gateway seam; satisfied by *gemini.Client.
type Generator interface {
	Generate(ctx context.Context, req models.GenerationRequest) models.GenerationResult
}

// Options tunes the controller.
type Options struct {
	TopicCount    int
	QuizQuestions int
	TopicTTL      time.Duration
	AnswerTTL     time.Duration
	QuizTTL       time.Duration
	Tiers         []models.AssessmentTier
	SeedTopics    []string
}

const (
	msgWelcome = "Привет! Я Клио — бот по истории России.\n" +
		"Нажми «Темы», чтобы выбрать тему, «Тест» — чтобы проверить знания, " +
		"или просто задай вопрос по истории России."
	msgPickTopicFirst = "Сначала выбери тему — нажми «Темы»."
	msgCustomAsk      = "Напиши свою тему по истории России."
	msgApology        = "Извини, сейчас не получается получить ответ. Попробуй позже."
	msgQuizApology    = "Не получилось составить тест. Попробуй позже."
	msgOffTopic       = "Я отвечаю только на вопросы по истории России. Спроси что-нибудь о ней!"
	msgQuotaExceeded  = "На сегодня лимит вопросов исчерпан. Возвращайся завтра!"
	msgCustomOption   = "Своя тема"

	repromptIdle   = "Не понимаю. Нажми «Темы», «Тест» или задай вопрос по истории России."
	repromptChoice = "Выбери тему кнопкой или напиши свою."
	repromptTest   = "Идёт тест — выбери вариант ответа кнопкой."
)

type handlerFunc func(ctx context.Context, userID int64, sess *Session, ev Event) Reply

// Controller owns per-user sessions and the state-transition table.
type Controller struct {
	gen      Generator
	recorder analytics.Recorder
	enforcer *quota.Enforcer
	opts     Options
	sessions *SessionStore
	log      zerolog.Logger

	seedMu     sync.RWMutex
	seedTopics []string

	transitions map[State]map[EventKind]handlerFunc
}

// New creates a Controller. recorder and enforcer may be nil.
func New(gen Generator, recorder analytics.Recorder, enforcer *quota.Enforcer, opts Options, logger zerolog.Logger) *Controller {
	if opts.TopicCount <= 0 {
		opts.TopicCount = 8
	}
	if opts.QuizQuestions <= 0 {
		opts.QuizQuestions = 5
	}
	tiers := make([]models.AssessmentTier, len(opts.Tiers))
	copy(tiers, opts.Tiers)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinPercent > tiers[j].MinPercent })
	opts.Tiers = tiers

	c := &Controller{
		gen:        gen,
		recorder:   recorder,
		enforcer:   enforcer,
		opts:       opts,
		sessions:   NewSessionStore(),
		log:        logger,
		seedTopics: opts.SeedTopics,
	}

	c.transitions = map[State]map[EventKind]handlerFunc{
		StateIdle: {
			EventListTopics: c.listTopics,
			EventStartTest:  c.startTest,
			EventText:       c.freeQuestion,
		},
		StateAwaitingTopicChoice: {
			EventChooseTopic:          c.chooseTopic,
			EventCustomTopicRequested: c.askCustomTopic,
			EventText:                 c.chooseTopic,
		},
		StateAwaitingCustomTopic: {
			EventText: c.customTopic,
		},
		StateInTest: {
			EventAnswer: c.answer,
		},
	}
	return c
}

// SetSeedTopics replaces the fallback topic list; used by the admin
// update_api_data action while the bot keeps serving.
func (c *Controller) SetSeedTopics(topics []string) {
	copied := make([]string, len(topics))
	copy(copied, topics)
	c.seedMu.Lock()
	c.seedTopics = copied
	c.seedMu.Unlock()
}

func (c *Controller) seeds() []string {
	c.seedMu.RLock()
	defer c.seedMu.RUnlock()
	return c.seedTopics
}

// Sessions exposes the store for the admin surface (read-only use).
func (c *Controller) Sessions() *SessionStore {
	return c.sessions
}

// FetchTopics asks the model for a fresh topic list, bypassing the
// cache. The topic refresh maintenance action pairs this with
// SetSeedTopics.
func (c *Controller) FetchTopics(ctx context.Context) ([]string, error) {
	result := c.gen.Generate(ctx, models.GenerationRequest{
		Prompt:      topicListPrompt(c.opts.TopicCount),
		Temperature: 0.9,
		MaxTokens:   1024,
	})
	if !result.OK() {
		return nil, fmt.Errorf("topic generation failed: %s", result.Kind)
	}
	topics := parseTopicList(result.Text, c.opts.TopicCount)
	if len(topics) == 0 {
		return nil, fmt.Errorf("no topics in model reply")
	}
	return topics, nil
}

// Handle processes one turn. The session lock serializes turns for a
// single user; different users proceed concurrently.
func (c *Controller) Handle(ctx context.Context, userID int64, ev Event) Reply {
	sess := c.sessions.Get(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	// /start resets unconditionally from any state.
	if ev.Kind == EventStart {
		sess.reset()
		return Reply{Text: msgWelcome}
	}

	handler := c.transitions[sess.State][ev.Kind]
	if handler == nil {
		// Not a valid transition for this state. Re-prompt without
		// touching session data.
		return Reply{Text: c.reprompt(sess.State)}
	}
	return handler(ctx, userID, sess, ev)
}

func (c *Controller) reprompt(state State) string {
	switch state {
	case StateAwaitingTopicChoice:
		return repromptChoice
	case StateAwaitingCustomTopic:
		return msgCustomAsk
	case StateInTest:
		return repromptTest
	}
	return repromptIdle
}

func (c *Controller) listTopics(ctx context.Context, userID int64, sess *Session, _ Event) Reply {
	if reply, blocked := c.quotaBlocked(ctx, userID); blocked {
		return reply
	}

	result := c.gen.Generate(ctx, models.GenerationRequest{
		Prompt:      topicListPrompt(c.opts.TopicCount),
		Temperature: 0.7,
		MaxTokens:   1024,
		TTL:         c.opts.TopicTTL,
	})

	topics := c.seeds()
	if result.OK() {
		if parsed := parseTopicList(result.Text, c.opts.TopicCount); len(parsed) > 0 {
			topics = parsed
		}
	}
	if len(topics) == 0 {
		return Reply{Text: msgApology}
	}

	sess.State = StateAwaitingTopicChoice
	sess.offeredTopics = topics
	return Reply{
		Text:   "Выбери тему:",
		Topics: append(append([]string{}, topics...), msgCustomOption),
	}
}

func (c *Controller) chooseTopic(ctx context.Context, userID int64, sess *Session, ev Event) Reply {
	topic := ev.Text
	if topic == msgCustomOption {
		return c.askCustomTopic(ctx, userID, sess, ev)
	}
	return c.explainTopic(ctx, userID, sess, topic)
}

func (c *Controller) askCustomTopic(_ context.Context, _ int64, sess *Session, _ Event) Reply {
	sess.State = StateAwaitingCustomTopic
	return Reply{Text: msgCustomAsk}
}

func (c *Controller) customTopic(ctx context.Context, userID int64, sess *Session, ev Event) Reply {
	return c.explainTopic(ctx, userID, sess, ev.Text)
}

func (c *Controller) explainTopic(ctx context.Context, userID int64, sess *Session, topic string) Reply {
	if reply, blocked := c.quotaBlocked(ctx, userID); blocked {
		return reply
	}

	result := c.gen.Generate(ctx, models.GenerationRequest{
		Prompt:      topicExplainPrompt(topic),
		Temperature: 0.7,
		MaxTokens:   2048,
		TTL:         c.opts.TopicTTL,
	})
	if !result.OK() {
		sess.State = StateIdle
		sess.offeredTopics = nil
		return Reply{Text: msgApology}
	}

	sess.State = StateIdle
	sess.CurrentTopic = topic
	sess.offeredTopics = nil
	c.track(models.Event{UserID: userID, Type: models.EventTopicViewed, Payload: topic})

	text := result.Text
	if result.Truncated {
		text += "\n\n(ответ сокращён)"
	}
	return Reply{Text: text + "\n\nТеперь можно пройти тест — нажми «Тест»."}
}

func (c *Controller) startTest(ctx context.Context, userID int64, sess *Session, _ Event) Reply {
	if sess.CurrentTopic == "" {
		return Reply{Text: msgPickTopicFirst}
	}
	if reply, blocked := c.quotaBlocked(ctx, userID); blocked {
		return reply
	}

	result := c.gen.Generate(ctx, models.GenerationRequest{
		Prompt:      quizPrompt(sess.CurrentTopic, c.opts.QuizQuestions),
		Temperature: 0.7,
		MaxTokens:   4096,
		TTL:         c.opts.QuizTTL,
	})
	if !result.OK() {
		// Test setup failed before anything started; fall back to Idle.
		sess.State = StateIdle
		return Reply{Text: msgQuizApology}
	}

	quiz, err := parseQuiz(result.Text)
	if err != nil {
		c.log.Warn().Err(err).Str("topic", sess.CurrentTopic).Msg("quiz parse failed")
		sess.State = StateIdle
		return Reply{Text: msgQuizApology}
	}
	quiz.Topic = sess.CurrentTopic

	sess.State = StateInTest
	sess.Quiz = &ActiveQuiz{Quiz: quiz}
	return c.questionReply(sess, "Начинаем тест по теме «"+quiz.Topic+"»!\n\n")
}

func (c *Controller) answer(_ context.Context, userID int64, sess *Session, ev Event) Reply {
	active := sess.Quiz
	question := active.Quiz.Questions[active.Index]

	if ev.Choice < 0 || ev.Choice >= len(question.Options) {
		return Reply{Text: repromptTest, Options: question.Options}
	}

	var feedback string
	if ev.Choice == question.Answer {
		active.Score++
		feedback = "Верно!"
	} else {
		feedback = "Неверно. Правильный ответ: " + question.Options[question.Answer]
	}
	active.Index++

	if active.Index < len(active.Quiz.Questions) {
		return c.questionReply(sess, feedback+"\n\n")
	}

	total := len(active.Quiz.Questions)
	score := active.Score
	percent := score * 100 / total
	verdict := c.assess(percent)

	sess.State = StateIdle
	sess.Quiz = nil
	c.track(models.Event{
		UserID:  userID,
		Type:    models.EventTestCompleted,
		Payload: fmt.Sprintf("%d/%d", score, total),
	})

	return Reply{Text: fmt.Sprintf(
		"%s\n\nТест завершён! Правильных ответов: %d из %d (%d%%).\nОценка: %s.",
		feedback, score, total, percent, verdict)}
}

func (c *Controller) questionReply(sess *Session, prefix string) Reply {
	active := sess.Quiz
	q := active.Quiz.Questions[active.Index]
	return Reply{
		Text: fmt.Sprintf("%sВопрос %d из %d:\n%s",
			prefix, active.Index+1, len(active.Quiz.Questions), q.Text),
		Options: q.Options,
	}
}

func (c *Controller) freeQuestion(ctx context.Context, userID int64, sess *Session, ev Event) Reply {
	if reply, blocked := c.quotaBlocked(ctx, userID); blocked {
		return reply
	}

	// Transient detour: validate the question is on-topic, then
	// either answer it or redirect. Either way we end back in Idle.
	sess.State = StateInConversation
	defer func() { sess.State = StateIdle }()

	validation := c.gen.Generate(ctx, models.GenerationRequest{
		Prompt:      validatePrompt(ev.Text),
		Temperature: 0.1,
		MaxTokens:   16,
		TTL:         c.opts.AnswerTTL,
	})
	if !validation.OK() {
		return Reply{Text: msgApology}
	}
	if !isAffirmative(validation.Text) {
		return Reply{Text: msgOffTopic}
	}

	answer := c.gen.Generate(ctx, models.GenerationRequest{
		Prompt:      answerPrompt(ev.Text),
		Temperature: 0.3,
		MaxTokens:   2048,
		TTL:         c.opts.AnswerTTL,
	})
	if !answer.OK() {
		return Reply{Text: msgApology}
	}

	c.track(models.Event{UserID: userID, Type: models.EventQuestionAsked, Payload: ev.Text})

	text := answer.Text
	if answer.Truncated {
		text += "\n\n(ответ сокращён)"
	}
	return Reply{Text: text}
}

// quotaBlocked replies with the limit notice when the user is over
// quota. Enforcement errors are logged and waved through: a broken
// quota store must not block conversations.
func (c *Controller) quotaBlocked(ctx context.Context, userID int64) (Reply, bool) {
	if c.enforcer == nil {
		return Reply{}, false
	}
	err := c.enforcer.Check(ctx, userID)
	if err == nil {
		return Reply{}, false
	}
	if errors.Is(err, quota.ErrQuotaExceeded) {
		return Reply{Text: msgQuotaExceeded}, true
	}
	c.log.Warn().Err(err).Int64("user", userID).Msg("quota check failed")
	return Reply{}, false
}

func (c *Controller) assess(percent int) string {
	for _, tier := range c.opts.Tiers {
		if percent >= tier.MinPercent {
			return tier.Label
		}
	}
	return ""
}

func (c *Controller) track(ev models.Event) {
	if c.recorder == nil {
		return
	}
	c.recorder.TrackAsync(ev)
}

// parseQuiz decodes a quiz from a model reply that should contain one
// JSON object, possibly wrapped in fences or commentary.
func parseQuiz(text string) (models.Quiz, error) {
	raw, ok := extractJSON(text)
	if !ok {
		return models.Quiz{}, fmt.Errorf("no JSON object in reply")
	}
	var quiz models.Quiz
	if err := json.Unmarshal([]byte(raw), &quiz); err != nil {
		return models.Quiz{}, fmt.Errorf("decode quiz: %w", err)
	}
	if !quiz.Valid() {
		return models.Quiz{}, fmt.Errorf("quiz failed validation")
	}
	return quiz, nil
}
