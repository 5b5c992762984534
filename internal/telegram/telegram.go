// Package telegram hosts the Telegram client, routing, and handlers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_member_bot/internal/config"
	"tg_member_bot/internal/domain"
	"tg_member_bot/internal/logging"
)

type botRunner interface {
	Start(ctx context.Context)
}

// sender is the outbound subset of bot.Bot the handlers use; fakes stand in
// for it in tests.
type sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

// subscriptionResolver derives a user's display state from the record store.
type subscriptionResolver interface {
	Resolve(ctx context.Context, userID string) (domain.DisplayState, error)
	ResolveFresh(ctx context.Context, userID string) (domain.DisplayState, error)
}

// linkBuilder produces prefilled payment-form URLs.
type linkBuilder interface {
	Link(plan domain.Plan, method domain.PayMethod, userID int64, username string) string
}

// leadRecorder creates a minimal first-contact record in the store.
type leadRecorder interface {
	CreateLead(ctx context.Context, userID, username string) error
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"edited_message",
		"callback_query",
	}

	createBot = func(token string, options ...bot.Option) (botRunner, error) {
		return bot.New(token, options...)
	}
)

// Client wraps the Telegram bot instance and the collaborators the handlers
// depend on.
type Client struct {
	bot    botRunner
	sender sender
	logger *logrus.Entry

	resolver subscriptionResolver
	links    linkBuilder
	leads    leadRecorder

	productName     string
	usdtAddress     string
	welcomePhotoURL string
}

// Option configures optional Client collaborators.
type Option func(*Client)

// WithResolver attaches the subscription resolver used by the cabinet.
func WithResolver(resolver subscriptionResolver) Option {
	return func(c *Client) {
		c.resolver = resolver
	}
}

// WithLinkBuilder attaches the payment link builder.
func WithLinkBuilder(links linkBuilder) Option {
	return func(c *Client) {
		c.links = links
	}
}

// WithLeadRecorder enables first-contact record creation on /start.
func WithLeadRecorder(leads leadRecorder) Option {
	return func(c *Client) {
		c.leads = leads
	}
}

// NewClient initializes the Telegram bot with long polling and the menu,
// cabinet, and payment handlers.
func NewClient(cfg config.Config, logger *logrus.Entry, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	client := &Client{
		logger:          logger,
		productName:     cfg.ProductName,
		usdtAddress:     cfg.USDTAddress,
		welcomePhotoURL: cfg.WelcomePhotoURL,
	}

	for _, opt := range opts {
		opt(client)
	}

	tgBot, err := createBot(cfg.TelegramToken,
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(defaultHandler(logger)),
		bot.WithErrorsHandler(errorHandler(logger)),
		bot.WithMessageTextHandler("/start", bot.MatchTypePrefix, client.safe("start", client.handleStart)),
		bot.WithMessageTextHandler(btnInformation, bot.MatchTypeExact, client.safe("information", client.handleInformation)),
		bot.WithMessageTextHandler(btnHelp, bot.MatchTypeExact, client.safe("help", client.handleHelp)),
		bot.WithMessageTextHandler(btnResources, bot.MatchTypeExact, client.safe("resources", client.handleResources)),
		bot.WithMessageTextHandler(btnProducts, bot.MatchTypeExact, client.safe("products", client.handleProducts)),
		bot.WithMessageTextHandler(btnAccount, bot.MatchTypeExact, client.safe("cabinet", client.handleCabinet)),
		bot.WithCallbackQueryDataHandler(cbPlanPrefix, bot.MatchTypePrefix, client.safe("plan", client.handlePlanSelected)),
		bot.WithCallbackQueryDataHandler(cbPayPrefix, bot.MatchTypePrefix, client.safe("pay", client.handlePayMethodSelected)),
		bot.WithCallbackQueryDataHandler(cbRefresh, bot.MatchTypeExact, client.safe("refresh", client.handleRefresh)),
		bot.WithCallbackQueryDataHandler(cbClose, bot.MatchTypeExact, client.safe("close", client.handleClose)),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}

	client.bot = tgBot
	if s, ok := tgBot.(sender); ok {
		client.sender = s
	}

	return client, nil
}

// Start begins receiving updates via long polling until the context is canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

// safe wraps a handler so a panic in one user's update is logged instead of
// taking down polling for everyone else.
func (c *Client) safe(name string, handler bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.WithFields(logging.Fields{
					"event":   "handler_panic",
					"handler": name,
					"panic":   fmt.Sprintf("%v", r),
				}).Error("recovered from handler panic")
			}
		}()

		handler(ctx, b, update)
	}
}

type updateMeta struct {
	userID     int64
	chatID     int64
	username   string
	text       string
	updateType string
}

func defaultHandler(logger *logrus.Entry) bot.HandlerFunc {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(ctx context.Context, _ *bot.Bot, update *models.Update) {
		if update == nil {
			return
		}

		meta := extractUpdateMeta(update)

		fields := logging.Fields{
			"event":       "telegram_update",
			"update_type": meta.updateType,
		}

		if meta.text != "" {
			fields["text"] = meta.text
		}
		if meta.userID != 0 {
			fields["user_id"] = meta.userID
		}
		if meta.chatID != 0 {
			fields["chat_id"] = meta.chatID
		}

		logger.WithFields(fields).Info("unrouted telegram update")
	}
}

func extractUpdateMeta(update *models.Update) updateMeta {
	switch {
	case update.Message != nil:
		return updateMeta{
			userID:     userID(update.Message.From),
			chatID:     chatID(&update.Message.Chat),
			username:   username(update.Message.From),
			text:       strings.TrimSpace(update.Message.Text),
			updateType: "message",
		}
	case update.EditedMessage != nil:
		return updateMeta{
			userID:     userID(update.EditedMessage.From),
			chatID:     chatID(&update.EditedMessage.Chat),
			username:   username(update.EditedMessage.From),
			text:       strings.TrimSpace(update.EditedMessage.Text),
			updateType: "edited_message",
		}
	case update.CallbackQuery != nil:
		return updateMeta{
			userID:     update.CallbackQuery.From.ID,
			chatID:     messageChatID(update.CallbackQuery.Message),
			username:   update.CallbackQuery.From.Username,
			text:       strings.TrimSpace(update.CallbackQuery.Data),
			updateType: "callback_query",
		}
	default:
		return updateMeta{updateType: "unknown"}
	}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

func userID(user *models.User) int64 {
	if user == nil {
		return 0
	}

	return user.ID
}

func username(user *models.User) string {
	if user == nil {
		return ""
	}

	return user.Username
}

func chatID(chat *models.Chat) int64 {
	if chat == nil {
		return 0
	}

	return chat.ID
}

func messageChatID(msg models.MaybeInaccessibleMessage) int64 {
	switch msg.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if msg.Message == nil {
			return 0
		}
		return chatID(&msg.Message.Chat)
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if msg.InaccessibleMessage == nil {
			return 0
		}
		return chatID(&msg.InaccessibleMessage.Chat)
	default:
		return 0
	}
}
