package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"tg_member_bot/internal/domain"
	"tg_member_bot/internal/logging"
	"tg_member_bot/internal/subscription"
)

// Reply-keyboard button labels; the menu tiles are always visible.
const (
	btnInformation = "ℹ️ Information"
	btnHelp        = "❓ Help"
	btnProducts    = "📦 Products"
	btnResources   = "🌐 Resources"
	btnAccount     = "👤 My account"
)

// Callback action tokens.
const (
	cbPlanPrefix = "plan:"
	cbPayPrefix  = "pay:"
	cbRefresh    = "refresh"
	cbClose      = "close"
)

const (
	msgMainMenu    = "Main menu"
	msgWelcome     = "Welcome! Pick an option from the menu below."
	msgInformation = "The information section is coming soon."
	msgHelp        = "The help section is coming soon."
	msgResources   = "The resources section is coming soon."
	msgPlans       = "Available plans:"
	msgUnavailable = "The service is temporarily unavailable, please try again shortly."
	msgError       = "Something went wrong, please try again."
	msgUnknownPlan = "Unknown plan"
)

const (
	resolveTimeout = 30 * time.Second
	leadTimeout    = 10 * time.Second
)

func mainMenuKeyboard() *models.ReplyKeyboardMarkup {
	return &models.ReplyKeyboardMarkup{
		Keyboard: [][]models.KeyboardButton{
			{
				{Text: btnInformation},
				{Text: btnHelp},
			},
			{
				{Text: btnProducts},
				{Text: btnResources},
			},
			{
				{Text: btnAccount},
			},
		},
		ResizeKeyboard: true,
	}
}

func plansKeyboard() *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(domain.Plans)+1)
	for _, plan := range domain.Plans {
		rows = append(rows, []models.InlineKeyboardButton{
			{Text: plan.Label, CallbackData: cbPlanPrefix + plan.Key},
		})
	}
	rows = append(rows, []models.InlineKeyboardButton{
		{Text: "Close", CallbackData: cbClose},
	})

	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func payMethodKeyboard(planKey string) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "USDT (TRC20)", CallbackData: cbPayPrefix + planKey + ":" + string(domain.PayMethodCrypto)},
				{Text: "Card (UAH)", CallbackData: cbPayPrefix + planKey + ":" + string(domain.PayMethodFiat)},
			},
			{
				{Text: "Back to main menu", CallbackData: cbClose},
			},
		},
	}
}

func paymentKeyboard(link string) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "Confirm payment", WebApp: &models.WebAppInfo{URL: link}},
			},
			{
				{Text: "Back to main menu", CallbackData: cbClose},
			},
		},
	}
}

func (c *Client) handleStart(ctx context.Context, _ *bot.Bot, update *models.Update) {
	meta := extractUpdateMeta(update)
	if meta.chatID == 0 {
		return
	}

	if c.leads != nil && meta.userID != 0 {
		leadCtx, cancel := context.WithTimeout(ctx, leadTimeout)
		if err := c.leads.CreateLead(leadCtx, strconv.FormatInt(meta.userID, 10), meta.username); err != nil {
			c.logger.WithFields(logging.Fields{
				"event":   "lead_create_failed",
				"user_id": meta.userID,
			}).WithError(err).Warn("could not create first-contact record")
		}
		cancel()
	}

	c.sendWelcome(ctx, meta.chatID)
}

// sendWelcome sends the welcome photo with the main menu attached, falling
// back to plain text when no photo is configured or the photo send fails.
func (c *Client) sendWelcome(ctx context.Context, chatID int64) {
	if c.welcomePhotoURL != "" {
		_, err := c.sender.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:      chatID,
			Photo:       &models.InputFileString{Data: c.welcomePhotoURL},
			Caption:     msgWelcome,
			ReplyMarkup: mainMenuKeyboard(),
		})
		if err == nil {
			return
		}

		c.logger.WithFields(logging.Fields{
			"event":   "welcome_photo_failed",
			"chat_id": chatID,
		}).WithError(err).Warn("photo send failed, falling back to text")
	}

	c.reply(ctx, chatID, msgWelcome, mainMenuKeyboard())
}

func (c *Client) handleInformation(ctx context.Context, _ *bot.Bot, update *models.Update) {
	meta := extractUpdateMeta(update)
	c.reply(ctx, meta.chatID, msgInformation, mainMenuKeyboard())
}

func (c *Client) handleHelp(ctx context.Context, _ *bot.Bot, update *models.Update) {
	meta := extractUpdateMeta(update)
	c.reply(ctx, meta.chatID, msgHelp, mainMenuKeyboard())
}

func (c *Client) handleResources(ctx context.Context, _ *bot.Bot, update *models.Update) {
	meta := extractUpdateMeta(update)
	c.reply(ctx, meta.chatID, msgResources, mainMenuKeyboard())
}

func (c *Client) handleProducts(ctx context.Context, _ *bot.Bot, update *models.Update) {
	meta := extractUpdateMeta(update)
	c.reply(ctx, meta.chatID, msgPlans, plansKeyboard())
}

func (c *Client) handleCabinet(ctx context.Context, _ *bot.Bot, update *models.Update) {
	meta := extractUpdateMeta(update)
	if meta.chatID == 0 || meta.userID == 0 {
		return
	}

	c.renderCabinet(ctx, meta, false)
}

func (c *Client) handleRefresh(ctx context.Context, _ *bot.Bot, update *models.Update) {
	meta := extractUpdateMeta(update)
	c.answerCallback(ctx, update)
	if meta.chatID == 0 || meta.userID == 0 {
		return
	}

	c.renderCabinet(ctx, meta, true)
}

// renderCabinet resolves and renders the user's subscription standing. The
// triggering action is always answered, even when resolution fails.
func (c *Client) renderCabinet(ctx context.Context, meta updateMeta, fresh bool) {
	if c.resolver == nil {
		c.logger.WithField("event", "resolver_missing").Error("cabinet requested but no resolver is configured")
		c.reply(ctx, meta.chatID, msgError, mainMenuKeyboard())
		return
	}

	resolveCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	id := strconv.FormatInt(meta.userID, 10)

	var state domain.DisplayState
	var err error
	if fresh {
		state, err = c.resolver.ResolveFresh(resolveCtx, id)
	} else {
		state, err = c.resolver.Resolve(resolveCtx, id)
	}
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "resolve_failed",
			"user_id": meta.userID,
		}).WithError(err).Warn("subscription resolution failed")

		if errors.Is(err, subscription.ErrUnavailable) {
			c.reply(ctx, meta.chatID, msgUnavailable, mainMenuKeyboard())
			return
		}
		c.reply(ctx, meta.chatID, msgError, mainMenuKeyboard())
		return
	}

	text := fmt.Sprintf("👤 My account\n\nDiscord: %s\nEmail: %s\n\nStatus: %s",
		state.Discord, state.Email, state.StatusLine)

	refreshKeyboard := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "🔄 Refresh", CallbackData: cbRefresh}},
		},
	}

	c.reply(ctx, meta.chatID, text, refreshKeyboard)
}

func (c *Client) handlePlanSelected(ctx context.Context, _ *bot.Bot, update *models.Update) {
	meta := extractUpdateMeta(update)
	c.answerCallback(ctx, update)
	if meta.chatID == 0 {
		return
	}

	key := strings.TrimSpace(strings.TrimPrefix(meta.text, cbPlanPrefix))
	plan, err := domain.PlanByKey(key)
	if err != nil {
		c.reply(ctx, meta.chatID, msgUnknownPlan, mainMenuKeyboard())
		return
	}

	c.reply(ctx, meta.chatID, "How would you like to pay for "+plan.Label+"?", payMethodKeyboard(plan.Key))
}

func (c *Client) handlePayMethodSelected(ctx context.Context, _ *bot.Bot, update *models.Update) {
	meta := extractUpdateMeta(update)
	c.answerCallback(ctx, update)
	if meta.chatID == 0 || meta.userID == 0 {
		return
	}

	key, method, ok := parsePaySelection(meta.text)
	if !ok {
		c.reply(ctx, meta.chatID, msgUnknownPlan, mainMenuKeyboard())
		return
	}

	plan, err := domain.PlanByKey(key)
	if err != nil {
		c.reply(ctx, meta.chatID, msgUnknownPlan, mainMenuKeyboard())
		return
	}

	if c.links == nil {
		c.logger.WithField("event", "link_builder_missing").Error("payment requested but no link builder is configured")
		c.reply(ctx, meta.chatID, msgError, mainMenuKeyboard())
		return
	}

	link := c.links.Link(plan, method, meta.userID, meta.username)

	c.logger.WithFields(logging.Fields{
		"event":      "payment_link_built",
		"user_id":    meta.userID,
		"plan":       plan.Key,
		"pay_method": string(method),
	}).Info("built payment link")

	c.reply(ctx, meta.chatID, c.paymentText(plan, method), paymentKeyboard(link))
}

func (c *Client) paymentText(plan domain.Plan, method domain.PayMethod) string {
	usdt, uah := plan.Amounts(method)

	if method == domain.PayMethodCrypto {
		text := fmt.Sprintf("To pay for %s, transfer %s USDT", plan.Label, usdt)
		if c.usdtAddress != "" {
			text += fmt.Sprintf(":\n\n%s (USDT, TRC20 network)", c.usdtAddress)
		} else {
			text += "."
		}
		return text + "\n\nAfter paying, press \"Confirm payment\" and fill in the form."
	}

	return fmt.Sprintf("To pay for %s, the amount is %s UAH.\n\nPress \"Confirm payment\" and fill in the form.", plan.Label, uah)
}

func parsePaySelection(data string) (key string, method domain.PayMethod, ok bool) {
	rest := strings.TrimPrefix(data, cbPayPrefix)
	key, methodRaw, found := strings.Cut(rest, ":")
	if !found || key == "" {
		return "", "", false
	}

	switch domain.PayMethod(methodRaw) {
	case domain.PayMethodCrypto:
		return key, domain.PayMethodCrypto, true
	case domain.PayMethodFiat:
		return key, domain.PayMethodFiat, true
	default:
		return "", "", false
	}
}

func (c *Client) handleClose(ctx context.Context, _ *bot.Bot, update *models.Update) {
	meta := extractUpdateMeta(update)
	c.answerCallback(ctx, update)
	if meta.chatID == 0 {
		return
	}

	c.reply(ctx, meta.chatID, msgMainMenu, mainMenuKeyboard())
}

func (c *Client) reply(ctx context.Context, chatID int64, text string, markup models.ReplyMarkup) {
	if c.sender == nil || chatID == 0 {
		return
	}

	_, err := c.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: markup,
	})
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "send_failed",
			"chat_id": chatID,
		}).WithError(err).Error("failed to send message")
	}
}

func (c *Client) answerCallback(ctx context.Context, update *models.Update) {
	if c.sender == nil || update == nil || update.CallbackQuery == nil {
		return
	}

	_, err := c.sender.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: update.CallbackQuery.ID,
	})
	if err != nil {
		c.logger.WithField("event", "answer_callback_failed").WithError(err).Warn("failed to answer callback query")
	}
}
