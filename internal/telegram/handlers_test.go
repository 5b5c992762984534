package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"tg_member_bot/internal/domain"
	"tg_member_bot/internal/subscription"
)

type fakeSender struct {
	messages []*bot.SendMessageParams
	photos   []*bot.SendPhotoParams
	answered []string

	sendErr  error
	photoErr error
}

func (f *fakeSender) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.messages = append(f.messages, params)
	return &models.Message{}, nil
}

func (f *fakeSender) SendPhoto(_ context.Context, params *bot.SendPhotoParams) (*models.Message, error) {
	if f.photoErr != nil {
		return nil, f.photoErr
	}
	f.photos = append(f.photos, params)
	return &models.Message{}, nil
}

func (f *fakeSender) AnswerCallbackQuery(_ context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	f.answered = append(f.answered, params.CallbackQueryID)
	return true, nil
}

type fakeResolver struct {
	state domain.DisplayState
	err   error

	resolveCalls int
	freshCalls   int
	lastUserID   string
}

func (f *fakeResolver) Resolve(_ context.Context, userID string) (domain.DisplayState, error) {
	f.resolveCalls++
	f.lastUserID = userID
	return f.state, f.err
}

func (f *fakeResolver) ResolveFresh(_ context.Context, userID string) (domain.DisplayState, error) {
	f.freshCalls++
	f.lastUserID = userID
	return f.state, f.err
}

type fakeLinkBuilder struct {
	lastPlan   domain.Plan
	lastMethod domain.PayMethod
	lastUserID int64
}

func (f *fakeLinkBuilder) Link(plan domain.Plan, method domain.PayMethod, userID int64, username string) string {
	f.lastPlan = plan
	f.lastMethod = method
	f.lastUserID = userID
	return fmt.Sprintf("https://form.example/r/abc?t=%d&_tail=1", userID)
}

type fakeLeads struct {
	userIDs   []string
	usernames []string
	err       error
}

func (f *fakeLeads) CreateLead(_ context.Context, userID, username string) error {
	f.userIDs = append(f.userIDs, userID)
	f.usernames = append(f.usernames, username)
	return f.err
}

func newHandlerClient() (*Client, *fakeSender) {
	logger, _ := logtest.NewNullLogger()
	fs := &fakeSender{}

	return &Client{
		sender: fs,
		logger: logrus.NewEntry(logger),
	}, fs
}

func messageUpdate(userID, chatID int64, text string) *models.Update {
	return &models.Update{
		Message: &models.Message{
			From: &models.User{ID: userID, Username: "alice"},
			Chat: models.Chat{ID: chatID},
			Text: text,
		},
	}
}

func callbackUpdate(userID, chatID int64, data string) *models.Update {
	return &models.Update{
		CallbackQuery: &models.CallbackQuery{
			ID:   "cbq-1",
			From: models.User{ID: userID, Username: "alice"},
			Data: data,
			Message: models.MaybeInaccessibleMessage{
				Type: models.MaybeInaccessibleMessageTypeMessage,
				Message: &models.Message{
					Chat: models.Chat{ID: chatID},
				},
			},
		},
	}
}

func lastMessage(t *testing.T, fs *fakeSender) *bot.SendMessageParams {
	t.Helper()
	if len(fs.messages) == 0 {
		t.Fatalf("expected a message to be sent")
	}
	return fs.messages[len(fs.messages)-1]
}

func TestHandleCabinetRendersDisplayState(t *testing.T) {
	client, fs := newHandlerClient()
	resolver := &fakeResolver{
		state: domain.DisplayState{Discord: "foo#1", Email: "a@b.com", StatusLine: "active until 2099-01-01"},
	}
	client.resolver = resolver

	client.handleCabinet(context.Background(), nil, messageUpdate(123, 456, btnAccount))

	msg := lastMessage(t, fs)
	if msg.ChatID != int64(456) {
		t.Fatalf("expected reply to chat 456, got %v", msg.ChatID)
	}
	for _, want := range []string{"Discord: foo#1", "Email: a@b.com", "Status: active until 2099-01-01"} {
		if !strings.Contains(msg.Text, want) {
			t.Fatalf("expected cabinet text to contain %q, got %q", want, msg.Text)
		}
	}

	if resolver.lastUserID != "123" {
		t.Fatalf("expected resolver invoked with user id, got %q", resolver.lastUserID)
	}
	if resolver.resolveCalls != 1 || resolver.freshCalls != 0 {
		t.Fatalf("expected cached resolve path, got resolve=%d fresh=%d", resolver.resolveCalls, resolver.freshCalls)
	}

	markup, ok := msg.ReplyMarkup.(*models.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("expected inline keyboard, got %T", msg.ReplyMarkup)
	}
	if markup.InlineKeyboard[0][0].CallbackData != cbRefresh {
		t.Fatalf("expected refresh button, got %+v", markup.InlineKeyboard)
	}
}

func TestHandleCabinetUnavailable(t *testing.T) {
	client, fs := newHandlerClient()
	client.resolver = &fakeResolver{err: fmt.Errorf("%w: timeout", subscription.ErrUnavailable)}

	client.handleCabinet(context.Background(), nil, messageUpdate(123, 456, btnAccount))

	if got := lastMessage(t, fs).Text; got != msgUnavailable {
		t.Fatalf("expected unavailable message, got %q", got)
	}
}

func TestHandleCabinetGenericError(t *testing.T) {
	client, fs := newHandlerClient()
	client.resolver = &fakeResolver{err: errors.New("bad filter")}

	client.handleCabinet(context.Background(), nil, messageUpdate(123, 456, btnAccount))

	if got := lastMessage(t, fs).Text; got != msgError {
		t.Fatalf("expected generic error message, got %q", got)
	}
}

func TestHandleRefreshBypassesCacheAndAnswers(t *testing.T) {
	client, fs := newHandlerClient()
	resolver := &fakeResolver{state: domain.DisplayState{Discord: "not set", Email: "not set", StatusLine: "no active subscription"}}
	client.resolver = resolver

	client.handleRefresh(context.Background(), nil, callbackUpdate(123, 456, cbRefresh))

	if resolver.freshCalls != 1 || resolver.resolveCalls != 0 {
		t.Fatalf("expected fresh resolve, got resolve=%d fresh=%d", resolver.resolveCalls, resolver.freshCalls)
	}
	if len(fs.answered) != 1 || fs.answered[0] != "cbq-1" {
		t.Fatalf("expected callback to be answered, got %v", fs.answered)
	}
	if !strings.Contains(lastMessage(t, fs).Text, "no active subscription") {
		t.Fatalf("expected refreshed cabinet, got %q", lastMessage(t, fs).Text)
	}
}

func TestHandleProductsListsPlans(t *testing.T) {
	client, fs := newHandlerClient()

	client.handleProducts(context.Background(), nil, messageUpdate(123, 456, btnProducts))

	msg := lastMessage(t, fs)
	markup, ok := msg.ReplyMarkup.(*models.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("expected inline keyboard, got %T", msg.ReplyMarkup)
	}

	// One row per plan plus the close row.
	if len(markup.InlineKeyboard) != len(domain.Plans)+1 {
		t.Fatalf("expected %d rows, got %d", len(domain.Plans)+1, len(markup.InlineKeyboard))
	}
	if !strings.HasPrefix(markup.InlineKeyboard[0][0].CallbackData, cbPlanPrefix) {
		t.Fatalf("expected plan callback, got %q", markup.InlineKeyboard[0][0].CallbackData)
	}
}

func TestHandlePlanSelectedOffersPayMethods(t *testing.T) {
	client, fs := newHandlerClient()

	client.handlePlanSelected(context.Background(), nil, callbackUpdate(123, 456, "plan:community_1m"))

	if len(fs.answered) != 1 {
		t.Fatalf("expected callback answered, got %v", fs.answered)
	}

	msg := lastMessage(t, fs)
	markup, ok := msg.ReplyMarkup.(*models.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("expected inline keyboard, got %T", msg.ReplyMarkup)
	}

	crypto := markup.InlineKeyboard[0][0].CallbackData
	fiat := markup.InlineKeyboard[0][1].CallbackData
	if crypto != "pay:community_1m:crypto" || fiat != "pay:community_1m:fiat" {
		t.Fatalf("expected pay-method callbacks, got %q and %q", crypto, fiat)
	}
}

func TestHandlePlanSelectedUnknownPlan(t *testing.T) {
	client, fs := newHandlerClient()

	client.handlePlanSelected(context.Background(), nil, callbackUpdate(123, 456, "plan:gold_edition"))

	if got := lastMessage(t, fs).Text; got != msgUnknownPlan {
		t.Fatalf("expected unknown plan message, got %q", got)
	}
}

func TestHandlePayMethodBuildsLink(t *testing.T) {
	client, fs := newHandlerClient()
	links := &fakeLinkBuilder{}
	client.links = links
	client.usdtAddress = "TXabc"

	client.handlePayMethodSelected(context.Background(), nil, callbackUpdate(123, 456, "pay:community_1m:crypto"))

	if links.lastPlan.Key != "community_1m" || links.lastMethod != domain.PayMethodCrypto || links.lastUserID != 123 {
		t.Fatalf("expected builder invoked with selection, got %+v method=%s user=%d", links.lastPlan, links.lastMethod, links.lastUserID)
	}

	msg := lastMessage(t, fs)
	if !strings.Contains(msg.Text, "TXabc") {
		t.Fatalf("expected deposit address in payment text, got %q", msg.Text)
	}

	markup, ok := msg.ReplyMarkup.(*models.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("expected inline keyboard, got %T", msg.ReplyMarkup)
	}
	webApp := markup.InlineKeyboard[0][0].WebApp
	if webApp == nil || !strings.Contains(webApp.URL, "t=123") {
		t.Fatalf("expected web-app button with built link, got %+v", markup.InlineKeyboard[0][0])
	}
}

func TestHandlePayMethodRejectsBadSelection(t *testing.T) {
	client, fs := newHandlerClient()
	client.links = &fakeLinkBuilder{}

	for _, data := range []string{"pay:community_1m:cash", "pay:community_1m", "pay::crypto"} {
		client.handlePayMethodSelected(context.Background(), nil, callbackUpdate(123, 456, data))

		if got := lastMessage(t, fs).Text; got != msgUnknownPlan {
			t.Fatalf("data=%q: expected unknown plan message, got %q", data, got)
		}
	}
}

func TestHandleCloseReturnsToMenu(t *testing.T) {
	client, fs := newHandlerClient()

	client.handleClose(context.Background(), nil, callbackUpdate(123, 456, cbClose))

	msg := lastMessage(t, fs)
	if msg.Text != msgMainMenu {
		t.Fatalf("expected main menu text, got %q", msg.Text)
	}
	if _, ok := msg.ReplyMarkup.(*models.ReplyKeyboardMarkup); !ok {
		t.Fatalf("expected reply keyboard, got %T", msg.ReplyMarkup)
	}
}

func TestHandleStartSendsWelcomePhoto(t *testing.T) {
	client, fs := newHandlerClient()
	client.welcomePhotoURL = "https://cdn.example/welcome.jpg"

	client.handleStart(context.Background(), nil, messageUpdate(123, 456, "/start"))

	if len(fs.photos) != 1 {
		t.Fatalf("expected welcome photo, got %d", len(fs.photos))
	}
	if len(fs.messages) != 0 {
		t.Fatalf("expected no text fallback when photo succeeds, got %d messages", len(fs.messages))
	}
}

func TestHandleStartFallsBackToTextOnPhotoFailure(t *testing.T) {
	client, fs := newHandlerClient()
	client.welcomePhotoURL = "https://cdn.example/welcome.jpg"
	fs.photoErr = errors.New("file too big")

	client.handleStart(context.Background(), nil, messageUpdate(123, 456, "/start"))

	msg := lastMessage(t, fs)
	if msg.Text != msgWelcome {
		t.Fatalf("expected welcome text fallback, got %q", msg.Text)
	}
	if _, ok := msg.ReplyMarkup.(*models.ReplyKeyboardMarkup); !ok {
		t.Fatalf("expected main menu keyboard, got %T", msg.ReplyMarkup)
	}
}

func TestHandleStartCreatesLeadWhenConfigured(t *testing.T) {
	client, _ := newHandlerClient()
	leads := &fakeLeads{}
	client.leads = leads

	client.handleStart(context.Background(), nil, messageUpdate(123, 456, "/start"))

	if len(leads.userIDs) != 1 || leads.userIDs[0] != "123" {
		t.Fatalf("expected lead for user 123, got %v", leads.userIDs)
	}
	if leads.usernames[0] != "alice" {
		t.Fatalf("expected username recorded, got %v", leads.usernames)
	}
}

func TestHandleStartStillRepliesWhenLeadFails(t *testing.T) {
	client, fs := newHandlerClient()
	client.leads = &fakeLeads{err: errors.New("store down")}

	client.handleStart(context.Background(), nil, messageUpdate(123, 456, "/start"))

	if got := lastMessage(t, fs).Text; got != msgWelcome {
		t.Fatalf("expected welcome despite lead failure, got %q", got)
	}
}
