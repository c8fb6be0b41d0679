package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/navid-fn/pricio/internal/models"
	"github.com/navid-fn/pricio/internal/storage"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	failTo  map[int64]bool
	blocked map[int64]bool
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := c.(tgbotapi.MessageConfig)
	if f.failTo[msg.ChatID] {
		return tgbotapi.Message{}, errors.New("connection reset by peer")
	}
	if f.blocked[msg.ChatID] {
		return tgbotapi.Message{}, &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}
	}
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) chats() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for _, m := range f.sent {
		ids = append(ids, m.ChatID)
	}
	slices.Sort(ids)
	return ids
}

func dropEvent(productID uuid.UUID, newPrice string) models.PriceDropEvent {
	return models.PriceDropEvent{
		ListingID:     uuid.New(),
		ProductID:     productID,
		Store:         "5ka",
		ProductName:   "Молоко",
		OldPrice:      decimal.RequireFromString("100"),
		NewPrice:      decimal.RequireFromString(newPrice),
		Delta:         decimal.RequireFromString("100").Sub(decimal.RequireFromString(newPrice)),
		Currency:      "RUB",
		ObservationID: 9,
	}
}

func TestTelegramDelivererRespectsRules(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	productID := uuid.New()

	subs := []*models.Subscription{
		{ChatID: 1, ProductID: productID, NotifyAnyDecrease: true},
		{ChatID: 2, ProductID: productID, TargetPrice: decimal.NewNullDecimal(decimal.RequireFromString("80"))},
		{ChatID: 3, ProductID: productID, TargetPrice: decimal.NewNullDecimal(decimal.RequireFromString("95"))},
		{ChatID: 4, ProductID: uuid.New(), NotifyAnyDecrease: true},
	}
	for _, sub := range subs {
		if err := s.SaveSubscription(ctx, sub); err != nil {
			t.Fatal(err)
		}
	}

	sender := &fakeSender{}
	d := NewTelegramDeliverer(s, s, sender, quietLogger())
	if err := d.Deliver(ctx, dropEvent(productID, "90")); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	got := sender.chats()
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("Expected chats [1 3], got %v", got)
	}
	if sender.sent[0].ParseMode != tgbotapi.ModeHTML {
		t.Errorf("Expected HTML parse mode, got %q", sender.sent[0].ParseMode)
	}
}

func TestTelegramDelivererRetriesOnlyMissedChats(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	productID := uuid.New()
	for _, chat := range []int64{1, 2} {
		if err := s.SaveSubscription(ctx, &models.Subscription{ChatID: chat, ProductID: productID, NotifyAnyDecrease: true}); err != nil {
			t.Fatal(err)
		}
	}

	sender := &fakeSender{failTo: map[int64]bool{2: true}}
	d := NewTelegramDeliverer(s, s, sender, quietLogger())
	event := dropEvent(productID, "90")

	if err := d.Deliver(ctx, event); err == nil {
		t.Fatal("Expected an error when a chat could not be reached")
	}

	sender.failTo = nil
	if err := d.Deliver(ctx, event); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}

	got := sender.chats()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("Expected chat 1 once and chat 2 on retry, got %v", got)
	}
}

func TestTelegramDelivererSkipsBlockedChats(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	productID := uuid.New()
	for _, chat := range []int64{1, 2} {
		if err := s.SaveSubscription(ctx, &models.Subscription{ChatID: chat, ProductID: productID, NotifyAnyDecrease: true}); err != nil {
			t.Fatal(err)
		}
	}

	sender := &fakeSender{blocked: map[int64]bool{2: true}}
	d := NewTelegramDeliverer(s, s, sender, quietLogger())
	event := dropEvent(productID, "90")

	if err := d.Deliver(ctx, event); err != nil {
		t.Fatalf("Expected a blocked chat not to fail the event, got %v", err)
	}
	if got := sender.chats(); len(got) != 1 || got[0] != 1 {
		t.Errorf("Expected only chat 1 reached, got %v", got)
	}

	done, err := s.Delivered(ctx, ChatConsumer(2), event.ListingID, event.ObservationID)
	if err != nil || !done {
		t.Errorf("Expected the blocked chat recorded as handled, got %v %v", done, err)
	}
}

func TestPermanentSendErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"Blocked", &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}, true},
		{"Chat not found", tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}, true},
		{"Wrapped", fmt.Errorf("send: %w", &tgbotapi.Error{Code: 403}), true},
		{"Rate limited", &tgbotapi.Error{Code: 429, Message: "Too Many Requests"}, false},
		{"Server error", &tgbotapi.Error{Code: 502}, false},
		{"Network", errors.New("dial tcp: i/o timeout"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := permanent(tt.err); got != tt.want {
				t.Errorf("permanent(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
