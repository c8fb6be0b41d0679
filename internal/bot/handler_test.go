package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/navid-fn/pricio/internal/models"
	"github.com/navid-fn/pricio/internal/storage"
)

func seedProduct(t *testing.T, s *storage.MemoryStore, name string) *models.Product {
	t.Helper()
	p := &models.Product{CanonicalKey: strings.ToLower(name) + "||", Name: name}
	if _, err := s.InsertProduct(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestHandlerWatchAndList(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	p := seedProduct(t, s, "Кефир <1%>")
	h := NewHandler(s, []string{"5ka", "magnit"})

	reply := h.Reply(ctx, 42, "watch", p.ID.String()+" 79,90")
	if !strings.Contains(reply, "Кефир &lt;1%&gt;") || !strings.Contains(reply, "79.90 ₽") {
		t.Errorf("Unexpected watch reply: %s", reply)
	}

	subs, _ := s.SubscriptionsForChat(ctx, 42)
	if len(subs) != 1 {
		t.Fatalf("Expected 1 subscription, got %d", len(subs))
	}
	if subs[0].NotifyAnyDecrease || !subs[0].TargetPrice.Valid {
		t.Errorf("Expected a target price rule, got %+v", subs[0])
	}

	list := h.Reply(ctx, 42, "list", "")
	if !strings.Contains(list, p.ID.String()) || !strings.Contains(list, "до 79.90 ₽") {
		t.Errorf("Unexpected list reply: %s", list)
	}

	if other := h.Reply(ctx, 7, "list", ""); !strings.Contains(other, "Подписок пока нет") {
		t.Errorf("Expected an empty list for another chat, got: %s", other)
	}
}

func TestHandlerWatchErrors(t *testing.T) {
	s := storage.NewMemoryStore()
	p := seedProduct(t, s, "Хлеб")
	h := NewHandler(s, nil)

	tests := []struct {
		name     string
		args     string
		expected string
	}{
		{"No arguments", "", "Использование"},
		{"Bad id", "not-a-uuid", "Неверный id"},
		{"Unknown product", uuid.NewString(), "Товар не найден"},
		{"Negative target", p.ID.String() + " -5", "положительным"},
		{"Junk target", p.ID.String() + " cheap", "положительным"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.Reply(context.Background(), 1, "watch", tt.args); !strings.Contains(got, tt.expected) {
				t.Errorf("Expected reply containing %q, got %q", tt.expected, got)
			}
		})
	}

	if subs, _ := s.SubscriptionsForChat(context.Background(), 1); len(subs) != 0 {
		t.Errorf("Expected no subscriptions after invalid commands, got %d", len(subs))
	}
}

func TestHandlerUnwatch(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	p := seedProduct(t, s, "Масло")
	h := NewHandler(s, nil)

	h.Reply(ctx, 5, "watch", p.ID.String())
	if got := h.Reply(ctx, 5, "unwatch", p.ID.String()); got != "Подписка удалена." {
		t.Errorf("Unexpected unwatch reply: %s", got)
	}
	if got := h.Reply(ctx, 5, "unwatch", p.ID.String()); !strings.Contains(got, "нет") {
		t.Errorf("Expected a missing subscription reply, got: %s", got)
	}
}

func TestHandlerStatus(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	run := &models.ScrapeRun{
		Store:      "magnit",
		Status:     models.RunCompleted,
		StartedAt:  time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		Categories: []string{"a", "b"},
		Succeeded:  2,
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	got := NewHandler(s, []string{"5ka", "magnit"}).Reply(ctx, 1, "status", "")
	for _, want := range []string{"Пятёрочка: ещё не было", "Магнит: 01.03.2026 09:30, completed, категорий 2/2"} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected status to contain %q, got:\n%s", want, got)
		}
	}
}

func TestHandlerUnknownCommand(t *testing.T) {
	h := NewHandler(storage.NewMemoryStore(), nil)
	if got := h.Reply(context.Background(), 1, "dance", ""); !strings.Contains(got, "/help") {
		t.Errorf("Expected a pointer to /help, got %q", got)
	}
	if got := h.Reply(context.Background(), 1, "start", ""); !strings.Contains(got, "/watch &lt;id товара&gt;") {
		t.Errorf("Expected escaped help text, got %q", got)
	}
}

func TestHandlerFind(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	kefir := seedProduct(t, s, "Кефир Простоквашино 1%")
	seedProduct(t, s, "Хлеб Бородинский")
	h := NewHandler(s, nil)

	reply := h.Reply(ctx, 42, "find", "кефир")
	if !strings.Contains(reply, "Кефир Простоквашино 1%") || !strings.Contains(reply, "<code>/watch "+kefir.ID.String()+"</code>") {
		t.Errorf("Expected the product with its watch command, got: %s", reply)
	}
	if strings.Contains(reply, "Хлеб") {
		t.Errorf("Expected only matching products, got: %s", reply)
	}

	tests := []struct {
		name     string
		args     string
		expected string
	}{
		{"No query", "", "Использование"},
		{"Too short", "к", "Использование"},
		{"Nothing found", "сыр", "Ничего не нашлось"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.Reply(ctx, 42, "find", tt.args); !strings.Contains(got, tt.expected) {
				t.Errorf("Expected %q in reply, got: %s", tt.expected, got)
			}
		})
	}
}
