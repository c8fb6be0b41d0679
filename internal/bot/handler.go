// Package bot is the Telegram surface: chat commands for managing price
// subscriptions, and delivery of drop events to subscribed chats.
package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/navid-fn/pricio/internal/models"
	"github.com/navid-fn/pricio/internal/notifier"
	"github.com/navid-fn/pricio/internal/storage"
)

const helpText = `Я слежу за ценами в Пятёрочке и Магните.

/find <название> - найти товар и его id
/watch <id товара> [цена] - подписаться на снижение цены
/unwatch <id товара> - отписаться
/list - мои подписки
/status - последние обходы магазинов
/help - эта справка`

// Store is the storage the command handler needs.
type Store interface {
	storage.ProductRepository
	storage.SubscriptionRepository
	storage.RunRepository
}

// Handler answers chat commands.
type Handler struct {
	store  Store
	stores []string
}

// NewHandler returns a handler that reports scrape status for the given store ids.
func NewHandler(store Store, stores []string) *Handler {
	return &Handler{store: store, stores: stores}
}

// Reply returns the HTML answer to a command sent in chatID.
func (h *Handler) Reply(ctx context.Context, chatID int64, command, args string) string {
	var (
		reply string
		err   error
	)
	switch command {
	case "start", "help":
		return html.EscapeString(helpText)
	case "find":
		reply, err = h.find(ctx, args)
	case "watch":
		reply, err = h.watch(ctx, chatID, strings.Fields(args))
	case "unwatch":
		reply, err = h.unwatch(ctx, chatID, strings.Fields(args))
	case "list":
		reply, err = h.list(ctx, chatID)
	case "status":
		reply, err = h.status(ctx)
	default:
		return "Неизвестная команда. Список команд: /help"
	}
	if err != nil {
		return "Сервис временно недоступен, попробуйте позже."
	}
	return reply
}

// searchLimit caps the products listed by /find.
const searchLimit = 10

func (h *Handler) find(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < 2 {
		return "Использование: /find &lt;название&gt; (не короче 2 букв)", nil
	}
	products, err := h.store.SearchProducts(ctx, query, searchLimit)
	if err != nil {
		return "", err
	}
	if len(products) == 0 {
		return "Ничего не нашлось.", nil
	}

	var b strings.Builder
	b.WriteString("<b>Найдено:</b>\n")
	for _, p := range products {
		name := p.Name
		if p.Unit != "" {
			name += ", " + p.Unit
		}
		fmt.Fprintf(&b, "• %s\n  <code>/watch %s</code>\n", html.EscapeString(name), p.ID)
	}
	if len(products) == searchLimit {
		b.WriteString("Показаны первые результаты, уточните запрос.")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (h *Handler) watch(ctx context.Context, chatID int64, args []string) (string, error) {
	if len(args) == 0 || len(args) > 2 {
		return "Использование: /watch &lt;id товара&gt; [цена]", nil
	}
	productID, err := uuid.Parse(args[0])
	if err != nil {
		return "Неверный id товара.", nil
	}

	sub := &models.Subscription{ChatID: chatID, ProductID: productID, NotifyAnyDecrease: true}
	if len(args) == 2 {
		target, err := decimal.NewFromString(strings.ReplaceAll(args[1], ",", "."))
		if err != nil || !target.IsPositive() {
			return "Цена должна быть положительным числом.", nil
		}
		sub.TargetPrice = decimal.NewNullDecimal(target)
		sub.NotifyAnyDecrease = false
	}

	product, err := h.store.ProductByID(ctx, productID)
	if errors.Is(err, storage.ErrNotFound) {
		return "Товар не найден.", nil
	}
	if err != nil {
		return "", err
	}

	if err := h.store.SaveSubscription(ctx, sub); err != nil {
		return "", err
	}
	if sub.TargetPrice.Valid {
		return fmt.Sprintf("Сообщу, когда <b>%s</b> будет стоить не больше %s.",
			html.EscapeString(product.Name), notifier.FormatPrice(sub.TargetPrice.Decimal, "RUB")), nil
	}
	return fmt.Sprintf("Сообщу о любом снижении цены на <b>%s</b>.", html.EscapeString(product.Name)), nil
}

func (h *Handler) unwatch(ctx context.Context, chatID int64, args []string) (string, error) {
	if len(args) != 1 {
		return "Использование: /unwatch &lt;id товара&gt;", nil
	}
	productID, err := uuid.Parse(args[0])
	if err != nil {
		return "Неверный id товара.", nil
	}
	removed, err := h.store.DeleteSubscription(ctx, chatID, productID)
	if err != nil {
		return "", err
	}
	if !removed {
		return "Подписки на этот товар нет.", nil
	}
	return "Подписка удалена.", nil
}

func (h *Handler) list(ctx context.Context, chatID int64) (string, error) {
	subs, err := h.store.SubscriptionsForChat(ctx, chatID)
	if err != nil {
		return "", err
	}
	if len(subs) == 0 {
		return "Подписок пока нет. Найдите товар: /find &lt;название&gt;", nil
	}

	var b strings.Builder
	b.WriteString("<b>Ваши подписки:</b>\n")
	for _, sub := range subs {
		name := sub.ProductID.String()
		if p, err := h.store.ProductByID(ctx, sub.ProductID); err == nil {
			name = p.Name
		} else if !errors.Is(err, storage.ErrNotFound) {
			return "", err
		}

		rule := "любое снижение"
		if sub.TargetPrice.Valid {
			rule = "до " + notifier.FormatPrice(sub.TargetPrice.Decimal, "RUB")
		}
		fmt.Fprintf(&b, "• %s (%s)\n  <code>%s</code>\n", html.EscapeString(name), rule, sub.ProductID)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (h *Handler) status(ctx context.Context) (string, error) {
	var b strings.Builder
	b.WriteString("<b>Последние обходы:</b>")
	for _, store := range h.stores {
		runs, err := h.store.ListRuns(ctx, store, 1)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "\n%s: ", notifier.StoreTitle(store))
		if len(runs) == 0 {
			b.WriteString("ещё не было")
			continue
		}
		run := runs[0]
		fmt.Fprintf(&b, "%s, %s, категорий %d/%d",
			run.StartedAt.Format("02.01.2006 15:04"), run.Status, run.Succeeded, len(run.Categories))
	}
	return b.String(), nil
}
