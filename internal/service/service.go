// Package service реализует бизнес-логику сервиса генерации детских книг.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/storybook/internal/model"
	"github.com/mmeshcher/storybook/internal/repository"
	"github.com/mmeshcher/storybook/internal/signer"
)

// ErrBookNotReady возвращается при запросе ссылки на книгу, которая отсутствует
// или ещё не сгенерирована.
var ErrBookNotReady = errors.New("book not ready")

const (
	initialProgress = 1
	downloadLinkTTL = 24 * time.Hour
	diagnosticsMax  = 10
	localesMax      = 25

	fallbackAmountCents = 1900
	defaultCurrency     = "USD"
)

var defaultPrices = []model.Price{
	{SKU: "ebook", Label: "eBook (PDF)", AmountCents: 1900, Currency: defaultCurrency},
	{SKU: "hardcover", Label: "Hardcover", AmountCents: 3900, Currency: defaultCurrency},
}

var supportedLocales = []string{
	"en", "es", "fr", "de", "it", "pt", "nl", "sv", "no", "da",
	"fi", "pl", "cs", "sk", "hu", "ro", "bg", "el", "tr", "ru",
	"uk", "ar", "he", "hi", "zh", "ja", "ko",
}

// Service содержит бизнес-логику работы с книгами, ценами и заказами.
// Хранилище может отсутствовать: тогда операции возвращают repository.ErrUnavailable,
// кроме диагностики и прайс-листа.
type Service struct {
	store  repository.DocumentStore
	signer signer.Signer
	now    func() time.Time
}

// NewService создаёт сервис с указанным хранилищем и генератором ссылок.
func NewService(store repository.DocumentStore, linkSigner signer.Signer) *Service {
	if linkSigner == nil {
		linkSigner = signer.NewTemplateSigner("")
	}
	return &Service{
		store:  store,
		signer: linkSigner,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

func (s *Service) requireStore() error {
	if s.store == nil {
		return repository.ErrUnavailable
	}
	return nil
}

// CreateBook создаёт книгу в статусе generating.
func (s *Service) CreateBook(ctx context.Context, meta map[string]any) (*model.Book, error) {
	if err := s.requireStore(); err != nil {
		return nil, fmt.Errorf("create book: %w", err)
	}
	if meta == nil {
		meta = map[string]any{}
	}

	now := s.now()
	book := model.Book{
		Meta:        meta,
		JSONContent: map[string]any{},
		Status:      model.BookStatusGenerating,
		PriceCents:  0,
		Progress:    initialProgress,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	doc, err := repository.Encode(book)
	if err != nil {
		return nil, fmt.Errorf("create book: %w", err)
	}

	id, err := s.store.Insert(ctx, repository.CollectionBooks, doc)
	if err != nil {
		return nil, fmt.Errorf("create book: %w", err)
	}
	book.ID = id

	return &book, nil
}

// GetBook возвращает книгу по идентификатору.
func (s *Service) GetBook(ctx context.Context, id string) (*model.Book, error) {
	if err := s.requireStore(); err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}

	doc, err := s.store.FindOne(ctx, repository.CollectionBooks, repository.Document{repository.IDField: id})
	if err != nil {
		return nil, fmt.Errorf("get book %s: %w", id, err)
	}

	var book model.Book
	if err := repository.Decode(doc, &book); err != nil {
		return nil, fmt.Errorf("get book %s: %w", id, err)
	}

	return &book, nil
}

// UpdateBook применяет частичное обновление книги. Переходы статусов не проверяются.
func (s *Service) UpdateBook(ctx context.Context, id string, upd model.BookUpdate) error {
	if err := s.requireStore(); err != nil {
		return fmt.Errorf("update book: %w", err)
	}

	set := repository.Document{"updated_at": s.now()}
	if upd.Meta != nil {
		set["meta"] = upd.Meta
	}
	if upd.JSONContent != nil {
		set["json_content"] = upd.JSONContent
	}
	if upd.Status != nil {
		set["status"] = *upd.Status
	}
	if upd.Progress != nil {
		set["progress"] = *upd.Progress
	}

	err := s.store.UpdateOne(ctx, repository.CollectionBooks, repository.Document{repository.IDField: id}, set)
	if err != nil {
		return fmt.Errorf("update book %s: %w", id, err)
	}

	return nil
}

// IssueDownloadLink выдаёт ссылку на скачивание готовой книги, действующую 24 часа,
// и сохраняет её в записи книги.
func (s *Service) IssueDownloadLink(ctx context.Context, id string) (*model.DownloadLink, error) {
	if err := s.requireStore(); err != nil {
		return nil, fmt.Errorf("issue download link: %w", err)
	}

	filter := repository.Document{repository.IDField: id}

	doc, err := s.store.FindOne(ctx, repository.CollectionBooks, filter)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrBookNotReady
		}
		return nil, fmt.Errorf("issue download link %s: %w", id, err)
	}

	if status, _ := doc["status"].(string); status != string(model.BookStatusReady) {
		return nil, ErrBookNotReady
	}

	// В ссылку попадает идентификатор в каноническом виде, а не в том, что пришёл в запросе.
	bookID, _ := doc[repository.IDField].(string)

	expires := s.now().Add(downloadLinkTTL)
	link := &model.DownloadLink{
		URL:       s.signer.Sign(bookID, expires),
		ExpiresAt: expires,
	}

	err = s.store.UpdateOne(ctx, repository.CollectionBooks, repository.Document{repository.IDField: bookID}, repository.Document{
		"download_url": link.URL,
		"expires_at":   link.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("issue download link %s: %w", id, err)
	}

	return link, nil
}

// ListPrices возвращает прайс-лист, заполняя его позициями по умолчанию, если он пуст.
// Если хранилище недоступно, возвращается статический список без сохранения.
func (s *Service) ListPrices(ctx context.Context) ([]model.Price, error) {
	if s.store == nil {
		return DefaultPrices(), nil
	}

	prices, err := s.findPrices(ctx)
	if errors.Is(err, repository.ErrUnavailable) {
		return DefaultPrices(), nil
	}
	if err != nil {
		return nil, err
	}
	if len(prices) > 0 {
		return prices, nil
	}

	for _, p := range defaultPrices {
		doc, err := repository.Encode(p)
		if err != nil {
			return nil, fmt.Errorf("seed prices: %w", err)
		}
		// Конкурентный запрос мог уже добавить позицию.
		if _, err := s.store.Insert(ctx, repository.CollectionPrices, doc); err != nil && !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("seed price %s: %w", p.SKU, err)
		}
	}

	return s.findPrices(ctx)
}

func (s *Service) findPrices(ctx context.Context) ([]model.Price, error) {
	docs, err := s.store.Find(ctx, repository.CollectionPrices, nil)
	if err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}

	prices := make([]model.Price, 0, len(docs))
	for _, d := range docs {
		var p model.Price
		if err := repository.Decode(d, &p); err != nil {
			return nil, fmt.Errorf("list prices: %w", err)
		}
		prices = append(prices, p)
	}
	return prices, nil
}

// DefaultPrices возвращает копию прайс-листа по умолчанию.
func DefaultPrices() []model.Price {
	out := make([]model.Price, len(defaultPrices))
	copy(out, defaultPrices)
	return out
}

// CreateOrder создаёт заказ на книгу по указанному артикулу.
// Неизвестный артикул не является ошибкой: используется цена по умолчанию.
func (s *Service) CreateOrder(ctx context.Context, bookID, sku string) (*model.Order, error) {
	if err := s.requireStore(); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	if _, err := s.store.FindOne(ctx, repository.CollectionBooks, repository.Document{repository.IDField: bookID}); err != nil {
		return nil, fmt.Errorf("create order: book %s: %w", bookID, err)
	}

	price := model.Price{SKU: sku, AmountCents: fallbackAmountCents, Currency: defaultCurrency}
	doc, err := s.store.FindOne(ctx, repository.CollectionPrices, repository.Document{"sku": sku})
	switch {
	case err == nil:
		if err := repository.Decode(doc, &price); err != nil {
			return nil, fmt.Errorf("create order: %w", err)
		}
	case errors.Is(err, repository.ErrNotFound):
	default:
		return nil, fmt.Errorf("create order: price %s: %w", sku, err)
	}

	if price.Currency == "" {
		price.Currency = defaultCurrency
	}

	order := newOrder(bookID, sku, price, s.now())

	orderDoc, err := repository.Encode(order)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	id, err := s.store.Insert(ctx, repository.CollectionOrders, orderDoc)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	order.ID = id

	return &order, nil
}

func newOrder(bookID, sku string, price model.Price, now time.Time) model.Order {
	subtotal := price.AmountCents
	var shipping int64 // бесплатная доставка для всех заказов
	var discount int64

	total := subtotal + shipping - discount
	if total < 0 {
		total = 0
	}

	return model.Order{
		BookID: bookID,
		Items: []model.LineItem{
			{SKU: sku, Qty: 1, AmountCents: subtotal},
		},
		SubtotalCents: subtotal,
		ShippingCents: shipping,
		DiscountCents: discount,
		TotalCents:    total,
		Currency:      price.Currency,
		Status:        model.OrderStatusCreated,
		CreatedAt:     now,
	}
}

// Diagnostics возвращает состояние хранилища и до десяти имён коллекций.
// Ошибки не возвращаются, а попадают в результат.
func (s *Service) Diagnostics(ctx context.Context) model.Diagnostics {
	if s.store == nil {
		return model.Diagnostics{Collections: []string{}}
	}

	names, err := s.store.Collections(ctx)
	if err != nil {
		return model.Diagnostics{Err: err}
	}
	if len(names) > diagnosticsMax {
		names = names[:diagnosticsMax]
	}
	if names == nil {
		names = []string{}
	}

	return model.Diagnostics{Configured: true, Collections: names}
}

// Locales возвращает список поддерживаемых языков интерфейса.
func (s *Service) Locales() []string {
	n := min(len(supportedLocales), localesMax)
	out := make([]string, n)
	copy(out, supportedLocales[:n])
	return out
}
