// Package model содержит доменные сущности сервиса генерации детских книг.
package model

import "time"

// BookStatus описывает этап жизненного цикла книги.
type BookStatus string

const (
	BookStatusDraft      BookStatus = "draft"
	BookStatusGenerating BookStatus = "generating"
	BookStatusReady      BookStatus = "ready"
	BookStatusError      BookStatus = "error"
)

// Book описывает книгу и состояние её генерации.
type Book struct {
	ID          string         `json:"id,omitempty"`
	OwnerID     *string        `json:"ownerId"`
	Meta        map[string]any `json:"meta"`
	JSONContent map[string]any `json:"json_content"`
	Status      BookStatus     `json:"status"`
	PriceCents  int64          `json:"priceCents"`
	Progress    int            `json:"progress"`
	DownloadURL *string        `json:"download_url"`
	ExpiresAt   *time.Time     `json:"expires_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// BookUpdate содержит частичное обновление книги. Nil-поля не изменяются.
type BookUpdate struct {
	Meta        map[string]any `json:"meta,omitempty"`
	JSONContent map[string]any `json:"json_content,omitempty"`
	Status      *string        `json:"status,omitempty"`
	Progress    *int           `json:"progress,omitempty"`
}

// Price описывает позицию прайс-листа.
type Price struct {
	ID          string `json:"id,omitempty"`
	SKU         string `json:"sku"`
	Label       string `json:"label"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
}

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFulfilled OrderStatus = "fulfilled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// LineItem описывает строку заказа.
type LineItem struct {
	SKU         string `json:"sku"`
	Qty         int    `json:"qty"`
	AmountCents int64  `json:"amountCents"`
}

// Order описывает заказ на книгу. Все суммы хранятся в центах.
type Order struct {
	ID            string      `json:"id,omitempty"`
	BookID        string      `json:"bookId"`
	OwnerID       *string     `json:"ownerId"`
	Items         []LineItem  `json:"items"`
	SubtotalCents int64       `json:"subtotalCents"`
	ShippingCents int64       `json:"shippingCents"`
	DiscountCents int64       `json:"discountCents"`
	TotalCents    int64       `json:"totalCents"`
	Currency      string      `json:"currency"`
	Status        OrderStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
}

// DownloadLink содержит ссылку на скачивание готовой книги и срок её действия.
type DownloadLink struct {
	URL       string
	ExpiresAt time.Time
}

// Diagnostics описывает состояние подключения к хранилищу.
type Diagnostics struct {
	Configured  bool
	Collections []string
	Err         error
}
