package orders

import "time"

type Product struct {
	ID         string    `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	Stock      int       `json:"stock"`
	PriceCents int64     `json:"price_cents"`
	WeightG    int       `json:"weight_g"`
	LengthCM   int       `json:"length_cm"`
	WidthCM    int       `json:"width_cm"`
	HeightCM   int       `json:"height_cm"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Order struct {
	ID              string    `json:"id"`
	ExternalID      string    `json:"external_id"`
	UserID          string    `json:"user_id"`
	Status          Status    `json:"status"` // see status.go
	ItemsCents      int64     `json:"items_cents"`
	ShippingCents   int64     `json:"shipping_cents"`
	TotalCents      int64     `json:"total_cents"`
	ShippingService string    `json:"shipping_service,omitempty"`
	DestCEP         string    `json:"dest_cep,omitempty"`
	PaymentID       string    `json:"payment_id,omitempty"`
	ReviewRequired  bool      `json:"review_required"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type OrderItem struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

type ItemInput struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// NewOrder is what checkout hands to CreateOrderTx. Prices come from the catalog,
// never from the client.
type NewOrder struct {
	ExternalID      string
	UserID          string
	Items           []ItemInput
	DestCEP         string
	ShippingService string
	ShippingCents   int64
}
