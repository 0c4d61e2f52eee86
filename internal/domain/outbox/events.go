package outbox

import "time"

// PriceDroppedPayload is stored with KindPriceDropped messages.
type PriceDroppedPayload struct {
	NotificationID int64     `json:"notification_id"`
	ConfigID       int64     `json:"config_id"`
	UserID         int64     `json:"user_id"`
	ProductID      int64     `json:"product_id"`
	Price          string    `json:"price"`
	Target         string    `json:"target"`
	At             time.Time `json:"at"`
}
