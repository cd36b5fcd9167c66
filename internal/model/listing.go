// Package model defines database models
package model

const (
	KindSell  = "sell"
	KindLease = "lease"
)

// Kinds lists every listing kind accepted by the routes
var Kinds = []string{KindSell, KindLease}

type Listing struct {
	// Seq keeps the insertion order, the public identifier is ListingID
	Seq       uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	ListingID string `gorm:"uniqueIndex;size:36;not null" json:"id"`
	Kind      string `gorm:"index;size:8;not null" json:"kind"`

	SellerName     string `json:"seller_name"`
	Email          string `gorm:"index;not null" json:"-"`
	ContactNumber  string `json:"contact_number"`
	WhatsappNumber string `json:"whatsapp_number"`

	ItemName        string  `gorm:"not null" json:"item_name"`
	ItemDescription string  `json:"item_description"`
	Price           float64 `gorm:"index" json:"price"`
	PricePeriod     string  `json:"price_period,omitempty"`

	// Store keys, turned into URLs when the listing is rendered
	Images StringSlice `json:"-"`

	Published bool  `gorm:"index;default:false" json:"-"`
	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at"`
}

// ListingResponse is the public shape of a listing, images are resolved to URLs
type ListingResponse struct {
	ID              string   `json:"id"`
	Kind            string   `json:"kind"`
	SellerName      string   `json:"seller_name"`
	ContactNumber   string   `json:"contact_number"`
	WhatsappNumber  string   `json:"whatsapp_number"`
	ItemName        string   `json:"item_name"`
	ItemDescription string   `json:"item_description"`
	Price           float64  `json:"price"`
	PricePeriod     string   `json:"price_period,omitempty"`
	Images          []string `json:"images"`
	CreatedAt       int64    `json:"created_at"`
}

func (l *Listing) Response(imageURLs []string) ListingResponse {
	if imageURLs == nil {
		imageURLs = []string{}
	}

	return ListingResponse{
		ID:              l.ListingID,
		Kind:            l.Kind,
		SellerName:      l.SellerName,
		ContactNumber:   l.ContactNumber,
		WhatsappNumber:  l.WhatsappNumber,
		ItemName:        l.ItemName,
		ItemDescription: l.ItemDescription,
		Price:           l.Price,
		PricePeriod:     l.PricePeriod,
		Images:          imageURLs,
		CreatedAt:       l.CreatedAt,
	}
}
