package validators

import (
	"errors"
	"math"
	"mime/multipart"
	"strconv"
	"strings"

	"unitools/market-api/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var (
	ErrItemNameRequired    = errors.New("item name is required")
	ErrPriceRequired       = errors.New("price is required")
	ErrPriceInvalid        = errors.New("price must be a non-negative number")
	ErrPricePeriodRequired = errors.New("price period is required for lease listings")
	ErrKindInvalid         = errors.New("unknown listing kind")
)

// ListingForm is the multipart body of a sell or lease submission
type ListingForm struct {
	SellerName      string                  `form:"seller_name" binding:"max=120"`
	Email           string                  `form:"email" binding:"required,campusemail"`
	ContactNumber   string                  `form:"contact_number" binding:"max=32"`
	WhatsappNumber  string                  `form:"whatsapp_number" binding:"max=32"`
	ItemName        string                  `form:"item_name" binding:"required,max=200"`
	ItemDescription string                  `form:"item_description" binding:"max=5000"`
	Price           string                  `form:"price" binding:"required"`
	PricePeriod     string                  `form:"price_period" binding:"max=32"`
	Images          []*multipart.FileHeader `form:"images"`
}

// Validate trims the form and checks what struct tags can't express.
// It returns the parsed price.
func (f *ListingForm) Validate(kind string) (float64, error) {
	if !KindValidator(kind) {
		return 0, ErrKindInvalid
	}

	f.SellerName = strings.TrimSpace(f.SellerName)
	f.Email = strings.ToLower(strings.TrimSpace(f.Email))
	f.ContactNumber = strings.TrimSpace(f.ContactNumber)
	f.WhatsappNumber = strings.TrimSpace(f.WhatsappNumber)
	f.ItemName = strings.TrimSpace(f.ItemName)
	f.ItemDescription = strings.TrimSpace(f.ItemDescription)
	f.Price = strings.TrimSpace(f.Price)
	f.PricePeriod = strings.TrimSpace(f.PricePeriod)

	if err := CampusEmailValidator(f.Email, viper.GetString("listing.email_domain")); err != nil {
		return 0, err
	}

	if f.ItemName == "" {
		return 0, ErrItemNameRequired
	}

	if f.Price == "" {
		return 0, ErrPriceRequired
	}

	price, err := strconv.ParseFloat(f.Price, 64)
	if err != nil || price < 0 || math.IsInf(price, 0) || math.IsNaN(price) {
		return 0, ErrPriceInvalid
	}

	if kind == model.KindLease && f.PricePeriod == "" {
		return 0, ErrPricePeriodRequired
	}

	return price, nil
}

func KindValidator(kind string) bool {
	return kind == model.KindSell || kind == model.KindLease
}

// RegisterCustomValidations registers the tags used by the request structs
func RegisterCustomValidations(v *validator.Validate) {
	v.RegisterValidation("campusemail", validateCampusEmail)
}

func validateCampusEmail(fl validator.FieldLevel) bool {
	return CampusEmailValidator(fl.Field().String(), viper.GetString("listing.email_domain")) == nil
}

// TranslateValidationError turns binding errors into one readable sentence
func TranslateValidationError(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return "Invalid form body"
	}

	messages := make([]string, 0, len(ve))
	for _, fe := range ve {
		field := fe.Field()

		switch fe.Tag() {
		case "required":
			messages = append(messages, field+" is required")
		case "max":
			messages = append(messages, field+" must be at most "+fe.Param()+" characters")
		case "campusemail":
			messages = append(messages, "Only "+viper.GetString("listing.email_domain")+" emails allowed")
		default:
			messages = append(messages, field+" is invalid")
		}
	}

	return strings.Join(messages, ", ")
}
