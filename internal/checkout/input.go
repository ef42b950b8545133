package checkout

import (
	"errors"
	"fmt"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"reflect"
	"strings"
)

type Address struct {
	StreetAddress1       string `json:"street_address_1" validate:"required,min=5,max=200"`
	StreetAddress2       string `json:"street_address_2" validate:"max=200"`
	City                 string `json:"city" validate:"required,min=2,max=100"`
	State                string `json:"state" validate:"required,min=2,max=50"`
	ZipCode              string `json:"zip_code" validate:"required,min=5,max=10"`
	Country              string `json:"country" validate:"required,len=2"`
	DeliveryInstructions string `json:"delivery_instructions" validate:"max=500"`
}

type Customer struct {
	Email     string  `json:"email" validate:"required,email"`
	FirstName string  `json:"first_name" validate:"required,max=100"`
	LastName  string  `json:"last_name" validate:"required,max=100"`
	Phone     string  `json:"phone" validate:"omitempty,max=30"`
	Address   Address `json:"address"`
}

// CartItem is what the client's cart claims. Nothing money-relevant in it is
// trusted until checked against the catalog.
type CartItem struct {
	Product  CartProduct `json:"product"`
	Variant  CartVariant `json:"variant"`
	Quantity int         `json:"quantity" validate:"gt=0,lte=999"`
}

type CartProduct struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
}

type CartVariant struct {
	ID          string          `json:"id" validate:"required"`
	VariantName string          `json:"variant_name"`
	SKU         string          `json:"sku"`
	Price       decimal.Decimal `json:"price"`
}

type Request struct {
	Customer Customer   `json:"customer"`
	Items    []CartItem `json:"items" validate:"dive"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var messages = map[string]string{
	"email.email":          "Invalid email address",
	"street_address_1.min": "Address is required",
	"city.min":             "City is required",
	"state.min":            "State is required",
	"zip_code.min":         "Zip code is required",
	"country.len":          "Country code must be 2 characters",
	"quantity.gt":          "Quantity must be at least 1",
	"quantity.lte":         "Quantity is too large",
}

// ValidateRequest reports the first problem with the request shape.
func ValidateRequest(req Request) *Error {
	if len(req.Items) == 0 {
		return &Error{Kind: KindInvalidInput, Message: "Cart cannot be empty"}
	}
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &Error{Kind: KindInvalidInput, Message: "Invalid form data", Err: err}
	}
	return &Error{Kind: KindInvalidInput, Message: describe(verrs[0]), Err: err}
}

func describe(fe validator.FieldError) string {
	if msg, ok := messages[fe.Field()+"."+fe.Tag()]; ok {
		return msg
	}
	label := strings.ReplaceAll(fe.Field(), "_", " ")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("Invalid %s: required", label)
	case "max":
		return fmt.Sprintf("Invalid %s: at most %s characters", label, fe.Param())
	case "min":
		return fmt.Sprintf("Invalid %s: at least %s characters", label, fe.Param())
	}
	return fmt.Sprintf("Invalid %s", label)
}
