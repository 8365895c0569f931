package domain

import (
	"strings"
	"time"
)

// ShippingDetails: первый шаг формы оформления заказа.
type ShippingDetails struct {
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// PaymentDetails: второй шаг формы. Данные карты никуда не сохраняются.
type PaymentDetails struct {
	CardNumber string `json:"card_number"`
	CardName   string `json:"card_name"`
	ExpiryDate string `json:"expiry_date"`
	CVV        string `json:"cvv"`
}

// Имена полей формы, используемые в FieldErrors.
const (
	FieldEmail      = "email"
	FieldFirstName  = "first_name"
	FieldLastName   = "last_name"
	FieldAddress    = "address"
	FieldCity       = "city"
	FieldPostalCode = "postal_code"
	FieldCountry    = "country"
	FieldCardNumber = "card_number"
	FieldCardName   = "card_name"
	FieldExpiryDate = "expiry_date"
	FieldCVV        = "cvv"
)

// ValidateShipping проверяет шаг доставки. Пустой результат означает успех.
func ValidateShipping(d ShippingDetails) FieldErrors {
	errs := FieldErrors{}

	switch {
	case strings.TrimSpace(d.Email) == "":
		errs[FieldEmail] = "Email is required"
	case !strings.Contains(d.Email, "@") || !strings.Contains(d.Email, "."):
		errs[FieldEmail] = "Invalid email format"
	}

	required := []struct {
		field, label, value string
	}{
		{FieldFirstName, "First name", d.FirstName},
		{FieldLastName, "Last name", d.LastName},
		{FieldAddress, "Address", d.Address},
		{FieldCity, "City", d.City},
		{FieldPostalCode, "Postal code", d.PostalCode},
		{FieldCountry, "Country", d.Country},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs[r.field] = r.label + " is required"
		}
	}

	return errs
}

// ValidatePayment проверяет платёжный шаг по сырому вводу: из номера карты
// удаляются только пробельные символы. Format* для проверки не применяются,
// иначе лишние цифры молча отбрасываются.
func ValidatePayment(d PaymentDetails) FieldErrors {
	errs := FieldErrors{}

	card := strings.Join(strings.Fields(d.CardNumber), "")
	switch {
	case card == "":
		errs[FieldCardNumber] = "Card number is required"
	case len(card) != 16 || !allDigits(card):
		errs[FieldCardNumber] = "Invalid card number"
	}

	if strings.TrimSpace(d.CardName) == "" {
		errs[FieldCardName] = "Cardholder name is required"
	}
	if strings.TrimSpace(d.ExpiryDate) == "" {
		errs[FieldExpiryDate] = "Expiry date is required"
	}

	switch {
	case d.CVV == "":
		errs[FieldCVV] = "CVV is required"
	case len(d.CVV) != 3 || !allDigits(d.CVV):
		errs[FieldCVV] = "CVV must be 3 digits"
	}

	return errs
}

// FormatCardNumber оставляет только цифры (не более 16) и группирует по 4.
func FormatCardNumber(raw string) string {
	digits := onlyDigits(raw, 16)

	var b strings.Builder
	for i, r := range digits {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FormatExpiry приводит ввод к виду MM/YY.
func FormatExpiry(raw string) string {
	digits := onlyDigits(raw, 4)
	if len(digits) >= 2 {
		return digits[:2] + "/" + digits[2:]
	}
	return digits
}

// FormatCVV оставляет не более трёх цифр.
func FormatCVV(raw string) string {
	return onlyDigits(raw, 3)
}

func onlyDigits(raw string, limit int) string {
	var b strings.Builder
	for _, r := range raw {
		if b.Len() == limit {
			break
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// CheckoutStep: шаг формы оформления.
type CheckoutStep string

const (
	CheckoutStepShipping CheckoutStep = "shipping"
	CheckoutStepPayment  CheckoutStep = "payment"
)

// CheckoutStatus описывает жизненный цикл сессии оформления.
type CheckoutStatus string

const (
	// CheckoutStatusOpen: форма заполняется.
	CheckoutStatusOpen CheckoutStatus = "open"
	// CheckoutStatusProcessing: симуляция платежа запущена.
	CheckoutStatusProcessing CheckoutStatus = "processing"
	// CheckoutStatusCompleted: платёж прошёл, показываем подтверждение.
	CheckoutStatusCompleted CheckoutStatus = "completed"
	// CheckoutStatusClosed: корзина очищена, сессия закрыта.
	CheckoutStatusClosed CheckoutStatus = "closed"
	// CheckoutStatusFailed: платёж не прошёл, корзина не тронута.
	CheckoutStatusFailed CheckoutStatus = "failed"
	// CheckoutStatusCanceled: пользователь закрыл форму.
	CheckoutStatusCanceled CheckoutStatus = "canceled"
)

// Terminal сообщает, что сессия больше не меняется.
func (s CheckoutStatus) Terminal() bool {
	switch s {
	case CheckoutStatusClosed, CheckoutStatusCanceled:
		return true
	default:
		return false
	}
}

// CheckoutSession: состояние двухшаговой формы оформления.
type CheckoutSession struct {
	ID            string          `json:"id"`
	Step          CheckoutStep    `json:"step"`
	Status        CheckoutStatus  `json:"status"`
	Shipping      ShippingDetails `json:"shipping"`
	Lines         []CartLineItem  `json:"lines"`
	Summary       PriceSummary    `json:"summary"`
	Errors        FieldErrors     `json:"errors,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   time.Time       `json:"completed_at,omitempty"`
}

// CheckoutCompletedEvent: полезная нагрузка outbox-события после успешной оплаты.
type CheckoutCompletedEvent struct {
	SessionID   string         `json:"session_id"`
	Email       string         `json:"email"`
	FirstName   string         `json:"first_name"`
	Lines       []CartLineItem `json:"lines"`
	Summary     PriceSummary   `json:"summary"`
	CompletedAt time.Time      `json:"completed_at"`
}
