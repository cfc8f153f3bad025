package notify

import (
	"fmt"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/tto-ledger/ledger/internal/money"
	"github.com/tto-ledger/ledger/internal/shared"
)

// Formatter renders amounts for notification text.
type Formatter struct {
	printer *message.Printer
	unit    currency.Unit
}

// NewFormatter builds a Formatter for an ISO 4217 code and a BCP 47 locale.
func NewFormatter(code, locale string) (*Formatter, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("%w: currency %q: %v", shared.ErrInvalidInput, code, err)
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("%w: locale %q: %v", shared.ErrInvalidInput, locale, err)
	}
	return &Formatter{printer: message.NewPrinter(tag), unit: unit}, nil
}

// Amount formats m with grouping and two decimals, prefixed by the currency code.
func (f *Formatter) Amount(m money.Money) string {
	return f.printer.Sprintf("%s %v", f.unit.String(), number.Decimal(m.Float64(), number.Scale(money.Scale)))
}

// PaymentCreated is the notification sent when an instruction is created.
func (f *Formatter) PaymentCreated(recipient shared.PersonRef, total money.Money, reference string) Message {
	return Message{
		Recipient: recipient,
		Type:      TypePaymentInstruction,
		Title:     "Payment instruction created",
		Message:   fmt.Sprintf("A payment instruction of %s was created for you (ref %s).", f.Amount(total), reference),
	}
}

// PaymentStatusChanged is the notification sent on a lifecycle transition.
func (f *Formatter) PaymentStatusChanged(recipient shared.PersonRef, total money.Money, reference, status string) Message {
	return Message{
		Recipient: recipient,
		Type:      TypePaymentStatus,
		Title:     "Payment instruction " + status,
		Message:   fmt.Sprintf("Your payment instruction of %s (ref %s) is now %s.", f.Amount(total), reference, status),
	}
}
