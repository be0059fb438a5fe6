package numbering

import "errors"

// Kind identifies a document number sequence.
type Kind string

const (
	KindReceipt  Kind = "RECEIPT"
	KindInvoice  Kind = "INVOICE"
	KindPayment  Kind = "PAYMENT"
	KindVoid     Kind = "VOID"
	KindRefund   Kind = "REFUND"
	KindMovement Kind = "MOVEMENT"
	KindDocument Kind = "DOCUMENT"
)

// Prefix returns the three-letter document prefix for the kind.
func (k Kind) Prefix() string {
	switch k {
	case KindReceipt:
		return "RCP"
	case KindInvoice:
		return "INV"
	case KindPayment:
		return "PAY"
	case KindVoid:
		return "VDN"
	case KindRefund:
		return "RFD"
	case KindMovement:
		return "MOV"
	case KindDocument:
		return "DOC"
	}
	return ""
}

// ErrUnknownKind indicates a sequence kind without a registered prefix.
var ErrUnknownKind = errors.New("numbering: unknown kind")
