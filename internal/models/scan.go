package models

// ScanKind is the transition a successful scan applied.
type ScanKind string

const (
	ScanKindCheckout ScanKind = "checkout"
	ScanKindCheckin  ScanKind = "checkin"
)

// ScanMessage identifies the outcome of a scan independent of language.
type ScanMessage string

const (
	ScanMessageUnknownCode   ScanMessage = "UNKNOWN_CODE"
	ScanMessageCheckedOut    ScanMessage = "CHECKED_OUT"
	ScanMessageCheckedIn     ScanMessage = "CHECKED_IN"
	ScanMessageHeldByOther   ScanMessage = "HELD_BY_OTHER"
	ScanMessageItemDefective ScanMessage = "ITEM_DEFECTIVE"
	ScanMessageError         ScanMessage = "ERROR"
)

var scanMessageText = map[ScanMessage]string{
	ScanMessageUnknownCode:   "unknown code",
	ScanMessageCheckedOut:    "item checked out",
	ScanMessageCheckedIn:     "item checked in",
	ScanMessageHeldByOther:   "item is currently held by someone else",
	ScanMessageItemDefective: "item is marked defective",
	ScanMessageError:         "scan could not be completed",
}

// Text returns the default English rendering of m.
func (m ScanMessage) Text() string {
	if text, ok := scanMessageText[m]; ok {
		return text
	}
	return scanMessageText[ScanMessageError]
}

// ScanResult is the outcome of a scan. Warning is set when the item changed but
// the ledger write is still pending reconciliation.
type ScanResult struct {
	Success bool        `json:"success"`
	Message ScanMessage `json:"message"`
	Text    string      `json:"text"`
	Kind    ScanKind    `json:"kind,omitempty"`
	Item    *Item       `json:"item,omitempty"`
	Loan    *LoanRecord `json:"loan,omitempty"`
	Warning string      `json:"warning,omitempty"`
}

// NewScanResult builds a result for message with its default text.
func NewScanResult(success bool, message ScanMessage) *ScanResult {
	return &ScanResult{Success: success, Message: message, Text: message.Text()}
}
