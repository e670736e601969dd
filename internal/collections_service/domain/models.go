package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Debtor is a person who owes one or more debts. Email is unique across debtors.
type Debtor struct {
	ID           uuid.UUID
	Email        string
	FirstName    string
	LastName     string
	Phone        sql.NullString
	EmailConsent bool
	PhoneConsent bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (d *Debtor) DisplayName() string {
	switch {
	case d.FirstName != "" && d.LastName != "":
		return d.FirstName + " " + d.LastName
	case d.FirstName != "":
		return d.FirstName
	default:
		return d.Email
	}
}

type DebtStatus string

const (
	DebtStatusActive     DebtStatus = "active"
	DebtStatusPartial    DebtStatus = "partial"
	DebtStatusResolved   DebtStatus = "resolved"
	DebtStatusDisputed   DebtStatus = "disputed"
	DebtStatusWrittenOff DebtStatus = "written_off"
)

// Debt amounts are integer minor units (cents).
type Debt struct {
	ID               uuid.UUID
	DebtorID         uuid.UUID
	OriginalCreditor string
	TotalOwedCents   int64
	AmountPaidCents  int64
	Currency         string
	Status           DebtStatus
	DebtDate         sql.NullTime
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RemainingCents is never negative.
func (d *Debt) RemainingCents() int64 {
	if r := d.TotalOwedCents - d.AmountPaidCents; r > 0 {
		return r
	}
	return 0
}

// StatusAfterPayment is the status a debt moves to once paidCents in total has been collected.
// Disputed and written-off debts keep their status.
func (d *Debt) StatusAfterPayment(paidCents int64) DebtStatus {
	if d.Status == DebtStatusDisputed || d.Status == DebtStatusWrittenOff {
		return d.Status
	}
	switch {
	case paidCents >= d.TotalOwedCents:
		return DebtStatusResolved
	case paidCents > 0:
		return DebtStatusPartial
	default:
		return DebtStatusActive
	}
}

// EmailThread groups the emails exchanged with one debtor under one subject.
type EmailThread struct {
	ID        uuid.UUID
	DebtorID  uuid.UUID
	Subject   sql.NullString
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Email is a single message in a thread. Rows are append-only apart from the delivery flags.
type Email struct {
	ID                uuid.UUID
	MessageID         string         // local part of the RFC 5322 Message-ID; unique
	HeaderMessageID   sql.NullString // Message-ID exactly as received, e.g. "<abc@mail.example>"
	ThreadID          uuid.NullUUID
	DebtID            uuid.NullUUID
	Direction         Direction
	FromAddress       string
	ToAddress         string
	Subject           string
	TextBody          string
	HTMLBody          string
	ReplyTo           sql.NullString // message id this email answers
	AIGenerated       bool
	ProviderMessageID sql.NullString
	Opened            bool
	Clicked           bool
	Bounced           bool
	Complained        bool
	DeliveredAt       sql.NullTime
	CreatedAt         time.Time
}

// Content is the text body, falling back to the HTML body.
func (e *Email) Content() string {
	if e.TextBody != "" {
		return e.TextBody
	}
	return e.HTMLBody
}

// DeliveryEvent is a tracking notification from the email provider.
type DeliveryEvent string

const (
	DeliveryEventDelivered  DeliveryEvent = "email.delivered"
	DeliveryEventOpened     DeliveryEvent = "email.opened"
	DeliveryEventClicked    DeliveryEvent = "email.clicked"
	DeliveryEventBounced    DeliveryEvent = "email.bounced"
	DeliveryEventComplained DeliveryEvent = "email.complained"
)

func (e DeliveryEvent) Valid() bool {
	switch e {
	case DeliveryEventDelivered, DeliveryEventOpened, DeliveryEventClicked, DeliveryEventBounced, DeliveryEventComplained:
		return true
	}
	return false
}

// AIUsage records one text-generation call.
type AIUsage struct {
	ID               uuid.UUID
	ThreadID         uuid.NullUUID
	DebtID           uuid.NullUUID
	Model            string
	PromptTokens     int
	CompletionTokens int
	Metadata         Document
	CreatedAt        time.Time
}
