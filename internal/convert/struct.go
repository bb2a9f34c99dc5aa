// Package convert maps lending types to and from protobuf Struct messages
// exchanged by the gRPC API.
package convert

import (
	"math"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/DongNguyen06/lib-v2/internal/errs"
	"github.com/DongNguyen06/lib-v2/internal/model"
	"github.com/DongNguyen06/lib-v2/internal/service"
)

// TimeLayout is the wire format of timestamps.
const TimeLayout = time.RFC3339Nano

func ts(t time.Time) string { return t.UTC().Format(TimeLayout) }

func optTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func money(d decimal.Decimal) string { return d.StringFixed(0) }

// --- domain -> wire ---

// ToProtoBook converts a book to its wire fields.
func ToProtoBook(b model.Book) map[string]any {
	return map[string]any{
		"id":               b.ID.String(),
		"isbn":             b.ISBN,
		"title":            b.Title,
		"total_copies":     b.TotalCopies,
		"available_copies": b.AvailableCopies,
		"borrow_count":     b.BorrowCount,
	}
}

// ToProtoBorrow converts a loan to its wire fields. Fees are whole VND strings.
func ToProtoBorrow(b model.Borrow) map[string]any {
	var cond any
	if b.Condition != nil {
		cond = string(*b.Condition)
	}
	return map[string]any{
		"id":            b.ID.String(),
		"user_id":       b.UserID.String(),
		"book_id":       b.BookID.String(),
		"borrow_date":   ts(b.BorrowDate),
		"due_date":      ts(b.DueDate),
		"return_date":   optTS(b.ReturnDate),
		"status":        string(b.Status),
		"renewed_count": b.RenewedCount,
		"pending_until": ts(b.PendingUntil),
		"condition":     cond,
		"late_fee":      money(b.LateFee),
		"damage_fee":    money(b.DamageFee),
	}
}

// ToProtoReservation converts a queue entry to its wire fields.
func ToProtoReservation(r model.Reservation) map[string]any {
	return map[string]any{
		"id":               r.ID.String(),
		"user_id":          r.UserID.String(),
		"book_id":          r.BookID.String(),
		"reservation_date": ts(r.ReservationDate),
		"status":           string(r.Status),
		"notified_date":    optTS(r.NotifiedDate),
		"hold_until":       optTS(r.HoldUntil),
		"queue_position":   r.QueuePosition,
	}
}

// ToProtoNotification converts a stored notification.
func ToProtoNotification(n model.Notification) map[string]any {
	return map[string]any{
		"user_id": n.UserID.String(),
		"type":    string(n.Type),
		"title":   n.Title,
		"message": n.Message,
	}
}

// Reply builds a response carrying a user-facing message and extra fields.
func Reply(msg string, fields map[string]any) (*structpb.Struct, error) {
	m := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		m[k] = v
	}
	if msg != "" {
		m["message"] = msg
	}
	return structpb.NewStruct(m)
}

// ToProtoBorrowResult wraps a loan transition.
func ToProtoBorrowResult(r *service.BorrowResult) (*structpb.Struct, error) {
	return Reply(r.Message, map[string]any{"borrow": ToProtoBorrow(r.Borrow)})
}

// ToProtoReturnResult wraps a return with its fee breakdown.
func ToProtoReturnResult(r *service.ReturnResult) (*structpb.Struct, error) {
	return Reply(r.Message, map[string]any{
		"borrow":     ToProtoBorrow(r.Borrow),
		"late_fee":   money(r.LateFee),
		"damage_fee": money(r.DamageFee),
		"total":      money(r.Total),
		"paid":       money(r.Paid),
	})
}

// ToProtoReservationResult wraps a queue operation.
func ToProtoReservationResult(r *service.ReservationResult) (*structpb.Struct, error) {
	return Reply(r.Message, map[string]any{"reservation": ToProtoReservation(r.Reservation)})
}

// ToProtoPaymentResult wraps a fine payment.
func ToProtoPaymentResult(r *service.PaymentResult) (*structpb.Struct, error) {
	return Reply(r.Message, map[string]any{
		"paid":      money(r.Paid),
		"remaining": money(r.Remaining),
		"settled":   r.Settled,
	})
}

// ToProtoSweepReport wraps sweep counters; per-item failures are rendered as text.
func ToProtoSweepReport(r service.SweepReport) (*structpb.Struct, error) {
	errsOut := make([]any, 0, len(r.Errors))
	for _, e := range r.Errors {
		errsOut = append(errsOut, e.Error())
	}
	return Reply("", map[string]any{
		"expired_pickups": r.ExpiredPickups,
		"due_soon":        r.DueSoon,
		"overdue":         r.Overdue,
		"expired_holds":   r.ExpiredHolds,
		"errors":          errsOut,
	})
}

// --- wire -> domain ---

// Args reads typed request fields. Missing or malformed fields yield
// validation errors naming the field.
type Args struct{ f map[string]*structpb.Value }

// FromProto wraps a request; a nil request has no fields.
func FromProto(s *structpb.Struct) Args { return Args{f: s.GetFields()} }

func (a Args) str(key string) (string, bool) {
	v, ok := a.f[key]
	if !ok {
		return "", false
	}
	if _, null := v.GetKind().(*structpb.Value_NullValue); null {
		return "", false
	}
	s := strings.TrimSpace(v.GetStringValue())
	return s, s != ""
}

// Has reports whether key is present and not null.
func (a Args) Has(key string) bool {
	v, ok := a.f[key]
	if !ok {
		return false
	}
	_, null := v.GetKind().(*structpb.Value_NullValue)
	return !null
}

// String returns a trimmed string field or "".
func (a Args) String(key string) string {
	s, _ := a.str(key)
	return s
}

// UUID returns a required id field.
func (a Args) UUID(key string) (uuid.UUID, error) {
	s, ok := a.str(key)
	if !ok {
		return uuid.Nil, errs.New(errs.ErrValidation, "%s is required", key)
	}
	id, err := uuid.FromString(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errs.New(errs.ErrValidation, "bad %s", key)
	}
	return id, nil
}

// OptUUID returns def when key is absent.
func (a Args) OptUUID(key string, def uuid.UUID) (uuid.UUID, error) {
	if _, ok := a.str(key); !ok {
		return def, nil
	}
	return a.UUID(key)
}

// Int returns an integral number field, or def when absent.
func (a Args) Int(key string, def int) (int, error) {
	v, ok := a.f[key]
	if !ok || !a.Has(key) {
		return def, nil
	}
	nv, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum || nv.NumberValue != math.Trunc(nv.NumberValue) ||
		math.Abs(nv.NumberValue) > math.MaxInt32 {
		return 0, errs.New(errs.ErrValidation, "%s must be an integer", key)
	}
	return int(nv.NumberValue), nil
}

// Decimal accepts a decimal string or a number; absent is zero.
func (a Args) Decimal(key string) (decimal.Decimal, error) {
	v, ok := a.f[key]
	if !ok || !a.Has(key) {
		return decimal.Zero, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return decimal.NewFromFloat(k.NumberValue), nil
	case *structpb.Value_StringValue:
		d, err := decimal.NewFromString(strings.TrimSpace(k.StringValue))
		if err != nil {
			return decimal.Zero, errs.New(errs.ErrValidation, "bad %s", key)
		}
		return d, nil
	}
	return decimal.Zero, errs.New(errs.ErrValidation, "bad %s", key)
}

// Condition returns the return condition; absent means good.
func (a Args) Condition(key string) (model.Condition, error) {
	s, ok := a.str(key)
	if !ok {
		return model.ConditionGood, nil
	}
	c := model.Condition(strings.ToLower(s))
	switch c {
	case model.ConditionGood, model.ConditionMinorDamage, model.ConditionMajorDamage, model.ConditionLost:
		return c, nil
	}
	return "", errs.New(errs.ErrValidation, "Unknown condition %q", s)
}
