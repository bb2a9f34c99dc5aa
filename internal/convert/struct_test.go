package convert

import (
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/DongNguyen06/lib-v2/internal/errs"
	"github.com/DongNguyen06/lib-v2/internal/model"
	"github.com/DongNguyen06/lib-v2/internal/service"
)

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestToProtoReturnResult(t *testing.T) {
	t.Parallel()

	due := time.Date(2025, 3, 15, 9, 0, 0, 0, time.FixedZone("ICT", 7*3600))
	ret := due.Add(26 * time.Hour)
	cond := model.ConditionMinorDamage
	b := model.Borrow{
		ID: uuid.Must(uuid.NewV4()), UserID: uuid.Must(uuid.NewV4()), BookID: uuid.Must(uuid.NewV4()),
		BorrowDate: due.Add(-14 * 24 * time.Hour), DueDate: due, ReturnDate: &ret,
		Status: model.BorrowReturned, Condition: &cond,
		LateFee: decimal.NewFromInt(20000), DamageFee: decimal.NewFromInt(25000),
	}
	s, err := ToProtoReturnResult(&service.ReturnResult{
		Borrow: b, LateFee: b.LateFee, DamageFee: b.DamageFee, Total: b.TotalFee(),
		Paid: decimal.Zero, Message: "Book returned",
	})
	require.NoError(t, err)

	m := s.AsMap()
	assert.Equal(t, "Book returned", m["message"])
	assert.Equal(t, "45000", m["total"])
	assert.Equal(t, "0", m["paid"])

	wb := m["borrow"].(map[string]any)
	assert.Equal(t, b.ID.String(), wb["id"])
	assert.Equal(t, "returned", wb["status"])
	assert.Equal(t, "minor_damage", wb["condition"])
	assert.Equal(t, "2025-03-15T02:00:00Z", wb["due_date"])
	assert.Equal(t, ret.UTC().Format(TimeLayout), wb["return_date"])
}

func TestToProtoReservation_OpenFieldsAreNull(t *testing.T) {
	t.Parallel()

	r := model.Reservation{ID: uuid.Must(uuid.NewV4()), Status: model.ReservationWaiting, QueuePosition: 2}
	s, err := ToProtoReservationResult(&service.ReservationResult{Reservation: r})
	require.NoError(t, err)

	m := s.AsMap()
	assert.NotContains(t, m, "message")
	wr := m["reservation"].(map[string]any)
	assert.Nil(t, wr["hold_until"])
	assert.Equal(t, float64(2), wr["queue_position"])
}

func TestToProtoSweepReport(t *testing.T) {
	t.Parallel()

	s, err := ToProtoSweepReport(service.SweepReport{
		ExpiredPickups: 2, Overdue: 1, Errors: []error{errors.New("borrow x: db down")},
	})
	require.NoError(t, err)
	m := s.AsMap()
	assert.Equal(t, float64(2), m["expired_pickups"])
	assert.Equal(t, []any{"borrow x: db down"}, m["errors"])
}

func TestArgs(t *testing.T) {
	t.Parallel()

	id := uuid.Must(uuid.NewV4())
	a := FromProto(mustStruct(t, map[string]any{
		"book_id":    id.String(),
		"bad_id":     "nope",
		"copies":     3,
		"half":       1.5,
		"amount":     "20000",
		"book_value": 150000,
		"condition":  "MAJOR_DAMAGE",
		"isbn":       "  978-0 ",
		"none":       nil,
	}))

	got, err := a.UUID("book_id")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = a.UUID("bad_id")
	require.ErrorIs(t, err, errs.ErrValidation)
	_, err = a.UUID("missing")
	require.ErrorIs(t, err, errs.ErrValidation)
	assert.Equal(t, "missing is required", errs.Message(err))

	def := uuid.Must(uuid.NewV4())
	got, err = a.OptUUID("user_id", def)
	require.NoError(t, err)
	assert.Equal(t, def, got)

	n, err := a.Int("copies", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, err = a.Int("half", 0)
	require.ErrorIs(t, err, errs.ErrValidation)
	n, err = a.Int("none", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	d, err := a.Decimal("amount")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.NewFromInt(20000)))
	d, err = a.Decimal("book_value")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.NewFromInt(150000)))
	d, err = a.Decimal("missing")
	require.NoError(t, err)
	assert.True(t, d.IsZero())
	_, err = a.Decimal("isbn")
	require.ErrorIs(t, err, errs.ErrValidation)

	c, err := a.Condition("condition")
	require.NoError(t, err)
	assert.Equal(t, model.ConditionMajorDamage, c)
	c, err = a.Condition("missing")
	require.NoError(t, err)
	assert.Equal(t, model.ConditionGood, c)
	_, err = FromProto(mustStruct(t, map[string]any{"condition": "soggy"})).Condition("condition")
	require.ErrorIs(t, err, errs.ErrValidation)

	assert.Equal(t, "978-0", a.String("isbn"))
	assert.False(t, a.Has("none"))
	assert.True(t, FromProto(nil).String("x") == "")
}
