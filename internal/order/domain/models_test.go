package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableID(v int64) *snowflake.ID {
	id := snowflake.ID(v)
	return &id
}

func TestDraftValidate(t *testing.T) {
	item := LineItem{ProductID: "latte", Quantity: 1, UnitPrice: 450}

	cases := []struct {
		name  string
		draft DraftOrder
		want  error
	}{
		{name: "ok_takeout", draft: DraftOrder{Channel: ChannelVoice, Type: OrderTypeTakeout, Items: []LineItem{item}}},
		{name: "bad_channel", draft: DraftOrder{Channel: "fax", Type: OrderTypeTakeout, Items: []LineItem{item}}, want: ErrInvalidChannel},
		{name: "no_items", draft: DraftOrder{Channel: ChannelWeb, Type: OrderTypeTakeout}, want: ErrEmptyOrder},
		{name: "zero_quantity", draft: DraftOrder{Channel: ChannelWeb, Type: OrderTypeTakeout, Items: []LineItem{{ProductID: "x", Quantity: 0}}}, want: ErrInvalidLineItem},
		{name: "negative_price", draft: DraftOrder{Channel: ChannelWeb, Type: OrderTypeTakeout, Items: []LineItem{{ProductID: "x", Quantity: 1, UnitPrice: -1}}}, want: ErrInvalidLineItem},
		{name: "dine_in_without_table", draft: DraftOrder{Channel: ChannelQR, Type: OrderTypeDineIn, Items: []LineItem{item}}, want: ErrTableRequired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.draft.Validate()
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tc.want), "expected %v, got %v", tc.want, err)
		})
	}
}

func TestDraftNormalizeDefaultsOrderType(t *testing.T) {
	withTable := DraftOrder{TableID: tableID(7), Channel: ChannelQR}.Normalize()
	assert.Equal(t, OrderTypeDineIn, withTable.Type)

	without := DraftOrder{Channel: ChannelVoice, CustomerName: "  Ana "}.Normalize()
	assert.Equal(t, OrderTypeTakeout, without.Type)
	assert.Equal(t, "Ana", without.CustomerName)
}

func TestNewOrderTotalsAndHistory(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	draft := DraftOrder{
		TableID:    tableID(3),
		Channel:    ChannelQR,
		Type:       OrderTypeDineIn,
		TaxRateBps: 800,
		Items: []LineItem{
			{ProductID: "latte", Quantity: 2, UnitPrice: 450},
			{ProductID: "croissant", Quantity: 1, UnitPrice: 325},
		},
	}

	order := NewOrder(snowflake.ID(10), snowflake.ID(1), draft, now)

	assert.Equal(t, StatusDraft, order.Status)
	assert.Equal(t, int64(0), order.Version)
	assert.Equal(t, int64(1225), order.Subtotal)
	assert.Equal(t, int64(98), order.Tax)
	assert.Equal(t, int64(1323), order.Total)
	require.Len(t, order.History, 1)
	assert.Equal(t, StatusDraft, order.History[0].To)

	draft.Items[0].UnitPrice = 9999
	assert.Equal(t, int64(450), order.Items[0].UnitPrice, "order must not alias the draft items")
}

func TestCloneIsDeep(t *testing.T) {
	order := NewOrder(1, 1, DraftOrder{TableID: tableID(2), Channel: ChannelQR, Items: []LineItem{{ProductID: "a", Quantity: 1}}}, time.Now())
	cp := order.Clone()

	cp.Items[0].Quantity = 5
	*cp.TableID = 99
	cp.History[0].Actor = "changed"

	assert.Equal(t, 1, order.Items[0].Quantity)
	assert.Equal(t, snowflake.ID(2), *order.TableID)
	assert.NotEqual(t, "changed", order.History[0].Actor)
}

func TestApplyTransitionAndCheckMutation(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	order := NewOrder(1, 1, DraftOrder{Channel: ChannelWeb, Type: OrderTypeTakeout, Items: []LineItem{{ProductID: "a", Quantity: 1, UnitPrice: 100}}}, now)
	order.Status = StatusConfirmed
	order.Version = 2

	next := order.Clone()
	mutate := ApplyTransition(TransitionRequest{Transition: TransitionStartPreparing, Actor: "kitchen", EstimatedMinutes: 12}, now)
	require.NoError(t, mutate(&next))

	assert.Equal(t, StatusPreparing, next.Status)
	require.NotNil(t, next.EstimatedReadyAt)
	assert.Equal(t, now.Add(12*time.Minute), *next.EstimatedReadyAt)
	require.Len(t, next.History, 2)
	assert.Equal(t, StatusChange{From: StatusConfirmed, To: StatusPreparing, Version: 3, Actor: "kitchen", At: now}, next.History[1])
	assert.NoError(t, CheckMutation(order, next))

	repriced := order.Clone()
	repriced.Items[0].UnitPrice = 1
	assert.ErrorIs(t, CheckMutation(order, repriced), ErrImmutableField)

	rewritten := order.Clone()
	rewritten.History = nil
	assert.ErrorIs(t, CheckMutation(order, rewritten), ErrImmutableField)
}

func TestApplyTransitionRejectsOutOfRangeEstimate(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	order := NewOrder(1, 1, DraftOrder{Channel: ChannelWeb, Type: OrderTypeTakeout, Items: []LineItem{{ProductID: "a", Quantity: 1, UnitPrice: 100}}}, now)
	order.Status = StatusConfirmed

	for _, minutes := range []int{-1, MaxEstimatedMinutes + 1, 200_000_000} {
		next := order.Clone()
		err := ApplyTransition(TransitionRequest{Transition: TransitionStartPreparing, EstimatedMinutes: minutes}, now)(&next)
		assert.ErrorIs(t, err, ErrInvalidEstimate, minutes)
		assert.Nil(t, next.EstimatedReadyAt)
	}

	next := order.Clone()
	require.NoError(t, ApplyTransition(TransitionRequest{Transition: TransitionStartPreparing, EstimatedMinutes: MaxEstimatedMinutes}, now)(&next))
	assert.Equal(t, now.Add(24*time.Hour), *next.EstimatedReadyAt)
}

func TestListFilterMatches(t *testing.T) {
	open := Order{Status: StatusPlaced, TableID: tableID(4)}
	closed := Order{Status: StatusClosed}

	assert.True(t, ListFilter{ActiveOnly: true}.Matches(open))
	assert.False(t, ListFilter{ActiveOnly: true}.Matches(closed))
	assert.True(t, ListFilter{TableID: tableID(4)}.Matches(open))
	assert.False(t, ListFilter{TableID: tableID(4)}.Matches(closed))
	assert.False(t, ListFilter{Status: StatusReady}.Matches(open))

	normalized := ListFilter{Limit: 1000, Offset: -3}.Normalize()
	assert.Equal(t, 200, normalized.Limit)
	assert.Equal(t, 0, normalized.Offset)
}

func TestTableJSONIncludesOccupied(t *testing.T) {
	table := Table{ID: 5, TenantID: 1, Label: "A1", ActiveOrderID: tableID(9)}
	body, err := json.Marshal(table)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, true, decoded["occupied"])
	assert.Equal(t, "A1", decoded["label"])
	assert.Equal(t, "9", decoded["active_order_id"])
}
