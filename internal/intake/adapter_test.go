package intake

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/waiterless/internal/errs"
	"github.com/smallbiznis/waiterless/internal/order/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSubmitter struct {
	mock.Mock
}

func (m *mockSubmitter) SubmitDraft(ctx context.Context, tenantKey string, draft domain.DraftOrder) (domain.Order, error) {
	args := m.Called(ctx, tenantKey, draft)
	return args.Get(0).(domain.Order), args.Error(1)
}

func (m *mockSubmitter) ResolveTableByQR(ctx context.Context, tenantKey, qrCode string) (domain.Table, error) {
	args := m.Called(ctx, tenantKey, qrCode)
	return args.Get(0).(domain.Table), args.Error(1)
}

var items = []domain.LineItem{{ProductID: "latte", Quantity: 1, UnitPrice: 450}}

func TestQRAdapterBindsScannedTable(t *testing.T) {
	core := &mockSubmitter{}
	tableID := snowflake.ID(55)
	core.On("ResolveTableByQR", mock.Anything, "cafe", "qr-123").Return(domain.Table{ID: tableID}, nil)
	core.On("SubmitDraft", mock.Anything, "cafe", mock.MatchedBy(func(d domain.DraftOrder) bool {
		return d.Channel == domain.ChannelQR &&
			d.Type == domain.OrderTypeDineIn &&
			d.TableID != nil && *d.TableID == tableID
	})).Return(domain.Order{ID: 1, Channel: domain.ChannelQR}, nil)

	order, err := NewQR(core).SubmitDraftOrder(context.Background(), "cafe", DraftRequest{QRCode: " qr-123 ", Items: items})
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(1), order.ID)
	core.AssertExpectations(t)
}

func TestQRAdapterRequiresCode(t *testing.T) {
	core := &mockSubmitter{}
	_, err := NewQR(core).SubmitDraftOrder(context.Background(), "cafe", DraftRequest{Items: items})
	assert.ErrorIs(t, err, ErrQRCodeRequired)
	core.AssertNotCalled(t, "SubmitDraft", mock.Anything, mock.Anything, mock.Anything)
}

func TestQRAdapterPropagatesUnknownTable(t *testing.T) {
	core := &mockSubmitter{}
	core.On("ResolveTableByQR", mock.Anything, "cafe", "gone").Return(domain.Table{}, domain.ErrTableNotFound)
	_, err := NewQR(core).SubmitDraftOrder(context.Background(), "cafe", DraftRequest{QRCode: "gone", Items: items})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRemoteAdaptersNormalizePhone(t *testing.T) {
	for _, adapter := range []Adapter{NewVoice(nil), NewMessaging(nil)} {
		t.Run(string(adapter.Channel()), func(t *testing.T) {
			core := &mockSubmitter{}
			core.On("SubmitDraft", mock.Anything, "cafe", mock.MatchedBy(func(d domain.DraftOrder) bool {
				return d.Channel == adapter.Channel() && d.CustomerPhone == "+15550100123" && d.TableID == nil
			})).Return(domain.Order{ID: 2}, nil)

			a := adapter.(*remoteAdapter)
			a.core = core
			_, err := a.SubmitDraftOrder(context.Background(), "cafe", DraftRequest{
				CustomerPhone: "+1 (555) 010-0123",
				Items:         items,
			})
			require.NoError(t, err)
			core.AssertExpectations(t)
		})
	}
}

func TestRemoteAdaptersRejectTables(t *testing.T) {
	tableID := snowflake.ID(3)
	voice := NewVoice(&mockSubmitter{})

	_, err := voice.SubmitDraftOrder(context.Background(), "cafe", DraftRequest{TableID: &tableID, CustomerPhone: "5550100123"})
	assert.ErrorIs(t, err, ErrTableNotAllowed)

	_, err = voice.SubmitDraftOrder(context.Background(), "cafe", DraftRequest{Type: domain.OrderTypeDineIn, CustomerPhone: "5550100123"})
	assert.ErrorIs(t, err, ErrTableNotAllowed)

	_, err = voice.SubmitDraftOrder(context.Background(), "cafe", DraftRequest{Items: items})
	assert.ErrorIs(t, err, ErrContactRequired)
}

func TestWebAdapterTableIsOptional(t *testing.T) {
	core := &mockSubmitter{}
	core.On("SubmitDraft", mock.Anything, "cafe", mock.MatchedBy(func(d domain.DraftOrder) bool {
		return d.Channel == domain.ChannelWeb && d.TableID == nil
	})).Return(domain.Order{ID: 3}, nil).Once()

	web := NewWeb(core)
	_, err := web.SubmitDraftOrder(context.Background(), "cafe", DraftRequest{Items: items, CustomerName: "Ana"})
	require.NoError(t, err)

	_, err = web.SubmitDraftOrder(context.Background(), "cafe", DraftRequest{Items: items, CustomerPhone: "call me"})
	assert.ErrorIs(t, err, ErrInvalidPhone)
	core.AssertExpectations(t)
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		err  error
	}{
		{raw: "+44 20 7946 0018", want: "+442079460018"},
		{raw: "555.010.0123", want: "5550100123"},
		{raw: "", err: ErrContactRequired},
		{raw: "12345", err: ErrInvalidPhone},
		{raw: "55+50100123", err: ErrInvalidPhone},
		{raw: "1234567890123456", err: ErrInvalidPhone},
	}
	for _, tc := range cases {
		got, err := NormalizePhone(tc.raw)
		if tc.err != nil {
			assert.ErrorIs(t, err, tc.err, tc.raw)
			continue
		}
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got)
	}
}

func TestRegistryLookup(t *testing.T) {
	reg := Default(&mockSubmitter{})
	for _, raw := range []string{"qr", "VOICE", "messaging", " web "} {
		a, err := reg.For(raw)
		require.NoError(t, err, raw)
		assert.NotNil(t, a)
	}

	_, err := reg.For("fax")
	assert.ErrorIs(t, err, domain.ErrInvalidChannel)

	_, err = NewRegistry(NewWeb(nil)).For("qr")
	assert.ErrorIs(t, err, ErrUnsupportedChannel)
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)
}
