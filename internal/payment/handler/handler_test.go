package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	invstore "boxoffice/internal/inventory/store"
	"boxoffice/internal/orders/models"
	ordstore "boxoffice/internal/orders/store"
	"boxoffice/internal/payment/callback"
	"boxoffice/internal/payment/handler/mocks"
	reconciliation "boxoffice/internal/reconciliation/service"
	"boxoffice/internal/storage"
	id "boxoffice/pkg/domain"
	dErrors "boxoffice/pkg/domain-errors"
	"boxoffice/pkg/platform/middleware/metadata"
)

//go:generate mockgen -source=handler.go -destination=mocks/payment-mocks.go -package=mocks Gateway,Reconciler
type CallbackHandlerSuite struct {
	suite.Suite
	router     chi.Router
	gateway    *mocks.MockGateway
	reconciler *mocks.MockReconciler
}

func TestCallbackHandlerSuite(t *testing.T) {
	suite.Run(t, new(CallbackHandlerSuite))
}

func (s *CallbackHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.gateway = mocks.NewMockGateway(ctrl)
	s.reconciler = mocks.NewMockReconciler(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.router = chi.NewRouter()
	s.router.Use(metadata.ClientMetadata(0))
	New(s.gateway, s.reconciler, logger, nil).Register(s.router)
}

func (s *CallbackHandlerSuite) post(secret, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/payments/callback/"+secret, strings.NewReader(body))
	req.RemoteAddr = "196.201.214.200:51234"
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *CallbackHandlerSuite) assertAcknowledged(w *httptest.ResponseRecorder) {
	s.Equal(http.StatusOK, w.Code)
	var ack Acknowledgment
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &ack))
	s.Equal(Acknowledgment{ResultCode: 0, ResultDesc: "Accepted"}, ack)
}

func (s *CallbackHandlerSuite) TestValidCallbackIsApplied() {
	cb := &callback.NormalizedCallback{CorrelationToken: "tok", ReceiptID: "R-1"}
	s.gateway.EXPECT().Validate(gomock.Any(), callback.RawCallback{
		RemoteIP:   "196.201.214.200",
		PathSecret: "s3cret",
		Body:       []byte(`{"Body":{}}`),
	}).Return(cb, nil)
	s.reconciler.EXPECT().Apply(gomock.Any(), *cb).
		Return(&reconciliation.Result{Outcome: models.OutcomeApplied}, nil)

	s.assertAcknowledged(s.post("s3cret", `{"Body":{}}`))
}

func (s *CallbackHandlerSuite) TestRejectedCallbackIsAcknowledgedWithoutApplying() {
	s.gateway.EXPECT().Validate(gomock.Any(), gomock.Any()).
		Return(nil, &callback.Rejection{Reason: callback.ReasonInvalidSecret})

	s.assertAcknowledged(s.post("wrong", `{}`))
}

func (s *CallbackHandlerSuite) TestReconciliationErrorsAreAcknowledged() {
	errs := []error{
		dErrors.New(dErrors.CodeOrderNotFound, "no order"),
		dErrors.New(dErrors.CodeLateConfirmationConflict, "late"),
		dErrors.New(dErrors.CodeUnavailable, "db down"),
	}
	for _, err := range errs {
		s.gateway.EXPECT().Validate(gomock.Any(), gomock.Any()).
			Return(&callback.NormalizedCallback{CorrelationToken: "tok", ReceiptID: "R"}, nil)
		s.reconciler.EXPECT().Apply(gomock.Any(), gomock.Any()).Return(nil, err)

		s.assertAcknowledged(s.post("s3cret", `{}`))
	}
}

func (s *CallbackHandlerSuite) TestProcessingSurvivesClientDisconnect() {
	s.gateway.EXPECT().Validate(gomock.Any(), gomock.Any()).
		Return(&callback.NormalizedCallback{CorrelationToken: "tok", ReceiptID: "R"}, nil)
	s.reconciler.EXPECT().Apply(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ callback.NormalizedCallback) (*reconciliation.Result, error) {
			s.NoError(ctx.Err())
			return &reconciliation.Result{Outcome: models.OutcomeApplied}, nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/payments/callback/s3cret", strings.NewReader(`{}`)).WithContext(ctx)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	s.Equal(http.StatusOK, w.Code)
}

// A malformed body from a trusted source is acknowledged and changes nothing.
func TestMalformedCallbackLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	inv := invstore.NewInMemory()
	ledger := ordstore.NewInMemory()
	runner := storage.NewMemoryTx(storage.Stores{Inventory: inv, Ledger: ledger}, inv, ledger)

	category := id.CategoryID(uuid.New())
	_, err := inv.Stock(ctx, category, 1)
	require.NoError(t, err)
	order := &models.Order{
		ID: id.NewOrderID(), BuyerID: id.BuyerID(uuid.New()), CategoryID: category,
		Quantity: 1, Status: models.StatusReserved, CorrelationToken: "tok-e", CreatedAt: time.Now(),
	}
	order.TicketIDs, err = inv.Claim(ctx, category, 1, order.ID, order.CreatedAt)
	require.NoError(t, err)
	require.NoError(t, ledger.CreateOrder(ctx, order))

	gateway, err := callback.New(callback.Config{Secret: "s3cret"})
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	New(gateway, reconciliation.New(runner), logger, nil).Register(r)

	bodies := []string{
		`not json at all`,
		`{"Body":{"stkCallback":{"CheckoutRequestID":"tok-e"}}}`,
		`{"Body":{"stkCallback":{"CheckoutRequestID":"tok-e","ResultCode":0}}}`,
	}
	for _, body := range bodies {
		req := httptest.NewRequest(http.MethodPost, "/payments/callback/s3cret", strings.NewReader(body))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, w.Body.String())
	}

	stored, err := ledger.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReserved, stored.Status)
	assert.Nil(t, stored.LastCallback)
	n, _ := inv.CountAvailable(ctx, category)
	assert.Equal(t, 0, n)
}

// flakyTx drops the first unit of work the way PostgresTx reports a lost
// connection.
type flakyTx struct {
	storage.TxRunner
	failed atomic.Bool
}

func (f *flakyTx) RunInTx(ctx context.Context, fn func(ctx context.Context, stores storage.Stores) error) error {
	if f.failed.CompareAndSwap(false, true) {
		return dErrors.Wrap(errors.New("connection reset by peer"), dErrors.CodeUnavailable, "begin transaction")
	}
	return f.TxRunner.RunInTx(ctx, fn)
}

// The provider is acknowledged before it could learn about a transient store
// failure, so the confirmed payment must still land.
func TestConfirmedPaymentSurvivesTransientStoreFailure(t *testing.T) {
	ctx := context.Background()
	inv := invstore.NewInMemory()
	ledger := ordstore.NewInMemory()
	runner := &flakyTx{TxRunner: storage.NewMemoryTx(storage.Stores{Inventory: inv, Ledger: ledger}, inv, ledger)}

	category := id.CategoryID(uuid.New())
	_, err := inv.Stock(ctx, category, 1)
	require.NoError(t, err)
	order := &models.Order{
		ID: id.NewOrderID(), BuyerID: id.BuyerID(uuid.New()), CategoryID: category,
		Quantity: 1, Status: models.StatusReserved, CorrelationToken: "tok-f", CreatedAt: time.Now(),
	}
	order.TicketIDs, err = inv.Claim(ctx, category, 1, order.ID, order.CreatedAt)
	require.NoError(t, err)
	require.NoError(t, ledger.CreateOrder(ctx, order))

	gateway, err := callback.New(callback.Config{Secret: "s3cret"})
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	New(gateway, reconciliation.New(runner, reconciliation.WithLogger(logger)), logger, nil).Register(r)

	body := `{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"tok-f","ResultCode":0,` +
		`"ResultDesc":"ok","CallbackMetadata":{"Item":[{"Name":"MpesaReceiptNumber","Value":"RCP1"}]}}}}`
	req := httptest.NewRequest(http.MethodPost, "/payments/callback/s3cret", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, w.Body.String())
	stored, err := ledger.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, stored.Status)
}
