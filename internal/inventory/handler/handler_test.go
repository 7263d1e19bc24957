package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"boxoffice/internal/inventory/handler/mocks"
	"boxoffice/internal/inventory/models"
	id "boxoffice/pkg/domain"
	dErrors "boxoffice/pkg/domain-errors"
	"boxoffice/pkg/platform/middleware/admin"
)

//go:generate mockgen -source=handler.go -destination=mocks/inventory-mocks.go -package=mocks Service
type InventoryHandlerSuite struct {
	suite.Suite
	router      chi.Router
	mockService *mocks.MockService
	category    id.CategoryID
}

func TestInventoryHandlerSuite(t *testing.T) {
	suite.Run(t, new(InventoryHandlerSuite))
}

func (s *InventoryHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.mockService = mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.router = chi.NewRouter()
	New(s.mockService, logger, admin.RequireAdminToken("collab", logger)).Register(s.router)
	s.category = id.CategoryID(uuid.New())
}

func (s *InventoryHandlerSuite) do(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set(admin.TokenHeader, token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *InventoryHandlerSuite) TestAvailability() {
	s.mockService.EXPECT().Availability(gomock.Any(), s.category).
		Return(&models.Availability{CategoryID: s.category, Available: 7}, nil)

	w := s.do(http.MethodGet, "/categories/"+s.category.String()+"/availability", "", "")

	s.Equal(http.StatusOK, w.Code)
	var resp AvailabilityResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(7, resp.Available)
	s.Equal(s.category.String(), resp.CategoryID)
}

func (s *InventoryHandlerSuite) TestAvailabilityInvalidCategory() {
	w := s.do(http.MethodGet, "/categories/abc/availability", "", "")
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *InventoryHandlerSuite) TestAvailabilityStoreDown() {
	s.mockService.EXPECT().Availability(gomock.Any(), gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeUnavailable, "failed to count available tickets"))

	w := s.do(http.MethodGet, "/categories/"+s.category.String()+"/availability", "", "")
	s.Equal(http.StatusServiceUnavailable, w.Code)
	s.NotContains(w.Body.String(), "failed to count", "internal detail must not leak")
}

func (s *InventoryHandlerSuite) TestStock() {
	s.mockService.EXPECT().Stock(gomock.Any(), s.category, 3).Return([]id.TicketID{1, 2, 3}, nil)

	w := s.do(http.MethodPost, "/categories/"+s.category.String()+"/stock", `{"capacity":3}`, "collab")

	s.Equal(http.StatusCreated, w.Code)
	var resp StockResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(3, resp.Created)
}

func (s *InventoryHandlerSuite) TestStockRequiresToken() {
	w := s.do(http.MethodPost, "/categories/"+s.category.String()+"/stock", `{"capacity":3}`, "")
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *InventoryHandlerSuite) TestStockRejectsBadCapacity() {
	w := s.do(http.MethodPost, "/categories/"+s.category.String()+"/stock", `{"capacity":0}`, "collab")
	s.Equal(http.StatusBadRequest, w.Code)
}
