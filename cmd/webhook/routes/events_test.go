package routes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/revvault/internal/events"
	"github.com/lgulliver/revvault/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockProcessor implements Processor for testing
type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) Process(ctx context.Context, deliveryID string, body []byte) (events.Result, error) {
	args := m.Called(ctx, deliveryID, body)
	return args.Get(0).(events.Result), args.Error(1)
}

func setupRouter(processor Processor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	EventRoutes(router, processor, func(c *gin.Context) { c.Next() })
	return router
}

func TestEventRoutes_Setup(t *testing.T) {
	router := setupRouter(new(MockProcessor))

	paths := map[string]bool{}
	for _, route := range router.Routes() {
		if route.Method == http.MethodPost {
			paths[route.Path] = true
		}
	}
	assert.True(t, paths["/"])
	assert.True(t, paths["/events"])
}

func TestHandleDelivery(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		processErr     error
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "success",
			path:           "/",
			expectedStatus: http.StatusOK,
			expectedBody:   "OK",
		},
		{
			name:           "alias path",
			path:           "/events",
			expectedStatus: http.StatusOK,
			expectedBody:   "OK",
		},
		{
			name:           "processing error is acknowledged with its text",
			path:           "/",
			processErr:     errors.New("Something went wrong"),
			expectedStatus: http.StatusOK,
			expectedBody:   "Something went wrong",
		},
		{
			name:           "invalid payload is acknowledged with its text",
			path:           "/",
			processErr:     fmt.Errorf("%w: missing protoPayload", events.ErrInvalidPayload),
			expectedStatus: http.StatusOK,
			expectedBody:   "invalid event payload: missing protoPayload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := new(MockProcessor)
			processor.On("Process", mock.Anything, "delivery-1", []byte(`{"some":"event"}`)).
				Return(events.Result{Outcome: types.OutcomeOK}, tt.processErr)
			router := setupRouter(processor)

			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(`{"some":"event"}`))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(DeliveryIDHeader, "delivery-1")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedBody, w.Body.String())
			assert.Equal(t, "delivery-1", w.Header().Get(DeliveryIDHeader))
			processor.AssertExpectations(t)
		})
	}
}

func TestHandleDelivery_OversizedBodyIsRejected(t *testing.T) {
	processor := new(MockProcessor)
	router := setupRouter(processor)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", maxBodyBytes+1)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	processor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleDelivery_GeneratesDeliveryID(t *testing.T) {
	processor := new(MockProcessor)
	processor.On("Process", mock.Anything, mock.MatchedBy(func(id string) bool { return len(id) == 36 }), mock.Anything).
		Return(events.Result{}, nil)
	router := setupRouter(processor)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, w.Header().Get(DeliveryIDHeader), 36)
	processor.AssertExpectations(t)
}

func TestHandleDelivery_AuthRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	processor := new(MockProcessor)
	router := gin.New()
	EventRoutes(router, processor, func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	processor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything, mock.Anything)
}
