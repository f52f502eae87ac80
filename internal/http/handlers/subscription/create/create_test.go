package create

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/subscription-tracker/internal/http/middlewarectx"
	"github.com/magabrotheeeer/subscription-tracker/internal/models"
	services "github.com/magabrotheeeer/subscription-tracker/internal/services/subscription"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Create(ctx context.Context, userID string, req models.SubscriptionRequest) (*models.Subscription, error) {
	args := m.Called(ctx, userID, req)
	sub, _ := args.Get(0).(*models.Subscription)
	return sub, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestCreateHandler(t *testing.T) {
	valid := models.SubscriptionRequest{
		Name:          "Netflix",
		Price:         199,
		Frequency:     "monthly",
		Category:      "entertainment",
		PaymentMethod: "card",
		StartDate:     "2025-06-01",
	}

	tests := []struct {
		name         string
		body         any
		userID       string
		setupMock    func(*MockService)
		wantStatus   int
		wantContains string
	}{
		{
			name:   "subscription created",
			body:   valid,
			userID: "user-1",
			setupMock: func(m *MockService) {
				m.On("Create", mock.Anything, "user-1", valid).
					Return(&models.Subscription{ID: "sub-1", Name: "Netflix", Status: models.StatusActive}, nil)
			},
			wantStatus:   http.StatusCreated,
			wantContains: `"id":"sub-1"`,
		},
		{
			name:         "unauthorized",
			body:         valid,
			wantStatus:   http.StatusUnauthorized,
			wantContains: "unauthorized",
		},
		{
			name:         "invalid json",
			body:         "{not json",
			userID:       "user-1",
			wantStatus:   http.StatusBadRequest,
			wantContains: "invalid request body",
		},
		{
			name:         "validation failed",
			body:         models.SubscriptionRequest{Name: "N", Category: "games", PaymentMethod: "card", StartDate: "2025-06-01"},
			userID:       "user-1",
			wantStatus:   http.StatusUnprocessableEntity,
			wantContains: "field Name must be at least 2 characters",
		},
		{
			name:   "invalid dates",
			body:   valid,
			userID: "user-1",
			setupMock: func(m *MockService) {
				m.On("Create", mock.Anything, "user-1", valid).
					Return(nil, fmt.Errorf("op: %w: renewal date must be after start date", services.ErrInvalidDates))
			},
			wantStatus:   http.StatusBadRequest,
			wantContains: "invalid subscription dates",
		},
		{
			name:   "service error",
			body:   valid,
			userID: "user-1",
			setupMock: func(m *MockService) {
				m.On("Create", mock.Anything, "user-1", valid).Return(nil, errors.New("db is down"))
			},
			wantStatus:   http.StatusInternalServerError,
			wantContains: "could not create subscription",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			if tt.setupMock != nil {
				tt.setupMock(svc)
			}

			var body []byte
			if s, ok := tt.body.(string); ok {
				body = []byte(s)
			} else {
				var err error
				body, err = json.Marshal(tt.body)
				require.NoError(t, err)
			}

			req := httptest.NewRequest(http.MethodPost, "/subscriptions", bytes.NewReader(body))
			if tt.userID != "" {
				ctx := context.WithValue(req.Context(), middlewarectx.UserID, tt.userID)
				ctx = context.WithValue(ctx, middlewarectx.Role, models.RoleUser)
				req = req.WithContext(ctx)
			}
			rec := httptest.NewRecorder()

			New(newNoopLogger(), svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantContains)
			svc.AssertExpectations(t)
		})
	}
}
