package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/subscription-tracker/internal/models"
	"github.com/magabrotheeeer/subscription-tracker/internal/reminder"
	"github.com/magabrotheeeer/subscription-tracker/internal/storage/repository"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) CreateSubscription(ctx context.Context, sub models.Subscription) (*models.Subscription, error) {
	args := m.Called(ctx, sub)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *RepoMock) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *RepoMock) ListSubscriptions(ctx context.Context, filter models.SubscriptionFilter) ([]*models.Subscription, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Subscription), args.Error(1)
}

func (m *RepoMock) UpdateSubscription(ctx context.Context, id string, patch models.SubscriptionPatch) (*models.Subscription, error) {
	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *RepoMock) CancelSubscription(ctx context.Context, id string, at time.Time) (*models.Subscription, error) {
	args := m.Called(ctx, id, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *RepoMock) DeleteSubscription(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *RepoMock) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

type CacheMock struct{ mock.Mock }

func (m *CacheMock) Get(ctx context.Context, key string, result any) (bool, error) {
	args := m.Called(ctx, key, result)
	return args.Bool(0), args.Error(1)
}

func (m *CacheMock) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	return m.Called(ctx, key, value, expiration).Error(0)
}

func (m *CacheMock) Invalidate(ctx context.Context, keys ...string) error {
	return m.Called(ctx, keys).Error(0)
}

type StarterMock struct{ mock.Mock }

func (m *StarterMock) Start(ctx context.Context, workflow string, input any) (uuid.UUID, error) {
	args := m.Called(ctx, workflow, input)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestService(r *RepoMock, c *CacheMock, st *StarterMock) *SubscriptionService {
	svc := NewSubscriptionService(r, c, st, time.Hour, newNoopLogger())
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestSubscriptionService_Create(t *testing.T) {
	base := models.SubscriptionRequest{
		Name:          "Netflix",
		Price:         499,
		Frequency:     "monthly",
		Category:      "entertainment",
		PaymentMethod: "card",
		StartDate:     "2025-06-10",
	}

	tests := []struct {
		name       string
		req        func() models.SubscriptionRequest
		setupMocks func(r *RepoMock, c *CacheMock, st *StarterMock)
		wantStatus string
		wantErr    error
	}{
		{
			name: "renewal derived from frequency starts reminders",
			req:  func() models.SubscriptionRequest { return base },
			setupMocks: func(r *RepoMock, c *CacheMock, st *StarterMock) {
				r.On("CreateSubscription", mock.Anything, mock.MatchedBy(func(s models.Subscription) bool {
					return s.RenewalDate.Equal(time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)) &&
						s.Status == models.StatusActive &&
						s.Currency == models.DefaultCurrency &&
						s.UserID == "user-1"
				})).Return(&models.Subscription{ID: "sub-1", Status: models.StatusActive, UserID: "user-1"}, nil).Once()
				c.On("Set", mock.Anything, "subscription:sub-1", mock.Anything, time.Hour).Return(nil).Once()
				st.On("Start", mock.Anything, reminder.WorkflowName, "sub-1").Return(uuid.New(), nil).Once()
			},
			wantStatus: models.StatusActive,
		},
		{
			name: "past renewal is created expired without reminders",
			req: func() models.SubscriptionRequest {
				r := base
				r.StartDate = "2025-01-01"
				r.RenewalDate = "2025-02-01"
				return r
			},
			setupMocks: func(r *RepoMock, c *CacheMock, _ *StarterMock) {
				r.On("CreateSubscription", mock.Anything, mock.MatchedBy(func(s models.Subscription) bool {
					return s.Status == models.StatusExpired
				})).Return(&models.Subscription{ID: "sub-2", Status: models.StatusExpired}, nil).Once()
				c.On("Set", mock.Anything, "subscription:sub-2", mock.Anything, time.Hour).Return(nil).Once()
			},
			wantStatus: models.StatusExpired,
		},
		{
			name: "workflow start failure does not fail creation",
			req:  func() models.SubscriptionRequest { return base },
			setupMocks: func(r *RepoMock, c *CacheMock, st *StarterMock) {
				r.On("CreateSubscription", mock.Anything, mock.Anything).
					Return(&models.Subscription{ID: "sub-3", Status: models.StatusActive}, nil).Once()
				c.On("Set", mock.Anything, "subscription:sub-3", mock.Anything, time.Hour).Return(errors.New("redis down")).Once()
				st.On("Start", mock.Anything, reminder.WorkflowName, "sub-3").Return(uuid.Nil, errors.New("db down")).Once()
			},
			wantStatus: models.StatusActive,
		},
		{
			name: "start date in the future",
			req: func() models.SubscriptionRequest {
				r := base
				r.StartDate = "2025-07-01"
				return r
			},
			setupMocks: func(_ *RepoMock, _ *CacheMock, _ *StarterMock) {},
			wantErr:    ErrInvalidDates,
		},
		{
			name: "renewal not after start",
			req: func() models.SubscriptionRequest {
				r := base
				r.RenewalDate = "2025-06-10"
				return r
			},
			setupMocks: func(_ *RepoMock, _ *CacheMock, _ *StarterMock) {},
			wantErr:    ErrInvalidDates,
		},
		{
			name: "neither renewal nor frequency",
			req: func() models.SubscriptionRequest {
				r := base
				r.Frequency = ""
				return r
			},
			setupMocks: func(_ *RepoMock, _ *CacheMock, _ *StarterMock) {},
			wantErr:    ErrInvalidDates,
		},
		{
			name: "invalid date format",
			req: func() models.SubscriptionRequest {
				r := base
				r.StartDate = "10-06-2025"
				return r
			},
			setupMocks: func(_ *RepoMock, _ *CacheMock, _ *StarterMock) {},
			wantErr:    ErrInvalidDates,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, c, st := new(RepoMock), new(CacheMock), new(StarterMock)
			svc := newTestService(r, c, st)
			tt.setupMocks(r, c, st)

			got, err := svc.Create(context.Background(), "user-1", tt.req())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantStatus, got.Status)
			}

			r.AssertExpectations(t)
			c.AssertExpectations(t)
			st.AssertExpectations(t)
		})
	}
}

func TestSubscriptionService_Get(t *testing.T) {
	owned := &models.Subscription{ID: "sub-1", UserID: "user-1"}

	tests := []struct {
		name       string
		userID     string
		role       string
		setupMocks func(r *RepoMock, c *CacheMock)
		wantErr    error
	}{
		{
			name:   "owner reads from repository and fills cache",
			userID: "user-1",
			role:   models.RoleUser,
			setupMocks: func(r *RepoMock, c *CacheMock) {
				c.On("Get", mock.Anything, "subscription:sub-1", mock.Anything).Return(false, nil).Once()
				r.On("GetSubscription", mock.Anything, "sub-1").Return(owned, nil).Once()
				c.On("Set", mock.Anything, "subscription:sub-1", owned, time.Hour).Return(nil).Once()
			},
		},
		{
			name:   "cache hit skips repository",
			userID: "user-1",
			role:   models.RoleUser,
			setupMocks: func(_ *RepoMock, c *CacheMock) {
				c.On("Get", mock.Anything, "subscription:sub-1", mock.Anything).
					Run(func(args mock.Arguments) {
						*args.Get(2).(*models.Subscription) = *owned
					}).Return(true, nil).Once()
			},
		},
		{
			name:   "other user is forbidden",
			userID: "user-2",
			role:   models.RoleUser,
			setupMocks: func(r *RepoMock, c *CacheMock) {
				c.On("Get", mock.Anything, "subscription:sub-1", mock.Anything).Return(false, nil).Once()
				r.On("GetSubscription", mock.Anything, "sub-1").Return(owned, nil).Once()
				c.On("Set", mock.Anything, "subscription:sub-1", owned, time.Hour).Return(nil).Once()
			},
			wantErr: ErrForbidden,
		},
		{
			name:   "admin reads any subscription",
			userID: "admin-1",
			role:   models.RoleAdmin,
			setupMocks: func(r *RepoMock, c *CacheMock) {
				c.On("Get", mock.Anything, "subscription:sub-1", mock.Anything).Return(false, errors.New("redis down")).Once()
				r.On("GetSubscription", mock.Anything, "sub-1").Return(owned, nil).Once()
				c.On("Set", mock.Anything, "subscription:sub-1", owned, time.Hour).Return(nil).Once()
			},
		},
		{
			name:   "not found",
			userID: "user-1",
			role:   models.RoleUser,
			setupMocks: func(r *RepoMock, c *CacheMock) {
				c.On("Get", mock.Anything, "subscription:sub-1", mock.Anything).Return(false, nil).Once()
				r.On("GetSubscription", mock.Anything, "sub-1").Return(nil, repository.ErrSubscriptionNotFound).Once()
			},
			wantErr: repository.ErrSubscriptionNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, c := new(RepoMock), new(CacheMock)
			svc := newTestService(r, c, new(StarterMock))
			tt.setupMocks(r, c)

			got, err := svc.Get(context.Background(), tt.userID, tt.role, "sub-1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "sub-1", got.ID)
			}
			r.AssertExpectations(t)
			c.AssertExpectations(t)
		})
	}
}

func TestSubscriptionService_UpdateRenewalRestartsReminders(t *testing.T) {
	r, c, st := new(RepoMock), new(CacheMock), new(StarterMock)
	svc := newTestService(r, c, st)

	current := &models.Subscription{
		ID:          "sub-1",
		UserID:      "user-1",
		Status:      models.StatusActive,
		StartDate:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		RenewalDate: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	newRenewal := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	updated := *current
	updated.RenewalDate = newRenewal

	c.On("Get", mock.Anything, "subscription:sub-1", mock.Anything).Return(false, nil).Once()
	r.On("GetSubscription", mock.Anything, "sub-1").Return(current, nil).Once()
	c.On("Set", mock.Anything, "subscription:sub-1", mock.Anything, time.Hour).Return(nil).Twice()
	r.On("UpdateSubscription", mock.Anything, "sub-1", mock.MatchedBy(func(p models.SubscriptionPatch) bool {
		return p.RenewalDate != nil && p.RenewalDate.Equal(newRenewal) && p.Name == nil
	})).Return(&updated, nil).Once()
	st.On("Start", mock.Anything, reminder.WorkflowName, "sub-1").Return(uuid.New(), nil).Once()

	renewal := "2025-08-01"
	got, err := svc.Update(context.Background(), "user-1", models.RoleUser, "sub-1", models.SubscriptionUpdate{RenewalDate: &renewal})
	require.NoError(t, err)
	assert.True(t, newRenewal.Equal(got.RenewalDate))

	r.AssertExpectations(t)
	st.AssertExpectations(t)
}

func TestSubscriptionService_UpdateValidation(t *testing.T) {
	current := &models.Subscription{
		ID:          "sub-1",
		UserID:      "user-1",
		Status:      models.StatusActive,
		StartDate:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		RenewalDate: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	before := "2025-05-01"
	future := "2025-12-01"

	tests := []struct {
		name string
		req  models.SubscriptionUpdate
	}{
		{name: "renewal before start", req: models.SubscriptionUpdate{RenewalDate: &before}},
		{name: "start in the future", req: models.SubscriptionUpdate{StartDate: &future}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, c := new(RepoMock), new(CacheMock)
			svc := newTestService(r, c, new(StarterMock))
			c.On("Get", mock.Anything, "subscription:sub-1", mock.Anything).Return(false, nil).Once()
			r.On("GetSubscription", mock.Anything, "sub-1").Return(current, nil).Once()
			c.On("Set", mock.Anything, "subscription:sub-1", mock.Anything, time.Hour).Return(nil).Once()

			_, err := svc.Update(context.Background(), "user-1", models.RoleUser, "sub-1", tt.req)
			assert.ErrorIs(t, err, ErrInvalidDates)
			r.AssertNotCalled(t, "UpdateSubscription", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestSubscriptionService_UpdateNameOnlyKeepsReminders(t *testing.T) {
	r, c, st := new(RepoMock), new(CacheMock), new(StarterMock)
	svc := newTestService(r, c, st)

	current := &models.Subscription{
		ID:          "sub-1",
		UserID:      "user-1",
		Status:      models.StatusActive,
		StartDate:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		RenewalDate: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	updated := *current
	updated.Name = "Prime"

	c.On("Get", mock.Anything, "subscription:sub-1", mock.Anything).Return(false, nil).Once()
	r.On("GetSubscription", mock.Anything, "sub-1").Return(current, nil).Once()
	c.On("Set", mock.Anything, "subscription:sub-1", mock.Anything, time.Hour).Return(nil).Twice()
	r.On("UpdateSubscription", mock.Anything, "sub-1", mock.Anything).Return(&updated, nil).Once()

	name := "Prime"
	got, err := svc.Update(context.Background(), "user-1", models.RoleUser, "sub-1", models.SubscriptionUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Prime", got.Name)
	st.AssertNotCalled(t, "Start", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubscriptionService_Cancel(t *testing.T) {
	r, c := new(RepoMock), new(CacheMock)
	svc := newTestService(r, c, new(StarterMock))

	owned := &models.Subscription{ID: "sub-1", UserID: "user-1", Status: models.StatusActive}
	cancelled := &models.Subscription{ID: "sub-1", UserID: "user-1", Status: models.StatusCancelled, CancelledAt: &testNow}

	c.On("Get", mock.Anything, "subscription:sub-1", mock.Anything).Return(false, nil).Once()
	r.On("GetSubscription", mock.Anything, "sub-1").Return(owned, nil).Once()
	c.On("Set", mock.Anything, "subscription:sub-1", mock.Anything, time.Hour).Return(nil).Twice()
	r.On("CancelSubscription", mock.Anything, "sub-1", testNow).Return(cancelled, nil).Once()

	got, err := svc.Cancel(context.Background(), "user-1", models.RoleUser, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	r.AssertExpectations(t)
}

func TestSubscriptionService_Delete(t *testing.T) {
	r, c := new(RepoMock), new(CacheMock)
	svc := newTestService(r, c, new(StarterMock))

	var order []string
	owned := &models.Subscription{ID: "sub-1", UserID: "user-1"}
	c.On("Get", mock.Anything, "subscription:sub-1", mock.Anything).Return(false, nil).Once()
	r.On("GetSubscription", mock.Anything, "sub-1").Return(owned, nil).Once()
	c.On("Set", mock.Anything, "subscription:sub-1", mock.Anything, time.Hour).Return(nil).Once()
	r.On("DeleteSubscription", mock.Anything, "sub-1").
		Run(func(mock.Arguments) { order = append(order, "delete") }).Return(nil).Once()
	c.On("Invalidate", mock.Anything, []string{"subscription:sub-1"}).
		Run(func(mock.Arguments) { order = append(order, "invalidate") }).Return(errors.New("redis down")).Once()

	require.NoError(t, svc.Delete(context.Background(), "user-1", models.RoleUser, "sub-1"))
	assert.Equal(t, []string{"delete", "invalidate"}, order)
	r.AssertExpectations(t)
	c.AssertExpectations(t)
}

func TestSubscriptionService_DeleteFailureKeepsCache(t *testing.T) {
	r, c := new(RepoMock), new(CacheMock)
	svc := newTestService(r, c, new(StarterMock))

	owned := &models.Subscription{ID: "sub-1", UserID: "user-1"}
	c.On("Get", mock.Anything, "subscription:sub-1", mock.Anything).Return(false, nil).Once()
	r.On("GetSubscription", mock.Anything, "sub-1").Return(owned, nil).Once()
	c.On("Set", mock.Anything, "subscription:sub-1", mock.Anything, time.Hour).Return(nil).Once()
	r.On("DeleteSubscription", mock.Anything, "sub-1").Return(errors.New("db down")).Once()

	err := svc.Delete(context.Background(), "user-1", models.RoleUser, "sub-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	c.AssertNotCalled(t, "Invalidate", mock.Anything, mock.Anything)
	r.AssertExpectations(t)
}

func TestSubscriptionService_List(t *testing.T) {
	r := new(RepoMock)
	svc := newTestService(r, new(CacheMock), new(StarterMock))

	_, err := svc.List(context.Background(), models.RoleUser, 10, 0)
	assert.ErrorIs(t, err, ErrForbidden)

	subs := []*models.Subscription{{ID: "a"}, {ID: "b"}}
	r.On("ListSubscriptions", mock.Anything, models.SubscriptionFilter{Limit: 10, Offset: 5}).Return(subs, nil).Once()
	got, err := svc.List(context.Background(), models.RoleAdmin, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, subs, got)
}

func TestSubscriptionService_ListByUser(t *testing.T) {
	r := new(RepoMock)
	svc := newTestService(r, new(CacheMock), new(StarterMock))

	_, err := svc.ListByUser(context.Background(), "user-1", "user-2", 10, 0)
	assert.ErrorIs(t, err, ErrNotAccountOwner)

	r.On("ListSubscriptions", mock.Anything, models.SubscriptionFilter{UserID: "user-1", Limit: 10}).
		Return([]*models.Subscription{{ID: "a"}}, nil).Once()
	got, err := svc.ListByUser(context.Background(), "user-1", "user-1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSubscriptionService_Upcoming(t *testing.T) {
	r := new(RepoMock)
	svc := newTestService(r, new(CacheMock), new(StarterMock))

	r.On("ListSubscriptions", mock.Anything, mock.MatchedBy(func(f models.SubscriptionFilter) bool {
		return f.UserID == "user-1" &&
			f.Status == models.StatusActive &&
			f.RenewalFrom.Equal(testNow) &&
			f.RenewalTo.Equal(testNow.AddDate(0, 0, 7))
	})).Return([]*models.Subscription{}, nil).Once()
	r.On("ListSubscriptions", mock.Anything, mock.MatchedBy(func(f models.SubscriptionFilter) bool {
		return f.UserID == ""
	})).Return([]*models.Subscription{{ID: "x"}}, nil).Once()

	_, err := svc.Upcoming(context.Background(), "user-1", models.RoleUser)
	require.NoError(t, err)
	got, err := svc.Upcoming(context.Background(), "admin-1", models.RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	r.AssertExpectations(t)
}

func TestSubscriptionService_ExpireOverdue(t *testing.T) {
	r := new(RepoMock)
	svc := newTestService(r, new(CacheMock), new(StarterMock))

	r.On("ExpireOverdue", mock.Anything, testNow).Return(int64(3), nil).Once()
	n, err := svc.ExpireOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	r.On("ExpireOverdue", mock.Anything, testNow).Return(int64(0), errors.New("db down")).Once()
	_, err = svc.ExpireOverdue(context.Background())
	assert.Error(t, err)
}
