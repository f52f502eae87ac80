package subscription

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	services "github.com/magabrotheeeer/subscription-tracker/internal/services/subscription"
	"github.com/magabrotheeeer/subscription-tracker/internal/storage/repository"
)

func withID(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestID(t *testing.T) {
	req := withID(httptest.NewRequest(http.MethodGet, "/", nil), "6F1C2A3B-0000-4000-8000-000000000001")
	id, err := ID(req)
	require.NoError(t, err)
	assert.Equal(t, "6f1c2a3b-0000-4000-8000-000000000001", id)

	_, err = ID(withID(httptest.NewRequest(http.MethodGet, "/", nil), "42"))
	assert.Error(t, err)
}

func TestPagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
		wantErr    bool
	}{
		{name: "defaults", query: "", wantLimit: DefaultLimit},
		{name: "explicit", query: "?limit=10&offset=20", wantLimit: 10, wantOffset: 20},
		{name: "limit capped", query: "?limit=1000", wantLimit: MaxLimit},
		{name: "zero limit", query: "?limit=0", wantErr: true},
		{name: "negative offset", query: "?offset=-1", wantErr: true},
		{name: "not a number", query: "?limit=ten", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, offset, err := Pagination(httptest.NewRequest(http.MethodGet, "/subscriptions"+tt.query, nil))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
	}{
		{fmt.Errorf("op: %w", repository.ErrSubscriptionNotFound), http.StatusNotFound},
		{fmt.Errorf("op: %w", services.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("op: %w", services.ErrNotAccountOwner), http.StatusUnauthorized},
		{fmt.Errorf("op: %w: bad", services.ErrInvalidDates), http.StatusBadRequest},
		{errors.New("db is down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, msg := Status(tt.err, "fallback")
		assert.Equal(t, tt.wantStatus, status, tt.err.Error())
		assert.NotEmpty(t, msg)
	}
	_, msg := Status(errors.New("x"), "fallback")
	assert.Equal(t, "fallback", msg)
}
