package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(_ context.Context) error {
	return f.err
}

func newCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Second)
}

func TestMultiChecker(t *testing.T) {
	tests := map[string]struct {
		checkers []Checker
		healthy  bool
	}{
		"no checkers": {
			checkers: nil,
			healthy:  true,
		},
		"all healthy": {
			checkers: []Checker{CheckerFunc(func() error { return nil }), NewPingChecker("db", &fakePinger{}, newCtx)},
			healthy:  true,
		},
		"one unhealthy": {
			checkers: []Checker{CheckerFunc(func() error { return nil }), NewPingChecker("db", &fakePinger{err: errors.New("down")}, newCtx)},
			healthy:  false,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := NewMultiChecker(tc.checkers...).Check()
			if tc.healthy {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				var checkErr *CheckError
				assert.True(t, errors.As(err, &checkErr))
				assert.Equal(t, "db", checkErr.Name)
			}
		})
	}
}

func TestHandler(t *testing.T) {
	checker := NewMultiChecker()
	handler := NewHandler(checker)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	checker.Add(NewPingChecker("db", &fakePinger{err: errors.New("down")}, newCtx))
	checker.Add(NewPingChecker("cache", &fakePinger{err: errors.New("timeout")}, newCtx))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "db is unhealthy: down\ncache is unhealthy: timeout\n", rec.Body.String())
}

func TestHandler_SingleError(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(CheckerFunc(func() error { return errors.New("broken") })).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "broken\n", rec.Body.String())
}
