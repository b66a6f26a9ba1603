//go:build integration

package integration

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarity-platform/clarity/internal/quota"
)

// Two concurrent consumptions that individually fit but jointly overflow
// must not both succeed.
func TestQuotaConcurrentConsumption(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()

	user := CreateUser(t, env, "quota-race@test.local", 1000)

	// 10 workers each try to consume 300 tokens against a 1000 budget.
	// At most 3 can win.
	const workers = 10
	const perCall = 300

	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = env.Ledger.TryConsume(ctx, user.ID, perCall)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, quota.ErrQuotaExceeded)
		}
	}
	assert.Equal(t, 3, succeeded)

	status, err := env.Ledger.Status(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(900), status.TokenUsed)
	assert.Equal(t, int64(100), status.Remaining)
}

func TestQuotaRejectionChargesNothing(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()

	user := CreateUser(t, env, "quota-atomic@test.local", 500)

	remaining, err := env.Ledger.TryConsume(ctx, user.ID, 400)
	require.NoError(t, err)
	assert.Equal(t, int64(100), remaining)

	// 200 does not fit in the remaining 100. Nothing may be charged.
	_, err = env.Ledger.TryConsume(ctx, user.ID, 200)
	require.ErrorIs(t, err, quota.ErrQuotaExceeded)

	status, err := env.Ledger.Status(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(400), status.TokenUsed)

	// The remaining 100 are still consumable.
	remaining, err = env.Ledger.TryConsume(ctx, user.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)
}

func TestQuotaMonthlyReset(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()

	user := CreateUser(t, env, "quota-reset@test.local", 1000)

	_, err := env.Ledger.TryConsume(ctx, user.ID, 1000)
	require.NoError(t, err)
	_, err = env.Ledger.TryConsume(ctx, user.ID, 1)
	require.ErrorIs(t, err, quota.ErrQuotaExceeded)

	// Backdate the reset date to simulate the period ending.
	_, err = env.Pool.Exec(ctx,
		`UPDATE users SET quota_reset_date = NOW() - INTERVAL '1 day' WHERE id = $1`,
		user.ID)
	require.NoError(t, err)

	remaining, err := env.Ledger.TryConsume(ctx, user.ID, 700)
	require.NoError(t, err)
	assert.Equal(t, int64(300), remaining)

	status, err := env.Ledger.Status(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(700), status.TokenUsed)
	assert.True(t, status.QuotaResetDate.After(time.Now()), "reset date should advance into the future")
}

func TestQuotaStatusEndpoint(t *testing.T) {
	env := SetupTestEnv(t)

	RegisterUser(t, env, "quota-http@test.local", "test-password-123")
	token := LoginUser(t, env, "quota-http@test.local", "test-password-123")

	resp := DoRequest(t, env, "GET", "/api/v1/quota/", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := ParseResponse(t, resp)
	data := result["data"].(map[string]any)
	assert.Equal(t, float64(0), data["monthly_token_used"])
	assert.False(t, data["blocked"].(bool))

	// Consume through the endpoint and observe the status change.
	resp = DoRequest(t, env, "POST", "/api/v1/quota/consume", map[string]int64{"tokens": 250}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = DoRequest(t, env, "GET", "/api/v1/quota/", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result = ParseResponse(t, resp)
	data = result["data"].(map[string]any)
	assert.Equal(t, float64(250), data["monthly_token_used"])
}

func TestQuotaUnknownAccount(t *testing.T) {
	env := SetupTestEnv(t)

	_, err := env.Ledger.Status(context.Background(), uuid.New())
	require.True(t, errors.Is(err, quota.ErrAccountNotFound))
}
