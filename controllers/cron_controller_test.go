package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stillpoint/automation"
	"stillpoint/config"
	"stillpoint/middleware"
)

type stubRunner struct {
	summary automation.Summary
	err     error
	calls   int
}

func (r *stubRunner) ProcessDueEnrollments(context.Context, time.Time) (automation.Summary, error) {
	r.calls++
	return r.summary, r.err
}

func newCronTestApp(runner *stubRunner) *fiber.App {
	config.AppConfig.CronSecret = "test-secret"
	cc := NewCronController(runner, log.New(io.Discard, "", 0))
	app := fiber.New()
	app.Post("/internal/cron/process-sequences", middleware.CronProtected(), cc.ProcessSequences)
	return app
}

func TestProcessSequencesReturnsSummary(t *testing.T) {
	runner := &stubRunner{summary: automation.Summary{Processed: 5, Sent: 4, Completed: 1}}
	app := newCronTestApp(runner)

	req := httptest.NewRequest("POST", "/internal/cron/process-sequences", nil)
	req.Header.Set("X-Cron-Secret", "test-secret")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, runner.calls)

	var body struct {
		Success bool               `json:"success"`
		Data    automation.Summary `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, runner.summary, body.Data)
}

func TestProcessSequencesRejectsMissingSecret(t *testing.T) {
	runner := &stubRunner{}
	app := newCronTestApp(runner)

	req := httptest.NewRequest("POST", "/internal/cron/process-sequences", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, runner.calls)
}

func TestProcessSequencesRejectsWrongSecret(t *testing.T) {
	runner := &stubRunner{}
	app := newCronTestApp(runner)

	req := httptest.NewRequest("POST", "/internal/cron/process-sequences", nil)
	req.Header.Set("X-Cron-Secret", "wrong")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, runner.calls)
}

func TestProcessSequencesBatchLevelError(t *testing.T) {
	runner := &stubRunner{err: errors.New("db unreachable")}
	app := newCronTestApp(runner)

	req := httptest.NewRequest("POST", "/internal/cron/process-sequences", nil)
	req.Header.Set("X-Cron-Secret", "test-secret")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}
