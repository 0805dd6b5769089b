package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/flightdeck/flightdeck/internal/auth"
	jobmetrics "github.com/flightdeck/flightdeck/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeRevokeToken retries a remote logout that failed during sign out.
	TaskTypeRevokeToken = "auth:revoke-token"
	// TaskTypeBackendProbe checks that the backend API is reachable.
	TaskTypeBackendProbe = "backend:probe"

	revokeMaxRetry = 5
)

// RevokeTokenPayload carries the token that still needs to be invalidated.
type RevokeTokenPayload struct {
	Token  string `json:"token"`
	UserID int64  `json:"user_id"`
}

// Revoker invalidates a bearer token on the backend.
type Revoker interface {
	Logout(ctx context.Context, token string) error
}

// Pinger reports backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRevokeTokenTask constructs an Asynq task.
func NewRevokeTokenTask(payload RevokeTokenPayload) (*asynq.Task, error) {
	if payload.Token == "" {
		return nil, errors.New("jobs: revoke task requires a token")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRevokeToken, data), nil
}

// NewBackendProbeTask constructs the periodic probe task.
func NewBackendProbeTask() *asynq.Task {
	return asynq.NewTask(TaskTypeBackendProbe, nil)
}

// RevokeTokenHandler processes TaskTypeRevokeToken tasks.
func RevokeTokenHandler(revoker Revoker, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload RevokeTokenPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode revoke payload: %v: %w", err, asynq.SkipRetry)
		}
		if payload.Token == "" {
			return fmt.Errorf("revoke payload without token: %w", asynq.SkipRetry)
		}
		tracker := metrics.Track(TaskTypeRevokeToken)
		err := revoker.Logout(ctx, payload.Token)
		if errors.Is(err, auth.ErrUnauthorized) {
			// Token already invalid on the backend.
			logger.Info("token already revoked", slog.Int64("user_id", payload.UserID))
			return tracker.End(nil)
		}
		if err != nil {
			logger.Warn("revoke token", slog.Int64("user_id", payload.UserID), slog.Any("error", err))
			return tracker.End(err)
		}
		logger.Info("token revoked", slog.Int64("user_id", payload.UserID))
		return tracker.End(nil)
	}
}

// BackendProbeHandler processes TaskTypeBackendProbe tasks.
func BackendProbeHandler(pinger Pinger, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, _ *asynq.Task) error {
		tracker := metrics.Track(TaskTypeBackendProbe)
		if err := pinger.Ping(ctx); err != nil {
			logger.Warn("backend probe failed", slog.Any("error", err))
			metrics.SetBackendUp(false)
			// The next scheduled probe is the retry.
			return tracker.End(fmt.Errorf("%v: %w", err, asynq.SkipRetry))
		}
		metrics.SetBackendUp(true)
		return tracker.End(nil)
	}
}
