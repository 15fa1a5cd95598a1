package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/JohnnyZhao2/LMS-sub002/internal/domain"
)

type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// notifySubmitted tells the learner's open UI that the session finished,
// which matters most when the submission was timer-driven.
func (a *API) notifySubmitted(ctx context.Context, e domain.EventSubmitted) error {
	return a.publishNotification(ctx, e.Username, e.SessionID, e.Name(), map[string]any{
		"session_id": e.SessionID,
		"auto":       e.Auto,
		"result":     resultView(&e.Result),
	})
}

func (a *API) notifyExpired(ctx context.Context, e domain.EventSessionExpired) error {
	return a.publishNotification(ctx, e.Username, e.SessionID, e.Name(), map[string]any{
		"session_id": e.SessionID,
	})
}

// notifySubmitFailed pushes the persistent "submission pending, do not
// close" state after all retries were rejected.
func (a *API) notifySubmitFailed(ctx context.Context, e domain.EventSubmitFailed) error {
	return a.publishNotification(ctx, e.Username, e.SessionID, e.Name(), map[string]any{
		"session_id": e.SessionID,
		"attempts":   e.Attempts,
		"reason":     e.Reason,
	})
}

// publishNotification fans the notification out to the learner's channel and
// the session channel (watched by proctor/teacher dashboards).
func (a *API) publishNotification(ctx context.Context, user, sessionID, event string, data any) error {
	if a.redis == nil {
		return nil
	}

	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	channels := []string{
		fmt.Sprintf("%s:user:%s", a.prefix, user),
		fmt.Sprintf("%s:session:%s", a.prefix, sessionID),
	}

	var eg errgroup.Group
	for _, ch := range channels {
		ch := ch
		eg.Go(func() error {
			return a.redis.Publish(ctx, ch, b).Err()
		})
	}
	return eg.Wait()
}
