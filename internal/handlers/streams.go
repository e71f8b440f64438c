package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	domain "github.com/hanko-field/order-engine/internal/domain"
	"github.com/hanko-field/order-engine/internal/platform/httpx"
	"github.com/hanko-field/order-engine/internal/platform/requestctx"
	"github.com/hanko-field/order-engine/internal/realtime"
)

const defaultStreamHeartbeat = 25 * time.Second

// StreamHandlers serves patch envelopes as Server-Sent Events. The caller is
// responsible for authorising the topic before calling Serve.
type StreamHandlers struct {
	hub       *realtime.Hub
	heartbeat time.Duration
	clock     func() time.Time
}

// NewStreamHandlers streams from hub, emitting a comment frame every heartbeat.
func NewStreamHandlers(hub *realtime.Hub, heartbeat time.Duration) *StreamHandlers {
	if heartbeat <= 0 {
		heartbeat = defaultStreamHeartbeat
	}
	return &StreamHandlers{hub: hub, heartbeat: heartbeat, clock: time.Now}
}

// Serve subscribes to topic and writes one "patch" event per envelope until
// the client disconnects or the hub shuts down.
func (s *StreamHandlers) Serve(w http.ResponseWriter, r *http.Request, topic string) {
	ctx := r.Context()
	if s == nil || s.hub == nil {
		writeServiceUnavailable(ctx, w, "stream")
		return
	}

	sub, err := s.hub.Subscribe(topic)
	if err != nil {
		if errors.Is(err, realtime.ErrHubClosed) {
			writeServiceUnavailable(ctx, w, "stream")
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_topic", err.Error(), http.StatusBadRequest))
		return
	}
	defer sub.Close()

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	logger := requestctx.Logger(ctx)
	ready, _ := json.Marshal(map[string]string{"subscriptionId": sub.ID, "topic": sub.Topic})
	if err := writeEvent(w, rc, "", "ready", ready); err != nil {
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": ping %d\n\n", s.clock().Unix()); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case patch, ok := <-sub.Patches():
			if !ok {
				return
			}
			data, err := json.Marshal(patch)
			if err != nil {
				logger.Warn("stream: encode patch", zap.String("orderId", patch.OrderID), zap.Error(err))
				continue
			}
			if err := writeEvent(w, rc, patchEventID(patch), "patch", data); err != nil {
				logger.Debug("stream: client gone", zap.String("subscriptionId", sub.ID), zap.Error(err))
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, id, event string, data []byte) error {
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return rc.Flush()
}

func patchEventID(patch domain.Patch) string {
	return patch.OrderID + ":" + strconv.FormatInt(patch.Version, 10)
}
