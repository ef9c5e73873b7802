// Package events distributes raised alerts to their consumers.
//
// Alerts are published onto a source channel and fanned out by Broadcaster
// to every subscriber. Publishing never blocks: when a channel is full the
// event is dropped. Threshold alerts and intrusion alerts travel as separate
// kinds so a subscriber can take only one path.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	models "github.com/Schera-ole/vmwatch/internal/model"
	"github.com/Schera-ole/vmwatch/internal/notify"
	"github.com/Schera-ole/vmwatch/internal/telemetry"
)

// Kind tells threshold alerts from intrusion alerts.
type Kind string

const (
	KindAlert     Kind = "alert"
	KindIntrusion Kind = "intrusion"
)

// Event is one published alert.
type Event struct {
	TS    string       `json:"ts"`
	Kind  Kind         `json:"kind"`
	Alert models.Alert `json:"alert"`
}

// Publisher accepts alerts for distribution.
type Publisher interface {
	Publish(kind Kind, alerts ...models.Alert)
}

type publisher struct {
	eventChan chan<- Event
	logger    *zap.SugaredLogger
}

// NewPublisher creates a Publisher writing to eventChan.
func NewPublisher(eventChan chan<- Event, logger *zap.SugaredLogger) Publisher {
	return &publisher{eventChan: eventChan, logger: logger}
}

func (p *publisher) Publish(kind Kind, alerts ...models.Alert) {
	for _, alert := range alerts {
		event := Event{
			TS:    time.Now().Format(time.RFC3339),
			Kind:  kind,
			Alert: alert,
		}
		select {
		case p.eventChan <- event:
		default:
			telemetry.EventsDropped.WithLabelValues("source").Inc()
			p.logger.Warnw("dropped alert event, channel is full", "alert", alert.ID, "kind", kind)
		}
	}
}

// Subscription is a named destination for broadcast events.
type Subscription struct {
	Name string
	C    chan Event
}

// NewSubscription creates a subscription with a buffer of size events.
func NewSubscription(name string, size int) Subscription {
	return Subscription{Name: name, C: make(chan Event, size)}
}

// Broadcaster copies every event from source to all subscriptions until
// source is closed, then closes the subscriptions. A blocked subscriber loses
// the event instead of stalling the others.
func Broadcaster(source <-chan Event, logger *zap.SugaredLogger, subs ...Subscription) {
	defer func() {
		for _, sub := range subs {
			close(sub.C)
		}
	}()
	for evt := range source {
		for _, sub := range subs {
			select {
			case sub.C <- evt:
			default:
				telemetry.EventsDropped.WithLabelValues(sub.Name).Inc()
				logger.Warnw("dropped event for blocked subscriber", "subscriber", sub.Name, "alert", evt.Alert.ID)
			}
		}
	}
}

// FileSubscriber appends events to path as JSON lines.
func FileSubscriber(events <-chan Event, path string, logger *zap.SugaredLogger) {
	for evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			logger.Errorw("file subscriber: marshal failed", "error", err)
			continue
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Errorw("file subscriber: open failed", "path", path, "error", err)
			continue
		}
		if _, err = f.Write(append(data, '\n')); err != nil {
			logger.Errorw("file subscriber: write failed", "path", path, "error", err)
		}
		f.Close()
	}
}

// URLSubscriber posts events as JSON to url.
func URLSubscriber(ctx context.Context, events <-chan Event, url string, client *http.Client, logger *zap.SugaredLogger) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	for evt := range events {
		if err := postEvent(ctx, client, url, evt); err != nil {
			logger.Errorw("url subscriber: delivery failed", "url", url, "alert", evt.Alert.ID, "error", err)
		}
	}
}

func postEvent(ctx context.Context, client *http.Client, url string, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// NotifySubscriber passes events through the notification gate.
func NotifySubscriber(ctx context.Context, events <-chan Event, gate *notify.Gate, recipient string, minimum models.Importance) {
	for evt := range events {
		gate.MaybeNotify(ctx, evt.Alert, recipient, minimum)
	}
}
