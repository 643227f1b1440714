package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fruitsalade/projectfiles/pkg/logger"
	"github.com/fruitsalade/projectfiles/pkg/protocol"
)

// EventStream follows the collection's change events and reconnects with backoff.
type EventStream struct {
	client       *Client
	httpClient   *http.Client
	reconnectMin time.Duration
	reconnectMax time.Duration
}

// Events returns a stream over this client's collection.
func (c *Client) Events() *EventStream {
	return &EventStream{
		client:       c,
		httpClient:   &http.Client{Transport: c.httpClient.Transport}, // no timeout for SSE
		reconnectMin: 1 * time.Second,
		reconnectMax: 30 * time.Second,
	}
}

// Subscribe connects and returns a channel of events. The channel is closed
// when ctx is done.
func (s *EventStream) Subscribe(ctx context.Context) <-chan protocol.Event {
	events := make(chan protocol.Event, 100)
	go s.subscribeLoop(ctx, events)
	return events
}

func (s *EventStream) subscribeLoop(ctx context.Context, events chan<- protocol.Event) {
	defer close(events)

	reconnectDelay := s.reconnectMin
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.connect(ctx, events)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn("event stream error",
				logger.Err(err),
				logger.Duration("reconnect_in", reconnectDelay),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}

		if err != nil {
			reconnectDelay *= 2
			if reconnectDelay > s.reconnectMax {
				reconnectDelay = s.reconnectMax
			}
		} else {
			reconnectDelay = s.reconnectMin
		}
	}
}

func (s *EventStream) connect(ctx context.Context, events chan<- protocol.Event) error {
	url := s.client.collectionURL() + "/events"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	s.client.applyAuth(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	logger.Debug("event stream connected", logger.String("url", url))

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if data != "" {
				var ev protocol.Event
				if err := json.Unmarshal([]byte(data), &ev); err != nil {
					logger.Debug("event stream: bad payload", logger.Err(err))
				} else {
					select {
					case events <- ev:
					case <-ctx.Done():
						return nil
					}
				}
			}
			data = ""
		case strings.HasPrefix(line, ":"):
			// keepalive
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return nil
}
