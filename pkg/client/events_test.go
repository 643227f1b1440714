package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/fruitsalade/projectfiles/pkg/protocol"
)

func TestEvents_Subscribe(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/projects/p1/materials/events" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		data, _ := json.Marshal(protocol.Event{Type: protocol.EventMoved, NodeID: "f1", ParentIDs: []string{"d1", "d2"}})
		fmt.Fprintf(w, ": connected\n\n")
		fmt.Fprintf(w, "event: moved\ndata: %s\n\n", data)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := c.Events().Subscribe(ctx)
	select {
	case ev := <-events:
		if ev.Type != protocol.EventMoved || !ev.Touches("d2") || ev.Touches("d3") {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	cancel()
	for range events {
	}
}
