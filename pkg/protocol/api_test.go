package protocol

import (
	"encoding/json"
	"testing"
)

var (
	_ Enveloped = (*ListResponse)(nil)
	_ Enveloped = (*NodeResponse)(nil)
	_ Enveloped = (*OKResponse)(nil)
	_ Enveloped = (*DownloadURLResponse)(nil)
	_ Enveloped = (*TagsResponse)(nil)
	_ Enveloped = (*HealthResponse)(nil)
)

func TestHealthResponseWire(t *testing.T) {
	data, err := json.Marshal(HealthResponse{Envelope: Failed("store unavailable"), State: "degraded", Store: "postgres"})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["status"] != "degraded" || got["err"] != true || got["errMsg"] != "store unavailable" {
		t.Errorf("wire form = %s", data)
	}

	var back HealthResponse
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Status().ErrMsg != "store unavailable" || back.State != "degraded" {
		t.Errorf("decoded = %+v", back)
	}
}
