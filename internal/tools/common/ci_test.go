package common

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestWriteCIResultSuccess(t *testing.T) {
	var buf bytes.Buffer
	WriteCIResult(&buf, true, "guardctl stats", []string{"csrf blocked=0"}, nil)

	var got CIResult
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.OK || got.Command != "guardctl stats" || len(got.Details) != 1 || got.Error != "" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestWriteCIResultFailureOmitsEmptyDetails(t *testing.T) {
	var buf bytes.Buffer
	WriteCIResult(&buf, false, "guardctl probe", nil, errors.New("connection refused"))

	var raw map[string]any
	if err := json.Unmarshal(buf.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := raw["details"]; ok {
		t.Fatal("expected details to be omitted")
	}
	if raw["error"] != "connection refused" || raw["ok"] != false {
		t.Fatalf("unexpected payload: %v", raw)
	}
}
