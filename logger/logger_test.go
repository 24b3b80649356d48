package logger

import (
	"strings"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want LogLevel
	}{
		{"trace", TRACE},
		{"DEBUG", DEBUG},
		{"info", INFO},
		{"Warn", WARN},
		{"error", ERROR},
		{"nonsense", INFO},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSetLevel(t *testing.T) {
	old := GetLevel()
	defer SetLevel(old)

	SetLevel(DEBUG)
	if GetLevel() != DEBUG {
		t.Errorf("GetLevel() = %v after SetLevel(DEBUG)", GetLevel())
	}
}

func TestToJSON_ProtoMessage(t *testing.T) {
	msg, err := structpb.NewStruct(map[string]interface{}{
		"channel": "inbound",
		"bytes":   42,
	})
	if err != nil {
		t.Fatalf("NewStruct failed: %v", err)
	}

	out := ToJSON(msg)
	if strings.HasPrefix(out, "<error") {
		t.Fatalf("ToJSON returned error marker: %s", out)
	}
	// protojson renders a Struct as its underlying JSON object.
	if !strings.Contains(out, `"channel"`) || !strings.Contains(out, `"inbound"`) {
		t.Errorf("proto output missing fields: %s", out)
	}
	if !strings.Contains(out, "42") {
		t.Errorf("proto output missing numeric field: %s", out)
	}
}

func TestToJSON_PlainValue(t *testing.T) {
	out := ToJSON(map[string]int{"writes": 6})
	if !strings.Contains(out, `"writes": 6`) {
		t.Errorf("plain output = %s", out)
	}
}
