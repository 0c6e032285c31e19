package stratum

import (
	"encoding/json"
	"testing"
)

func TestNewSessionIDFormat(t *testing.T) {
	id := newSessionID()
	if len(id) != 32 {
		t.Fatalf("session id length = %d, want 32 hex chars", len(id))
	}
	for _, c := range id {
		isHex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
		if !isHex {
			t.Fatalf("session id %q contains non-hex character %q", id, c)
		}
	}
}

func TestNewSessionIDUnique(t *testing.T) {
	a := newSessionID()
	b := newSessionID()
	if a == b {
		t.Fatal("two calls to newSessionID should not collide")
	}
}

func TestMarshalErrorTupleShape(t *testing.T) {
	b, err := marshalErrorTuple(20, "malformed")
	if err != nil {
		t.Fatalf("marshalErrorTuple: %v", err)
	}

	var decoded []interface{}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("tuple length = %d, want 3", len(decoded))
	}
	if decoded[2] != nil {
		t.Fatal("third element of the error tuple must be null")
	}
}

func TestErrorMarshalJSONNilIsNull(t *testing.T) {
	var e *Error
	b, err := e.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if string(b) != "null" {
		t.Fatalf("nil *Error must marshal to null, got %s", b)
	}
}

func TestMessageErrorFieldMarshalsAsTuple(t *testing.T) {
	msg := Message{ID: 1, Error: &Error{Code: ErrCodeUnknownJob, Message: "stale job"}}
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded struct {
		ID    int           `json:"id"`
		Error []interface{} `json:"error"`
	}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.Error) != 3 || decoded.Error[0].(float64) != float64(ErrCodeUnknownJob) {
		t.Fatalf("error field did not round trip as [code, message, null]: %v", decoded.Error)
	}
}
