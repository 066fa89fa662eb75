package protocol

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f, err := NewRequest("r1", MethodChatSend, map[string]any{"message": "hi"})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	raw, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Kind != KindReq || decoded.Method != MethodChatSend || decoded.ID != "r1" {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestNewErrorShape(t *testing.T) {
	f := NewError("r2", ErrAlreadyResolved, "replay rejected")
	if f.OK == nil || *f.OK {
		t.Fatalf("expected ok=false")
	}
	if f.Error == nil || f.Error.Code != ErrAlreadyResolved {
		t.Fatalf("expected ALREADY_RESOLVED, got %+v", f.Error)
	}
}

func TestMethodRegistryValidation(t *testing.T) {
	reg, err := NewMethodRegistry(DefaultMethods())
	if err != nil {
		t.Fatalf("NewMethodRegistry: %v", err)
	}

	if err := reg.Validate(MethodChatSend, []byte(`{"message":"hi","idempotencyKey":"k1"}`)); err != nil {
		t.Fatalf("expected valid chat.send params, got %v", err)
	}

	err = reg.Validate(MethodChatSend, []byte(`{"message":"hi"}`))
	if err == nil {
		t.Fatal("expected validation error for missing idempotencyKey")
	}
	var protoErr *Error
	if !asError(err, &protoErr) {
		t.Fatalf("expected *protocol.Error, got %T", err)
	}
	if protoErr.Code != ErrInvalidRequest {
		t.Fatalf("expected INVALID_REQUEST, got %s", protoErr.Code)
	}

	err = reg.Validate("nonexistent.method", nil)
	if !asError(err, &protoErr) || protoErr.Code != ErrUnknownMethod {
		t.Fatalf("expected UNKNOWN_METHOD, got %v", err)
	}
}

func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
