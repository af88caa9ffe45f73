package wire

import "testing"

func validMessage() NetworkMessage {
	return NetworkMessage{
		MessageType: Text,
		MessageID:   "abc123",
		SenderID:    "alice",
		RecipientID: "bob",
		Content:     "hello",
		TimestampMs: 1000,
		HopCount:    0,
		TTLMs:       2000,
		Hash:        "deadbeef",
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	want := validMessage()
	data, err := MarshalMessage(want)
	if err != nil {
		t.Fatalf("MarshalMessage() error: %v", err)
	}

	got, err := UnmarshalMessage(data)
	if err != nil {
		t.Fatalf("UnmarshalMessage() error: %v", err)
	}
	if got != want {
		t.Errorf("UnmarshalMessage() = %+v, want %+v", got, want)
	}
}

func TestMarshalUsesFixedFieldNames(t *testing.T) {
	data, err := MarshalMessage(validMessage())
	if err != nil {
		t.Fatalf("MarshalMessage() error: %v", err)
	}
	for _, field := range []string{
		`"messageType"`, `"messageId"`, `"senderId"`, `"recipientId"`,
		`"content"`, `"timestamp"`, `"hopCount"`, `"ttl"`, `"hash"`,
		`"encrypted"`, `"signature"`, `"forwarderPath"`,
	} {
		if !contains(string(data), field) {
			t.Errorf("MarshalMessage() output missing field %s: %s", field, data)
		}
	}
}

func TestUnmarshalRejectsMissingRequiredFields(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"missing messageId", `{"senderId":"a","content":"c","timestamp":1}`},
		{"missing senderId", `{"messageId":"m","content":"c","timestamp":1}`},
		{"missing content", `{"messageId":"m","senderId":"a","timestamp":1}`},
		{"zero timestamp", `{"messageId":"m","senderId":"a","content":"c","timestamp":0}`},
		{"negative timestamp", `{"messageId":"m","senderId":"a","content":"c","timestamp":-5}`},
		{"not json", `not json at all`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := UnmarshalMessage([]byte(tc.json)); err != ErrMalformed {
				t.Errorf("UnmarshalMessage() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
