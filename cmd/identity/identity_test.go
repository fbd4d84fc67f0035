package identity

import (
	"errors"
	"testing"
)

func TestNormalizeDID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "did:plc:abc123", want: "did:plc:abc123"},
		{in: "  did:PLC:AbC  ", want: "did:plc:AbC"},
		{in: "did:web:example.com", want: "did:web:example.com"},
		{in: "did:plc:", wantErr: true},
		{in: "did::x", wantErr: true},
		{in: "plc:abc", wantErr: true},
		{in: "", wantErr: true},
		{in: "did:plc:a b", wantErr: true},
	}

	for _, tc := range cases {
		got, err := NormalizeDID(tc.in)
		if tc.wantErr {
			if err == nil || !IsInvalidInput(err) {
				t.Fatalf("NormalizeDID(%q) err=%v want invalid input", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NormalizeDID(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeDID(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestIsValidHandle(t *testing.T) {
	t.Parallel()

	if !IsValidHandle("@Alice.Example.com") {
		t.Fatalf("expected handle to be valid")
	}
	if IsValidHandle(InvalidHandle) {
		t.Fatalf("handle.invalid must be rejected")
	}
	if IsValidHandle("alice") {
		t.Fatalf("handle without a dot must be rejected")
	}
}

func TestParseATURI(t *testing.T) {
	t.Parallel()

	u, err := ParseATURI("at://did:plc:abc/app.protoimsg.chat.room/3kroom")
	if err != nil {
		t.Fatalf("ParseATURI: %v", err)
	}
	if u.Authority != "did:plc:abc" || u.Collection != "app.protoimsg.chat.room" || u.RKey != "3kroom" {
		t.Fatalf("unexpected parse: %+v", u)
	}
	if u.String() != "at://did:plc:abc/app.protoimsg.chat.room/3kroom" {
		t.Fatalf("round trip mismatch: %s", u.String())
	}

	for _, bad := range []string{"https://x/y/z", "at://did:plc:abc/coll", "at://did:plc:abc//rkey"} {
		_, err := ParseATURI(bad)
		var op OpError
		if !errors.As(err, &op) || op.Op != "identity.ParseATURI" {
			t.Fatalf("ParseATURI(%q) err=%v want OpError", bad, err)
		}
	}
}

func TestRecordKey(t *testing.T) {
	t.Parallel()

	if got := RecordKey("at://did:plc:abc/app.protoimsg.chat.room/general"); got != "general" {
		t.Fatalf("RecordKey=%q", got)
	}
	if got := RecordKey("general"); got != "general" {
		t.Fatalf("RecordKey without slash=%q", got)
	}
}
