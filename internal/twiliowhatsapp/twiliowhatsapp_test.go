package twiliowhatsapp

import (
	"context"
	"errors"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMessage(ctx, "12345", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs := mock.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	if msgs[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", msgs[0].Body)
	}
}

func TestMockClient_Error(t *testing.T) {
	mock := NewMockClient()
	mock.Err = errors.New("rate limited")
	if err := mock.SendMessage(context.Background(), "1", "x"); err == nil {
		t.Fatal("expected error")
	}
	if len(mock.Messages()) != 0 {
		t.Error("failed sends must not be recorded")
	}
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(WithFromWhats("+1555")); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); !errors.Is(err, ErrMissingFrom) {
		t.Errorf("expected ErrMissingFrom, got %v", err)
	}

	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromWhats("14155238886"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.fromWhats != "whatsapp:+14155238886" {
		t.Errorf("unexpected from address %q", c.fromWhats)
	}
}

func TestWhatsAppAddress(t *testing.T) {
	tests := map[string]string{
		"5511999990000":           "whatsapp:+5511999990000",
		"+5511999990000":          "whatsapp:+5511999990000",
		"whatsapp:+5511999990000": "whatsapp:+5511999990000",
	}
	for in, want := range tests {
		if got := WhatsAppAddress(in); got != want {
			t.Errorf("WhatsAppAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateSignature_RejectsForgery(t *testing.T) {
	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("secret"), WithFromWhats("+1555"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := map[string]string{"From": "whatsapp:+5511999990000", "Body": "oi"}
	if c.ValidateSignature("https://example.com/webhook/twilio", params, "bm90LWEtc2lnbmF0dXJl") {
		t.Error("forged signature must not validate")
	}
}
