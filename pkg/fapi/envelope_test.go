package fapi

import "testing"

func TestDecodeUnwrappedResource(t *testing.T) {
	p, err := Decode([]byte(`{"object":"client","id":"client_1"}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(p.Resource()) != `{"object":"client","id":"client_1"}` {
		t.Errorf("expected the raw body, got %s", p.Resource())
	}
	if p.PiggybackedClient() != nil {
		t.Errorf("expected no piggybacked client, got %s", p.PiggybackedClient())
	}
}

func TestDecodeNullResponse(t *testing.T) {
	p, err := Decode([]byte(`{"response":null,"client":null}`))
	if err != nil {
		t.Fatal(err)
	}
	if p.Resource() != nil {
		t.Errorf("expected no resource, got %s", p.Resource())
	}
	if p.PiggybackedClient() != nil {
		t.Errorf("a null client is not piggybacked, got %s", p.PiggybackedClient())
	}
}

func TestPiggybackedClientPrefersTopLevel(t *testing.T) {
	p, err := Decode([]byte(`{"response":{},"client":{"id":"top"},"meta":{"client":{"id":"meta"}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(p.PiggybackedClient()) != `{"id":"top"}` {
		t.Errorf("expected the top-level client, got %s", p.PiggybackedClient())
	}
}

func TestNilPayload(t *testing.T) {
	var p *ResponseJSON
	if p.Resource() != nil || p.PiggybackedClient() != nil {
		t.Error("a nil payload has no resource and no client")
	}
}

func TestDecodeRejectsInvalidJSON(t *testing.T) {
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Error("expected an error")
	}
}
