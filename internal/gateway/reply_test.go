package gateway

import "testing"

func TestParseReplyPlainTextFallsBackToChat(t *testing.T) {
	reply := ParseReply("Olá! Como posso ajudar?")
	chat, ok := reply.(ChatReply)
	if !ok {
		t.Fatalf("expected ChatReply, got %T", reply)
	}
	if chat.Text != "Olá! Como posso ajudar?" {
		t.Fatalf("unexpected text: %q", chat.Text)
	}
}

func TestParseReplyQuote(t *testing.T) {
	raw := "```json\n{\"kind\":\"quote\",\"text\":\"Calculando\",\"metadata\":{\"pickup_address\":\"Rua A\",\"delivery_address\":\"Rua B\",\"distance_km\":10,\"eta_minutes\":25,\"item_description\":\"caixa\"}}\n```"
	reply := ParseReply(raw)
	quote, ok := reply.(QuoteReply)
	if !ok {
		t.Fatalf("expected QuoteReply, got %T", reply)
	}
	if quote.Request.DistanceKm != 10 || quote.Request.PickupAddress != "Rua A" || quote.Request.EtaMinutes != 25 {
		t.Fatalf("unexpected quote request: %+v", quote.Request)
	}
}

func TestParseReplyQuoteWithoutMetadataDegrades(t *testing.T) {
	reply := ParseReply(`{"kind":"quote","text":"sem dados"}`)
	if reply.Kind() != ReplyKindChat || reply.Message() != "sem dados" {
		t.Fatalf("expected chat fallback, got %s %q", reply.Kind(), reply.Message())
	}
}

func TestParseReplyFsmEvent(t *testing.T) {
	cases := []string{
		`{"kind":"fsm_event","event":"CONFIRM","text":"ok"}`,
		`{"type":"fsm_event","fsm_event":"confirm","text":"ok"}`,
		`{"kind":"fsm_event","metadata":{"event":"confirm"},"text":"ok"}`,
	}
	for _, raw := range cases {
		reply := ParseReply(raw)
		event, ok := reply.(FsmEventReply)
		if !ok {
			t.Fatalf("expected FsmEventReply for %s, got %T", raw, reply)
		}
		if event.Event != "confirm" {
			t.Fatalf("unexpected event %q for %s", event.Event, raw)
		}
	}
}

func TestParseReplyUnknownKindIsChat(t *testing.T) {
	reply := ParseReply(`{"kind":"dance","text":"?"}`)
	if _, ok := reply.(ChatReply); !ok {
		t.Fatalf("expected ChatReply, got %T", reply)
	}
	if _, ok := ParseReply(`{"kind":"question","text":"Qual o endereço?"}`).(QuestionReply); !ok {
		t.Fatalf("expected QuestionReply")
	}
}
