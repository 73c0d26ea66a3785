package realtime

import "testing"

func drainOne(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case evt := <-c.Events():
		return evt
	default:
		t.Fatal("no event emitted")
		return Event{}
	}
}

func TestHandleMessageTranscript(t *testing.T) {
	c := NewClient(Config{}, nil)

	c.handleMessage([]byte(`{"type":"transcript","role":"user","text":"how are you","final":true,"turn_id":"t1"}`))

	evt := drainOne(t, c)
	if evt.Type != EventTranscriptDelta {
		t.Fatalf("event type=%s, want %s", evt.Type, EventTranscriptDelta)
	}
	if evt.Role != "user" || evt.Text != "how are you" || !evt.Final || evt.TurnID != "t1" {
		t.Fatalf("unexpected event fields: %+v", evt)
	}
}

func TestHandleMessageTurnState(t *testing.T) {
	c := NewClient(Config{}, nil)

	c.handleMessage([]byte(`{"type":"turn","state":"speaking"}`))

	evt := drainOne(t, c)
	if evt.Type != EventTurnChanged {
		t.Fatalf("event type=%s, want %s", evt.Type, EventTurnChanged)
	}
	if evt.TurnState != TurnSpeaking {
		t.Fatalf("turn state=%s, want %s", evt.TurnState, TurnSpeaking)
	}
}

func TestHandleMessageUnknownTurnStateMapsToIdle(t *testing.T) {
	c := NewClient(Config{}, nil)

	c.handleMessage([]byte(`{"type":"turn","state":"warbling"}`))

	evt := drainOne(t, c)
	if evt.TurnState != TurnIdle {
		t.Fatalf("turn state=%s, want %s", evt.TurnState, TurnIdle)
	}
}

func TestHandleMessageToolApproval(t *testing.T) {
	c := NewClient(Config{}, nil)

	c.handleMessage([]byte(`{"type":"tool_approval","request_id":"r1","tool":"search","arguments":{"q":"go"}}`))

	evt := drainOne(t, c)
	if evt.Type != EventToolApprovalRequested {
		t.Fatalf("event type=%s, want %s", evt.Type, EventToolApprovalRequested)
	}
	if evt.RequestID != "r1" || evt.Tool != "search" {
		t.Fatalf("unexpected event fields: %+v", evt)
	}
}

func TestHandleMessageHelloEmitsConnectedOnce(t *testing.T) {
	c := NewClient(Config{ProtocolVersion: 2}, nil)

	c.handleMessage([]byte(`{"type":"hello","session_id":"s1","version":2}`))
	c.handleMessage([]byte(`{"type":"hello","session_id":"s1","version":2}`))

	evt := drainOne(t, c)
	if evt.Type != EventConnected {
		t.Fatalf("event type=%s, want %s", evt.Type, EventConnected)
	}
	select {
	case extra := <-c.Events():
		t.Fatalf("unexpected second event: %+v", extra)
	default:
	}
	if got := c.SessionID(); got != "s1" {
		t.Fatalf("session id=%q, want %q", got, "s1")
	}
}

func TestNormalizeRole(t *testing.T) {
	if got := normalizeRole("Agent"); got != "assistant" {
		t.Fatalf("normalizeRole(Agent)=%q, want %q", got, "assistant")
	}
	if got := normalizeRole(""); got != "user" {
		t.Fatalf("normalizeRole(empty)=%q, want %q", got, "user")
	}
}
