package quotecodec

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/weqory/backend/internal/model"
)

func newTestClient() *Client {
	return New("wss://example.invalid/socket", "https://example.invalid", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func rawParams(jsonValues ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(jsonValues))
	for i, v := range jsonValues {
		out[i] = json.RawMessage(v)
	}
	return out
}

func TestHandleWireMessage_QuoteUpdateSuppressedBeforeCompleted(t *testing.T) {
	c := newTestClient()

	c.handleWireMessage(wireMessage{M: "qsd", P: rawParams(`"qs_abc"`, `{"n":"NSE:TCS","s":"ok","v":{"lp":100.5}}`)})

	select {
	case <-c.Ticks():
		t.Fatal("expected no tick before quote_completed")
	default:
	}
}

func TestHandleWireMessage_QuoteUpdateAfterCompleted(t *testing.T) {
	c := newTestClient()

	c.handleWireMessage(wireMessage{M: "quote_completed", P: rawParams(`"qs_abc"`, `"NSE:TCS"`)})
	c.handleWireMessage(wireMessage{M: "qsd", P: rawParams(`"qs_abc"`, `{"n":"NSE:TCS","s":"ok","v":{"lp":101.25}}`)})

	select {
	case tick := <-c.Ticks():
		assert.Equal(t, model.Ticker("NSE:TCS"), tick.Symbol)
		assert.Equal(t, 101.25, tick.LTP)
	default:
		t.Fatal("expected a tick after quote_completed")
	}
}

func TestHandleWireMessage_PartialFieldsMergeAcrossUpdates(t *testing.T) {
	c := newTestClient()

	c.handleWireMessage(wireMessage{M: "quote_completed", P: rawParams(`"qs_abc"`, `"NSE:TCS"`)})
	// A volume-only update carries no lp, so it produces no tick, but its
	// field is retained and merged into the next update that does.
	c.handleWireMessage(wireMessage{M: "qsd", P: rawParams(`"qs_abc"`, `{"n":"NSE:TCS","s":"ok","v":{"volume":1000}}`)})
	c.handleWireMessage(wireMessage{M: "qsd", P: rawParams(`"qs_abc"`, `{"n":"NSE:TCS","s":"ok","v":{"lp":99.9}}`)})

	select {
	case tick := <-c.Ticks():
		assert.Equal(t, 99.9, tick.LTP)
		assert.Equal(t, float64(1000), tick.LTQ)
	default:
		t.Fatal("expected a tick carrying the merged volume field")
	}
}

func TestHandleWireMessage_CriticalErrorEmitsErrorEvent(t *testing.T) {
	c := newTestClient()

	c.handleWireMessage(wireMessage{M: "critical_error", P: rawParams(`"rate limited"`)})

	select {
	case ev := <-c.Events():
		assert.Equal(t, EventError, ev.Type)
		assert.Equal(t, "rate limited", ev.Data["message"])
	default:
		t.Fatal("expected an error event")
	}
}
