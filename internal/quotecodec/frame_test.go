package quotecodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncode(t *testing.T) {
	assert.Equal(t, `~m~12~m~{"m":"ping"}`, Encode(`{"m":"ping"}`))
}

func TestDecode_SplitsConcatenatedFrames(t *testing.T) {
	payloads, heartbeats := Decode("~m~2~m~{}~m~2~m~[]")
	assert.Equal(t, []string{"{}", "[]"}, payloads)
	assert.Empty(t, heartbeats)
}

func TestDecode_HeartbeatEchoedVerbatim(t *testing.T) {
	payloads, heartbeats := Decode(Encode("~h~42"))
	assert.Empty(t, payloads)
	assert.Equal(t, []string{"~h~42"}, heartbeats)
}

func TestDecode_MixedFramesPreserveOrder(t *testing.T) {
	msg := EncodeAll(`{"a":1}`) + Encode("~h~7") + EncodeAll(`{"b":2}`)
	payloads, heartbeats := Decode(msg)
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, payloads)
	assert.Equal(t, []string{"~h~7"}, heartbeats)
}

func TestDecode_TruncatedFrameStopsCleanly(t *testing.T) {
	payloads, heartbeats := Decode("~m~10~m~{}")
	assert.Empty(t, payloads)
	assert.Empty(t, heartbeats)
}

func TestRoundTrip(t *testing.T) {
	in := []string{`{"m":"set_auth_token","p":["unauthorized_user_token"]}`, `{"m":"set_locale","p":["en","IN"]}`}
	encoded := EncodeAll(in...)
	out, heartbeats := Decode(encoded)
	assert.Equal(t, in, out)
	assert.Empty(t, heartbeats)
}
