// Package quotecodec implements the proprietary framed text protocol the
// upstream quote provider speaks over a single WebSocket
// (`~m~<len>~m~<payload>` frames, `~h~` heartbeat echo) plus the session
// bring-up handshake and reconnect loop built on top of it.
package quotecodec

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	framePrefix     = "~m~"
	heartbeatPrefix = "~h~"
)

// Encode wraps payload in a single ~m~<len>~m~<payload> frame. len counts
// UTF-8 bytes, matching the upstream's own framing.
func Encode(payload string) string {
	return fmt.Sprintf("%s%d%s%s", framePrefix, len(payload), framePrefix, payload)
}

// EncodeAll concatenates one frame per payload, in order.
func EncodeAll(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString(Encode(p))
	}
	return b.String()
}

// Decode splits a WebSocket message into its constituent frame payloads, in
// frame order. Heartbeats (payloads starting with ~h~) are split out into
// heartbeats so the caller can echo them; every other frame, JSON object or
// not, is returned in payloads — interpreting and discarding malformed JSON
// is the caller's concern (see Client.handleMessage), not the framing layer's.
func Decode(msg string) (payloads []string, heartbeats []string) {
	for strings.HasPrefix(msg, framePrefix) {
		rest := msg[len(framePrefix):]
		sep := strings.Index(rest, framePrefix)
		if sep == -1 {
			break
		}
		length, err := strconv.Atoi(rest[:sep])
		if err != nil {
			break
		}
		start := sep + len(framePrefix)
		end := start + length
		if end > len(rest) {
			break
		}
		frame := rest[start:end]
		msg = rest[end:]

		if strings.HasPrefix(frame, heartbeatPrefix) {
			heartbeats = append(heartbeats, frame)
		} else {
			payloads = append(payloads, frame)
		}
	}
	return payloads, heartbeats
}
