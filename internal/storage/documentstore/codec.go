package documentstore

import (
	"bufio"
	"bytes"
	"time"

	"github.com/emersion/go-message/textproto"
)

// encodeHeader flattens a header to its wire form so it can be hashed
// and stored alongside the body in a blob; parseHeader reverses it.
func encodeHeader(h textproto.Header) []byte {
	var buf bytes.Buffer
	_ = textproto.WriteHeader(&buf, h)
	return buf.Bytes()
}

func parseHeader(raw []byte) (textproto.Header, error) {
	return textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
}

func toUnixNano(t time.Time) int64   { return t.UnixNano() }
func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }
