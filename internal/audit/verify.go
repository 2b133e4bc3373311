package audit

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// ChainIV seeds the MAC chain for the first segment of a log.
const ChainIV = "bhasha-audit-iv-1"

// Seal computes the chained MAC for a record: HMAC-SHA256 over the
// previous MAC concatenated with the record serialized without its MAC
// field. Serialization is canonical because struct fields marshal in
// declaration order.
func Seal(secret []byte, prevMAC string, rec Record) string {
	rec.MAC = ""
	body, _ := json.Marshal(rec)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(prevMAC))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify replays a segment's MAC chain. It returns the final MAC and
// record count on success; any inserted, deleted, or edited record
// yields an error naming the failing line. A segment whose first record
// is a segment_start chains from its carried MAC, otherwise from the
// fixed IV.
func Verify(r io.Reader, secret []byte) (finalMAC string, n int, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	prev := ChainIV
	line := 0
	for sc.Scan() {
		line++
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return "", n, fmt.Errorf("audit: line %d: %w", line, err)
		}
		if line == 1 && rec.Kind == kindSegmentStart {
			if carried := rec.Fields["carried_mac"]; carried != "" {
				prev = carried
			}
		}
		want := Seal(secret, prev, rec)
		if !hmac.Equal([]byte(want), []byte(rec.MAC)) {
			return "", n, fmt.Errorf("audit: line %d: MAC mismatch", line)
		}
		prev = rec.MAC
		n++
	}
	if err := sc.Err(); err != nil {
		return "", n, err
	}
	return prev, n, nil
}
