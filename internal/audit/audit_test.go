package audit

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var testSecret = []byte("test-audit-secret")

func segmentFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "audit-*.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func TestAppendAndVerify(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, err := NewWriter(dir, testSecret)
	if err != nil {
		t.Fatal(err)
	}

	w.Append(KindAuthFail, map[string]string{"ip": "203.0.113.9", "route": "/translate/pro"})
	w.Append(KindRateLimited, map[string]string{"ip": "203.0.113.9"})
	w.Append(KindKeyMinted, map[string]string{"event_id": "evt_1"})
	last := w.LastMAC()
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	files := segmentFiles(t, dir)
	if len(files) != 1 {
		t.Fatalf("segments = %d, want 1", len(files))
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}

	final, n, err := Verify(bytes.NewReader(data), testSecret)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if n != 3 {
		t.Errorf("records = %d, want 3", n)
	}
	if final != last {
		t.Errorf("final MAC %q != writer's last MAC %q", final, last)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, err := NewWriter(dir, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	w.Append(KindAuthFail, map[string]string{"ip": "198.51.100.1"})
	w.Append(KindAdminAction, map[string]string{"op": "add"})
	w.Append(KindKeyRevoked, nil)
	w.Close()

	data, err := os.ReadFile(segmentFiles(t, dir)[0])
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")

	// Edited record.
	edited := append([]string(nil), lines...)
	edited[1] = strings.Replace(edited[1], "add", "del", 1)
	if _, _, err := Verify(strings.NewReader(strings.Join(edited, "\n")), testSecret); err == nil {
		t.Error("edited record passed verification")
	}

	// Deleted record.
	deleted := []string{lines[0], lines[2]}
	if _, _, err := Verify(strings.NewReader(strings.Join(deleted, "\n")), testSecret); err == nil {
		t.Error("deleted record passed verification")
	}

	// Inserted record: a forged line without the secret cannot seal.
	var forged Record
	if err := json.Unmarshal([]byte(lines[0]), &forged); err != nil {
		t.Fatal(err)
	}
	forged.Fields = map[string]string{"ip": "10.0.0.1"}
	fline, _ := json.Marshal(forged)
	inserted := []string{lines[0], string(fline), lines[1], lines[2]}
	if _, _, err := Verify(strings.NewReader(strings.Join(inserted, "\n")), testSecret); err == nil {
		t.Error("inserted record passed verification")
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, err := NewWriter(dir, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	w.Append(KindBadRequest, nil)
	w.Close()

	data, _ := os.ReadFile(segmentFiles(t, dir)[0])
	if _, _, err := Verify(bytes.NewReader(data), []byte("other-secret")); err == nil {
		t.Error("verification passed with the wrong secret")
	}
}

func TestRotationCarriesChain(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, err := NewWriter(dir, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	w.maxSize = 1 // force rotation on every append

	w.Append(KindFallbackCall, map[string]string{"n": "1"})
	w.Append(KindFallbackFail, map[string]string{"n": "2"})
	w.Close()

	files := segmentFiles(t, dir)
	if len(files) < 2 {
		t.Fatalf("segments = %d, want >= 2", len(files))
	}

	// Every rotated segment must verify independently.
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			t.Fatal(err)
		}
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		if _, _, err := Verify(bytes.NewReader(data), testSecret); err != nil {
			t.Errorf("segment %s: %v", filepath.Base(f), err)
		}
	}
}
