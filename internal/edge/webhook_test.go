package edge

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	bhasha "github.com/nafisf/bhasha/internal"
	"github.com/nafisf/bhasha/internal/testutil"
)

const testWebhookSecret = "whsec_test_secret"

// signPayload builds a Stripe-Signature header the verifier accepts.
func signPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func checkoutEvent(eventID, sessionID string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"api_version": "`+stripe.APIVersion+`",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": %q,
				"metadata": {"plan": "pro"},
				"customer_details": {"email": "buyer@example.com"}
			}
		}
	}`, eventID, sessionID)
}

func postWebhook(t *testing.T, h http.Handler, payload, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set("Stripe-Signature", sig)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestWebhookMintsKeyAndParksSession(t *testing.T) {
	t.Parallel()
	keys := testutil.NewFakeKeyStore()
	h := newTestEdge(t, okOrigin(), func(d *Deps) {
		d.Keys = keys
		d.WebhookSecret = testWebhookSecret
	})

	payload := checkoutEvent("evt_1", "cs_test_1")
	w := postWebhook(t, h, payload, signPayload([]byte(payload), testWebhookSecret, time.Now()))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if data := decodeEnvelope(t, w).Data.(map[string]any); data["minted"] != true {
		t.Errorf("data = %v", data)
	}

	// The minted key is parked under the session and enabled.
	key, found, err := keys.TakeSession(t.Context(), "cs_test_1")
	if err != nil || !found {
		t.Fatalf("session not parked: found=%v err=%v", found, err)
	}
	if !strings.HasPrefix(key, "bsk_test_") {
		t.Errorf("minted key = %q, want bsk_test_ prefix", key)
	}
	if len(key) < len("bsk_test_")+64 {
		t.Errorf("minted key too short: %d chars", len(key))
	}
	enabled, err := keys.KeyEnabled(t.Context(), key)
	if err != nil || !enabled {
		t.Errorf("minted key not enabled: %v %v", enabled, err)
	}
}

func TestWebhookBadSignature(t *testing.T) {
	t.Parallel()
	h := newTestEdge(t, okOrigin(), func(d *Deps) {
		d.WebhookSecret = testWebhookSecret
	})

	payload := checkoutEvent("evt_2", "cs_test_2")
	w := postWebhook(t, h, payload, signPayload([]byte(payload), "whsec_wrong", time.Now()))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if env := decodeEnvelope(t, w); env.Error != bhasha.CodeBadSignature {
		t.Errorf("error = %q", env.Error)
	}
}

func TestWebhookStaleTimestampRejected(t *testing.T) {
	t.Parallel()
	h := newTestEdge(t, okOrigin(), func(d *Deps) {
		d.WebhookSecret = testWebhookSecret
	})

	payload := checkoutEvent("evt_3", "cs_test_3")
	stale := time.Now().Add(-10 * time.Minute)
	w := postWebhook(t, h, payload, signPayload([]byte(payload), testWebhookSecret, stale))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestWebhookReplayIsNoOp(t *testing.T) {
	t.Parallel()
	keys := testutil.NewFakeKeyStore()
	h := newTestEdge(t, okOrigin(), func(d *Deps) {
		d.Keys = keys
		d.WebhookSecret = testWebhookSecret
	})

	payload := checkoutEvent("evt_4", "cs_test_4")
	sig := signPayload([]byte(payload), testWebhookSecret, time.Now())

	if w := postWebhook(t, h, payload, sig); w.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d", w.Code)
	}
	w := postWebhook(t, h, payload, sig)
	if w.Code != http.StatusOK {
		t.Fatalf("replay status = %d, want 200", w.Code)
	}
	if data := decodeEnvelope(t, w).Data.(map[string]any); data["duplicate"] != true {
		t.Errorf("replay data = %v", data)
	}

	// The replay must not overwrite the original handoff.
	key, found, _ := keys.TakeSession(t.Context(), "cs_test_4")
	if !found || key == "" {
		t.Error("original handoff lost after replay")
	}
}

func TestWebhookIgnoresOtherEventTypes(t *testing.T) {
	t.Parallel()
	keys := testutil.NewFakeKeyStore()
	h := newTestEdge(t, okOrigin(), func(d *Deps) {
		d.Keys = keys
		d.WebhookSecret = testWebhookSecret
	})

	payload := `{"id":"evt_5","api_version":"` + stripe.APIVersion + `","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`
	w := postWebhook(t, h, payload, signPayload([]byte(payload), testWebhookSecret, time.Now()))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if data := decodeEnvelope(t, w).Data.(map[string]any); data["ignored"] != true {
		t.Errorf("data = %v", data)
	}
}
