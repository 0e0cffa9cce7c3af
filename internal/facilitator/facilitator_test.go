package facilitator

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/autopay-labs/x402-agent/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyCallback_EmptySecretAlwaysFails(t *testing.T) {
	c := New("", nil, logging.NewDefault("test"))
	assert.False(t, c.VerifyCallback("anything", []byte("body")))
}

func TestVerifyCallback_ValidAndInvalidSignatures(t *testing.T) {
	secret := "shared-secret"
	c := New(secret, nil, logging.NewDefault("test"))
	body := []byte(`{"txHash":"abc"}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	valid := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, c.VerifyCallback(valid, body))
	assert.False(t, c.VerifyCallback("00"+valid[2:], body))
	assert.False(t, c.VerifyCallback("not-hex", body))
}

func TestSubmit_PostsJSONPayload(t *testing.T) {
	received := make(chan SubmissionPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p SubmissionPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		received <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New("", nil, logging.NewDefault("test"))
	c.Submit(context.Background(), srv.URL, SubmissionPayload{PaymentID: "p1", TxHash: "tx1"})

	select {
	case p := <-received:
		assert.Equal(t, "p1", p.PaymentID)
		assert.Equal(t, "tx1", p.TxHash)
	default:
		t.Fatal("facilitator did not receive submission")
	}
}
