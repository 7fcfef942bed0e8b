package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ternarybob/netctl/internal/models"
)

func TestDeliverSignsBodyWithSubscriptionSecret(t *testing.T) {
	secret := "shh"
	var gotSignature, gotBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(signatureHeader)
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := New()
	sub := models.EventSubscription{ID: "sub-1", Target: srv.URL, Secret: &secret, Enabled: true}
	event := models.Event{ID: "evt-1", Type: models.EventJobSuccess, Timestamp: time.Now().UTC(), CustomerID: "cust-1"}

	require.NoError(t, a.Deliver(context.Background(), sub, event))

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gotBody))
	want := hex.EncodeToString(mac.Sum(nil))
	require.Equal(t, want, gotSignature)
}

func TestDeliverReturnsErrorOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := New()
	sub := models.EventSubscription{ID: "sub-2", Target: srv.URL, Enabled: true}
	event := models.Event{ID: "evt-2", Type: models.EventJobFailed, Timestamp: time.Now().UTC(), CustomerID: "cust-1"}

	err := a.Deliver(context.Background(), sub, event)
	require.Error(t, err)
}
