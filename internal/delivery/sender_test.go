package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarpis/leadpipe/internal/models"
	"github.com/mkarpis/leadpipe/internal/signing"
)

func testLead() *models.CampaignLead {
	return &models.CampaignLead{
		ID:        "inj_test",
		Email:     "a@x.com",
		FirstName: "John",
		LastName:  "Doe",
		Country:   "US",
	}
}

func TestDeliverAccepted(t *testing.T) {
	var gotPayload []byte
	var gotSig string
	var gotTS int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPayload, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-LeadPipe-Signature")
		gotTS, _ = strconv.ParseInt(r.Header.Get("X-LeadPipe-Timestamp"), 10, 64)

		assert.Equal(t, "inj_test", r.Header.Get("X-LeadPipe-ID"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"ext-42"}`))
	}))
	defer srv.Close()

	adv := &models.Advertiser{ID: "adv_1", URL: srv.URL, Secret: "advsec_test", Active: true}
	res := NewSender(2*time.Second).Deliver(context.Background(), testLead(), adv)

	assert.True(t, res.Accepted)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ext-42", res.ExternalID)
	assert.Empty(t, res.Error)

	// the signature verifies against the shared secret
	assert.True(t, signing.Verify("advsec_test", gotPayload, gotTS, gotSig))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(gotPayload, &payload))
	assert.Equal(t, "a@x.com", payload["email"])
	assert.Equal(t, "US", payload["country"])
}

func TestDeliverRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"invalid phone"}`))
	}))
	defer srv.Close()

	adv := &models.Advertiser{ID: "adv_1", URL: srv.URL, Secret: "advsec_test", Active: true}
	res := NewSender(2*time.Second).Deliver(context.Background(), testLead(), adv)

	assert.False(t, res.Accepted)
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	assert.Contains(t, res.Error, "422")
	assert.Contains(t, res.RawResponse, "invalid phone")
}

func TestDeliverTransportError(t *testing.T) {
	adv := &models.Advertiser{ID: "adv_1", URL: "http://127.0.0.1:1", Secret: "advsec_test", Active: true}
	res := NewSender(500*time.Millisecond).Deliver(context.Background(), testLead(), adv)

	assert.False(t, res.Accepted)
	assert.NotEmpty(t, res.Error)
}
