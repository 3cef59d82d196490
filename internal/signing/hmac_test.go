package signing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"lead_id":"inj_123","email":"a@b.com"}`)

	sig, ts := Sign("advsec_secret", payload)
	assert.True(t, strings.HasPrefix(sig, "v1="))
	assert.True(t, Verify("advsec_secret", payload, ts, sig))
}

func TestVerifyRejectsTampering(t *testing.T) {
	payload := []byte(`{"lead_id":"inj_123"}`)
	sig, ts := Sign("advsec_secret", payload)

	assert.False(t, Verify("advsec_other", payload, ts, sig))
	assert.False(t, Verify("advsec_secret", []byte(`{"lead_id":"inj_456"}`), ts, sig))
	assert.False(t, Verify("advsec_secret", payload, ts+1, sig))
}
