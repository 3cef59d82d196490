// Package delivery performs the actual call to an advertiser endpoint.
// Each advertiser speaks its own protocol behind an opaque HTTP POST; the
// engine only cares about accepted versus rejected. A rejected lead is
// never retried here; resending is an operator decision.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mkarpis/leadpipe/internal/models"
	"github.com/mkarpis/leadpipe/internal/signing"
)

type Result struct {
	Accepted    bool
	StatusCode  int
	ExternalID  string
	RawResponse string
	Error       string
	LatencyMs   int64
}

type leadPayload struct {
	LeadID    string `json:"lead_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Country   string `json:"country"`
	IP        string `json:"ip,omitempty"`
	Offer     string `json:"offer,omitempty"`
}

type Sender struct {
	client *http.Client
}

func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Deliver posts the lead to the advertiser endpoint, signed with the
// advertiser's secret. A 2xx response means accepted; anything else,
// including transport errors and timeouts, means rejected.
func (s *Sender) Deliver(ctx context.Context, lead *models.CampaignLead, adv *models.Advertiser) *Result {
	start := time.Now()

	payload, err := json.Marshal(leadPayload{
		LeadID:    lead.ID,
		Email:     lead.Email,
		FirstName: lead.FirstName,
		LastName:  lead.LastName,
		Phone:     lead.Phone,
		Country:   lead.Country,
		IP:        lead.IP,
		Offer:     lead.Offer,
	})
	if err != nil {
		return &Result{Error: fmt.Sprintf("failed to encode payload: %v", err)}
	}

	signature, timestamp := signing.Sign(adv.Secret, payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, adv.URL, bytes.NewReader(payload))
	if err != nil {
		return &Result{
			Error:     fmt.Sprintf("failed to create request: %v", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "LeadPipe/1.0")
	req.Header.Set("X-LeadPipe-ID", lead.ID)
	req.Header.Set("X-LeadPipe-Timestamp", fmt.Sprintf("%d", timestamp))
	req.Header.Set("X-LeadPipe-Signature", signature)

	resp, err := s.client.Do(req)
	if err != nil {
		return &Result{
			Error:     fmt.Sprintf("request failed: %v", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	res := &Result{
		StatusCode:  resp.StatusCode,
		RawResponse: string(body),
		LatencyMs:   time.Since(start).Milliseconds(),
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res.Accepted = true
		var ack struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(body, &ack) == nil {
			res.ExternalID = ack.ID
		}
	} else {
		res.Error = fmt.Sprintf("advertiser returned status %d", resp.StatusCode)
	}

	return res
}
