package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	LeadsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadpipe_leads_sent_total",
			Help: "Leads accepted by an advertiser",
		},
		[]string{"campaign"},
	)

	LeadsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadpipe_leads_failed_total",
			Help: "Leads rejected by an advertiser",
		},
		[]string{"campaign"},
	)

	LeadsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadpipe_leads_skipped_total",
			Help: "Leads skipped by dedup or quota at send time",
		},
		[]string{"campaign"},
	)

	RequiredRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "leadpipe_campaign_required_rate",
			Help: "Leads per hour required to drain the campaign within its window",
		},
		[]string{"campaign"},
	)
)

func Init() {
	prometheus.MustRegister(LeadsSent)
	prometheus.MustRegister(LeadsFailed)
	prometheus.MustRegister(LeadsSkipped)
	prometheus.MustRegister(RequiredRate)
}
