package quota

import "github.com/prometheus/client_golang/prometheus"

var (
	consumedTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_consumed_tokens_total",
			Help: "Total number of tokens debited by quota limiters",
		},
		[]string{"limiter"},
	)

	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_rejections_total",
			Help: "Total number of admission checks rejected for lack of quota",
		},
		[]string{"limiter", "subject"},
	)

	replenishedRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_replenished_rows_total",
			Help: "Total number of quota rows increased or reset by the scheduler",
		},
		[]string{"limiter", "action"},
	)

	schedulerFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_scheduler_failures_total",
			Help: "Total number of failed replenishment passes per limiter",
		},
		[]string{"limiter"},
	)
)

func init() {
	prometheus.MustRegister(
		consumedTokensTotal,
		rejectionsTotal,
		replenishedRowsTotal,
		schedulerFailuresTotal,
	)
}
