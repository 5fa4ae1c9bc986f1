package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AuditRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usermgmt_audit_records_total",
		Help: "Audit records written by action",
	}, []string{"action"})

	AuditFieldChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usermgmt_audit_field_changes_total",
		Help: "Field change rows written by field",
	}, []string{"field"})

	AuditWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usermgmt_audit_write_failures_total",
		Help: "Audit writes that failed and left a gap in the history",
	}, []string{"action"})

	EventPublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "usermgmt_event_publish_duration_seconds",
		Help:    "Time to run every subscriber of one published event",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	AuditQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "usermgmt_audit_query_duration_seconds",
		Help:    "Time to run one paginated audit query",
		Buckets: prometheus.DefBuckets,
	})

	UserMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usermgmt_user_mutations_total",
		Help: "Committed user mutations by kind",
	}, []string{"kind"})
)

func normalizeLabel(value string) string {
	label := strings.TrimSpace(value)
	if label == "" {
		return "unknown"
	}
	return label
}

func IncAuditRecord(action string) {
	AuditRecordsTotal.WithLabelValues(normalizeLabel(action)).Inc()
}

func AddAuditFieldChange(field string) {
	AuditFieldChangesTotal.WithLabelValues(normalizeLabel(field)).Inc()
}

func IncAuditWriteFailure(action string) {
	AuditWriteFailures.WithLabelValues(normalizeLabel(action)).Inc()
}

func ObserveEventPublish(kind string, duration time.Duration) {
	EventPublishDuration.WithLabelValues(normalizeLabel(kind)).Observe(duration.Seconds())
}

func ObserveAuditQuery(duration time.Duration) {
	AuditQueryDuration.Observe(duration.Seconds())
}

func IncUserMutation(kind string) {
	UserMutationsTotal.WithLabelValues(normalizeLabel(kind)).Inc()
}
