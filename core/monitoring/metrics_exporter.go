package monitoring

import (
	"fmt"
	"sort"
	"strings"

	"batch-orchestrator/core/models"
)

// MetricsSource supplies the state rendered by the exporter
type MetricsSource interface {
	GetMetrics() models.BatchMetrics
	Workers() []models.Worker
}

// MetricsExporter exports batch metrics for Prometheus/Grafana
type MetricsExporter struct {
	source  MetricsSource
	monitor *JobMonitor
}

// NewMetricsExporter creates a new metrics exporter
func NewMetricsExporter(source MetricsSource, monitor *JobMonitor) *MetricsExporter {
	return &MetricsExporter{
		source:  source,
		monitor: monitor,
	}
}

func writeMetric(b *strings.Builder, name, kind, help string, value interface{}) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, kind)
	switch v := value.(type) {
	case float64:
		fmt.Fprintf(b, "%s %.4f\n", name, v)
	default:
		fmt.Fprintf(b, "%s %v\n", name, v)
	}
}

// GetPrometheusMetrics returns metrics in Prometheus text format
func (me *MetricsExporter) GetPrometheusMetrics() string {
	m := me.source.GetMetrics()
	var b strings.Builder

	writeMetric(&b, "batch_queue_length", "gauge", "Jobs waiting to be dequeued", m.QueueLength)
	writeMetric(&b, "batch_active_jobs", "gauge", "Jobs currently being processed", m.ActiveJobs)
	writeMetric(&b, "batch_throughput", "gauge", "Jobs completed in the trailing window", m.Throughput)
	writeMetric(&b, "batch_error_rate", "gauge", "Failed share of finished jobs in the trailing window", m.ErrorRate)
	writeMetric(&b, "batch_success_rate", "gauge", "Completed share of finished jobs in the trailing window", m.SuccessRate)
	writeMetric(&b, "batch_average_processing_seconds", "gauge", "Mean processing time of completed jobs", m.AverageProcessingTime.Seconds())
	writeMetric(&b, "batch_worker_utilization", "gauge", "Busy share of the worker pool", m.ResourceUtilization)
	writeMetric(&b, "batch_concurrency_ceiling", "gauge", "Maximum workers granted to a single job", m.ConcurrencyCeiling)

	degraded := 0
	if m.DegradedMode {
		degraded = 1
	}
	writeMetric(&b, "batch_degraded_mode", "gauge", "1 while conservative scheduling is in force", degraded)

	if me.monitor != nil {
		totals := me.monitor.Totals()
		statuses := make([]string, 0, len(totals))
		for status := range totals {
			statuses = append(statuses, string(status))
		}
		sort.Strings(statuses)

		b.WriteString("# HELP batch_jobs_total Jobs that reached a terminal status\n")
		b.WriteString("# TYPE batch_jobs_total counter\n")
		for _, status := range statuses {
			fmt.Fprintf(&b, "batch_jobs_total{status=\"%s\"} %d\n", status, totals[models.JobStatus(status)])
		}
	}

	workers := me.source.Workers()
	b.WriteString("# HELP batch_worker_efficiency Efficiency of each worker\n")
	b.WriteString("# TYPE batch_worker_efficiency gauge\n")
	for _, w := range workers {
		fmt.Fprintf(&b, "batch_worker_efficiency{worker_id=\"%d\"} %.4f\n", w.ID, w.Profile.Efficiency)
	}
	b.WriteString("# HELP batch_worker_errors_total Failed chunks per worker\n")
	b.WriteString("# TYPE batch_worker_errors_total counter\n")
	for _, w := range workers {
		fmt.Fprintf(&b, "batch_worker_errors_total{worker_id=\"%d\"} %d\n", w.ID, w.Profile.ErrorCount)
	}

	return b.String()
}
