package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/driftsync/sync-acceptor/types"
)

const (
	MetricsNamespace = "sync_acceptor"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	lanesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "lanes_total",
		Help:      "Count of executed lanes by tier and status",
	}, []string{
		"run_id",
		"tier",
		"status",
	})

	laneRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "lane_retries_total",
		Help:      "Count of retry executions consumed beyond the first attempt",
	}, []string{
		"run_id",
		"tier",
	})

	tokenAcquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "token_acquisitions_total",
		Help:      "Count of token broker exchanges by slot and result",
	}, []string{
		"slot",
		"result",
	})

	publishFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "publish_failures_total",
		Help:      "Count of coverage publish failures (observational, never gating)",
	}, []string{
		"tier",
	})

	pipelineResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "pipeline_results",
		Help:      "Result of pipeline runs",
	}, []string{
		"run_id",
		"result",
	})

	pipelineDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "pipeline_duration_seconds",
		Help:      "Duration of pipeline runs",
	}, []string{
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordLane(runID string, tier types.Tier, status types.LaneStatus, retries int) {
	if Debug {
		log.Debug("metric inc",
			"m", "lanes_total",
			"run_id", runID,
			"tier", tier,
			"status", status,
			"retries", retries)
	}
	lanesTotal.WithLabelValues(runID, string(tier), string(status)).Inc()
	if retries > 0 {
		laneRetriesTotal.WithLabelValues(runID, string(tier)).Add(float64(retries))
	}
}

// RecordTokenAcquisition records the outcome of one broker exchange.
// Only the slot name is used as a label; slot names identify accounts,
// never secret material.
func RecordTokenAcquisition(slot string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	tokenAcquisitionsTotal.WithLabelValues(slot, result).Inc()
}

func RecordPublishFailure(tier types.Tier) {
	publishFailuresTotal.WithLabelValues(string(tier)).Inc()
}

func RecordPipeline(runID string, result types.LaneStatus, duration time.Duration) {
	pipelineResults.WithLabelValues(runID, string(result)).Set(1)
	pipelineDuration.WithLabelValues(runID).Set(duration.Seconds())
}
