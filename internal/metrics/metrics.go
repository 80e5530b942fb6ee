package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "origin",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "origin",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "origin",
		Name:      "active_streams",
		Help:      "Number of streams currently being transcoded.",
	})

	TranscoderStartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "origin",
		Name:      "transcoder_starts_total",
		Help:      "Total number of transcoder processes started.",
	})

	TranscoderFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "origin",
		Name:      "transcoder_failures_total",
		Help:      "Total number of transcoder processes that exited unexpectedly.",
	})

	CleanupDeletedFiles = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "origin",
		Name:      "cleanup_deleted_files_total",
		Help:      "Total number of playlist and segment files removed by cleanup.",
	})

	CleanupErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "origin",
		Name:      "cleanup_errors_total",
		Help:      "Total number of cleanup failures.",
	})

	RoomsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "origin",
		Name:      "rooms_open",
		Help:      "Number of currently open rooms.",
	})

	ParticipantsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "origin",
		Name:      "participants_connected",
		Help:      "Total number of participants connected across all rooms.",
	})

	WSDroppedClientsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "origin",
		Name:      "ws_dropped_clients_total",
		Help:      "Total number of room participants dropped for falling behind.",
	})

	ChatMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "origin",
		Name:      "chat_messages_total",
		Help:      "Total number of chat messages broadcast.",
	})

	PollVotesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "origin",
		Name:      "poll_votes_total",
		Help:      "Total number of poll votes accepted.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveStreams,
		TranscoderStartsTotal,
		TranscoderFailuresTotal,
		CleanupDeletedFiles,
		CleanupErrorsTotal,
		RoomsOpen,
		ParticipantsConnected,
		WSDroppedClientsTotal,
		ChatMessagesTotal,
		PollVotesTotal,
	)
}
