// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsReceived counts events accepted by the ingest front-end,
	// labelled by whether they were first sightings or duplicates.
	EventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notepush_events_received_total",
		Help: "Events received, by outcome.",
	}, []string{"outcome"})

	// NotificationsSent counts successful pushes.
	NotificationsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notepush_notifications_sent_total",
		Help: "Notifications delivered to the push service.",
	})

	// DevicesPurged counts device tokens removed after the push
	// service reported them dead.
	DevicesPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notepush_devices_purged_total",
		Help: "Device tokens purged after permanent rejection.",
	})

	// TransientSendFailures counts sends that failed with a retryable
	// error and were dropped.
	TransientSendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notepush_transient_send_failures_total",
		Help: "Sends dropped after a transient failure.",
	})

	// ListCacheLookups counts mute and contact list cache activity,
	// labelled by list kind and by result: "lookup" for every cache
	// read, "fetch" for every upstream relay query.
	ListCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notepush_list_cache_lookups_total",
		Help: "List cache lookups, by list kind and result.",
	}, []string{"list", "result"})
)

func init() {
	prometheus.MustRegister(
		EventsReceived,
		NotificationsSent,
		DevicesPurged,
		TransientSendFailures,
		ListCacheLookups,
	)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
