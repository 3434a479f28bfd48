package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks realtime channel health. A nil *Metrics records nothing.
type Metrics struct {
	openChannels     prometheus.Gauge
	connectSuccess   prometheus.Counter
	connectFailure   prometheus.Counter
	reconnects       prometheus.Counter
	messagesReceived prometheus.Counter
	messagesDropped  prometheus.Counter
	messagesSent     prometheus.Counter
	sendFailures     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		openChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prestador_realtime_open_channels",
			Help: "Realtime channels currently joined to a conversation.",
		}),
		connectSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prestador_realtime_connect_success_total",
			Help: "Successful realtime handshakes.",
		}),
		connectFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prestador_realtime_connect_failure_total",
			Help: "Failed realtime handshakes.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prestador_realtime_reconnects_total",
			Help: "Reconnect attempts after a dropped connection.",
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prestador_realtime_messages_received_total",
			Help: "Live messages delivered to a conversation.",
		}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prestador_realtime_messages_dropped_total",
			Help: "Inbound frames ignored as malformed or for another room.",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prestador_realtime_messages_sent_total",
			Help: "Messages emitted to the backend.",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prestador_realtime_send_failures_total",
			Help: "Emits rejected or failed.",
		}),
	}

	reg.MustRegister(
		m.openChannels,
		m.connectSuccess,
		m.connectFailure,
		m.reconnects,
		m.messagesReceived,
		m.messagesDropped,
		m.messagesSent,
		m.sendFailures,
	)
	return m
}

func (m *Metrics) channelOpened() {
	if m == nil {
		return
	}
	m.openChannels.Inc()
	m.connectSuccess.Inc()
}

func (m *Metrics) channelLost() {
	if m == nil {
		return
	}
	m.openChannels.Dec()
}

func (m *Metrics) RecordConnectFailure() {
	if m == nil {
		return
	}
	m.connectFailure.Inc()
}

func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) RecordReceived() {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
}

func (m *Metrics) RecordDropped() {
	if m == nil {
		return
	}
	m.messagesDropped.Inc()
}

func (m *Metrics) RecordSent() {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
}

func (m *Metrics) RecordSendFailure() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}
