package realtime

import "github.com/prometheus/client_golang/prometheus"

// RegisterMetrics exposes the hub's gauges and delivery counters on reg.
func (h *Hub) RegisterMetrics(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		h.deliveries,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "triphub",
			Subsystem: "realtime",
			Name:      "online_users",
			Help:      "Users with a live registered session.",
		}, func() float64 { return float64(h.presence.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "triphub",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Live transport sessions, anonymous ones included.",
		}, func() float64 { return float64(h.ConnectionCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "triphub",
			Subsystem: "realtime",
			Name:      "active_rooms",
			Help:      "Rooms with at least one joined session.",
		}, func() float64 { return float64(len(h.rooms.Counts())) }),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
