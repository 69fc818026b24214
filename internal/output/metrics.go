package output

import "github.com/prometheus/client_golang/prometheus"

var (
	underrunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "waveplayer",
		Subsystem: "output",
		Name:      "underruns_total",
		Help:      "Number of times the output feeder found an empty chunk queue while decoding was still in progress.",
	})

	peakLevel = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "waveplayer",
		Subsystem: "output",
		Name:      "peak_level",
		Help:      "Most recently reported i16-scaled peak magnitude per channel.",
	}, []string{"channel"})
)

func init() {
	prometheus.MustRegister(underrunsTotal, peakLevel)
}
