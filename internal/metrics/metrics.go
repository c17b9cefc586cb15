// Package metrics assembles the registry served on /metrics: Go runtime and
// process collectors, the choropleth collectors from observability and a
// build info gauge.
package metrics

import (
	"net/http"
	"os"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/vulnerability-map/internal/core/observability"
)

type BuildInfo struct {
	Version   string
	Revision  string
	Branch    string
	BuildDate string
}

// BuildInfoFromEnv fills the VCS fields from BUILD_REVISION, BUILD_BRANCH and BUILD_DATE.
func BuildInfoFromEnv(version string) BuildInfo {
	if version == "" {
		version = "dev"
	}
	return BuildInfo{
		Version:   version,
		Revision:  os.Getenv("BUILD_REVISION"),
		Branch:    os.Getenv("BUILD_BRANCH"),
		BuildDate: os.Getenv("BUILD_DATE"),
	}
}

type Provider struct {
	reg *prometheus.Registry
}

func Init(build BuildInfo) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reg.MustRegister(observability.Collectors()...)

	info := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "choropleth_build_info",
			Help: "Build of the running choropleth binary (value is always 1).",
		},
		[]string{"version", "revision", "branch", "build_date", "go_version"},
	)
	reg.MustRegister(info)
	if build.Version == "" {
		build.Version = "dev"
	}
	info.WithLabelValues(build.Version, build.Revision, build.Branch, build.BuildDate, runtime.Version()).Set(1)

	return &Provider{reg: reg}
}

// Handler serves the registry. A collector failing to gather does not hide the others.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{
		Registry:          p.reg,
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
}

func (p *Provider) Register(cs ...prometheus.Collector) {
	for _, c := range cs {
		p.reg.MustRegister(c)
	}
}
