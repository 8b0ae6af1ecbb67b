package render

import (
	"fmt"

	"github.com/provisio/provisio/pkg/config"
)

type prometheusConfig struct {
	Global        prometheusGlobal `yaml:"global"`
	ScrapeConfigs []scrapeConfig   `yaml:"scrape_configs"`
}

type prometheusGlobal struct {
	ScrapeInterval     string `yaml:"scrape_interval"`
	EvaluationInterval string `yaml:"evaluation_interval"`
}

type scrapeConfig struct {
	JobName       string         `yaml:"job_name"`
	StaticConfigs []staticConfig `yaml:"static_configs"`
}

type staticConfig struct {
	Targets []string `yaml:"targets,flow"`
}

// PrometheusConfig renders the scrape configuration: prometheus itself and
// the application, both as static targets.
func PrometheusConfig(app config.App) ([]byte, error) {
	cfg := prometheusConfig{
		Global: prometheusGlobal{ScrapeInterval: "15s", EvaluationInterval: "15s"},
		ScrapeConfigs: []scrapeConfig{
			{JobName: "prometheus", StaticConfigs: []staticConfig{{Targets: []string{"localhost:9090"}}}},
			{JobName: ServiceApp, StaticConfigs: []staticConfig{{Targets: []string{fmt.Sprintf("%s:%d", ServiceApp, app.Port)}}}},
		},
	}
	content, err := marshalYAML(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to render prometheus config: %w", err)
	}
	return append([]byte("# Generated by provisio. Changes are overwritten on the next apply.\n"), content...), nil
}
