package render

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/provisio/provisio/pkg/config"
)

// Compose service names.
const (
	ServiceDB         = "db"
	ServiceApp        = "app"
	ServiceProxy      = "proxy"
	ServicePrometheus = "prometheus"
	ServiceGrafana    = "grafana"
)

// Services lists the compose services in start order.
var Services = []string{ServiceDB, ServiceApp, ServiceProxy, ServicePrometheus, ServiceGrafana}

// Pinned third-party images.
const (
	ImagePostgres   = "postgres:16-alpine"
	ImageNginx      = "nginx:1.27-alpine"
	ImagePrometheus = "prom/prometheus:v2.54.1"
	ImageGrafana    = "grafana/grafana:11.2.0"
)

// Named volumes.
const (
	VolumeDB         = "db-data"
	VolumePrometheus = "prometheus-data"
	VolumeGrafana    = "grafana-data"
)

// Container labels carrying the hashes probes compare against.
const (
	LabelDefinitionHash = "io.provisio.definition-hash"
	LabelBuildHash      = "io.provisio.build-hash"
)

type composeFile struct {
	Name     string                    `yaml:"name"`
	Services map[string]composeService `yaml:"services"`
	Volumes  map[string]struct{}       `yaml:"volumes"`
}

type composeService struct {
	Image         string            `yaml:"image"`
	PullPolicy    string            `yaml:"pull_policy,omitempty"`
	ContainerName string            `yaml:"container_name"`
	Command       []string          `yaml:"command,omitempty,flow"`
	Restart       string            `yaml:"restart"`
	EnvFile       []string          `yaml:"env_file,omitempty"`
	DependsOn     []string          `yaml:"depends_on,omitempty"`
	Ports         []string          `yaml:"ports,omitempty"`
	Volumes       []string          `yaml:"volumes,omitempty"`
	Labels        map[string]string `yaml:"labels,omitempty"`
}

// ContainerName returns the container name of a compose service.
func ContainerName(project, service string) string {
	return project + "-" + service
}

// Compose renders the multi-service topology and returns the definition
// hash of every service. A service's hash covers its own definition only,
// so editing one service never changes another's hash, and secrets live in
// the env file rather than in any definition.
func Compose(m config.Manifest) ([]byte, map[string]string, error) {
	services := composeServices(m)

	hashes := make(map[string]string, len(services))
	for name, svc := range services {
		def, err := marshalYAML(svc)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to hash service %s: %w", name, err)
		}
		hashes[name] = Hash(def)
		svc.Labels = map[string]string{LabelDefinitionHash: hashes[name]}
		services[name] = svc
	}

	content, err := marshalYAML(composeFile{
		Name:     m.Project,
		Services: services,
		Volumes: map[string]struct{}{
			VolumeDB:         {},
			VolumePrometheus: {},
			VolumeGrafana:    {},
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to render compose file: %w", err)
	}
	return append([]byte("# Generated by provisio. Changes are overwritten on the next apply.\n"), content...), hashes, nil
}

func composeServices(m config.Manifest) map[string]composeService {
	ports := func(service string) []string {
		var out []string
		for _, p := range m.Context.ExposedPorts {
			if config.PublishablePorts[p] == service {
				out = append(out, fmt.Sprintf("%d:%d", p, p))
			}
		}
		return out
	}
	base := func(service, image string) composeService {
		return composeService{
			Image:         image,
			ContainerName: ContainerName(m.Project, service),
			Restart:       "unless-stopped",
			Ports:         ports(service),
		}
	}

	db := base(ServiceDB, ImagePostgres)
	db.EnvFile = []string{StackEnvPath}
	db.Volumes = []string{VolumeDB + ":/var/lib/postgresql/data"}

	app := base(ServiceApp, m.App.Image)
	app.PullPolicy = "never"
	app.Command = m.App.Command
	app.EnvFile = []string{StackEnvPath}
	app.DependsOn = []string{ServiceDB}

	proxy := base(ServiceProxy, ImageNginx)
	proxy.DependsOn = []string{ServiceApp}
	proxy.Volumes = []string{
		"./" + NginxSitePath + ":/etc/nginx/conf.d/default.conf:ro",
		"./" + CertDir + ":/etc/nginx/certs:ro",
	}

	prom := base(ServicePrometheus, ImagePrometheus)
	prom.DependsOn = []string{ServiceApp}
	prom.Volumes = []string{
		"./" + PrometheusPath + ":/etc/prometheus/prometheus.yml:ro",
		VolumePrometheus + ":/prometheus",
	}

	grafana := base(ServiceGrafana, ImageGrafana)
	grafana.DependsOn = []string{ServicePrometheus}
	grafana.Volumes = []string{VolumeGrafana + ":/var/lib/grafana"}

	return map[string]composeService{
		ServiceDB:         db,
		ServiceApp:        app,
		ServiceProxy:      proxy,
		ServicePrometheus: prom,
		ServiceGrafana:    grafana,
	}
}

// marshalYAML encodes with two-space indentation. yaml.v3 sorts map keys and
// keeps struct field order, so output is stable.
func marshalYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
