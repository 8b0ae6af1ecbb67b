package render

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/provisio/provisio/pkg/config"
)

// Artifact names double as file resource names.
const (
	ArtifactDockerfile = "dockerfile"
	ArtifactNginxSite  = "nginx-site"
	ArtifactPrometheus = "prometheus-config"
	ArtifactCompose    = "compose"
	ArtifactStackEnv   = "stack-env"
)

// Paths relative to the manifest root. The compose file mounts the nginx,
// prometheus and certificate paths relative to its own directory.
const (
	DockerfilePath = "Dockerfile"
	NginxSitePath  = "nginx/default.conf"
	PrometheusPath = "prometheus/prometheus.yml"
	ComposePath    = "docker-compose.yml"
	StackEnvPath   = "stack.env"
	CertDir        = "certs"
	CertFile       = "server.crt"
	KeyFile        = "server.key"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"json": toJSON,
}).ParseFS(templateFS, "templates/*.tmpl"))

// Artifact is one rendered file.
type Artifact struct {
	// Name identifies the artifact (see the Artifact* constants).
	Name string

	// Path is relative to the manifest root.
	Path string

	// Mode is the file mode the artifact is written with.
	Mode fs.FileMode

	// Content is the rendered bytes.
	Content []byte
}

// Hash returns the hex SHA-256 of the content.
func (a Artifact) Hash() string {
	return Hash(a.Content)
}

// Bundle is the full set of artifacts for one manifest.
type Bundle struct {
	// Artifacts in a fixed order.
	Artifacts []Artifact

	// ServiceHashes maps compose service names to their definition hash.
	ServiceHashes map[string]string
}

// Artifact looks up an artifact by name.
func (b *Bundle) Artifact(name string) (Artifact, bool) {
	for _, a := range b.Artifacts {
		if a.Name == name {
			return a, true
		}
	}
	return Artifact{}, false
}

// WriteTo writes every artifact below dir, creating directories as needed.
func (b *Bundle) WriteTo(dir string) error {
	for _, a := range b.Artifacts {
		path := filepath.Join(dir, filepath.FromSlash(a.Path))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", a.Name, err)
		}
		if err := os.WriteFile(path, a.Content, a.Mode); err != nil {
			return fmt.Errorf("failed to write %s: %w", a.Name, err)
		}
	}
	return nil
}

// Render renders every artifact for a defaulted, validated manifest. The
// same manifest always yields byte-identical output.
func Render(m config.Manifest) (*Bundle, error) {
	dockerfile, err := Dockerfile(m.App)
	if err != nil {
		return nil, err
	}
	nginx, err := NginxSite(m)
	if err != nil {
		return nil, err
	}
	prom, err := PrometheusConfig(m.App)
	if err != nil {
		return nil, err
	}
	compose, hashes, err := Compose(m)
	if err != nil {
		return nil, err
	}

	return &Bundle{
		Artifacts: []Artifact{
			{Name: ArtifactDockerfile, Path: DockerfilePath, Mode: 0o644, Content: dockerfile},
			{Name: ArtifactNginxSite, Path: NginxSitePath, Mode: 0o644, Content: nginx},
			{Name: ArtifactPrometheus, Path: PrometheusPath, Mode: 0o644, Content: prom},
			{Name: ArtifactCompose, Path: ComposePath, Mode: 0o644, Content: compose},
			{Name: ArtifactStackEnv, Path: StackEnvPath, Mode: 0o600, Content: StackEnv(m)},
		},
		ServiceHashes: hashes,
	}, nil
}

// Dockerfile renders the application build descriptor.
func Dockerfile(app config.App) ([]byte, error) {
	return execute("Dockerfile.tmpl", app)
}

// NginxSite renders the reverse-proxy site: a plain HTTP server redirecting
// to HTTPS and a TLS server proxying to the application.
func NginxSite(m config.Manifest) ([]byte, error) {
	return execute("nginx.conf.tmpl", struct {
		ServerIP string
		CertPath string
		KeyPath  string
		Upstream string
	}{
		ServerIP: m.Context.ServerIP,
		CertPath: "/etc/nginx/certs/" + CertFile,
		KeyPath:  "/etc/nginx/certs/" + KeyFile,
		Upstream: fmt.Sprintf("%s:%d", ServiceApp, m.App.Port),
	})
}

func execute(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func toJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Hash returns the hex SHA-256 of content.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
