package render

import (
	"bytes"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/provisio/provisio/pkg/config"
)

func testManifest() config.Manifest {
	return config.Manifest{
		Project: "shop",
		Context: config.Context{ServerIP: "10.0.0.5", DBPassword: "s3cret"},
	}.WithDefaults()
}

func TestRender_Deterministic(t *testing.T) {
	first, err := Render(testManifest())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := Render(testManifest())
		require.NoError(t, err)
		require.Len(t, again.Artifacts, len(first.Artifacts))
		for j, a := range again.Artifacts {
			assert.True(t, bytes.Equal(first.Artifacts[j].Content, a.Content), "artifact %s differs between renders", a.Name)
		}
		assert.Equal(t, first.ServiceHashes, again.ServiceHashes)
	}
}

func TestRender_ArtifactOrder(t *testing.T) {
	b, err := Render(testManifest())
	require.NoError(t, err)

	var names []string
	for _, a := range b.Artifacts {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{ArtifactDockerfile, ArtifactNginxSite, ArtifactPrometheus, ArtifactCompose, ArtifactStackEnv}, names)

	env, ok := b.Artifact(ArtifactStackEnv)
	require.True(t, ok)
	assert.Equal(t, os.FileMode(0o600), env.Mode)
}

func TestDockerfile(t *testing.T) {
	m := testManifest()
	m.App.Command = []string{"gunicorn", "-b", "0.0.0.0:8000", "app:app"}

	got, err := Dockerfile(m.App)
	require.NoError(t, err)
	assert.Contains(t, string(got), "FROM python:3.12-slim\n")
	assert.Contains(t, string(got), "EXPOSE 8000\n")
	assert.Contains(t, string(got), `CMD ["gunicorn","-b","0.0.0.0:8000","app:app"]`)
}

func TestNginxSite(t *testing.T) {
	got, err := NginxSite(testManifest())
	require.NoError(t, err)

	text := string(got)
	assert.Equal(t, 2, strings.Count(text, "server_name 10.0.0.5;"))
	assert.Contains(t, text, "return 301 https://$host$request_uri;")
	assert.Contains(t, text, "listen 443 ssl;")
	assert.Contains(t, text, "proxy_pass http://app:8000;")
	assert.Contains(t, text, "ssl_certificate     /etc/nginx/certs/server.crt;")
}

func TestPrometheusConfig(t *testing.T) {
	m := testManifest()
	m.App.Port = 9000

	got, err := PrometheusConfig(m.App)
	require.NoError(t, err)

	var parsed prometheusConfig
	require.NoError(t, yaml.Unmarshal(got, &parsed))
	require.Len(t, parsed.ScrapeConfigs, 2)
	assert.Equal(t, []string{"localhost:9090"}, parsed.ScrapeConfigs[0].StaticConfigs[0].Targets)
	assert.Equal(t, []string{"app:9000"}, parsed.ScrapeConfigs[1].StaticConfigs[0].Targets)
}

func TestCompose_Topology(t *testing.T) {
	m := testManifest()
	m.Context.ExposedPorts = []int{80, 443, 3000}

	content, hashes, err := Compose(m)
	require.NoError(t, err)

	var parsed composeFile
	require.NoError(t, yaml.Unmarshal(content, &parsed))

	assert.Equal(t, "shop", parsed.Name)
	assert.ElementsMatch(t, Services, keys(parsed.Services))
	assert.ElementsMatch(t, []string{VolumeDB, VolumePrometheus, VolumeGrafana}, keys(parsed.Volumes))

	assert.Equal(t, []string{ServiceDB}, parsed.Services[ServiceApp].DependsOn)
	assert.Equal(t, []string{ServiceApp}, parsed.Services[ServiceProxy].DependsOn)
	assert.Equal(t, []string{ServiceApp}, parsed.Services[ServicePrometheus].DependsOn)
	assert.Equal(t, []string{ServicePrometheus}, parsed.Services[ServiceGrafana].DependsOn)

	assert.Equal(t, []string{"80:80", "443:443"}, parsed.Services[ServiceProxy].Ports)
	assert.Equal(t, []string{"3000:3000"}, parsed.Services[ServiceGrafana].Ports)
	assert.Empty(t, parsed.Services[ServiceDB].Ports)
	assert.Empty(t, parsed.Services[ServicePrometheus].Ports)

	assert.Equal(t, "shop-app", parsed.Services[ServiceApp].ContainerName)
	assert.Equal(t, "shop/app:latest", parsed.Services[ServiceApp].Image)
	for name, svc := range parsed.Services {
		assert.Equal(t, hashes[name], svc.Labels[LabelDefinitionHash], "label of %s", name)
	}
}

func TestCompose_HashesIsolateChanges(t *testing.T) {
	_, before, err := Compose(testManifest())
	require.NoError(t, err)

	m := testManifest()
	m.Context.DBPassword = "rotated"
	_, afterPassword, err := Compose(m)
	require.NoError(t, err)
	assert.Equal(t, before, afterPassword, "password must not affect service definitions")

	m = testManifest()
	m.Context.ExposedPorts = []int{80, 443, 5432}
	_, afterPorts, err := Compose(m)
	require.NoError(t, err)
	for _, svc := range Services {
		if svc == ServiceDB {
			assert.NotEqual(t, before[svc], afterPorts[svc])
			continue
		}
		assert.Equal(t, before[svc], afterPorts[svc], "hash of %s", svc)
	}
}

func TestStackEnv_OnlyArtifactWithPassword(t *testing.T) {
	m := testManifest()
	m.Context.DBPassword = "pa55word-unique"

	b, err := Render(m)
	require.NoError(t, err)
	for _, a := range b.Artifacts {
		has := strings.Contains(string(a.Content), m.Context.DBPassword)
		assert.Equal(t, a.Name == ArtifactStackEnv, has, "password presence in %s", a.Name)
	}
}

func TestStackEnv_SortedKeys(t *testing.T) {
	got := string(StackEnv(testManifest()))
	want := "# Generated by provisio. Changes are overwritten on the next apply.\n" +
		"APP_PORT='8000'\n" +
		"DATABASE_URL='postgres://provisio:s3cret@db:5432/provisio?sslmode=disable'\n" +
		"POSTGRES_DB='provisio'\n" +
		"POSTGRES_PASSWORD='s3cret'\n" +
		"POSTGRES_USER='provisio'\n"
	assert.Equal(t, want, got)
}

// envValues reads an env file the way compose reads single-quoted values:
// everything between the quotes, verbatim.
func envValues(t *testing.T, content []byte) map[string]string {
	t.Helper()
	vals := make(map[string]string)
	for _, line := range strings.Split(strings.TrimSpace(string(content)), "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		key, raw, ok := strings.Cut(line, "=")
		require.True(t, ok, line)
		require.True(t, len(raw) >= 2 && raw[0] == '\'' && raw[len(raw)-1] == '\'', "unquoted value in %q", line)
		vals[key] = raw[1 : len(raw)-1]
	}
	return vals
}

func TestStackEnv_PasswordReachesDBAndAppIdentically(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{name: "double quotes", password: `"pw"`},
		{name: "comment marker", password: "a #b"},
		{name: "variable reference", password: "pa$HOME"},
		{name: "braced variable", password: "x${USER}y"},
		{name: "url delimiters", password: "p@ss/w:rd?&="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testManifest()
			m.Context.DBPassword = tt.password

			vals := envValues(t, StackEnv(m))
			assert.Equal(t, tt.password, vals["POSTGRES_PASSWORD"])

			u, err := url.Parse(vals["DATABASE_URL"])
			require.NoError(t, err)
			got, ok := u.User.Password()
			require.True(t, ok)
			assert.Equal(t, tt.password, got)
		})
	}
}

func TestDatabaseURL_EscapesPassword(t *testing.T) {
	assert.Equal(t, "postgres://provisio:p%40ss%2Fw%3Ard@db:5432/provisio?sslmode=disable", DatabaseURL("p@ss/w:rd"))
}

func TestBundle_WriteTo(t *testing.T) {
	b, err := Render(testManifest())
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, b.WriteTo(dir))

	for _, a := range b.Artifacts {
		data, err := os.ReadFile(filepath.Join(dir, a.Path))
		require.NoError(t, err)
		assert.Equal(t, a.Hash(), Hash(data))
	}
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
