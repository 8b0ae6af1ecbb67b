package stack

import (
	"fmt"
	"path"
	"slices"
	"strconv"

	"github.com/provisio/provisio/pkg/config"
	"github.com/provisio/provisio/pkg/engine"
	"github.com/provisio/provisio/pkg/render"
)

// CertName is the name of the proxy's TLS certificate resource.
const CertName = "proxy"

// ImageName is the name of the application image resource.
const ImageName = "app"

// CertValidityDays is the lifetime of the self-signed proxy certificate.
const CertValidityDays = 365

// Build turns a defaulted, validated manifest into the desired resource set.
// Rendering is deterministic, so the same manifest always yields identical
// resources and signals.
func Build(m config.Manifest) ([]engine.Resource, error) {
	bundle, err := render.Render(m)
	if err != nil {
		return nil, engine.NewValidationError("failed to render artifacts", err)
	}

	b := &builder{manifest: m, bundle: bundle}
	b.packages()
	b.cert()
	b.files()
	if err := b.image(); err != nil {
		return nil, err
	}
	b.services()
	return b.resources, nil
}

type builder struct {
	manifest  config.Manifest
	bundle    *render.Bundle
	resources []engine.Resource
}

func (b *builder) root(rel string) string {
	return path.Join(b.manifest.Root, rel)
}

func (b *builder) packages() {
	for _, p := range b.manifest.Packages {
		b.resources = append(b.resources, engine.Resource{
			Kind:       engine.KindPackage,
			Name:       p.Name,
			Signal:     SignalInstalled,
			Attributes: map[string]string{AttrPackage: p.Name},
			Provides:   slices.Clone(p.Provides),
		})
	}
}

// requireTools returns require edges to the packages providing tools, in
// manifest order. Tools no package provides are assumed present on the host.
func (b *builder) requireTools(tools ...string) []engine.Dependency {
	var deps []engine.Dependency
	for _, p := range b.manifest.Packages {
		for _, tool := range tools {
			if slices.Contains(p.Provides, tool) {
				deps = append(deps, engine.Require(engine.Resource{Kind: engine.KindPackage, Name: p.Name}.ID()))
				break
			}
		}
	}
	return deps
}

func (b *builder) cert() {
	cn := b.manifest.Context.ServerIP
	b.resources = append(b.resources, engine.Resource{
		Kind:   engine.KindCert,
		Name:   CertName,
		Signal: SignalCNPrefix + cn,
		Attributes: map[string]string{
			AttrCertPath:   b.root(path.Join(render.CertDir, render.CertFile)),
			AttrKeyPath:    b.root(path.Join(render.CertDir, render.KeyFile)),
			AttrCommonName: cn,
			AttrDays:       strconv.Itoa(CertValidityDays),
		},
		Dependencies: b.requireTools(ToolOpenSSL),
	})
}

func (b *builder) files() {
	for _, a := range b.bundle.Artifacts {
		b.resources = append(b.resources, engine.Resource{
			Kind:   engine.KindFile,
			Name:   a.Name,
			Signal: SignalSHA256Prefix + a.Hash(),
			Attributes: map[string]string{
				AttrPath: b.root(a.Path),
				AttrMode: fmt.Sprintf("%04o", a.Mode.Perm()),
			},
			Content: a.Content,
		})
	}
}

func (b *builder) image() error {
	dockerfile, ok := b.bundle.Artifact(render.ArtifactDockerfile)
	if !ok {
		return engine.NewValidationError("dockerfile was not rendered", nil)
	}
	tag := b.manifest.App.Image
	buildContext := b.root(b.manifest.App.BuildContext)
	dockerfilePath := b.root(dockerfile.Path)

	deps := b.requireTools(ToolDocker)
	deps = append(deps, engine.Require(fileID(render.ArtifactDockerfile)))

	b.resources = append(b.resources, engine.Resource{
		Kind:   engine.KindImage,
		Name:   ImageName,
		Signal: BuildHash(dockerfile.Hash(), tag, buildContext),
		Attributes: map[string]string{
			AttrTag:          tag,
			AttrDockerfile:   dockerfilePath,
			AttrBuildContext: buildContext,
		},
		Dependencies: deps,
	})
	return nil
}

// BuildHash identifies an image build by its inputs. It is stored as an
// image label so probes can compare it without rebuilding.
func BuildHash(dockerfileHash, tag, buildContext string) string {
	return render.Hash([]byte(dockerfileHash + "\n" + tag + "\n" + buildContext))
}

func (b *builder) services() {
	edges := map[string][]engine.Dependency{
		render.ServiceDB: {
			engine.Notify(fileID(render.ArtifactStackEnv)),
		},
		render.ServiceApp: {
			engine.Require(serviceID(render.ServiceDB)),
			engine.Notify(engine.Resource{Kind: engine.KindImage, Name: ImageName}.ID()),
			engine.Notify(fileID(render.ArtifactStackEnv)),
		},
		render.ServiceProxy: {
			engine.Require(serviceID(render.ServiceApp)),
			engine.Notify(engine.Resource{Kind: engine.KindCert, Name: CertName}.ID()),
			engine.Notify(fileID(render.ArtifactNginxSite)),
		},
		render.ServicePrometheus: {
			engine.Require(serviceID(render.ServiceApp)),
			engine.Notify(fileID(render.ArtifactPrometheus)),
		},
		render.ServiceGrafana: {
			engine.Require(serviceID(render.ServicePrometheus)),
		},
	}

	composeFile := b.root(render.ComposePath)
	for _, svc := range render.Services {
		deps := b.requireTools(ToolDocker, ToolDockerCompose)
		deps = append(deps, engine.Require(fileID(render.ArtifactCompose)))
		deps = append(deps, edges[svc]...)

		b.resources = append(b.resources, engine.Resource{
			Kind:   engine.KindService,
			Name:   svc,
			Signal: SignalRunningPrefix + b.bundle.ServiceHashes[svc],
			Attributes: map[string]string{
				AttrProject:     b.manifest.Project,
				AttrComposeFile: composeFile,
				AttrService:     svc,
				AttrContainer:   render.ContainerName(b.manifest.Project, svc),
			},
			Dependencies: deps,
		})
	}
}

func fileID(name string) string {
	return engine.Resource{Kind: engine.KindFile, Name: name}.ID()
}

func serviceID(name string) string {
	return engine.Resource{Kind: engine.KindService, Name: name}.ID()
}
