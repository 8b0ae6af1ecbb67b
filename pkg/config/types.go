package config

import (
	"slices"
)

// Publishable ports and the service that publishes each of them.
var PublishablePorts = map[int]string{
	80:   "proxy",
	443:  "proxy",
	3000: "grafana",
	5432: "db",
	9090: "prometheus",
}

// DefaultExposedPorts are published when the manifest does not list any.
var DefaultExposedPorts = []int{80, 443}

// Manifest is the declarative description of a provisioned host.
type Manifest struct {
	// Project names the compose project and prefixes container names.
	Project string `json:"project" yaml:"project" validate:"required,max=40,lowercase,excludes=.,hostname_rfc1123"`

	// Root is the absolute directory all rendered artifacts live under.
	Root string `json:"root" yaml:"root" validate:"required,startswith=/"`

	// Context holds the templating options.
	Context Context `json:"context" yaml:"context"`

	// App describes the application image and service.
	App App `json:"app,omitempty" yaml:"app,omitempty"`

	// Packages overrides the host packages to install.
	Packages []Package `json:"packages,omitempty" yaml:"packages,omitempty" validate:"omitempty,dive"`
}

// Context is the set of recognised templating options.
type Context struct {
	// ServerIP is used as certificate CN and nginx server_name.
	ServerIP string `json:"serverIP" yaml:"serverIP" validate:"required,ip"`

	// DBPassword is injected into the database connection URI. Quotes and
	// backslashes cannot be written literally into the compose env file.
	DBPassword string `json:"dbPassword" yaml:"dbPassword" validate:"required,printascii,excludesall='\\"`

	// ExposedPorts lists which known service ports are published on the host.
	ExposedPorts []int `json:"exposedPorts,omitempty" yaml:"exposedPorts,omitempty" validate:"omitempty,unique,dive,oneof=80 443 3000 5432 9090"`
}

// App describes the application container.
type App struct {
	// Image is the tag of the locally built image.
	Image string `json:"image,omitempty" yaml:"image,omitempty" validate:"required"`

	// BaseImage is the Dockerfile FROM image.
	BaseImage string `json:"baseImage,omitempty" yaml:"baseImage,omitempty" validate:"required"`

	// BuildContext is the build directory, relative to Root.
	BuildContext string `json:"buildContext,omitempty" yaml:"buildContext,omitempty" validate:"required,excludes=.."`

	// Port is the port the application listens on inside the network.
	Port int `json:"port,omitempty" yaml:"port,omitempty" validate:"min=1,max=65535"`

	// Command is the container command.
	Command []string `json:"command,omitempty" yaml:"command,omitempty" validate:"min=1"`
}

// Package is a host package and the tools it installs.
type Package struct {
	// Name is the package name known to the package manager.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Provides lists executables the package installs.
	Provides []string `json:"provides,omitempty" yaml:"provides,omitempty"`
}

// DefaultPackages are installed when the manifest does not list any.
func DefaultPackages() []Package {
	return []Package{
		{Name: "docker.io", Provides: []string{"docker"}},
		{Name: "docker-compose-v2", Provides: []string{"docker-compose"}},
		{Name: "openssl", Provides: []string{"openssl"}},
	}
}

// WithDefaults returns a copy of the manifest with unset optional fields filled in.
func (m Manifest) WithDefaults() Manifest {
	if m.Project == "" {
		m.Project = "provisio"
	}
	if m.Root == "" {
		m.Root = "/opt/provisio"
	}
	if len(m.Context.ExposedPorts) == 0 {
		m.Context.ExposedPorts = slices.Clone(DefaultExposedPorts)
	}
	if m.App.Image == "" {
		m.App.Image = m.Project + "/app:latest"
	}
	if m.App.BaseImage == "" {
		m.App.BaseImage = "python:3.12-slim"
	}
	if m.App.BuildContext == "" {
		m.App.BuildContext = "app"
	}
	if m.App.Port == 0 {
		m.App.Port = 8000
	}
	if len(m.App.Command) == 0 {
		m.App.Command = []string{"python", "app.py"}
	}
	if len(m.Packages) == 0 {
		m.Packages = DefaultPackages()
	}
	return m
}

// Exposes reports whether the given port is published.
func (c Context) Exposes(port int) bool {
	return slices.Contains(c.ExposedPorts, port)
}
