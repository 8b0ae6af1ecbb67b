package stack

// Resource attribute keys shared with the providers that act on them.
const (
	// AttrPackage is the package manager name of a package resource.
	AttrPackage = "package"

	// AttrPath is the absolute path of a file resource.
	AttrPath = "path"

	// AttrMode is the octal file mode of a file resource.
	AttrMode = "mode"

	// AttrCertPath and AttrKeyPath locate the certificate and its key.
	AttrCertPath = "cert_path"
	AttrKeyPath  = "key_path"

	// AttrCommonName is the certificate subject CN.
	AttrCommonName = "common_name"

	// AttrDays is the certificate validity in days.
	AttrDays = "days"

	// AttrTag is the image tag.
	AttrTag = "tag"

	// AttrDockerfile is the Dockerfile an image is built from.
	AttrDockerfile = "dockerfile"

	// AttrBuildContext is the image build context directory.
	AttrBuildContext = "build_context"

	// AttrProject is the compose project name.
	AttrProject = "project"

	// AttrComposeFile is the compose file a service is defined in.
	AttrComposeFile = "compose_file"

	// AttrService is the compose service name.
	AttrService = "service"

	// AttrContainer is the container name of a service.
	AttrContainer = "container"
)

// Signal values and prefixes.
const (
	SignalInstalled     = "installed"
	SignalRunningPrefix = "running:"
	SignalStoppedPrefix = "stopped:"
	SignalCNPrefix      = "cn="
	SignalExpired       = "expired"
	SignalSHA256Prefix  = "sha256:"
)

// Tools the stack relies on.
const (
	ToolDocker        = "docker"
	ToolDockerCompose = "docker-compose"
	ToolOpenSSL       = "openssl"
)
