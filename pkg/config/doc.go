// Package config loads the two inputs that drive a run.
//
// A Manifest describes the host: the project name, the directory artifacts
// are rendered under, the templating context (serverIP, dbPassword,
// exposedPorts) and the application image. Manifests are YAML or CUE; CUE
// manifests are unified with a closed schema first so typos in option names
// fail early. Both formats are then defaulted and validated with struct tags,
// and every violation is reported at once.
//
// Settings tune the engine (worker counts, retry policy, journal location,
// logging, tracing, metrics). They come from defaults, an optional
// provisio.yaml, PROVISIO_* environment variables and command line flags.
package config
