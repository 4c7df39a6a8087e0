package backend

// Runner images per server kind. The npx and uvx runners are thin wrappers
// around the respective package managers; builtin uses the deployment's own
// server image.
const (
	// NpxRunnerImage runs Node-packaged servers
	NpxRunnerImage = "node:22-alpine"
	// UvxRunnerImage runs Python-packaged servers via uv
	UvxRunnerImage = "ghcr.io/astral-sh/uv:python3.12-bookworm-slim"
	// BuiltinImage is the bundled core server image
	BuiltinImage = "ghcr.io/mcpdock/core-server:latest"
)

// RunnerImage returns the container image used for the given config.
func RunnerImage(cfg ServerConfig) string {
	switch cfg.Kind {
	case KindNpx:
		return NpxRunnerImage
	case KindUvx:
		return UvxRunnerImage
	case KindBuiltin:
		return BuiltinImage
	case KindImage:
		return cfg.Image
	}
	return cfg.Image
}

// RunnerUser is the non-root uid:gid every compute unit runs as.
const RunnerUser int64 = 1000

// ReadOnlyRootFS reports whether the kind tolerates a read-only root
// filesystem. The npx and uvx runners fetch their package into the image at
// start and need a writable root for the package manager cache.
func ReadOnlyRootFS(kind ServerKind) bool {
	return kind == KindBuiltin || kind == KindImage
}

// RunnerCommand returns the container entry command used for the given
// config. Image and builtin kinds run their image's own entrypoint unless
// args override it.
func RunnerCommand(cfg ServerConfig) []string {
	switch cfg.Kind {
	case KindNpx:
		return append([]string{"npx", "-y", cfg.Package}, cfg.Args...)
	case KindUvx:
		return append([]string{"uvx", cfg.Package}, cfg.Args...)
	default:
		return cfg.Args
	}
}
