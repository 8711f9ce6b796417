package buildinfo

// Set with -ldflags "-X routedesk/internal/buildinfo.Version=..." at build time.
var (
	Service = "routedesk"
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"service": Service,
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
}
