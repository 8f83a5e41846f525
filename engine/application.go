package engine

type ApplicationConfig struct {
	// Window starting width, if applicable.
	StartWidth uint32
	// Window starting height, if applicable.
	StartHeight uint32
	// The application name used in logging.
	Name string
	// Path of the TOML configuration file. Empty means built-in defaults and
	// no hot reload.
	ConfigPath string
}
