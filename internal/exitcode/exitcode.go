package exitcode

const (
	Success      = 0
	UsageError   = 1
	ConfigError  = 2
	DBConnError  = 3
	InputError   = 4
	ResolveError = 5
	ExportError  = 6
	Interrupted  = 7
)
