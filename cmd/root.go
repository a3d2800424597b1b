package cmd

// rootConfigFile is set by main.go from the root --config flag before
// any subcommand's RunE executes.
var rootConfigFile string

// SetConfigFile lets main.go pass the resolved --config flag value down
// to the subcommands that load configuration.
func SetConfigFile(path string) {
	rootConfigFile = path
}
