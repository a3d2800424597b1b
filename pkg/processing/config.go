package processing

import "time"

// SceneType selects the native CLI binary's "-s" argument.
type SceneType int

const (
	SceneBalance SceneType = 0
	SceneOpen    SceneType = 1
	SceneNarrow  SceneType = 2
)

// narrowMaxDimM is the width/height ceiling below which an indoor scene
// is classified Narrow rather than Balance.
const narrowMaxDimM = 30.0

// SelectSceneType implements the documented scene-type selection rule:
// Open if outdoor, Narrow if indoor and the point cloud's larger
// horizontal dimension is under 30m, Balance otherwise.
func SelectSceneType(outdoor bool, widthM, heightM float64) SceneType {
	if outdoor {
		return SceneOpen
	}
	maxDim := widthM
	if heightM > maxDim {
		maxDim = heightM
	}
	if maxDim < narrowMaxDimM {
		return SceneNarrow
	}
	return SceneBalance
}

// Config configures one Driver.
type Config struct {
	GeneratorBinary string
	CLIBinary       string

	GeneratorTimeout time.Duration
	CLITimeout       time.Duration

	// OutDir is the CLI binary's "-o" argument.
	OutDir string
	// FinalOutDir is where the final <package_name>_processed.zip is
	// written; defaults to OutDir when unset.
	FinalOutDir string

	Colorize bool
	ModeFlag int

	RetryAttempts     int
	RetryBackoffBase  time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		GeneratorTimeout: 600 * time.Second,
		CLITimeout:       3600 * time.Second,
		RetryAttempts:    3,
		RetryBackoffBase: 5 * time.Second,
		Colorize:         true,
		ModeFlag:         0,
	}
}
