package presence

// Config holds engine options.
type Config struct {
	// Name is used to qualify log output of the engine.
	Name string

	LogLevel   LogLevel
	LogHandler LogHandler
}

// DefaultConfig ...
var DefaultConfig = Config{
	Name:     "presence",
	LogLevel: LogLevelInfo,
}
