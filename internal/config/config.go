// Package config builds the layered runtime configuration shared by both
// rwsim binaries: flag defaults, an optional YAML file, and RWSIM_-prefixed
// environment variables, in that increasing order of precedence, with
// explicit command-line flags always winning.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	SocketPath    string  `mapstructure:"socket"`
	Workers       int     `mapstructure:"workers"`
	QueueCapacity int     `mapstructure:"queue-capacity"`
	WorldKind     string  `mapstructure:"world-kind"`
	WorldWidth    uint32  `mapstructure:"world-width"`
	WorldHeight   uint32  `mapstructure:"world-height"`
	ProbUp        float64 `mapstructure:"prob-up"`
	ProbDown      float64 `mapstructure:"prob-down"`
	ProbLeft      float64 `mapstructure:"prob-left"`
	ProbRight     float64 `mapstructure:"prob-right"`
	KMaxSteps     uint32  `mapstructure:"k"`
	TotalReps     uint32  `mapstructure:"reps"`
	MultiUser     bool    `mapstructure:"multi-user"`
	MetricsAddr   string  `mapstructure:"metrics-addr"`
	ConfigFile    string  `mapstructure:"config"`
}

// Default socket/worker/world/probability/step/replication values applied
// before any file, environment, or flag overrides.
const (
	DefaultSocketPath    = "/tmp/rwsim.sock"
	DefaultWorkers       = 8
	DefaultQueueCapacity = 256
	DefaultWorldKind     = "wrap"
	DefaultWorldWidth    = 10
	DefaultWorldHeight   = 10
	DefaultProb          = 0.25
	DefaultKMaxSteps     = 100
	DefaultTotalReps     = 1
)

// RegisterFlags defines every config-bound flag on fs so Load can bind fs
// into viper. Call this once per root command before cmd.Execute().
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("socket", DefaultSocketPath, "Unix domain socket path")
	fs.Int("workers", DefaultWorkers, "number of worker goroutines per simulation run")
	fs.Int("queue-capacity", DefaultQueueCapacity, "job queue capacity per simulation run")
	fs.String("world-kind", DefaultWorldKind, "initial world kind: wrap or obstacles")
	fs.Uint32("world-width", DefaultWorldWidth, "initial world width")
	fs.Uint32("world-height", DefaultWorldHeight, "initial world height")
	fs.Float64("prob-up", DefaultProb, "movement probability: up")
	fs.Float64("prob-down", DefaultProb, "movement probability: down")
	fs.Float64("prob-left", DefaultProb, "movement probability: left")
	fs.Float64("prob-right", DefaultProb, "movement probability: right")
	fs.Uint32("k", DefaultKMaxSteps, "initial max steps per walk")
	fs.Uint32("reps", DefaultTotalReps, "initial total replications")
	fs.Bool("multi-user", false, "initial multi-user flag reported to clients (control stays with the owner)")
	fs.String("metrics-addr", "", "address to serve Prometheus metrics on (empty disables it)")
	fs.String("config", "", "path to an optional rwsim.yaml config file")
}

// Load resolves the final Config from fs (already parsed by Cobra),
// layered under an optional YAML file and RWSIM_-prefixed environment
// variables. It also loads a .env.local file into the process environment
// if present, following the teacher's own godotenv convention.
func Load(fs *pflag.FlagSet) (Config, error) {
	_ = godotenv.Load(".env.local")

	v := viper.New()
	v.SetEnvPrefix("RWSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("config: bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	return cfg, nil
}
