package armlink

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.viam.com/rdk/logging"
)

// Config carries everything the motion process needs at construction time.
// Values come from an optional YAML file overlaid by UR_* environment
// variables (UR_HOST, UR_SPEED, UR_ACCEL, UR_JOINT_SPEED, UR_JOINT_ACCEL...).
type Config struct {
	// Backend selects the driver adapter: "rtde", "sim" or "soarm".
	Backend string `mapstructure:"backend"`

	// Channel endpoint the motion process serves on; the control side
	// dials it. A path selects a unix socket, host:port selects TCP.
	ListenAddr string `mapstructure:"listen_addr"`

	// rtde backend.
	Host        string        `mapstructure:"host"`
	ControlPort int           `mapstructure:"control_port"`
	ReceivePort int           `mapstructure:"receive_port"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// Motion defaults, applied when a request carries no speed.
	Speed      float64 `mapstructure:"speed"`
	Accel      float64 `mapstructure:"accel"`
	JointSpeed float64 `mapstructure:"joint_speed"`
	JointAccel float64 `mapstructure:"joint_accel"`

	// soarm backend.
	SoArmPort     string `mapstructure:"soarm_port"`
	SoArmBaudrate int    `mapstructure:"soarm_baudrate"`

	// sim backend: sleep for the nominal travel time instead of
	// completing instantly.
	SimRealtime bool `mapstructure:"sim_realtime"`
}

// LoadConfig reads configuration from the given file (optional; empty path
// skips it) and the environment, then validates.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("backend", "rtde")
	v.SetDefault("listen_addr", "127.0.0.1:7600")
	v.SetDefault("host", "192.168.0.47")
	v.SetDefault("control_port", 0) // 0 = driver default
	v.SetDefault("receive_port", 0)
	v.SetDefault("timeout", 5*time.Second)
	v.SetDefault("speed", DefaultLinearSpeed)
	v.SetDefault("accel", DefaultLinearAccel)
	v.SetDefault("joint_speed", DefaultJointSpeed)
	v.SetDefault("joint_accel", DefaultJointAccel)
	v.SetDefault("soarm_port", "")
	v.SetDefault("soarm_baudrate", 1000000)
	v.SetDefault("sim_realtime", false)

	v.SetEnvPrefix("ur")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fills defaults and rejects values no backend could accept.
func (cfg *Config) Validate() error {
	switch cfg.Backend {
	case "rtde", "sim", "soarm":
	case "":
		cfg.Backend = "rtde"
	default:
		return errors.Wrapf(ErrValidation, "backend must be rtde, sim or soarm, got %q", cfg.Backend)
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:7600"
	}
	if cfg.Backend == "rtde" && cfg.Host == "" {
		return errors.Wrap(ErrValidation, "host must be set for the rtde backend")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	// Speeds and accelerations are clamped, not rejected; the envelope is
	// the authority on safe ranges.
	cfg.Speed = ClampLinearSpeed(cfg.Speed)
	cfg.Accel = ClampLinearAccel(cfg.Accel)
	cfg.JointSpeed = ClampJointSpeed(cfg.JointSpeed)
	cfg.JointAccel = ClampJointAccel(cfg.JointAccel)

	if cfg.SoArmBaudrate == 0 {
		cfg.SoArmBaudrate = 1000000
	}
	return nil
}

// NewBackend constructs the configured backend variant.
func NewBackend(cfg *Config, logger logging.Logger) (Backend, error) {
	switch cfg.Backend {
	case "rtde":
		return NewURBackend(cfg.Host, cfg.ControlPort, cfg.ReceivePort, cfg.Timeout, logger), nil
	case "sim":
		return NewSimBackend(cfg.SimRealtime), nil
	case "soarm":
		return NewSoArmBackend(cfg.SoArmPort, cfg.SoArmBaudrate, cfg.Timeout, logger), nil
	default:
		return nil, errors.Errorf("unknown backend %q", cfg.Backend)
	}
}
