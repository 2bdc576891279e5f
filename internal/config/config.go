package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/rideiq/internal/motion"
	"github.com/relabs-tech/rideiq/internal/tracker"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RIDEIQ_"

// Config holds all application configuration values.
type Config struct {
	MQTT     MQTT           `yaml:"mqtt"`
	Topics   Topics         `yaml:"topics"`
	Motion   Motion         `yaml:"motion"`
	Pipeline tracker.Config `yaml:"pipeline"`
	GPS      GPS            `yaml:"gps"`
	Web      Web            `yaml:"web"`
	Display  Display        `yaml:"display"`
	Log      Log            `yaml:"log"`
}

type MQTT struct {
	Broker          string        `yaml:"broker" default:"tcp://localhost:1883" validate:"required"`
	ClientIDTracker string        `yaml:"client_id_tracker" default:"rideiq-tracker" validate:"required"`
	ClientIDGPS     string        `yaml:"client_id_gps" default:"rideiq-gps" validate:"required"`
	ClientIDConsole string        `yaml:"client_id_console" default:"rideiq-console" validate:"required"`
	ClientIDDisplay string        `yaml:"client_id_display" default:"rideiq-display" validate:"required"`
	ClientIDMotion  string        `yaml:"client_id_motion" default:"rideiq-motion" validate:"required"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" default:"5s" validate:"gt=0"`
	// When false the tracker runs without a broker; the HTTP surface still works.
	Enabled bool `yaml:"enabled" default:"true"`
}

type Topics struct {
	Scores  string `yaml:"scores" default:"rideiq/scores" validate:"required"`
	Session string `yaml:"session" default:"rideiq/session" validate:"required"`
	Control string `yaml:"control" default:"rideiq/control" validate:"required"`
	Motion  string `yaml:"motion" default:"rideiq/motion" validate:"required"`
	Trip    string `yaml:"trip" default:"rideiq/trip" validate:"required"`
}

// Motion selects and configures the motion source.
type Motion struct {
	Source    string           `yaml:"source" default:"mock" validate:"oneof=mock imu mqtt"`
	Roughness float64          `yaml:"roughness" default:"1" validate:"gte=0"`
	MaxAge    time.Duration    `yaml:"max_age" default:"1s" validate:"gt=0"`
	IMU       motion.IMUConfig `yaml:"imu"`
}

type GPS struct {
	SerialPort string        `yaml:"serial_port" default:"/dev/serial0" validate:"required"`
	BaudRate   uint          `yaml:"baud_rate" default:"9600" validate:"gt=0"`
	Publish    time.Duration `yaml:"publish_interval" default:"1s" validate:"gt=0"`
}

type Web struct {
	Addr            string        `yaml:"addr" default:":8080" validate:"required"`
	WSBuffer        int           `yaml:"ws_buffer" default:"4" validate:"gte=1"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"5s" validate:"gt=0"`
}

// Display drives an SSD1306 at the controller's fixed I²C address (0x3C).
type Display struct {
	// Empty selects the first bus.
	I2CBus   string        `yaml:"i2c_bus"`
	Interval time.Duration `yaml:"interval" default:"500ms" validate:"gt=0"`
}

type Log struct {
	Level       string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// Default returns a config with every default applied.
func Default() (*Config, error) {
	c := &Config{}
	if err := defaults.Set(c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return c, nil
}

// Load reads the YAML file at path over the defaults, applies RIDEIQ_*
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv overrides the settings most often changed per deployment.
func (c *Config) applyEnv(lookup lookupFunc) error {
	str := map[string]*string{
		"MQTT_BROKER":     &c.MQTT.Broker,
		"MOTION_SOURCE":   &c.Motion.Source,
		"GPS_SERIAL_PORT": &c.GPS.SerialPort,
		"WEB_ADDR":        &c.Web.Addr,
		"LOG_LEVEL":       &c.Log.Level,
		"IMU_SPI_DEVICE":  &c.Motion.IMU.SPIDevice,
	}
	for key, dst := range str {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "MQTT_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sMQTT_ENABLED %q: %w", EnvPrefix, v, err)
		}
		c.MQTT.Enabled = b
	}
	if v, ok := lookup(EnvPrefix + "GPS_BAUD_RATE"); ok && v != "" {
		rate, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid %sGPS_BAUD_RATE %q: %w", EnvPrefix, v, err)
		}
		c.GPS.BaudRate = uint(rate)
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their YAML path.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every field constraint and reports the first failures by
// their YAML path.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, errorMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func errorMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}
