package internal

import (
	"fmt"
	"time"
)

type Config struct {
	Host string `env:"HOST,default=0.0.0.0"`
	Port int    `env:"PORT,default=8080"`

	// MessageDir holds one SQLite log per channel; DirectoryDir holds the
	// shared channel/participant directory. They may point at the same
	// directory.
	MessageDir   string `env:"MESSAGE_DIR,required=true"`
	DirectoryDir string `env:"DIRECTORY_DIR,required=true"`

	LivenessInterval  time.Duration `env:"LIVENESS_INTERVAL,default=20s"`
	TelemetryInterval time.Duration `env:"TELEMETRY_INTERVAL,default=30s"`
	LatestCount       int           `env:"LATEST_COUNT,default=30"`

	RobotName string `env:"ROBOT_NAME,default=robot"`
	LogLevel  string `env:"LOG_LEVEL,default=INFO"`
}

func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
