package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// WebSocket gateway knobs.
	WSOriginRequired    bool
	WSAllowedOrigins    []string
	WSDevInsecure       bool
	WSWriteTimeout      time.Duration
	WSReadIdleTimeout   time.Duration
	WSHandshakeTimeout  time.Duration
	WSSendQueue         int
	WSHeartbeatInterval time.Duration
	WSHeartbeatTimeout  time.Duration
	WSRateEvents        int
	WSRateWindow        time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("COURIER_HTTP_ADDR", defaultHTTPAddr()),
		LogLevel:  EnvString("COURIER_LOG_LEVEL", "info"),
		LogFormat: EnvString("COURIER_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("COURIER_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("COURIER_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("COURIER_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("COURIER_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("COURIER_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("COURIER_DATABASE_URL", ""),
		DBSchema:    EnvString("COURIER_DB_SCHEMA", "courier"),
		DBMaxConns:  EnvInt32("COURIER_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("COURIER_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("COURIER_READINESS_REQUIRE_DB", false),

		WSOriginRequired:    EnvBool("COURIER_WS_ORIGIN_REQUIRED", true),
		WSAllowedOrigins:    EnvCSV("COURIER_WS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1"),
		WSDevInsecure:       EnvBool("COURIER_WS_DEV_INSECURE", false),
		WSWriteTimeout:      EnvDuration("COURIER_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadIdleTimeout:   EnvDuration("COURIER_WS_READ_IDLE_TIMEOUT", 2*time.Minute),
		WSHandshakeTimeout:  EnvDuration("COURIER_WS_HANDSHAKE_TIMEOUT", 10*time.Second),
		WSSendQueue:         EnvInt("COURIER_WS_SEND_QUEUE", 256),
		WSHeartbeatInterval: EnvDuration("COURIER_WS_HEARTBEAT_INTERVAL", 25*time.Second),
		WSHeartbeatTimeout:  EnvDuration("COURIER_WS_HEARTBEAT_TIMEOUT", 5*time.Second),
		WSRateEvents:        EnvInt("COURIER_WS_RATE_EVENTS", 120),
		WSRateWindow:        EnvDuration("COURIER_WS_RATE_WINDOW", 10*time.Second),
	}
}

// defaultHTTPAddr honors a bare PORT variable (the historical process
// contract) before falling back to port 4000.
func defaultHTTPAddr() string {
	if port := EnvString("PORT", ""); port != "" {
		return "0.0.0.0:" + port
	}
	return "0.0.0.0:4000"
}
