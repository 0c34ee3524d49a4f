package sqlbridge

import (
	"fmt"
	"strings"
	"time"
)

// DSNBuilder provides a fluent interface for building MySQL DSN strings
type DSNBuilder struct {
	host     string
	port     int
	username string
	password string
	database string

	tlsMode string

	timeout      *time.Duration
	readTimeout  *time.Duration
	writeTimeout *time.Duration

	charset   string
	collation string
	parseTime bool
	location  string

	multiStatements bool

	params map[string]string
}

// NewDSNBuilder creates a new DSN builder with default settings
func NewDSNBuilder() *DSNBuilder {
	return &DSNBuilder{
		host:    "localhost",
		port:    3306,
		charset: "utf8mb4",
		params:  make(map[string]string),
	}
}

// Host sets the MySQL server host
func (b *DSNBuilder) Host(host string) *DSNBuilder {
	b.host = host
	return b
}

// Port sets the MySQL server port
func (b *DSNBuilder) Port(port int) *DSNBuilder {
	b.port = port
	return b
}

// Username sets the MySQL username
func (b *DSNBuilder) Username(username string) *DSNBuilder {
	b.username = username
	return b
}

// Password sets the MySQL password
func (b *DSNBuilder) Password(password string) *DSNBuilder {
	b.password = password
	return b
}

// Database sets the database name
func (b *DSNBuilder) Database(database string) *DSNBuilder {
	b.database = database
	return b
}

// DisableTLS disables TLS for the connection
func (b *DSNBuilder) DisableTLS() *DSNBuilder {
	b.tlsMode = "false"
	return b
}

// RequireTLS requires TLS for the connection
func (b *DSNBuilder) RequireTLS() *DSNBuilder {
	b.tlsMode = "true"
	return b
}

// TLSSkipVerify enables TLS without certificate verification
func (b *DSNBuilder) TLSSkipVerify() *DSNBuilder {
	b.tlsMode = "skip-verify"
	return b
}

// SetTimeout sets the connection timeout
func (b *DSNBuilder) SetTimeout(timeout time.Duration) *DSNBuilder {
	b.timeout = &timeout
	return b
}

// SetReadTimeout sets the read timeout
func (b *DSNBuilder) SetReadTimeout(timeout time.Duration) *DSNBuilder {
	b.readTimeout = &timeout
	return b
}

// SetWriteTimeout sets the write timeout
func (b *DSNBuilder) SetWriteTimeout(timeout time.Duration) *DSNBuilder {
	b.writeTimeout = &timeout
	return b
}

// SetCharset sets the character set
func (b *DSNBuilder) SetCharset(charset string) *DSNBuilder {
	b.charset = charset
	return b
}

// SetCollation sets the collation
func (b *DSNBuilder) SetCollation(collation string) *DSNBuilder {
	b.collation = collation
	return b
}

// EnableParseTime makes the driver scan DATE/DATETIME into time.Time
func (b *DSNBuilder) EnableParseTime() *DSNBuilder {
	b.parseTime = true
	return b
}

// SetLocation sets the time zone used with parseTime
func (b *DSNBuilder) SetLocation(location string) *DSNBuilder {
	b.location = location
	return b
}

// EnableMultiStatements allows multiple statements per query string
func (b *DSNBuilder) EnableMultiStatements() *DSNBuilder {
	b.multiStatements = true
	return b
}

// SetParam sets a custom DSN parameter
func (b *DSNBuilder) SetParam(key, value string) *DSNBuilder {
	b.params[key] = value
	return b
}

// buildParams collects every configured parameter.
func (b *DSNBuilder) buildParams() map[string]string {
	params := make(map[string]string, len(b.params)+8)
	for k, v := range b.params {
		params[k] = v
	}
	if b.charset != "" { params["charset"] = b.charset }
	if b.collation != "" { params["collation"] = b.collation }
	if b.parseTime { params["parseTime"] = "true" }
	if b.location != "" { params["loc"] = b.location }
	if b.tlsMode != "" { params["tls"] = b.tlsMode }
	if b.multiStatements { params["multiStatements"] = "true" }
	if b.timeout != nil { params["timeout"] = formatDuration(*b.timeout) }
	if b.readTimeout != nil { params["readTimeout"] = formatDuration(*b.readTimeout) }
	if b.writeTimeout != nil { params["writeTimeout"] = formatDuration(*b.writeTimeout) }
	return params
}

func formatDuration(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
	return fmt.Sprintf("%dms", int(d/time.Millisecond))
}

// Build assembles the DSN string.
func (b *DSNBuilder) Build() (string, error) {
	if err := b.Validate(); err != nil {
		return "", err
	}
	return dsnFromConfig(b.ToConfig())
}

// ToConfig converts the builder state into a Config.
func (b *DSNBuilder) ToConfig() Config {
	return Config{
		Driver:   defaultDriver,
		Host:     b.host,
		Port:     b.port,
		Username: b.username,
		Password: b.password,
		Database: b.database,
		Params:   b.buildParams(),
	}
}

// FromConfig seeds a builder from an existing Config.
func FromConfig(config Config) *DSNBuilder {
	b := NewDSNBuilder()
	if config.Host != "" { b.host = config.Host }
	if config.Port > 0 { b.port = config.Port }
	b.username = config.Username
	b.password = config.Password
	b.database = config.Database
	for k, v := range config.Params {
		switch k {
		case "charset":
			b.charset = v
		case "collation":
			b.collation = v
		case "parseTime":
			b.parseTime = v == "true"
		case "loc":
			b.location = v
		case "tls":
			b.tlsMode = v
		default:
			b.params[k] = v
		}
	}
	return b
}

// Validate checks the builder for inconsistent settings.
func (b *DSNBuilder) Validate() error {
	if strings.TrimSpace(b.host) == "" {
		return fmt.Errorf("host must not be empty")
	}
	if b.port <= 0 || b.port > 65535 {
		return fmt.Errorf("port %d out of range", b.port)
	}
	if b.timeout != nil && *b.timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if b.readTimeout != nil && *b.readTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if b.writeTimeout != nil && *b.writeTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	return nil
}
