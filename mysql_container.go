package sqlbridge

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/wait"
)

// MySQLContainer pairs a disposable MySQL server with a pool wired to
// it. Intended for integration tests and local experiments.
type MySQLContainer struct {
	container testcontainers.Container
	pool      *Pool
	config    Config
	dsn       string
}

// ContainerConfig holds settings for the disposable MySQL server.
type ContainerConfig struct {
	MySQLVersion string
	Database     string
	Username     string
	Password     string
	RootPassword string
	StartTimeout time.Duration
	Pool         PoolConfig
}

// DefaultContainerConfig returns the container settings used by
// StartMySQLContainer.
func DefaultContainerConfig() ContainerConfig {
	return ContainerConfig{
		MySQLVersion: "8.0",
		Database:     "testdb",
		Username:     "testuser",
		Password:     "testpass",
		RootPassword: "rootpass",
		StartTimeout: 60 * time.Second,
	}
}

// StartMySQLContainer launches a MySQL container with default settings
// and connects a pool to it.
func StartMySQLContainer(ctx context.Context) (*MySQLContainer, error) {
	return StartMySQLContainerWithConfig(ctx, DefaultContainerConfig())
}

// StartMySQLContainerWithConfig launches a MySQL container and connects
// a pool to it. Terminate releases both.
func StartMySQLContainerWithConfig(ctx context.Context, cc ContainerConfig) (*MySQLContainer, error) {
	mysqlContainer, err := mysql.Run(ctx,
		"mysql:"+cc.MySQLVersion,
		mysql.WithDatabase(cc.Database),
		mysql.WithUsername(cc.Username),
		mysql.WithPassword(cc.Password),
		testcontainers.WithEnv(map[string]string{
			"MYSQL_ROOT_PASSWORD": cc.RootPassword,
		}),
		testcontainers.WithWaitStrategy(
			wait.ForLog("port: 3306  MySQL Community Server").
				WithOccurrence(1).
				WithStartupTimeout(cc.StartTimeout),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("start mysql container: %w", err)
	}

	host, err := mysqlContainer.Host(ctx)
	if err != nil {
		mysqlContainer.Terminate(ctx)
		return nil, fmt.Errorf("container host: %w", err)
	}
	port, err := mysqlContainer.MappedPort(ctx, "3306")
	if err != nil {
		mysqlContainer.Terminate(ctx)
		return nil, fmt.Errorf("container port: %w", err)
	}
	portInt, err := strconv.Atoi(port.Port())
	if err != nil {
		mysqlContainer.Terminate(ctx)
		return nil, fmt.Errorf("parse mapped port: %w", err)
	}

	cfg := Config{
		Host:     host,
		Port:     portInt,
		Database: cc.Database,
		Username: cc.Username,
		Password: cc.Password,
		Params: map[string]string{
			"parseTime":       "true",
			"multiStatements": "true",
		},
		Pool: cc.Pool,
	}
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		mysqlContainer.Terminate(ctx)
		return nil, fmt.Errorf("connect pool: %w", err)
	}

	dsn, _ := dsnFromConfig(cfg)
	return &MySQLContainer{
		container: mysqlContainer,
		pool:      pool,
		config:    cfg,
		dsn:       dsn,
	}, nil
}

// Pool returns the pool connected to the container.
func (c *MySQLContainer) Pool() *Pool { return c.pool }

// DSN returns the DSN the pool connects with.
func (c *MySQLContainer) DSN() string { return c.dsn }

// Config returns the pool configuration.
func (c *MySQLContainer) Config() Config { return c.config }

// Terminate closes the pool and tears the container down.
func (c *MySQLContainer) Terminate(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.pool != nil {
		c.pool.Close()
	}
	if c.container != nil {
		return c.container.Terminate(ctx)
	}
	return nil
}
