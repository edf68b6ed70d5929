package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsAndEnvExpansion(t *testing.T) {
	t.Setenv("IMAGEDOWNLOADER_DB_PASSWORD", "s3cret")

	path := writeConfig(t, `
database:
  user: wp
  password: ${IMAGEDOWNLOADER_DB_PASSWORD}
  dbname: wordpress
site:
  uploads_dir: /var/www/html/wp-content/uploads
  uploads_url: https://example.com/wp-content/uploads
fetch:
  timeout: 10s
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "wp_", cfg.Database.TablePrefix)
	assert.Equal(t, 10*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 3, cfg.Fetch.Retry.MaxAttempts)
	assert.False(t, cfg.RabbitMQ.Enabled)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_RequiresUploads(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: sqlite\n  path: wp.db\n")

	_, err := Load(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "uploads_dir")
}

func TestDSN(t *testing.T) {
	mysqlDSN, err := DatabaseConfig{
		Driver: "mysql", Host: "db", Port: 3306, User: "wp", Password: "pw", DBName: "wordpress",
	}.DSN()
	require.NoError(t, err)
	assert.Contains(t, mysqlDSN, "wp:pw@tcp(db:3306)/wordpress?")
	assert.Contains(t, mysqlDSN, "parseTime=true")

	pgDSN, err := DatabaseConfig{
		Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", DBName: "d", SSLMode: "disable",
	}.DSN()
	require.NoError(t, err)
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=disable", pgDSN)

	_, err = DatabaseConfig{Driver: "sqlite"}.DSN()
	assert.Error(t, err)

	_, err = DatabaseConfig{Driver: "oracle"}.DSN()
	assert.Error(t, err)
}

func TestSiteHost(t *testing.T) {
	assert.Equal(t, "example.com", SiteConfig{URL: "https://example.com/blog"}.Host())
	assert.Equal(t, "", SiteConfig{}.Host())
}
