package config // package config loads application configuration from environment variables

import (
	"errors"  // errors defines the missing-store sentinel
	"fmt"     // fmt builds the store address
	"os"      // os provides access to environment variables
	"strings" // strings helps to inspect the configured store address

	"github.com/joho/godotenv" // godotenv loads variables from a local .env file
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Only the document store address is required;
// everything else falls back to a development-friendly default.
type Config struct {
	Env                string // application environment (e.g. "dev", "prod")
	Port               string // HTTP port to listen on
	MongoService       string // host[:port] of the MongoDB server
	MongoUsername      string // MongoDB username (optional)
	MongoPassword      string // MongoDB password (optional)
	MongoPort          string // MongoDB port appended when the service has none
	MongoDatabase      string // database holding the songs collection
	MongoCollection    string // collection name
	SeedOnStart        bool   // drop and re-seed the collection before serving
	SeedFile           string // seed dataset path; empty means the bundled dataset
	JWTSecret          string // when set, write routes require an HS256 bearer token
	RabbitURL          string // AMQP broker URL for song events; empty disables publishing
	SongEventsConsumer bool   // run the song event consumer alongside the server
	LogLevel           string // charmbracelet/log level name
}

// ErrMissingStore is returned by Load when MONGODB_SERVICE is not set.
var ErrMissingStore = errors.New("missing MongoDB server in the MONGODB_SERVICE variable")

// Load reads configuration values from the environment and returns a
// Config.  A .env file in the working directory is loaded first when it
// exists; variables already present in the environment win.
func Load() (Config, error) {
	_ = godotenv.Load() // a missing .env file is not an error

	cfg := Config{
		Env:                envStr("APP_ENV", "dev"),
		Port:               envStr("APP_PORT", "8080"),
		MongoService:       os.Getenv("MONGODB_SERVICE"),
		MongoUsername:      os.Getenv("MONGODB_USERNAME"),
		MongoPassword:      os.Getenv("MONGODB_PASSWORD"),
		MongoPort:          os.Getenv("MONGODB_PORT"),
		MongoDatabase:      envStr("MONGODB_DATABASE", "songs"),
		MongoCollection:    envStr("MONGODB_COLLECTION", "songs"),
		SeedOnStart:        envBool("SEED_ON_START", false),
		SeedFile:           os.Getenv("SEED_FILE"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		RabbitURL:          rabbitURL(),
		SongEventsConsumer: envBool("SONG_EVENTS_CONSUMER", false),
		LogLevel:           envStr("LOG_LEVEL", "info"),
	}
	if cfg.MongoService == "" { // the store address is the one hard requirement
		return cfg, ErrMissingStore
	}
	return cfg, nil
}

// MongoURI builds the connection string from the service address and the
// optional credentials.
func (c Config) MongoURI() string {
	host := c.MongoService
	if c.MongoPort != "" && !strings.Contains(host, ":") { // only add a port when the service has none
		host = host + ":" + c.MongoPort
	}
	if c.MongoUsername != "" && c.MongoPassword != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s", c.MongoUsername, c.MongoPassword, host)
	}
	return "mongodb://" + host
}

// Redacted returns the connection string with the password masked, for logs.
func (c Config) Redacted() string {
	if c.MongoPassword == "" {
		return c.MongoURI()
	}
	return strings.Replace(c.MongoURI(), ":"+c.MongoPassword+"@", ":****@", 1)
}

func rabbitURL() string {
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		return v
	}
	return os.Getenv("AMQP_URL")
}
