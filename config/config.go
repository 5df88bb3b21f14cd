package config

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

type Mode string

const (
	ModeHosted   Mode = "hosted"
	ModePostgres Mode = "postgres"
	ModeLocal    Mode = "local"
)

var placeholders = []string{
	"your_supabase_url_here",
	"your_supabase_anon_key_here",
	"your_backend_url_here",
	"your_backend_key_here",
}

type Backend struct {
	URL         string
	Key         string
	Bucket      string
	DatabaseURL string
	Timeout     time.Duration
}

type S3 struct {
	Bucket    string
	Region    string
	PublicURL string
}

type Retry struct {
	Attempts int
	Delay    time.Duration
}

type Config struct {
	Addr          string
	Backend       Backend
	S3            S3
	Retry         Retry
	RedisAddr     string
	LocalStoreDir string
	KafkaBroker   string
	KafkaTopic    string
	SeedFile      string
}

// Load reads an optional .env file and then the process environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr: GetString("ADDR", ":8085"),
		Backend: Backend{
			URL:         GetString("BACKEND_URL", ""),
			Key:         GetString("BACKEND_KEY", ""),
			Bucket:      GetString("BACKEND_BUCKET", "dish-images"),
			DatabaseURL: GetString("DATABASE_URL", ""),
			Timeout:     GetDuration("REMOTE_TIMEOUT", 10*time.Second),
		},
		S3: S3{
			Bucket:    GetString("S3_BUCKET", ""),
			Region:    GetString("S3_REGION", GetString("AWS_REGION", "")),
			PublicURL: GetString("S3_PUBLIC_URL", ""),
		},
		Retry: Retry{
			Attempts: GetInt("RETRY_ATTEMPTS", 3),
			Delay:    GetDuration("RETRY_DELAY", 600*time.Millisecond),
		},
		RedisAddr:     GetString("REDIS_ADDR", ""),
		LocalStoreDir: GetString("LOCAL_STORE_DIR", "./data"),
		KafkaBroker:   GetString("KAFKA_BROKER", ""),
		KafkaTopic:    GetString("KAFKA_TOPIC", "planner-events"),
		SeedFile:      GetString("SEED_FILE", "./public/recipes.csv"),
	}
}

// Mode reports which backend the credentials allow. Postgres still has to be
// reachable; callers fall back to ModeLocal when the ping fails.
func (b Backend) Mode() Mode {
	if IsValidHTTPURL(b.URL) && b.Key != "" && !IsPlaceholder(b.URL) && !IsPlaceholder(b.Key) {
		return ModeHosted
	}
	if b.DatabaseURL != "" && !IsPlaceholder(b.DatabaseURL) {
		return ModePostgres
	}
	return ModeLocal
}

func IsValidHTTPURL(value string) bool {
	if value == "" {
		return false
	}
	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func IsPlaceholder(value string) bool {
	if value == "" {
		return true
	}
	lower := strings.ToLower(value)
	for _, p := range placeholders {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func InitPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func InitRedis(addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

func NewKafkaWriter(broker, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(broker),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
}

func GetString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func GetInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func GetDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
