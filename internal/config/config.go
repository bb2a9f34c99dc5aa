// Package config assembles server configuration from an optional .env file,
// the environment and command-line flags, in increasing priority.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/DongNguyen06/lib-v2/internal/fee"
	"github.com/DongNguyen06/lib-v2/internal/service"
)

// Notifier backends.
const (
	NotifierLog   = "log"
	NotifierStore = "store"
	NotifierSNS   = "sns"
	NotifierKafka = "kafka"
)

// Config is the server configuration.
type Config struct {
	Addr      string
	DSN       string // empty runs on the in-memory store
	JWTKey    string
	TLSCert   string
	TLSKey    string
	Dev       bool
	AccessTTL time.Duration

	// Notifiers is a comma separated list of backends.
	Notifiers    []string
	SNSTopicARN  string
	AWSRegion    string
	AWSEndpoint  string
	KafkaBrokers []string
	KafkaTopic   string

	// ThrottleHits requests per ThrottleWindow per user and operation.
	ThrottleHits   int
	ThrottleWindow time.Duration
	ThrottleBlock  time.Duration

	Rules  service.Rules
	Policy fee.Policy
}

// Load reads envFile (missing is fine), then the environment, then args.
func Load(envFile string, args []string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	rules := service.DefaultRules()
	policy := fee.DefaultPolicy()
	e := &envReader{}
	c := &Config{
		Addr:           e.str("LENDING_ADDR", ":8443"),
		DSN:            e.str("DATABASE_URL", ""),
		JWTKey:         e.str("JWT_KEY", ""),
		TLSCert:        e.str("TLS_CERT", ""),
		TLSKey:         e.str("TLS_KEY", ""),
		Dev:            e.boolean("DEV", false),
		AccessTTL:      e.duration("ACCESS_TTL", 15*time.Minute),
		Notifiers:      e.list("NOTIFIERS", []string{NotifierLog}),
		SNSTopicARN:    e.str("SNS_TOPIC_ARN", ""),
		AWSRegion:      e.str("AWS_REGION", ""),
		AWSEndpoint:    e.str("AWS_ENDPOINT", ""),
		KafkaBrokers:   e.list("KAFKA_BROKERS", nil),
		KafkaTopic:     e.str("KAFKA_TOPIC", "lending.notifications"),
		ThrottleHits:   e.integer("THROTTLE_HITS", 30),
		ThrottleWindow: e.duration("THROTTLE_WINDOW", time.Minute),
		ThrottleBlock:  e.duration("THROTTLE_BLOCK", 5*time.Minute),
		Rules: service.Rules{
			MaxActiveBorrows: e.integer("MAX_ACTIVE_BORROWS", rules.MaxActiveBorrows),
			MaxRenewals:      e.integer("MAX_RENEWALS", rules.MaxRenewals),
			LoanPeriod:       e.duration("LOAN_PERIOD", rules.LoanPeriod),
			RenewalExtension: e.duration("RENEWAL_EXTENSION", rules.RenewalExtension),
			PickupWindow:     e.duration("PICKUP_WINDOW", rules.PickupWindow),
			HoldWindow:       e.duration("HOLD_WINDOW", rules.HoldWindow),
			DueSoonWindow:    e.duration("DUE_SOON_WINDOW", rules.DueSoonWindow),
		},
		Policy: fee.Policy{
			Grace:          e.duration("FEE_GRACE", policy.Grace),
			HourlyRate:     e.money("FEE_HOURLY", policy.HourlyRate),
			DailyRate:      e.money("FEE_DAILY", policy.DailyRate),
			MinorDamagePct: e.money("FEE_MINOR_DAMAGE_PCT", policy.MinorDamagePct),
			MajorSurcharge: e.money("FEE_MAJOR_SURCHARGE", policy.MajorSurcharge),
			LostSurcharge:  e.money("FEE_LOST_SURCHARGE", policy.LostSurcharge),
		},
	}
	if err := e.err(); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("lending-server", flag.ContinueOnError)
	fs.StringVar(&c.Addr, "addr", c.Addr, "listen address")
	fs.StringVar(&c.DSN, "dsn", c.DSN, "PostgreSQL DSN (empty: in-memory store)")
	fs.StringVar(&c.JWTKey, "jwt-key", c.JWTKey, "HS256 signing key (required)")
	fs.StringVar(&c.TLSCert, "tls-cert", c.TLSCert, "TLS certificate (PEM)")
	fs.StringVar(&c.TLSKey, "tls-key", c.TLSKey, "TLS private key (PEM)")
	fs.BoolVar(&c.Dev, "dev", c.Dev, "enable server reflection (dev only)")
	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "token TTL issued by lendctl token")
	notifiers := fs.String("notifiers", strings.Join(c.Notifiers, ","), "notification backends: log,store,sns,kafka")
	fs.IntVar(&c.Rules.MaxActiveBorrows, "max-borrows", c.Rules.MaxActiveBorrows, "active borrow limit per user")
	fs.DurationVar(&c.Rules.LoanPeriod, "loan-period", c.Rules.LoanPeriod, "loan period")
	fs.DurationVar(&c.Rules.PickupWindow, "pickup-window", c.Rules.PickupWindow, "pickup deadline after a request")
	fs.DurationVar(&c.Rules.HoldWindow, "hold-window", c.Rules.HoldWindow, "hold on a promoted reservation")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	c.Notifiers = splitList(*notifiers)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks required settings and backend parameters.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTKey == "" {
		errs = append(errs, errors.New("missing jwt signing key (JWT_KEY or --jwt-key)"))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, errors.New("tls cert and key must be set together"))
	}
	for _, n := range c.Notifiers {
		switch n {
		case NotifierLog:
		case NotifierStore:
			if c.DSN == "" {
				errs = append(errs, errors.New("store notifier needs a database"))
			}
		case NotifierSNS:
			if c.SNSTopicARN == "" {
				errs = append(errs, errors.New("sns notifier needs SNS_TOPIC_ARN"))
			}
		case NotifierKafka:
			if len(c.KafkaBrokers) == 0 {
				errs = append(errs, errors.New("kafka notifier needs KAFKA_BROKERS"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown notifier %q", n))
		}
	}
	if c.Rules.MaxActiveBorrows <= 0 {
		errs = append(errs, errors.New("max borrows must be positive"))
	}
	if c.Rules.LoanPeriod <= 0 || c.Rules.PickupWindow <= 0 || c.Rules.HoldWindow <= 0 {
		errs = append(errs, errors.New("loan, pickup and hold periods must be positive"))
	}
	return errors.Join(errs...)
}

type envReader struct{ errs []error }

func (e *envReader) err() error { return errors.Join(e.errs...) }

func (e *envReader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (e *envReader) list(key string, def []string) []string {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	return splitList(v)
}

func (e *envReader) integer(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *envReader) boolean(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (e *envReader) money(key string, def decimal.Decimal) decimal.Decimal {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid amount %q", key, v))
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
