// Command gocred-probe drives one engine from a host loop and reports how long each
// acquisition takes.
//
// Run against the real endpoints:
//
//	GOCRED_API_KEY=... go run ./cmd/gocred-probe -kind password -email a@b.com -password pw
//
// Or against a local fake provider:
//
//	go run ./cmd/gocred-probe -fake -kind anonymous -runs 50
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"time"

	goCred "github.com/MrEthical07/goCred"
	"github.com/MrEthical07/goCred/jwt"
	"github.com/MrEthical07/goCred/metrics/export/prometheus"
	"github.com/MrEthical07/goCred/transport"
	"github.com/alicebob/miniredis/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
)

type options struct {
	kind         string
	apiKey       string
	email        string
	password     string
	token        string
	refresh      string
	clientID     string
	clientSecret string
	saFile       string
	uid          string

	runs       int
	tick       time.Duration
	deadline   time.Duration
	fake       bool
	persist    bool
	redisAddr  string
	storeKey   string
	logLevel   string
	dumpMetric bool
}

func main() {
	var o options
	flag.StringVar(&o.kind, "kind", "password", "credential kind: password|anonymous|legacy|id-token|access-token|custom-token|sa-access|sa-custom")
	flag.StringVar(&o.apiKey, "api-key", "", "web API key; defaults to GOCRED_API_KEY")
	flag.StringVar(&o.email, "email", "", "email for password sign-in")
	flag.StringVar(&o.password, "password", "", "password for password sign-in")
	flag.StringVar(&o.token, "token", "", "token for legacy, id-token, access-token and custom-token kinds")
	flag.StringVar(&o.refresh, "refresh", "", "refresh token for access-token kind")
	flag.StringVar(&o.clientID, "client-id", "", "OAuth2 client ID for access-token refresh")
	flag.StringVar(&o.clientSecret, "client-secret", "", "OAuth2 client secret for access-token refresh")
	flag.StringVar(&o.saFile, "sa-file", "", "service account key file for sa-* kinds")
	flag.StringVar(&o.uid, "uid", "", "custom token subject for sa-custom")
	flag.IntVar(&o.runs, "runs", 1, "number of acquisitions; runs after the first use Refresh")
	flag.DurationVar(&o.tick, "tick", 10*time.Millisecond, "host loop interval")
	flag.DurationVar(&o.deadline, "deadline", 60*time.Second, "per-acquisition deadline")
	flag.BoolVar(&o.fake, "fake", false, "serve every endpoint from a local fake provider")
	flag.BoolVar(&o.persist, "persist", false, "persist tokens to redis and restore before the first run")
	flag.StringVar(&o.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	flag.StringVar(&o.storeKey, "store-key", "probe", "token store key")
	flag.StringVar(&o.logLevel, "log-level", "warn", "log level: trace|debug|info|warn|error")
	flag.BoolVar(&o.dumpMetric, "metrics", false, "print Prometheus metrics before exiting")
	flag.Parse()

	if o.apiKey == "" {
		o.apiKey = os.Getenv("GOCRED_API_KEY")
	}
	if o.runs <= 0 || o.tick <= 0 || o.deadline <= 0 {
		fmt.Fprintln(os.Stderr, "runs, tick, and deadline must be > 0")
		os.Exit(2)
	}

	cred, err := credentialFor(o)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(o, cred); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(o options, cred goCred.Credential) error {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "gocred-probe",
		Level:  hclog.LevelFromString(o.logLevel),
		Output: os.Stderr,
	})

	topts := transport.Options{Logger: logger}
	if o.fake {
		srv := httptest.NewServer(fakeProvider())
		defer srv.Close()
		topts.Resolve = func(string) string { return srv.URL }
		if o.apiKey == "" {
			o.apiKey = "fake-key"
		}
		fmt.Printf("using fake provider at %s\n", srv.URL)
	}
	client := transport.NewHTTPClient(topts)

	cfg := goCred.DefaultConfig()
	cfg.APIKey = o.apiKey
	cfg.Timers.ReadySettle = 0
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	builder := goCred.New().
		WithConfig(cfg).
		WithLogger(logger).
		WithTransport(client)

	if o.persist {
		rdb, cleanup, err := openRedis(o.redisAddr)
		if err != nil {
			return err
		}
		defer cleanup()
		cfg.Store.Key = o.storeKey
		builder = builder.WithConfig(cfg).WithRedis(rdb)
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}()

	engine.SetCallback(func(ev *goCred.Event) {
		if ev.Err != nil {
			fmt.Printf("event state=%s code=%d message=%q\n", ev.State, ev.Code, ev.Message)
			return
		}
		fmt.Printf("event state=%s\n", ev.State)
	})

	bind := func() error { return engine.InitializeApp(cred) }
	if o.kind == "anonymous" {
		bind = func() error { return engine.SignUp("", "") }
	}
	if err := bind(); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if o.persist {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		restored, err := engine.Restore(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		fmt.Printf("restored=%v\n", restored)
	}

	latencies := make([]time.Duration, 0, o.runs)
	failures := 0
	start := time.Now()
	for i := 0; i < o.runs; i++ {
		if i > 0 {
			if err := engine.Refresh(); err != nil {
				return fmt.Errorf("refresh: %w", err)
			}
		}
		t0 := time.Now()
		out := drive(engine, client, o.tick, o.deadline)
		latencies = append(latencies, time.Since(t0))
		if out != goCred.TickReady {
			failures++
			fmt.Printf("run %d: %s (%v)\n", i, out, engine.LastError())
			if o.runs == 1 {
				break
			}
		}
	}
	total := time.Since(start)

	tok := engine.AppToken()
	fmt.Println("---- results ----")
	fmt.Printf("kind=%s authenticated=%v uid=%q type=%q ttl=%s token=%s\n",
		tok.Kind, tok.Authenticated, tok.UID, tok.TokenType, engine.TTL().Round(time.Second), redact(tok.AccessToken))
	printStats("acquire", computeStats(total, latencies, failures))

	if o.dumpMetric {
		fmt.Print(prometheus.NewPrometheusExporter(engine).Render())
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d acquisitions failed", failures, o.runs)
	}
	return nil
}

// drive runs the host loop until the engine settles or deadline passes.
func drive(engine *goCred.Engine, client *transport.HTTPClient, tick, deadline time.Duration) goCred.TickOutcome {
	stop := time.Now().Add(deadline)
	for time.Now().Before(stop) {
		client.Poll(true)
		switch out := engine.Tick(); out {
		case goCred.TickReady, goCred.TickError:
			return out
		}
		time.Sleep(tick)
	}
	return goCred.TickPending
}

func credentialFor(o options) (goCred.Credential, error) {
	switch o.kind {
	case "password":
		if o.email == "" || o.password == "" {
			return goCred.Credential{}, fmt.Errorf("-email and -password are required for kind %s", o.kind)
		}
		return goCred.UserPassword(o.email, o.password), nil
	case "anonymous":
		return goCred.Credential{}, nil
	case "legacy":
		return goCred.LegacyToken(o.token), nil
	case "id-token":
		return goCred.IDToken(o.token), nil
	case "access-token":
		return goCred.AccessToken(o.token, o.refresh, o.clientID, o.clientSecret, 0), nil
	case "custom-token":
		return goCred.CustomToken(o.token, 0), nil
	case "sa-access", "sa-custom":
		sa, err := loadServiceAccount(o.saFile)
		if err != nil {
			return goCred.Credential{}, err
		}
		if o.kind == "sa-access" {
			return goCred.ServiceAccountAccess(sa, 0), nil
		}
		sa.UID = o.uid
		return goCred.ServiceAccountCustom(sa, 0), nil
	default:
		return goCred.Credential{}, fmt.Errorf("unknown kind %q", o.kind)
	}
}

type serviceAccountFile struct {
	ClientEmail  string `json:"client_email"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ProjectID    string `json:"project_id"`
}

func loadServiceAccount(path string) (jwt.ServiceAccount, error) {
	if path == "" {
		return jwt.ServiceAccount{}, fmt.Errorf("-sa-file is required for service account kinds")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return jwt.ServiceAccount{}, err
	}
	var f serviceAccountFile
	if err := json.Unmarshal(data, &f); err != nil {
		return jwt.ServiceAccount{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return jwt.ServiceAccount{
		ClientEmail:  f.ClientEmail,
		PrivateKeyID: f.PrivateKeyID,
		PrivateKey:   []byte(f.PrivateKey),
		ProjectID:    f.ProjectID,
	}, nil
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// fakeProvider answers every wire endpoint with a fixed one-hour token.
func fakeProvider() http.Handler {
	mux := http.NewServeMux()
	idToken := func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{
			"idToken":      "fake-id-token",
			"refreshToken": "fake-refresh",
			"expiresIn":    "3600",
			"localId":      "fake-uid",
		})
	}
	mux.HandleFunc("/v1/accounts:signUp", idToken)
	mux.HandleFunc("/v1/accounts:signInWithPassword", idToken)
	mux.HandleFunc("/v1/accounts:signInWithCustomToken", idToken)
	mux.HandleFunc("/v1/accounts:sendOobCode", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"kind": "identitytoolkit#GetOobConfirmationCodeResponse"})
	})
	mux.HandleFunc("/v1/accounts:delete", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"kind": "identitytoolkit#DeleteAccountResponse"})
	})
	mux.HandleFunc("/v1/token", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{
			"id_token":      "fake-id-token",
			"refresh_token": "fake-refresh",
			"expires_in":    "3600",
			"user_id":       "fake-uid",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{
			"access_token": "fake-access-token",
			"expires_in":   "3599",
			"token_type":   "Bearer",
		})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func redact(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "..." + token[len(token)-4:]
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.1f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
