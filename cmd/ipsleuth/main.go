package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/facebookgo/flagenv"
	"github.com/ipsleuth/ipsleuth"
	"github.com/ipsleuth/ipsleuth/internal"
	"github.com/ipsleuth/ipsleuth/lib/fault"
	"github.com/ipsleuth/ipsleuth/lib/httpapi"
	"github.com/ipsleuth/ipsleuth/lib/pipeline"
	"github.com/ipsleuth/ipsleuth/lib/store"
	_ "github.com/ipsleuth/ipsleuth/lib/store/all"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	bearerToken  = flag.String("bearer-token", "", "if set, require this static bearer token on /query")
	bind         = flag.String("bind", ":8923", "network address to bind HTTP to in serve mode")
	cacheBackend = flag.String("cache-backend", "bbolt", fmt.Sprintf("challenge script cache backend, one of: %s", strings.Join(store.Backends(), ", ")))
	cachePath    = flag.String("cache-path", "", "database file path for the bbolt cache backend, defaults to the user cache directory")
	forceRefresh = flag.Bool("force-refresh", false, "bypass the challenge script cache for this lookup")
	healthcheck  = flag.Bool("healthcheck", false, "run a health check against a serving instance")
	hs512Secret  = flag.String("hs512-secret", "", "if set, also accept HS512-signed JWTs as bearer tokens on /query")
	metricsBind  = flag.String("metrics-bind", ":9090", "network address to bind metrics to in serve mode")
	serve        = flag.Bool("serve", false, "run the HTTP API instead of a one-shot lookup")
	serviceRoot  = flag.String("service-root", ipsleuth.DefaultServiceRoot, "base URL of the upstream identity service")
	slogLevel    = flag.String("slog-level", "INFO", "logging level (see https://pkg.go.dev/log/slog#hdr-Levels)")
	userAgent    = flag.String("user-agent", "", "browser identity to present, both on the wire and inside the sandbox")
	valkeyURL    = flag.String("valkey-url", "", "connection URL for the valkey cache backend")
	verbose      = flag.Bool("verbose", false, "log suppressed sandbox script errors and disarmed calls")
	versionFlag  = flag.Bool("version", false, "print version and exit")
)

func buildStore(ctx context.Context) (store.Interface, error) {
	fac, ok := store.Get(*cacheBackend)
	if !ok {
		return nil, fmt.Errorf("unknown cache backend %q, have: %s", *cacheBackend, strings.Join(store.Backends(), ", "))
	}

	var config json.RawMessage
	switch *cacheBackend {
	case "bbolt":
		path := *cachePath
		if path == "" {
			cacheDir, err := os.UserCacheDir()
			if err != nil {
				return nil, fmt.Errorf("can't determine a default cache path, set --cache-path: %w", err)
			}
			path = filepath.Join(cacheDir, "ipsleuth", "scripts.db")
			if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
				return nil, fmt.Errorf("can't create cache directory: %w", err)
			}
		}

		raw, err := json.Marshal(map[string]string{"path": path})
		if err != nil {
			return nil, err
		}
		config = raw
	case "valkey":
		raw, err := json.Marshal(map[string]string{"url": *valkeyURL})
		if err != nil {
			return nil, err
		}
		config = raw
	}

	if err := fac.Valid(config); err != nil {
		return nil, fmt.Errorf("cache backend %s misconfigured: %w", *cacheBackend, err)
	}

	return fac.Build(ctx, config)
}

func buildPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	root, err := url.Parse(*serviceRoot)
	if err != nil {
		return nil, fmt.Errorf("can't parse service root %q: %w", *serviceRoot, err)
	}

	st, err := buildStore(ctx)
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Options{
		Root:      root,
		Store:     st,
		UserAgent: *userAgent,
		Verbose:   *verbose,
	})
}

func doHealthCheck() error {
	resp, err := http.Get("http://localhost" + *metricsBind + "/metrics")
	if err != nil {
		return fmt.Errorf("failed to fetch metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// lookupOnce runs a single query and prints the record to stdout.
func lookupOnce(ctx context.Context, target string) int {
	p, err := buildPipeline(ctx)
	if err != nil {
		log.Printf("can't construct pipeline: %v", err)
		return 1
	}

	rec, err := p.Run(ctx, target, *forceRefresh)
	if err != nil {
		var ferr *fault.Error
		if errors.As(err, &ferr) {
			fmt.Fprintf(os.Stderr, "lookup failed: %s\n", ferr)
		} else {
			fmt.Fprintf(os.Stderr, "lookup failed: %v\n", err)
		}
		return 1
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		log.Printf("can't encode record: %v", err)
		return 1
	}

	fmt.Println(string(out))
	return 0
}

func serveAPI(ctx context.Context) {
	p, err := buildPipeline(ctx)
	if err != nil {
		log.Fatalf("can't construct pipeline: %v", err)
	}

	api := httpapi.New(httpapi.Options{
		Pipeline:    p,
		BearerToken: *bearerToken,
		HS512Secret: []byte(*hs512Secret),
	})

	wg := new(sync.WaitGroup)

	if *metricsBind != "" {
		wg.Add(1)
		go metricsServer(ctx, wg.Done)
	}

	srv := http.Server{Handler: api.Handler(), ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, err := net.Listen("tcp", *bind)
	if err != nil {
		log.Fatalf("failed to bind to %s: %v", *bind, err)
	}

	slog.Info("listening",
		"bind", *bind,
		"service-root", *serviceRoot,
		"cache-backend", *cacheBackend,
		"version", ipsleuth.Version,
	)

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	wg.Wait()
}

func metricsServer(ctx context.Context, done func()) {
	defer done()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := http.Server{Handler: mux, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, err := net.Listen("tcp", *metricsBind)
	if err != nil {
		log.Fatalf("failed to bind metrics to %s: %v", *metricsBind, err)
	}
	slog.Debug("listening for metrics", "bind", *metricsBind)

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func main() {
	flagenv.Parse()
	flag.Parse()

	if *versionFlag {
		fmt.Println("ipsleuth", ipsleuth.Version)
		return
	}

	internal.InitSlog(*slogLevel)

	if *healthcheck {
		if err := doHealthCheck(); err != nil {
			log.Fatal(err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *serve {
		serveAPI(ctx)
		return
	}

	// One-shot mode. An absent target asks the service about our own
	// address.
	os.Exit(lookupOnce(ctx, flag.Arg(0)))
}
