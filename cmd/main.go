package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sync"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// so that the in-cluster and kubeconfig paths can authenticate against
	// any of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"k8s.io/client-go/kubernetes"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/spotshield/taint-controller/internal/config"
	"github.com/spotshield/taint-controller/internal/health"
	"github.com/spotshield/taint-controller/internal/pipeline"
	"github.com/spotshield/taint-controller/internal/reconciler"
)

// Exit codes per spec §6: 0 normal shutdown, 1 configuration error, 2
// unrecoverable runtime error.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitRuntimeError = 2
)

var setupLog = ctrl.Log.WithName("setup")

type cliConfig struct {
	configFile string
	workers    int
}

func parseFlags(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("taint-controller", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var cfg cliConfig

	fs.StringVar(&cfg.configFile, "config-file", "", "path to the controller's TOML configuration file (required)")
	fs.IntVar(&cfg.workers, "workers", 0, "number of reconcile workers (default: logical CPU count)")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.configFile == "" {
		return cfg, errors.New("--config-file is required")
	}
	return cfg, nil
}

// The following are indirections over package-level functions so tests can
// substitute stand-ins without standing up a real cluster, following the
// teacher's own facade-injection pattern for cmd/main.go.
var (
	loadConfigFn    = config.Load
	getConfigFn     = ctrl.GetConfig
	newClientsetFn  = kubernetes.NewForConfig
	signalHandlerFn = ctrl.SetupSignalHandler
	exitFunc        = os.Exit
)

func run(args []string) int {
	cliCfg, err := parseFlags(args)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			setupLog.Error(err, "failed to parse flags")
		}
		return exitConfigError
	}

	cfg, err := loadConfigFn(cliCfg.configFile)
	if err != nil {
		setupLog.Error(err, "invalid configuration", "file", cliCfg.configFile)
		return exitConfigError
	}

	ctrl.SetLogger(zap.New(zap.Level(cfg.LogLevel)))
	setupLog.Info("starting taint-controller", "rules", len(cfg.Rules), "healthAddr", cfg.HealthAddr)

	restCfg, err := getConfigFn()
	if err != nil {
		setupLog.Error(err, "unable to get kubernetes configuration")
		return exitRuntimeError
	}

	clientset, err := newClientsetFn(restCfg)
	if err != nil {
		setupLog.Error(err, "unable to build kubernetes client")
		return exitRuntimeError
	}

	monitor := health.NewMonitor(health.DefaultThreshold)

	rec := &reconciler.Reconciler{
		Client:  clientset.CoreV1().Nodes(),
		Rules:   cfg.Rules,
		Managed: cfg.Managed,
	}

	pipe := pipeline.New(clientset, rec.Reconcile, pipeline.Options{
		Workers: cliCfg.workers,
		Health:  monitor,
	})
	rec.Nodes = pipe.Lister()

	healthSrv := health.Server(cfg.HealthAddr, monitor)
	ctx := signalHandlerFn()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pipe.Run(ctx, 0); err != nil {
			errCh <- fmt.Errorf("pipeline: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := health.Run(ctx, healthSrv); err != nil {
			errCh <- fmt.Errorf("health server: %w", err)
		}
	}()

	wg.Wait()
	close(errCh)

	var failed bool
	for runErr := range errCh {
		setupLog.Error(runErr, "component exited with error")
		failed = true
	}
	if failed {
		return exitRuntimeError
	}

	setupLog.Info("shutdown complete")
	return exitOK
}

func main() {
	exitFunc(run(os.Args[1:]))
}
