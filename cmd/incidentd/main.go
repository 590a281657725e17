// Command incidentd is the incident-core process entrypoint: it loads
// configuration and wires every component (EventBus, breakers, approval
// registry, gate, LLM client, backend adapters, executor, coordinator,
// notifier, metrics), starts the metrics scrape listener, and runs until
// SIGINT/SIGTERM. Alert ingestion is a Go API concern (Coordinator.Handle)
// exercised by the embedding caller, not a surface this binary listens on.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclientset "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/oncallops/incident-core/internal/config"
	"github.com/oncallops/incident-core/pkg/adapters/documentation"
	kubeadapter "github.com/oncallops/incident-core/pkg/adapters/kubernetes"
	"github.com/oncallops/incident-core/pkg/adapters/observability"
	"github.com/oncallops/incident-core/pkg/adapters/pager"
	"github.com/oncallops/incident-core/pkg/adapters/sourcehosting"
	"github.com/oncallops/incident-core/pkg/adapters"
	"github.com/oncallops/incident-core/pkg/approval"
	"github.com/oncallops/incident-core/pkg/circuitbreaker"
	"github.com/oncallops/incident-core/pkg/coordinator"
	"github.com/oncallops/incident-core/pkg/eventbus"
	"github.com/oncallops/incident-core/pkg/executor"
	"github.com/oncallops/incident-core/pkg/gate"
	"github.com/oncallops/incident-core/pkg/gate/policy"
	"github.com/oncallops/incident-core/pkg/llm"
	"github.com/oncallops/incident-core/pkg/metrics"
	"github.com/oncallops/incident-core/pkg/notifier"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "incidentd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the incidentd config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger(cfg.Logging)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := eventbus.New(log, 0, 0)

	executionBreaker := circuitbreaker.New("executor", cfg.CircuitBreaker, bus)
	llmBreaker := circuitbreaker.New("llm", cfg.CircuitBreaker, bus)

	store, err := buildApprovalStore(cfg.Approval)
	if err != nil {
		return fmt.Errorf("build approval store: %w", err)
	}
	registry := approval.New(store, bus, cfg.Approval.RetentionDuration())
	registry.StartSweeper(ctx, time.Hour)

	policyEvaluator := policy.NewEvaluator(policy.Config{PolicyPath: cfg.Operating.GatePolicyPath}, log)
	if err := policyEvaluator.StartHotReload(ctx); err != nil {
		return fmt.Errorf("load gate policy: %w", err)
	}
	commandGate := gate.New(registry, cfg.Approval.TimeoutDuration(), policyEvaluator)

	llmClient, err := llm.New(cfg.LLM, resolveSecret(cfg.LLM.APIKeyCredentialHandle), llmBreaker)
	if err != nil {
		return fmt.Errorf("build LLM client: %w", err)
	}

	backends, err := buildAdapters(cfg.Adapters, log)
	if err != nil {
		return fmt.Errorf("build adapters: %w", err)
	}

	exec := executor.New(backends, commandGate, executionBreaker, bus, cfg.Executor)

	// coord is the process's sole Go API surface (Coordinator.Handle, §6).
	// This binary wires it and holds it ready; an embedding caller invokes
	// Handle directly rather than through any listener this process opens.
	coord := coordinator.New(coordinator.Config{
		Bus:                bus,
		Adapters:           backends,
		GatherDeadline:     cfg.ContextGather.DeadlineDuration(),
		LLM:                llmClient,
		LLMTimeout:         cfg.LLM.TimeoutDuration(),
		LLMMaxTokens:       cfg.LLM.MaxTokens,
		Executor:           exec,
		DestructiveEnabled: cfg.Operating.DestructiveEnabled,
		Log:                log,
	})
	_ = coord

	if cfg.Notifier.Enabled {
		n, err := notifier.New(notifier.Config{
			Token:   resolveSecret(cfg.Notifier.CredentialHandle),
			Channel: cfg.Notifier.Channel,
		}, bus, log)
		if err != nil {
			return fmt.Errorf("build notifier: %w", err)
		}
		go n.Run(ctx)
	}

	metricsServer := metrics.NewServer(cfg.Metrics.Port, log)
	metricsServer.StartAsync()

	log.WithField("mode", cfg.Operating.Mode).Info("incidentd started")
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("metrics server shutdown error")
	}
	return nil
}

// resolveSecret treats a CredentialHandle as the name of an environment
// variable holding the actual secret, so config files never carry
// plaintext credentials. An empty handle resolves to "".
func resolveSecret(handle string) string {
	if handle == "" {
		return ""
	}
	return os.Getenv(handle)
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Format == "text" {
		log.SetFormatter(&logrus.TextFormatter{})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

func buildApprovalStore(cfg config.ApprovalConfig) (approval.Store, error) {
	if cfg.RedisAddress == "" {
		return approval.NewMemoryStore(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
	return approval.NewRedisStore(client, cfg.RedisKeyPrefix), nil
}

func buildAdapters(cfg config.AdaptersConfig, log *logrus.Logger) (map[string]adapters.BackendAdapter, error) {
	backends := make(map[string]adapters.BackendAdapter)

	if cfg.Kubernetes.Enabled {
		restCfg, err := buildKubernetesRestConfig(cfg.Kubernetes.Kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("kubernetes: %w", err)
		}
		clientset, err := kubernetes.NewForConfig(restCfg)
		if err != nil {
			return nil, fmt.Errorf("kubernetes: %w", err)
		}
		// A metrics.k8s.io clientset that cannot be built from restCfg
		// degrades to nil (not a fatal error), and the adapter then reports
		// metrics_unavailable for the "metrics" context kind. NewForConfig
		// does not contact the cluster, so a metrics-server that is down
		// surfaces later as a FetchContext error.
		metricsCS, err := metricsclientset.NewForConfig(restCfg)
		if err != nil {
			log.WithError(err).Warn("metrics clientset unavailable, \"metrics\" context kind will degrade")
			metricsCS = nil
		}
		backends["kubernetes"] = kubeadapter.New(kubeadapter.Config{
			Clientset:           clientset,
			MetricsClientset:    metricsCS,
			MCPCommand:          cfg.Kubernetes.MCPCommand,
			MCPArgs:             cfg.Kubernetes.MCPArgs,
			CLIBinary:           cfg.Kubernetes.CLIBinary,
			DestructiveDisabled: cfg.Kubernetes.DestructiveDisabled,
		})
	}

	if cfg.SourceHosting.Enabled {
		adapter, err := sourcehosting.New(sourcehosting.Config{
			Owner:   cfg.SourceHosting.Owner,
			Repo:    cfg.SourceHosting.Repo,
			Token:   resolveSecret(cfg.SourceHosting.TokenCredentialHandle),
			BaseURL: cfg.SourceHosting.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("sourcehosting: %w", err)
		}
		backends["sourcehosting"] = adapter
	}

	if cfg.Observability.Enabled {
		adapter, err := observability.New(observability.Config{
			PrometheusAddress: cfg.Observability.PrometheusAddress,
			GrafanaBaseURL:    cfg.Observability.GrafanaBaseURL,
			GrafanaAPIKey:     resolveSecret(cfg.Observability.GrafanaAPIKeyCredentialHandle),
		})
		if err != nil {
			return nil, fmt.Errorf("observability: %w", err)
		}
		backends["observability"] = adapter
	}

	if cfg.Documentation.Enabled {
		timeout := time.Duration(cfg.Documentation.TimeoutSeconds) * time.Second
		backends["documentation"] = documentation.New(documentation.Config{
			BaseURL:  cfg.Documentation.BaseURL,
			APIToken: resolveSecret(cfg.Documentation.APITokenCredentialHandle),
			Timeout:  timeout,
			Log:      log,
		})
	}

	if cfg.Pager.Enabled {
		adapter, err := pager.New(pager.Config{
			RoutingKey: resolveSecret(cfg.Pager.RoutingKeyCredentialHandle),
			APIToken:   resolveSecret(cfg.Pager.APITokenCredentialHandle),
			ClientName: cfg.Pager.ClientName,
		})
		if err != nil {
			return nil, fmt.Errorf("pager: %w", err)
		}
		backends["pager"] = adapter
	}

	return backends, nil
}

// buildKubernetesRestConfig loads an out-of-cluster config from kubeconfig
// when a path is given, falling back to the in-cluster config (the shape
// every pod running inside Kubernetes gets for free). Both the core
// clientset and the metrics.k8s.io clientset are built from this same
// rest.Config.
func buildKubernetesRestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	return rest.InClusterConfig()
}
