package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/redis/go-redis/v9"
	gotel "go.opentelemetry.io/otel"
	"goa.design/clue/log"

	"github.com/wilhg/agentsim/pkg/adapters/embedding"
	_ "github.com/wilhg/agentsim/pkg/adapters/embedding/fake"
	_ "github.com/wilhg/agentsim/pkg/adapters/embedding/gemini"
	_ "github.com/wilhg/agentsim/pkg/adapters/embedding/openai"
	"github.com/wilhg/agentsim/pkg/adapters/llm"
	_ "github.com/wilhg/agentsim/pkg/adapters/llm/anthropic"
	_ "github.com/wilhg/agentsim/pkg/adapters/llm/fake"
	_ "github.com/wilhg/agentsim/pkg/adapters/llm/gemini"
	_ "github.com/wilhg/agentsim/pkg/adapters/llm/openai"
	"github.com/wilhg/agentsim/pkg/adapters/vectorstore"
	_ "github.com/wilhg/agentsim/pkg/adapters/vectorstore/chromadb"
	_ "github.com/wilhg/agentsim/pkg/adapters/vectorstore/chromem"
	"github.com/wilhg/agentsim/pkg/config"
	"github.com/wilhg/agentsim/pkg/eval"
	"github.com/wilhg/agentsim/pkg/memory"
	"github.com/wilhg/agentsim/pkg/memory/vector"
	otelsetup "github.com/wilhg/agentsim/pkg/otel"
	"github.com/wilhg/agentsim/pkg/prompt"
	"github.com/wilhg/agentsim/pkg/store"
	"github.com/wilhg/agentsim/pkg/store/entstore"
	"github.com/wilhg/agentsim/pkg/store/redislog"
	"github.com/wilhg/agentsim/pkg/telemetry"
	"github.com/wilhg/agentsim/pkg/tools"
	"github.com/wilhg/agentsim/pkg/tools/builtin"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "print version and exit")
		configPath  = flag.String("config", getEnv("AGENTSIM_CONFIG", ""), "path to a YAML config file")
		addr        = flag.String("addr", "", "http listen address (overrides config)")
		dbg         = flag.Bool("debug", false, "enable debug logs")
		traceStdout = flag.Bool("trace-stdout", false, "export traces to stdout")
		evalDir     = flag.String("eval", "", "run the workflow scenarios in this directory offline and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("agentsim %s (commit=%s, date=%s)\n", version, commit, date)
		return
	}

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbg {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	if *evalDir != "" {
		if !runEval(ctx, *evalDir) {
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf(ctx, err, "load config")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *traceStdout {
		cfg.TraceStdout = true
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatalf(ctx, err, "agentsim exited")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownOtel, err := otelsetup.Init(ctx, otelsetup.Config{ServiceVersion: version, UseStdout: cfg.TraceStdout})
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(sctx); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "otel shutdown"})
		}
	}()

	svc, closeSvc, err := newService(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSvc()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           buildMux(ctx, svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()
	go func() {
		log.Print(ctx, log.KV{K: "msg", V: "listening"}, log.KV{K: "addr", V: cfg.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	reason := <-errc
	log.Print(ctx, log.KV{K: "msg", V: "shutting down"}, log.KV{K: "reason", V: reason.Error()})
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	// Drain queued conversation writes before the stores close.
	if err := svc.memory.Flush(sctx); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "flush conversation writes"})
	}
	return nil
}

// newService builds every dependency named by cfg. The returned func closes
// them in reverse order.
func newService(ctx context.Context, cfg config.Config) (*service, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*service, func(), error) {
		closeAll()
		return nil, nil, err
	}

	db, err := entstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fail(fmt.Errorf("open database: %w", err))
	}
	closers = append(closers, func() { _ = db.Close() })
	if err := db.Migrate(ctx); err != nil {
		return fail(fmt.Errorf("migrate: %w", err))
	}

	var convLog store.ConversationLog = db
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		closers = append(closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("connect to redis: %w", err))
		}
		convLog = redislog.New(rdb, redislog.WithMaxLen(int64(cfg.Memory.BufferLimit)))
	}

	newEmbedder, ok := embedding.Resolve(cfg.Embedder.Name)
	if !ok {
		return fail(fmt.Errorf("unknown embedder %q (registered: %s)", cfg.Embedder.Name, registered(embedding.Range)))
	}
	embedder, err := newEmbedder(ctx, cfg.Embedder.Options)
	if err != nil {
		return fail(fmt.Errorf("embedder %s: %w", cfg.Embedder.Name, err))
	}
	if cfg.Memory.EmbedRPS > 0 {
		embedder = embedding.WithRateLimit(embedder, cfg.Memory.EmbedRPS, cfg.Memory.EmbedBurst)
	}

	newIndex, ok := vectorstore.Resolve(cfg.VectorIndex.Name)
	if !ok {
		return fail(fmt.Errorf("unknown vector index %q (registered: %s)", cfg.VectorIndex.Name, registered(vectorstore.Range)))
	}
	index, err := newIndex(ctx, cfg.VectorIndex.Options)
	if err != nil {
		return fail(fmt.Errorf("vector index %s: %w", cfg.VectorIndex.Name, err))
	}

	vs, err := vector.New(db,
		vector.WithEmbedder(embedder),
		vector.WithIndex(index),
		vector.WithQueryCache(cfg.Memory.QueryCacheEntries),
	)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, vs.Close)

	mgr, err := memory.NewManager(vs,
		memory.WithConversationLog(convLog),
		memory.WithBufferLimit(cfg.Memory.BufferLimit),
		memory.WithHistoryLimit(cfg.Memory.HistoryLimit),
	)
	if err != nil {
		return fail(err)
	}

	newModel, ok := llm.Resolve(cfg.LLM.Name)
	if !ok {
		return fail(fmt.Errorf("unknown llm %q (registered: %s)", cfg.LLM.Name, registered(llm.Range)))
	}
	model, err := newModel(ctx, cfg.LLM.Options)
	if err != nil {
		return fail(fmt.Errorf("llm %s: %w", cfg.LLM.Name, err))
	}

	reg := tools.NewRegistry()
	for _, t := range []tools.Tool{builtin.HTTPGet{}, builtin.MemorySearch{Memories: vs}} {
		if err := reg.Register(t); err != nil {
			return fail(err)
		}
	}
	for _, s := range cfg.Tools.MCPServers {
		session, err := tools.ConnectMCP(ctx, &mcp.StreamableClientTransport{Endpoint: s.URL})
		if err != nil {
			return fail(fmt.Errorf("mcp %s: %w", s.URL, err))
		}
		closers = append(closers, func() { _ = session.Close() })
		names, err := tools.RegisterMCPTools(ctx, reg, session, s.Prefix)
		if err != nil {
			return fail(fmt.Errorf("mcp %s: %w", s.URL, err))
		}
		log.Info(ctx, log.KV{K: "msg", V: "registered mcp tools"}, log.KV{K: "url", V: s.URL}, log.KV{K: "count", V: len(names)})
	}

	metrics, err := telemetry.NewMetrics(gotel.GetMeterProvider())
	if err != nil {
		return fail(err)
	}

	svc := &service{
		workflow:     cfg.Workflow,
		contextLimit: cfg.Memory.ContextLimit,
		vectors:      vs,
		memory:       mgr,
		model:        model,
		registry:     reg,
		executor:     tools.NewExecutor(reg, tools.WithPermissions(cfg.Tools.Permissions...)),
		permissions:  cfg.Tools.Permissions,
		prompts:      prompt.NewDefaultStore(),
		tracer:       telemetry.NewTracer(gotel.GetTracerProvider()),
		metrics:      metrics,
		serveMCP:     cfg.Tools.ServeMCP,
	}
	return svc, closeAll, nil
}

// registered lists the provider names of an adapter registry.
func registered[F any](rangeFn func(func(name string, f F))) string {
	var names []string
	rangeFn(func(name string, _ F) { names = append(names, name) })
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// runEval scores the scenarios in dir and reports whether all passed.
func runEval(ctx context.Context, dir string) bool {
	rep, err := eval.EvaluateScenarios(ctx, os.DirFS(dir), ".", prompt.NewDefaultStore())
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "eval failed"}, log.KV{K: "dir", V: dir})
		return false
	}
	for _, d := range rep.Details {
		log.Warn(ctx, log.KV{K: "msg", V: "scenario failed"}, log.KV{K: "detail", V: d})
	}
	log.Print(ctx, log.KV{K: "msg", V: "eval done"}, log.KV{K: "passed", V: rep.Passed},
		log.KV{K: "total", V: rep.Total}, log.KV{K: "score", V: rep.Score})
	return rep.Passed == rep.Total
}

func getEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
