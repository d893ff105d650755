// =============================================================================
// bidflow 主入口
// =============================================================================
// 投标文件分析流水线的命令行入口
//
// 使用方法:
//
//	bidflow run doc1.txt doc2.md              # 新建工作流并执行全流程
//	bidflow run --config config.yaml doc.txt  # 指定配置文件
//	bidflow resume --workflow <id> --from answer_extraction
//	bidflow status --workflow <id>            # 查看工作流状态
//	bidflow teardown --workflow <id>          # 删除工作流全部数据
//	bidflow sweep                             # 执行一轮状态自修复扫描
//	bidflow sweep --daemon                    # 常驻自修复 + /metrics
//	bidflow health                            # 检查各协作方可用性
//	bidflow version                           # 显示版本信息
// =============================================================================
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/bidflow/config"
	"github.com/BaSui01/bidflow/extract"
	"github.com/BaSui01/bidflow/graph"
	"github.com/BaSui01/bidflow/internal/cache"
	"github.com/BaSui01/bidflow/internal/database"
	"github.com/BaSui01/bidflow/internal/metrics"
	"github.com/BaSui01/bidflow/llm"
	"github.com/BaSui01/bidflow/llm/embedding"
	"github.com/BaSui01/bidflow/rag"
	"github.com/BaSui01/bidflow/types"
	"github.com/BaSui01/bidflow/vectorstore"
	"github.com/BaSui01/bidflow/workflow"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runWorkflow(os.Args[2:])
	case "resume":
		resumeWorkflow(os.Args[2:])
	case "status":
		showStatus(os.Args[2:])
	case "teardown":
		teardownWorkflow(os.Args[2:])
	case "sweep":
		runSweep(os.Args[2:])
	case "health":
		runHealth(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// ▶️ run 命令
// =============================================================================

func runWorkflow(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	project := fs.String("project", "", "Project name recorded in the workflow context")
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "run requires at least one document path")
		os.Exit(1)
	}

	cfg, logger := mustBootstrap(*configPath)
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine, _, cleanup := mustBuildEngine(ctx, cfg, logger)
	defer cleanup()

	docs := make([]types.Document, 0, fs.NArg())
	for _, path := range fs.Args() {
		docs = append(docs, types.Document{
			Name:        filepath.Base(path),
			StoragePath: path,
		})
	}

	projectContext := types.JSONMap{}
	if *project != "" {
		projectContext["project"] = *project
	}

	wf, err := engine.Create(ctx, projectContext, docs)
	if err != nil {
		logger.Fatal("Failed to create workflow", zap.Error(err))
	}
	fmt.Printf("workflow %s created with %d document(s)\n", wf.ID, len(docs))

	if err := engine.Run(ctx, wf.ID); err != nil {
		logger.Error("Workflow failed", zap.String("workflow_id", wf.ID), zap.Error(err))
		printWorkflow(ctx, engine, wf.ID)
		os.Exit(1)
	}
	printWorkflow(ctx, engine, wf.ID)
}

// =============================================================================
// ⏯️ resume 命令
// =============================================================================

func resumeWorkflow(args []string) {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	workflowID := fs.String("workflow", "", "Workflow ID to resume")
	fromStep := fs.String("from", "", "Step name to resume from")
	fs.Parse(args)

	if *workflowID == "" || *fromStep == "" {
		fmt.Fprintln(os.Stderr, "resume requires --workflow and --from")
		os.Exit(1)
	}

	cfg, logger := mustBootstrap(*configPath)
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine, _, cleanup := mustBuildEngine(ctx, cfg, logger)
	defer cleanup()

	if err := engine.Resume(ctx, *workflowID, types.StepName(*fromStep)); err != nil {
		logger.Error("Resume failed", zap.String("workflow_id", *workflowID), zap.Error(err))
		os.Exit(1)
	}
	printWorkflow(ctx, engine, *workflowID)
}

// =============================================================================
// 📊 status 命令
// =============================================================================

func showStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	workflowID := fs.String("workflow", "", "Workflow ID")
	fs.Parse(args)

	if *workflowID == "" {
		fmt.Fprintln(os.Stderr, "status requires --workflow")
		os.Exit(1)
	}

	cfg, logger := mustBootstrap(*configPath)
	defer logger.Sync()

	ctx := context.Background()
	engine, _, cleanup := mustBuildEngine(ctx, cfg, logger)
	defer cleanup()

	printWorkflow(ctx, engine, *workflowID)
}

// =============================================================================
// 🗑️ teardown 命令
// =============================================================================

func teardownWorkflow(args []string) {
	fs := flag.NewFlagSet("teardown", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	workflowID := fs.String("workflow", "", "Workflow ID to tear down")
	fs.Parse(args)

	if *workflowID == "" {
		fmt.Fprintln(os.Stderr, "teardown requires --workflow")
		os.Exit(1)
	}

	cfg, logger := mustBootstrap(*configPath)
	defer logger.Sync()

	ctx := context.Background()
	engine, _, cleanup := mustBuildEngine(ctx, cfg, logger)
	defer cleanup()

	if err := engine.Teardown(ctx, *workflowID); err != nil {
		logger.Error("Teardown failed", zap.String("workflow_id", *workflowID), zap.Error(err))
		os.Exit(1)
	}
	fmt.Printf("workflow %s removed\n", *workflowID)
}

// =============================================================================
// 🩺 sweep 命令
// =============================================================================

func runSweep(args []string) {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	daemon := fs.Bool("daemon", false, "Keep sweeping on the configured interval")
	metricsAddr := fs.String("metrics-addr", ":9090", "Prometheus metrics listen address (daemon mode)")
	fs.Parse(args)

	cfg, logger := mustBootstrap(*configPath)
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_, svc, cleanup := mustBuildEngine(ctx, cfg, logger)
	defer cleanup()

	sweeper := workflow.NewSweeper(svc.Store, svc.Cache, svc.Metrics,
		cfg.Workflow.SweepInterval, cfg.Workflow.StalenessThreshold, logger)

	if !*daemon {
		repaired, err := sweeper.SweepOnce(ctx)
		if err != nil {
			logger.Fatal("Sweep failed", zap.Error(err))
		}
		fmt.Printf("repaired %d workflow(s)\n", repaired)
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		logger.Info("metrics endpoint listening", zap.String("addr", *metricsAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	sweeper.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

// =============================================================================
// 🏥 health 命令
// =============================================================================

func runHealth(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, logger := mustBootstrap(*configPath)
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	healthy := true

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		fmt.Printf("database: FAIL (%v)\n", err)
		healthy = false
	} else {
		pool, perr := database.NewPoolManager(db, cfg.Database, logger)
		if perr == nil {
			perr = pool.Ping(ctx)
		}
		if perr != nil {
			fmt.Printf("database: FAIL (%v)\n", perr)
			healthy = false
		} else {
			fmt.Println("database: OK")
			defer pool.Close()
		}
	}

	cacheMgr, err := cache.NewManager(cfg.Redis, logger)
	switch {
	case err != nil:
		fmt.Printf("cache: FAIL (%v)\n", err)
		healthy = false
	case !cfg.Redis.Enabled:
		fmt.Println("cache: disabled")
	default:
		if perr := cacheMgr.Ping(ctx); perr != nil {
			fmt.Printf("cache: FAIL (%v)\n", perr)
			healthy = false
		} else {
			fmt.Println("cache: OK")
		}
		defer cacheMgr.Close()
	}

	embedder := buildEmbedder(cfg.Embedding)
	pipeline, err := rag.NewPipeline(rag.ChunkingConfig{
		ChunkSize: cfg.Retrieval.ChunkSize,
		Overlap:   cfg.Retrieval.ChunkOverlap,
	}, embedder, nil, logger)
	if err != nil {
		fmt.Printf("vector store: FAIL (%v)\n", err)
		healthy = false
	} else {
		vector := vectorstore.NewTieredFromConfig(cfg.VectorStore, pipeline, embedder, logger)
		_ = vector.Init(ctx)
		stats, _ := vector.Stats(ctx)
		if stats.Initialized {
			fmt.Printf("vector store: OK (backend=%s)\n", stats.Backend)
		} else {
			fmt.Println("vector store: FAIL (no backend initialized)")
			healthy = false
		}
	}

	if !healthy {
		os.Exit(1)
	}
	fmt.Println("OK")
}

// =============================================================================
// 🔩 服务装配
// =============================================================================

// mustBootstrap 加载配置并初始化日志，失败直接退出
func mustBootstrap(configPath string) (*config.Config, *zap.Logger) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	logger.Info("Starting bidflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)
	return cfg, logger
}

// mustBuildEngine 装配全部协作方并创建引擎
func mustBuildEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*workflow.Engine, *workflow.Services, func()) {
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	store, err := database.NewStore(db, logger)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}

	cacheMgr, err := cache.NewManager(cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis not available, cache disabled", zap.Error(err))
		cacheMgr = cache.NewDisabled(logger)
	}

	embedder := buildEmbedder(cfg.Embedding)

	var counter rag.TokenCounter
	if tc, err := rag.NewTiktokenCounter(cfg.LLM.Model, logger); err == nil {
		counter = tc
	} else {
		logger.Warn("tiktoken encoding unavailable, using estimate counter", zap.Error(err))
		counter = rag.NewEstimateCounter()
	}

	pipeline, err := rag.NewPipeline(rag.ChunkingConfig{
		ChunkSize: cfg.Retrieval.ChunkSize,
		Overlap:   cfg.Retrieval.ChunkOverlap,
	}, embedder, counter, logger)
	if err != nil {
		logger.Fatal("Failed to build chunking pipeline", zap.Error(err))
	}

	vector := vectorstore.NewTieredFromConfig(cfg.VectorStore, pipeline, embedder, logger)
	if err := vector.Init(ctx); err != nil {
		logger.Fatal("Failed to initialize vector store", zap.Error(err))
	}

	var provider llm.Provider
	var extractor graph.Extractor
	if cfg.LLM.BaseURL != "" {
		provider = llm.NewHTTPProvider(llm.HTTPConfig{
			BaseURL:           cfg.LLM.BaseURL,
			APIKey:            cfg.LLM.APIKey,
			Model:             cfg.LLM.Model,
			Timeout:           cfg.LLM.Timeout,
			RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		})
		extractor = llm.NewExtractionClient(provider, logger)
	} else {
		logger.Warn("no LLM endpoint configured, rule-based fallbacks will be used")
	}

	graphIdx := graph.NewIndex(extractor, store, logger)

	svc := &workflow.Services{
		Store:     store,
		Cache:     cacheMgr,
		Vector:    vector,
		Graph:     graphIdx,
		Retriever: rag.NewCoordinator(vector, graphIdx, logger),
		Pipeline:  pipeline,
		Extractor: extract.NewPlainTextExtractor(),
		LLM:       provider,
		Metrics:   metrics.NewCollector("bidflow", logger),
		Config:    cfg,
		Logger:    logger,
	}

	engine, err := workflow.NewEngine(svc)
	if err != nil {
		logger.Fatal("Failed to build workflow engine", zap.Error(err))
	}

	cleanup := func() {
		if err := cacheMgr.Close(); err != nil {
			logger.Warn("cache close failed", zap.Error(err))
		}
	}
	return engine, svc, cleanup
}

// buildEmbedder 根据配置选择嵌入提供者
func buildEmbedder(cfg config.EmbeddingConfig) embedding.Provider {
	if cfg.Provider == "http" && cfg.BaseURL != "" {
		return embedding.NewHTTPProvider(embedding.HTTPConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
	}
	return embedding.NewLocalProvider(cfg.Dimensions)
}

// printWorkflow 输出工作流当前状态的 JSON 快照
func printWorkflow(ctx context.Context, engine *workflow.Engine, id string) {
	wf, err := engine.GetWorkflow(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load workflow: %v\n", err)
		return
	}
	data, _ := json.MarshalIndent(wf, "", "  ")
	fmt.Println(string(data))
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("bidflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`bidflow - Bid Document Analysis Pipeline

Usage:
  bidflow <command> [options]

Commands:
  run       Create a workflow from document files and run the full pipeline
  resume    Resume a workflow from a given step
  status    Show the current state of a workflow
  teardown  Delete a workflow and all of its data
  sweep     Repair inconsistent workflow states
  health    Check configured collaborators (database, cache, vector store)
  version   Show version information
  help      Show this help message

Options for 'run':
  --config <path>    Path to configuration file (YAML)
  --project <name>   Project name stored in the workflow context

Options for 'resume':
  --workflow <id>    Workflow ID
  --from <step>      Step name: document_ingestion, requirements_analysis,
                     clarification_questions, answer_extraction, response_compilation

Options for 'sweep':
  --daemon                 Keep sweeping on the configured interval
  --metrics-addr <addr>    Prometheus metrics listen address (daemon mode)

Examples:
  bidflow run tender.txt annex.md
  bidflow run --config /etc/bidflow/config.yaml --project harbor tender.txt
  bidflow resume --workflow 4f1c... --from answer_extraction
  bidflow sweep --daemon --metrics-addr :9090
  bidflow teardown --workflow 4f1c...`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
