package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tilliq/classgate/internal/access"
	"github.com/tilliq/classgate/internal/api"
	"github.com/tilliq/classgate/internal/audit"
	"github.com/tilliq/classgate/internal/auth"
	"github.com/tilliq/classgate/internal/config"
	"github.com/tilliq/classgate/internal/datarouter"
	"github.com/tilliq/classgate/internal/db"
	"github.com/tilliq/classgate/internal/llm"
	"github.com/tilliq/classgate/internal/mcp"
	"github.com/tilliq/classgate/internal/relation"
	"github.com/tilliq/classgate/internal/safety"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "mcp":
		cmdMCP(os.Args[2:])
	case "verify":
		cmdVerify(os.Args[2:])
	case "seed":
		cmdSeed(os.Args[2:])
	case "token":
		cmdToken(os.Args[2:])
	case "version":
		fmt.Printf("classgate %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`classgate — assessment Q&A gateway with audited access control

Usage:
  classgate serve  [--config config.toml] [--addr :8080]
  classgate mcp    [--config config.toml]
  classgate verify [--config config.toml]
  classgate seed   [--config config.toml]
  classgate token  [--config config.toml] --user ID --role educator|admin --school ID
  classgate version
  classgate help

Commands:
  serve     Start the HTTP server
  mcp       Serve the gateway tools over MCP stdio
  verify    Verify checksums of archived audit segments
  seed      Load demo educator/student relationships
  token     Mint a signed bearer token
  version   Print version
  help      Show this help`)
}

// services is everything a transport needs, built once per process.
type services struct {
	cfg      *config.Config
	db       *db.DB
	auth     *auth.Auth
	guard    *access.Guard
	trail    *audit.Trail
	router   *datarouter.Router
	engine   *llm.Engine
	detector *safety.Detector
}

func buildServices(configPath string) (*services, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sinks := make([]audit.SinkOptions, 0, len(cfg.Audit.Sinks))
	for _, sc := range cfg.Audit.Sinks {
		sinks = append(sinks, audit.SinkOptions{
			Sink:        audit.NewHTTPSink(sc.Name, sc.URL, sc.Token),
			MaxAttempts: sc.MaxAttempts,
			RatePerSec:  sc.RatePerSec,
		})
	}
	trail, err := audit.Open(audit.Options{
		LogDir:          cfg.Audit.LogDir,
		ArchiveDir:      cfg.Audit.ArchiveDir,
		MaxSegmentBytes: cfg.Audit.MaxSegmentBytes(),
		RetainRaw:       cfg.Audit.RetainRaw,
		LocalEnabled:    cfg.Audit.Enabled,
		Sinks:           sinks,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("opening audit trail: %w", err)
	}

	var providers []llm.Provider
	if cfg.LLM.AnthropicAPIKey != "" {
		providers = append(providers, llm.NewAnthropicProvider(cfg.LLM.AnthropicAPIKey, cfg.LLM.Model))
	}
	if cfg.LLM.OpenAIAPIKey != "" {
		providers = append(providers, llm.NewOpenAIProvider(cfg.LLM.OpenAIAPIKey, cfg.LLM.OpenAIBaseURL, ""))
	}

	return &services{
		cfg:      cfg,
		db:       database,
		auth:     auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiryMin),
		guard:    access.NewGuard(relation.NewStore(database)),
		trail:    trail,
		router:   datarouter.New(cfg.Sources.Disabled, cfg.Sources.CSVPath, nil),
		engine:   llm.NewEngine(llm.New(providers)),
		detector: safety.NewDetector(cfg.Safety.Enabled),
	}, nil
}

func (s *services) close() {
	if err := s.trail.Close(); err != nil {
		slog.Error("closing audit trail", "error", err)
	}
	s.db.Close()
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	addr := fs.String("addr", "", "listen address (overrides config)")
	fs.Parse(args)

	svc, err := buildServices(*configPath)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer svc.close()

	if *addr != "" {
		svc.cfg.Server.Addr = *addr
	}

	apiHandler := api.New(svc.auth, svc.guard, svc.trail, svc.router, svc.engine, svc.detector, version)
	mux := http.NewServeMux()
	apiHandler.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              svc.cfg.Server.Addr,
		Handler:           api.SecurityHeaders(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("classgate listening",
		"version", version,
		"addr", svc.cfg.Server.Addr,
		"database", svc.cfg.Database.Path,
		"audit", svc.cfg.Audit.Enabled,
		"sinks", len(svc.cfg.Audit.Sinks))

	// The trail must flush and drain before exit, so the server shuts down
	// gracefully instead of dying mid-request.
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-done
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("shutdown", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

func cmdMCP(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	fs.Parse(args)

	svc, err := buildServices(*configPath)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer svc.close()

	// stdout carries the protocol; logs go to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	srv := mcp.NewServer(version, mcp.Deps{
		Auth:       svc.auth,
		Guard:      svc.guard,
		Trail:      svc.trail,
		Router:     svc.router,
		Engine:     svc.engine,
		Detector:   svc.detector,
		ArchiveDir: svc.cfg.Audit.ArchiveDir,
	})
	if err := mcp.ServeStdio(srv); err != nil {
		log.Fatalf("mcp server error: %v", err)
	}
}

func cmdVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	results, err := audit.VerifyArchives(cfg.Audit.ArchiveDir)
	if err != nil {
		log.Fatalf("verifying archives: %v", err)
	}
	if len(results) == 0 {
		fmt.Println("no archives found")
		return
	}

	failed := 0
	for _, r := range results {
		if r.OK {
			fmt.Printf("OK    %s\n", r.Archive)
		} else {
			failed++
			fmt.Printf("FAIL  %s: %v\n", r.Archive, r.Err)
		}
	}
	if failed > 0 {
		log.Fatalf("%d of %d archives failed verification", failed, len(results))
	}
	fmt.Printf("%d archives verified\n", len(results))
}

func cmdSeed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer database.Close()

	store := relation.NewStore(database)
	ctx := context.Background()

	educators := []relation.Assignment{
		{SubjectID: "educator_alice", ClassroomID: "classroom_c1", SchoolID: "school_s99"},
		{SubjectID: "educator_alice", ClassroomID: "classroom_c2", SchoolID: "school_s99"},
		{SubjectID: "educator_dana", ClassroomID: "classroom_c3", SchoolID: "school_s99"},
		{SubjectID: "educator_erin", ClassroomID: "classroom_c9", SchoolID: "school_s42"},
	}
	students := []relation.Assignment{
		{SubjectID: "student_s1", ClassroomID: "classroom_c1", SchoolID: "school_s99"},
		{SubjectID: "student_s2", ClassroomID: "classroom_c1", SchoolID: "school_s99"},
		{SubjectID: "student_s3", ClassroomID: "classroom_c2", SchoolID: "school_s99"},
		{SubjectID: "student_s50", ClassroomID: "classroom_c3", SchoolID: "school_s99"},
		{SubjectID: "student_s70", ClassroomID: "classroom_c9", SchoolID: "school_s42"},
	}
	for _, a := range educators {
		if err := store.SeedEducator(ctx, a); err != nil {
			log.Fatalf("seeding educator %s: %v", a.SubjectID, err)
		}
	}
	for _, a := range students {
		if err := store.SeedStudent(ctx, a); err != nil {
			log.Fatalf("seeding student %s: %v", a.SubjectID, err)
		}
	}
	fmt.Printf("seeded %d educator assignments, %d student enrollments into %s\n",
		len(educators), len(students), cfg.Database.Path)
}

func cmdToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	user := fs.String("user", "", "subject id")
	role := fs.String("role", "educator", "educator or admin")
	school := fs.String("school", "", "school id")
	fs.Parse(args)

	if *user == "" || *school == "" {
		log.Fatal("token: --user and --school are required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	a := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiryMin)
	token, err := a.GenerateToken(*user, *role, *school)
	if err != nil {
		log.Fatalf("generating token: %v", err)
	}
	fmt.Println(token)
}
