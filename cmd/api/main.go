package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"drivergen/internal/artifactstore"
	"drivergen/internal/config"
	"drivergen/internal/diagnose"
	"drivergen/internal/generate"
	"drivergen/internal/llm"
	"drivergen/internal/llmclient"
	"drivergen/internal/runstore"
	"drivergen/internal/runsvc"
	"drivergen/internal/sandbox"
	"drivergen/internal/sandbox/httpsandbox"
	"drivergen/internal/server"
	"drivergen/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Generation and diagnosis can run on different models; they share one
	// client when the configured ids match.
	var cli, diagCli llmclient.LLMClient
	if os.Getenv("GEMINI_API_KEY") == "" {
		log.Printf("GEMINI_API_KEY not set; using the deterministic fake LLM")
		cli = llm.NewFakeClient()
		diagCli = cli
	} else {
		gem, err := llm.NewGeminiClient(ctx, cfg.GeminiModel)
		if err != nil {
			log.Fatal(err)
		}
		cli = gem
		diagCli = cli
		if cfg.DiagnosisModel != cfg.GeminiModel {
			dgem, err := llm.NewGeminiClient(ctx, cfg.DiagnosisModel)
			if err != nil {
				log.Fatal(err)
			}
			diagCli = dgem
			defer diagCli.Close()
		}
	}
	defer cli.Close()

	var sb sandbox.Sandbox = sandbox.ValidateOnly{}
	if cfg.SandboxURL != "" {
		hs := httpsandbox.New(cfg.SandboxURL)
		if !hs.IsHealthy(ctx) {
			log.Printf("sandbox at %s not reachable yet", cfg.SandboxURL)
		}
		sb = hs
	}
	runner := sandbox.NewRunner(sb)
	runner.Timeout = cfg.SandboxTimeout

	loop := supervisor.New(
		generate.New(cli),
		runner,
		diagnose.New(llm.Chain(diagCli, llm.Retry(3, 500*time.Millisecond))),
	)

	store := runstore.NewFromEnv(cfg.RunStoreDir + "/runs.json")
	store.EnsureLoaded()
	defer store.Close()

	var archive runsvc.Archiver
	if cfg.Archive.Enabled {
		s3, err := artifactstore.NewS3Store(artifactstore.S3Config{
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			log.Printf("artifact archive disabled: %v", err)
		} else {
			archive = s3
		}
	}

	svc := runsvc.New(loop, store, archive, supervisor.Budgets{
		MaxSupervisorAttempts: cfg.MaxSupervisorAttempts,
		MaxLocalRetries:       cfg.MaxLocalRetries,
	})

	srv := server.New(cfg.Port, server.NewHandler(ctx, svc))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal(err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	svc.Wait()
}
