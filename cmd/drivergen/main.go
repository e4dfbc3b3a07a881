package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"drivergen/internal/diagnose"
	"drivergen/internal/driver"
	"drivergen/internal/generate"
	"drivergen/internal/llm"
	"drivergen/internal/llmclient"
	"drivergen/internal/sandbox"
	"drivergen/internal/sandbox/httpsandbox"
	"drivergen/internal/supervisor"
)

func main() {
	prompt := flag.String("prompt", "", "natural-language description of the device to generate a driver for")
	target := flag.String("target", "driver.go", "artifact file name")
	pkg := flag.String("package", "driver", "required package name")
	entry := flag.String("entry", "Discover", "required exported entry function")
	model := flag.String("model", "gemini-2.0-flash", "Gemini model id")
	outDir := flag.String("out", "out", "output directory")
	maxCycles := flag.Int("max-cycles", supervisor.DefaultMaxSupervisorAttempts, "supervisor attempt budget")
	maxRetries := flag.Int("max-retries", generate.DefaultMaxLocalRetries, "local retry budget per cycle")
	useFake := flag.Bool("fake", false, "use the deterministic fake LLM (no API key needed)")
	flag.Parse()
	if *prompt == "" {
		log.Fatal("--prompt is required")
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal(err)
	}

	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli llmclient.LLMClient
	if *useFake {
		cli = llm.NewFakeClient()
	} else {
		if os.Getenv("GEMINI_API_KEY") == "" {
			log.Fatal("GEMINI_API_KEY is not set")
		}
		gem, err := llm.NewGeminiClient(ctx, *model)
		if err != nil {
			log.Fatal(err)
		}
		cli = gem
	}
	defer cli.Close()

	var sb sandbox.Sandbox = sandbox.ValidateOnly{}
	if url := os.Getenv("SANDBOX_URL"); url != "" {
		sb = httpsandbox.New(url)
	}

	// The diagnosis path absorbs transient overloads itself; the retry
	// middleware keeps a flaky diagnosis service from aborting runs.
	loop := supervisor.New(
		generate.New(cli),
		sandbox.NewRunner(sb),
		diagnose.New(llm.Chain(cli, llm.Retry(3, 500*time.Millisecond))),
	)
	loop.Hook = supervisor.HookFunc(func(_ context.Context, ev supervisor.Event) {
		log.Printf("[%s] cycle=%d %s", ev.Type, ev.Cycle, ev.Message)
	})

	req := driver.ArtifactRequest{
		Target: *target,
		Prompt: *prompt,
		Contract: driver.ContractSpec{
			PackageName:   *pkg,
			EntryFunction: *entry,
			ResultKind:    driver.ResultKindIdentifierList,
		},
	}

	res := loop.Run(ctx, req, supervisor.Budgets{
		MaxSupervisorAttempts: *maxCycles,
		MaxLocalRetries:       *maxRetries,
	})

	writeJSON(*outDir, "result.json", res)
	for _, a := range res.Artifacts {
		path := filepath.Join(*outDir, filepath.Base(a.Target))
		if err := os.WriteFile(path, []byte(a.Content), 0o644); err != nil {
			log.Printf("write %s: %v", path, err)
		}
	}

	fmt.Printf("outcome: %s (%d cycle(s), %d diagnosis/es)\n%s\n",
		res.Outcome, res.SupervisorAttempts, res.DiagnosesRun, res.Explanation)
	if !res.Success {
		os.Exit(1)
	}
}

func writeJSON(dir, name string, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Printf("marshal %s: %v", name, err)
		return
	}
	if err := os.WriteFile(filepath.Join(dir, name), b, 0o644); err != nil {
		log.Printf("write %s: %v", name, err)
	}
}
