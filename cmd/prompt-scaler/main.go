// Command prompt-scaler runs a chat or OCR batch over a JSONL/CSV input
// file and writes a JSONL/CSV output file, or serves the same two
// operations over MCP (see server.CreateServer). Grounded on the
// teacher's cmd/academic-mcp-local-server/main.go: a small main that
// builds a logger, builds the server, and runs it ("serve"); generalized
// here with "chat" and "ocr" modes that run the work queue directly
// against files instead of only ever serving MCP requests.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/elevatelaw/prompt-scaler/internal/chatpipeline"
	"github.com/elevatelaw/prompt-scaler/internal/config"
	"github.com/elevatelaw/prompt-scaler/internal/counter"
	"github.com/elevatelaw/prompt-scaler/internal/logger"
	"github.com/elevatelaw/prompt-scaler/internal/modelinfo"
	"github.com/elevatelaw/prompt-scaler/internal/ocrpipeline"
	"github.com/elevatelaw/prompt-scaler/internal/pageiter"
	"github.com/elevatelaw/prompt-scaler/internal/queue"
	"github.com/elevatelaw/prompt-scaler/internal/ratelimit"
	"github.com/elevatelaw/prompt-scaler/internal/records"
	"github.com/elevatelaw/prompt-scaler/internal/schema"
	"github.com/elevatelaw/prompt-scaler/internal/work"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/elevatelaw/prompt-scaler/server"
)

func main() {
	log, err := logger.NewLogger(logger.LogConfig{})
	if err != nil {
		panic(err)
	}

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: prompt-scaler <chat|ocr|serve> -job <job.toml> [-input path] [-output path]")
		os.Exit(2)
	}
	mode := os.Args[1]
	rest := os.Args[2:]

	var err2 error
	switch mode {
	case "serve":
		err2 = runServe(log)
	case "chat":
		err2 = runChat(rest, log)
	case "ocr":
		err2 = runOCR(rest, log)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", mode)
		os.Exit(2)
	}
	if err2 != nil {
		log.Fatal("prompt-scaler: %v", err2)
	}
}

func runServe(log logger.Logger) error {
	log.Info("Starting prompt-scaler MCP server")
	srv := server.CreateServer(log)
	return srv.Run(context.Background(), &mcp.StdioTransport{})
}

func parseJobFlags(args []string) (jobPath, input, output string, err error) {
	fs := flag.NewFlagSet("job", flag.ContinueOnError)
	fs.StringVar(&jobPath, "job", "", "path to the job config (JSON or TOML)")
	fs.StringVar(&input, "input", "", "overrides job.Input when set")
	fs.StringVar(&output, "output", "", "overrides job.Output when set")
	if err := fs.Parse(args); err != nil {
		return "", "", "", err
	}
	if jobPath == "" {
		return "", "", "", fmt.Errorf("-job is required")
	}
	return jobPath, input, output, nil
}

func loadJob(jobPath, inputOverride, outputOverride string) (config.JobConfig, error) {
	var job config.JobConfig
	if err := records.ReadJSONOrTOML(jobPath, &job); err != nil {
		return job, err
	}
	if inputOverride != "" {
		job.Input = inputOverride
	}
	if outputOverride != "" {
		job.Output = outputOverride
	}
	return job, nil
}

func runChat(args []string, log logger.Logger) error {
	jobPath, inputOverride, outputOverride, err := parseJobFlags(args)
	if err != nil {
		return err
	}
	job, err := loadJob(jobPath, inputOverride, outputOverride)
	if err != nil {
		return err
	}

	env := config.FromEnv()
	env.Driver = job.Driver
	env.Model = job.Model

	driver, err := env.BuildDriver(context.Background())
	if err != nil {
		return fmt.Errorf("building driver: %w", err)
	}

	sch := schema.ExternalFile(job.SchemaFile)
	compiled, err := schema.Compile(sch)
	if err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}

	if job.Prompt == nil {
		return fmt.Errorf("job config is missing a prompt template")
	}

	var limiter *ratelimit.Limiter
	if job.RateLimit != "" {
		rl, err := ratelimit.Parse(job.RateLimit)
		if err != nil {
			return fmt.Errorf("parsing rate_limit: %w", err)
		}
		limiter = ratelimit.New(rl)
	}

	cache := modelinfo.New()
	modelInfo, _, err := cache.Lookup(job.Model)
	if err != nil {
		log.Warn("model-info lookup failed for %s, proceeding without it: %v", job.Model, err)
	}

	pipeline := &chatpipeline.Pipeline{
		Template:  job.Prompt,
		Model:     job.Model,
		Driver:    driver,
		ModelInfo: modelInfo,
		Schema:    sch,
		Compiled:  compiled,
		Limiter:   limiter,
		Log:       log,
	}

	n := job.Concurrency
	if n < 1 {
		n = 1
	}
	q, handle := queue.New(n, pipeline.Process, log)
	defer q.Close()

	guard := counter.NewGuard(job.AllowedFailureRate)

	readNext, _, err := records.ReadJSONLOrCSV(job.Input)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}

	inputs := make(chan work.WorkInput[chatpipeline.ChatInput])
	go func() {
		defer close(inputs)
		for {
			obj, ok, err := readNext()
			if err != nil {
				log.Error("reading chat input record: %v", err)
				return
			}
			if !ok {
				return
			}
			in, id, passthrough := chatInputFromRecord(obj)
			inputs <- work.WorkInput[chatpipeline.ChatInput]{ID: id, Data: chatpipeline.ChatInput{
				SkipProcessing:  in.SkipProcessing,
				PassthroughData: passthrough,
				Bindings:        in.Bindings,
			}}
		}
	}()

	outs := handle.ProcessStream(context.Background(), inputs, queue.StreamOpts{})
	if err := records.WriteOutput(job.Output, job.OutputCSV, chatOutputWriter(outs, guard)); err != nil {
		return err
	}
	if err := guard.Check(); err != nil {
		return err
	}
	log.Info("%s", guard.Summary())
	return nil
}

// chatInputFromRecord separates the record's control fields from the
// remaining keys, which become template bindings (§6.2).
func chatInputFromRecord(obj map[string]any) (in struct {
	SkipProcessing bool
	Bindings       map[string]any
}, id json.RawMessage, passthrough json.RawMessage) {
	bindings := make(map[string]any, len(obj))
	for k, v := range obj {
		switch k {
		case "id":
			id, _ = json.Marshal(v)
		case "skip_processing":
			if b, ok := v.(bool); ok {
				in.SkipProcessing = b
			}
		case "passthrough_data":
			passthrough, _ = json.Marshal(v)
		default:
			bindings[k] = v
		}
	}
	in.Bindings = bindings
	return in, id, passthrough
}

func chatOutputWriter(outs <-chan work.WorkOutput[chatpipeline.ChatOutput], guard *counter.Guard) func() (map[string]any, bool) {
	return func() (map[string]any, bool) {
		out, ok := <-outs
		if !ok {
			return nil, false
		}
		counter.Observe(guard, out)
		rec := map[string]any{
			"id":     rawMessageOrNull(out.ID),
			"status": string(out.Status),
			"errors": out.Errors,
		}
		if out.EstimatedCost != nil {
			rec["estimated_cost"] = *out.EstimatedCost
		}
		if out.TokenUsage != nil {
			rec["token_usage"] = map[string]any{
				"prompt_tokens":     out.TokenUsage.PromptTokens,
				"completion_tokens": out.TokenUsage.CompletionTokens,
			}
		}
		if len(out.Data.Response) > 0 {
			var v any
			if err := json.Unmarshal(out.Data.Response, &v); err == nil {
				rec["response"] = v
			}
		}
		if len(out.PassthroughData) > 0 {
			var v any
			if err := json.Unmarshal(out.PassthroughData, &v); err == nil {
				rec["passthrough_data"] = v
			}
		}
		return rec, true
	}
}

func runOCR(args []string, log logger.Logger) error {
	jobPath, inputOverride, outputOverride, err := parseJobFlags(args)
	if err != nil {
		return err
	}
	job, err := loadJob(jobPath, inputOverride, outputOverride)
	if err != nil {
		return err
	}

	env := config.FromEnv()

	engine := &ocrpipeline.PdftotextEngine{}

	pipeline := &ocrpipeline.Pipeline{
		Engine:      engine,
		Concurrency: job.Concurrency,
		PageIterOpts: pageiter.Options{
			Rasterize: job.Rasterize,
			DPI:       job.DPI,
			MaxPages:  job.MaxPages,
		},
		UsePageBreaks:  job.UsePageBreaks,
		EnableAnalysis: env.ExperimentalOCRAnalysis,
		Log:            log,
	}

	n := job.Concurrency
	if n < 1 {
		n = 1
	}
	q, handle := queue.New(n, pipeline.Process, log)
	defer q.Close()

	guard := counter.NewGuard(job.AllowedFailureRate)

	readNext, _, err := records.ReadJSONLOrCSV(job.Input)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}

	inputs := make(chan work.WorkInput[ocrpipeline.OcrInput])
	go func() {
		defer close(inputs)
		for {
			obj, ok, err := readNext()
			if err != nil {
				log.Error("reading OCR input record: %v", err)
				return
			}
			if !ok {
				return
			}
			var id json.RawMessage
			if v, ok := obj["id"]; ok {
				id, _ = json.Marshal(v)
			}
			path, _ := obj["path"].(string)
			password, _ := obj["password"].(string)
			inputs <- work.WorkInput[ocrpipeline.OcrInput]{ID: id, Data: ocrpipeline.OcrInput{Path: path, Password: password}}
		}
	}()

	outs := handle.ProcessStream(context.Background(), inputs, queue.StreamOpts{})
	err = records.WriteOutput(job.Output, job.OutputCSV, ocrOutputWriter(outs, guard, job.OutputCSV))
	if err != nil {
		return err
	}
	if err := guard.Check(); err != nil {
		return err
	}
	log.Info("%s", guard.Summary())
	return nil
}

func ocrOutputWriter(outs <-chan work.WorkOutput[ocrpipeline.OcrOutput], guard *counter.Guard, asCSV bool) func() (map[string]any, bool) {
	return func() (map[string]any, bool) {
		out, ok := <-outs
		if !ok {
			return nil, false
		}
		counter.Observe(guard, out)
		if asCSV {
			errs := ""
			for i, e := range out.Errors {
				if i > 0 {
					errs += "\n\n"
				}
				errs += e
			}
			return map[string]any{
				"id":     rawMessageOrNull(out.ID),
				"status": string(out.Status),
				"errors": errs,
				"path":   out.Data.Path,
				"text":   out.Data.Text,
			}, true
		}
		rec := map[string]any{
			"id":         rawMessageOrNull(out.ID),
			"status":     string(out.Status),
			"errors":     out.Errors,
			"path":       out.Data.Path,
			"text":       out.Data.Text,
			"page_count": out.Data.PageCount,
		}
		if out.Data.Analysis != nil {
			rec["analysis"] = out.Data.Analysis
		}
		return rec, true
	}
}

func rawMessageOrNull(id json.RawMessage) any {
	if len(id) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(id, &v); err != nil {
		return string(id)
	}
	return v
}
