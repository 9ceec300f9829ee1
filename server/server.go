// Package server exposes the chat and OCR batch pipelines as MCP tools,
// replacing the teacher's per-document PDF resource-template server
// (SPEC_FULL.md DOMAIN STACK, `modelcontextprotocol/go-sdk` row). Grounded
// on the teacher's server/server.go: one mcp.NewServer, tools registered
// via mcp.AddTool against a typed query/response pair.
package server

import (
	"context"
	"encoding/json"
	"fmt"

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
)

// CreateServer builds the MCP server and registers the chat_batch and
// ocr_batch tools.
func CreateServer(log logger.Logger) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "prompt-scaler", Version: "v0.1.0"}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "chat_batch",
		Description: "Run a bounded-concurrency chat-completion batch over a JSONL/CSV input file, writing a JSONL/CSV output file.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, query ChatBatchQuery) (*mcp.CallToolResult, *BatchResponse, error) {
		return ChatBatchToolHandler(ctx, req, query, log)
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ocr_batch",
		Description: "Run a bounded-concurrency OCR batch over a JSONL/CSV input file of document paths, writing a JSONL/CSV output file.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, query OcrBatchQuery) (*mcp.CallToolResult, *BatchResponse, error) {
		return OcrBatchToolHandler(ctx, req, query, log)
	})

	return srv
}

// ChatBatchQuery is the chat_batch tool's input: a job config document
// (same shape cmd/prompt-scaler reads via -job) plus input/output path
// overrides.
type ChatBatchQuery struct {
	JobPath string `json:"job_path"`
	Input   string `json:"input,omitempty"`
	Output  string `json:"output,omitempty"`
}

// OcrBatchQuery is the ocr_batch tool's input.
type OcrBatchQuery struct {
	JobPath string `json:"job_path"`
	Input   string `json:"input,omitempty"`
	Output  string `json:"output,omitempty"`
}

// BatchResponse is the summary every batch tool returns; the actual
// output records are written to query.Output, not returned inline, since
// a batch may be far larger than a tool result should carry.
type BatchResponse struct {
	Summary       string `json:"summary"`
	Total         int    `json:"total"`
	Failed        int    `json:"failed"`
	OverThreshold bool   `json:"over_threshold"`
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

// ChatBatchToolHandler wires a chat_batch tool call to the chat pipeline
// described in SPEC_FULL.md §4.9, end to end: build driver, compile
// schema, build the work queue, stream the input file through it, write
// the output file, and run the failure-rate guard.
func ChatBatchToolHandler(ctx context.Context, _ *mcp.CallToolRequest, query ChatBatchQuery, log logger.Logger) (*mcp.CallToolResult, *BatchResponse, error) {
	job, err := loadJob(query.JobPath, query.Input, query.Output)
	if err != nil {
		return nil, nil, err
	}

	env := config.FromEnv()
	env.Driver = job.Driver
	env.Model = job.Model

	driver, err := env.BuildDriver(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("building driver: %w", err)
	}

	sch := schema.ExternalFile(job.SchemaFile)
	compiled, err := schema.Compile(sch)
	if err != nil {
		return nil, nil, fmt.Errorf("compiling schema: %w", err)
	}
	if job.Prompt == nil {
		return nil, nil, fmt.Errorf("job config is missing a prompt template")
	}

	var limiter *ratelimit.Limiter
	if job.RateLimit != "" {
		rl, err := ratelimit.Parse(job.RateLimit)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing rate_limit: %w", err)
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
		return nil, nil, fmt.Errorf("opening input: %w", err)
	}

	inputs := make(chan work.WorkInput[chatpipeline.ChatInput])
	go func() {
		defer close(inputs)
		for {
			obj, ok, readErr := readNext()
			if readErr != nil || !ok {
				if readErr != nil {
					log.Error("reading chat input record: %v", readErr)
				}
				return
			}
			bindings := make(map[string]any, len(obj))
			var id, passthrough []byte
			skip := false
			for k, v := range obj {
				switch k {
				case "id":
					id = marshalOrNil(v)
				case "skip_processing":
					if b, ok := v.(bool); ok {
						skip = b
					}
				case "passthrough_data":
					passthrough = marshalOrNil(v)
				default:
					bindings[k] = v
				}
			}
			inputs <- work.WorkInput[chatpipeline.ChatInput]{ID: id, Data: chatpipeline.ChatInput{
				SkipProcessing:  skip,
				PassthroughData: passthrough,
				Bindings:        bindings,
			}}
		}
	}()

	outs := handle.ProcessStream(ctx, inputs, queue.StreamOpts{})
	if err := records.WriteOutput(job.Output, job.OutputCSV, func() (map[string]any, bool) {
		out, ok := <-outs
		if !ok {
			return nil, false
		}
		counter.Observe(guard, out)
		return chatRecordFromOutput(out), true
	}); err != nil {
		return nil, nil, err
	}

	totals := guard.Totals()
	checkErr := guard.Check()
	resp := &BatchResponse{
		Summary:       guard.Summary(),
		Total:         totals.Total,
		Failed:        totals.Failed,
		OverThreshold: checkErr != nil,
	}
	return &mcp.CallToolResult{}, resp, nil
}

// OcrBatchToolHandler wires an ocr_batch tool call to the OCR pipeline
// described in SPEC_FULL.md §4.10.
func OcrBatchToolHandler(ctx context.Context, _ *mcp.CallToolRequest, query OcrBatchQuery, log logger.Logger) (*mcp.CallToolResult, *BatchResponse, error) {
	job, err := loadJob(query.JobPath, query.Input, query.Output)
	if err != nil {
		return nil, nil, err
	}
	env := config.FromEnv()

	pipeline := &ocrpipeline.Pipeline{
		Engine:      &ocrpipeline.PdftotextEngine{},
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
		return nil, nil, fmt.Errorf("opening input: %w", err)
	}

	inputs := make(chan work.WorkInput[ocrpipeline.OcrInput])
	go func() {
		defer close(inputs)
		for {
			obj, ok, readErr := readNext()
			if readErr != nil || !ok {
				if readErr != nil {
					log.Error("reading OCR input record: %v", readErr)
				}
				return
			}
			var id []byte
			if v, ok := obj["id"]; ok {
				id = marshalOrNil(v)
			}
			path, _ := obj["path"].(string)
			password, _ := obj["password"].(string)
			inputs <- work.WorkInput[ocrpipeline.OcrInput]{ID: id, Data: ocrpipeline.OcrInput{Path: path, Password: password}}
		}
	}()

	outs := handle.ProcessStream(ctx, inputs, queue.StreamOpts{})
	if err := records.WriteOutput(job.Output, job.OutputCSV, func() (map[string]any, bool) {
		out, ok := <-outs
		if !ok {
			return nil, false
		}
		counter.Observe(guard, out)
		return ocrRecordFromOutput(out, job.OutputCSV), true
	}); err != nil {
		return nil, nil, err
	}

	totals := guard.Totals()
	checkErr := guard.Check()
	resp := &BatchResponse{
		Summary:       guard.Summary(),
		Total:         totals.Total,
		Failed:        totals.Failed,
		OverThreshold: checkErr != nil,
	}
	return &mcp.CallToolResult{}, resp, nil
}

func marshalOrNil(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func unmarshalOrNil(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func chatRecordFromOutput(out work.WorkOutput[chatpipeline.ChatOutput]) map[string]any {
	rec := map[string]any{
		"id":     unmarshalOrNil(out.ID),
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
		rec["response"] = unmarshalOrNil(out.Data.Response)
	}
	if len(out.PassthroughData) > 0 {
		rec["passthrough_data"] = unmarshalOrNil(out.PassthroughData)
	}
	return rec
}

func ocrRecordFromOutput(out work.WorkOutput[ocrpipeline.OcrOutput], asCSV bool) map[string]any {
	if asCSV {
		errs := ""
		for i, e := range out.Errors {
			if i > 0 {
				errs += "\n\n"
			}
			errs += e
		}
		return map[string]any{
			"id":     unmarshalOrNil(out.ID),
			"status": string(out.Status),
			"errors": errs,
			"path":   out.Data.Path,
			"text":   out.Data.Text,
		}
	}
	rec := map[string]any{
		"id":         unmarshalOrNil(out.ID),
		"status":     string(out.Status),
		"errors":     out.Errors,
		"path":       out.Data.Path,
		"text":       out.Data.Text,
		"page_count": out.Data.PageCount,
	}
	if out.Data.Analysis != nil {
		rec["analysis"] = out.Data.Analysis
	}
	return rec
}
