package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/albench/benchmark"
	"github.com/c360studio/albench/events"
	"github.com/c360studio/albench/llm"
	"github.com/c360studio/albench/task"
	"github.com/c360studio/albench/variant"
)

// executeVariant drives the full attempt loop for one (task, variant) pair.
// The returned error is reserved for infrastructure failures (context
// building, pool refusal, cancellation); generation and compilation failures
// are recorded as scored attempts instead.
func (o *Orchestrator) executeVariant(ctx context.Context, m *task.Manifest, v *variant.Variant) (*benchmark.TaskExecutionResult, error) {
	start := time.Now()
	variantID := v.DisplayID()

	// A context build failure is configuration-level: it would sink this
	// variant on every task, so it is raised as critical.
	execCtx, systemPrompt, err := o.buildContext(m, v)
	if err != nil {
		return nil, NewCriticalError(err)
	}

	result := &benchmark.TaskExecutionResult{
		TaskID:      m.ID,
		ExecutionID: executionID(m.ID, variantID, start),
		VariantID:   variantID,
		Context:     execCtx,
		ExecutedAt:  start,
		ExecutedBy:  o.opts.ExecutedBy,
		Environment: o.opts.Environment,
	}

	for attempt := 1; attempt <= m.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}

		attemptStart := time.Now()
		item := &benchmark.LLMWorkItem{
			ID:               uuid.NewString(),
			Manifest:         m,
			Provider:         v.Provider,
			Model:            v.Model,
			AttemptNumber:    attempt,
			PreviousAttempts: result.Attempts,
			CreatedAt:        attemptStart,
			Context:          execCtx,
			SystemPrompt:     systemPrompt,
		}
		if attempt > 1 {
			if prev := result.LastAttempt(); prev != nil {
				fix, ferr := o.renderer.RenderFix(m, execCtx.TargetFile, prev.ExtractedCode, prev.FailureReasons)
				if ferr != nil {
					o.logger.Warn("Render fix prompt",
						"task", m.ID,
						"variant", variantID,
						"error", ferr)
				} else {
					item.FixInstructions = fix
				}
			}
		}

		o.emitter.Emit(events.Event{
			Kind:    events.LLMStarted,
			TaskID:  m.ID,
			Variant: variantID,
			Attempt: attempt,
		})

		llmRes, err := o.pool.Submit(ctx, item)
		if err != nil {
			return nil, fmt.Errorf("submit generation for %s attempt %d: %w", variantID, attempt, err)
		}

		o.emitter.Emit(events.Event{
			Kind:    events.LLMCompleted,
			TaskID:  m.ID,
			Variant: variantID,
			Attempt: attempt,
			Success: llmRes.Success,
		})

		if !llmRes.Success || llmRes.Code == "" {
			result.Attempts = append(result.Attempts, failedAttempt(attempt, llmRes))
			continue
		}

		// Queue depth as observed before admission; the enqueue below may
		// still be rejected.
		o.emitter.Emit(events.Event{
			Kind:        events.CompileQueued,
			TaskID:      m.ID,
			Variant:     variantID,
			Attempt:     attempt,
			QueueLength: o.compile.Len(),
		})
		o.emitter.Emit(events.Event{
			Kind:    events.CompileStarted,
			TaskID:  m.ID,
			Variant: variantID,
			Attempt: attempt,
		})

		compileRes, cerr := o.compile.Enqueue(ctx, &benchmark.CompileWorkItem{
			ID:            uuid.NewString(),
			LLMWorkItemID: item.ID,
			Code:          llmRes.Code,
			Context:       execCtx,
			AttemptNumber: attempt,
			LLMResponse:   llmRes.Response,
			CreatedAt:     time.Now(),
		})

		record := &benchmark.ExecutionAttempt{
			AttemptNumber: attempt,
			StartTime:     attemptStart,
			Prompt:        effectiveInstructions(item),
			Response:      llmRes.Response,
			ExtractedCode: llmRes.Code,
			CodeLanguage:  "al",
			LLMDuration:   llmRes.Duration,
		}
		if llmRes.Response != nil {
			record.TokensUsed = llmRes.Response.Usage.TotalTokens
			record.Cost = llmRes.Response.Usage.EstimatedCost
		}

		if cerr != nil {
			// Queue rejection (full, timed out, cleared) or sandbox failure.
			// The attempt stands, scored without compile results.
			record.FailureReasons = []string{cerr.Error()}
			record.Score = benchmark.ScoreAttempt(m.Expected, llmRes.Code, nil, nil)
			o.emitter.Emit(events.Event{
				Kind:    events.CompileComplete,
				TaskID:  m.ID,
				Variant: variantID,
				Attempt: attempt,
				Success: false,
			})
		} else {
			record.Compilation = compileRes.Compilation
			record.Test = compileRes.Test
			record.CompileDuration = compileRes.CompileDuration
			record.Score = benchmark.ScoreAttempt(m.Expected, llmRes.Code, compileRes.Compilation, compileRes.Test)
			record.Success = benchmark.AttemptPassed(m.Expected, llmRes.Code, compileRes.Compilation, compileRes.Test)
			if !record.Success {
				record.FailureReasons = benchmark.FailureReasons(m.Expected, llmRes.Code, compileRes.Compilation, compileRes.Test)
			}
			o.emitter.Emit(events.Event{
				Kind:    events.CompileComplete,
				TaskID:  m.ID,
				Variant: variantID,
				Attempt: attempt,
				Success: compileRes.Compilation != nil && compileRes.Compilation.Success,
			})
		}

		record.EndTime = time.Now()
		record.Duration = record.EndTime.Sub(record.StartTime)
		result.Attempts = append(result.Attempts, record)

		if record.Success {
			result.Success = true
			result.PassedAttemptNumber = attempt
			result.FinalCode = llmRes.Code
			result.FinalScore = benchmark.FinalScorePassed(record.Score, attempt)
			break
		}
	}

	if !result.Success {
		result.FinalScore = benchmark.FinalScoreFailed(result.Attempts)
		if last := result.LastAttempt(); last != nil {
			result.FinalCode = last.ExtractedCode
		}
	}

	for _, a := range result.Attempts {
		result.TotalTokens += a.TokensUsed
		result.TotalCost += a.Cost
	}
	result.TotalDuration = time.Since(start)
	if len(result.Attempts) > 0 && result.Success {
		result.SuccessRate = 1 / float64(len(result.Attempts))
	}
	return result, nil
}

// buildContext freezes the per-(task, variant) execution snapshot and resolves
// the effective system prompt: a manifest-named fragment when the variant's
// prompt name matches one, the raw value inline otherwise.
func (o *Orchestrator) buildContext(m *task.Manifest, v *variant.Variant) (*benchmark.ExecutionContext, string, error) {
	targetFile := m.ID + ".al"

	instructions, err := o.renderer.RenderTask(m, targetFile)
	if err != nil {
		return nil, "", fmt.Errorf("render prompt for task %s: %w", m.ID, err)
	}

	execCtx := &benchmark.ExecutionContext{
		Manifest:        m,
		TaskID:          m.ID,
		TaskType:        m.Metadata.Category,
		Instructions:    instructions,
		TargetFile:      targetFile,
		PromptTemplate:  m.PromptTemplate,
		FixTemplate:     m.FixTemplate,
		Temperature:     v.Config.Temperature,
		MaxTokens:       v.Config.MaxTokens,
		Timeout:         v.Config.Timeout,
		SandboxProvider: o.opts.SandboxProvider,
		SandboxName:     o.opts.SandboxName,
		OutputDir:       o.opts.OutputDir,
		Debug:           o.opts.Debug,
		PromptOverrides: m.Prompts,
		EstimatedTokens: m.Metadata.EstimatedTokens,
	}

	systemPrompt := v.Config.SystemPromptName
	if named, ok := m.Prompts[systemPrompt]; ok {
		systemPrompt = named
	}
	return execCtx, systemPrompt, nil
}

// failedAttempt records a generation that produced no compilable code. The
// synthetic response keeps downstream consumers (aggregation, reporting) free
// of nil checks.
func failedAttempt(attempt int, res *benchmark.LLMWorkResult) *benchmark.ExecutionAttempt {
	now := time.Now()
	reason := res.Error
	if reason == "" {
		reason = "LLM call failed"
	}

	response := res.Response
	if response == nil {
		response = &llm.Response{
			Model:        "unknown",
			FinishReason: "error",
		}
	}

	record := &benchmark.ExecutionAttempt{
		AttemptNumber:  attempt,
		StartTime:      now.Add(-res.Duration),
		EndTime:        now,
		Response:       response,
		ExtractedCode:  res.Code,
		CodeLanguage:   "al",
		FailureReasons: []string{reason},
		Duration:       res.Duration,
		LLMDuration:    res.Duration,
	}
	if res.Response != nil {
		record.TokensUsed = res.Response.Usage.TotalTokens
		record.Cost = res.Response.Usage.EstimatedCost
	}
	return record
}

func effectiveInstructions(item *benchmark.LLMWorkItem) string {
	if item.FixInstructions != "" {
		return item.FixInstructions
	}
	if item.Context != nil {
		return item.Context.Instructions
	}
	return ""
}
