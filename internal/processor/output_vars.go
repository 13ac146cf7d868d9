package processor

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
)

// OutputFileEnv is the environment variable pointing a step at the
// file it declares outputs through, in dotenv format.
const OutputFileEnv = "OUTPOST_OUTPUT"

func WithOutputVars() ProcessorBuilder {
	return func(spec *v1beta1.Step) Bootstraper {
		return &OutputVars{
			stepID: spec.ID,
		}
	}
}

// OutputVars provisions the step's output file and stages whatever the
// step wrote into it. The engine publishes staged outputs only after
// the step result is finalized, so a step never observes its own
// in-progress outputs.
type OutputVars struct {
	stepID string
}

func (s *OutputVars) Bootstrap(next Next) (Next, error) {
	return func(ctx context.Context, execCtx *ExecutionContext) error {
		outputFile, err := os.CreateTemp(execCtx.TempDir, "output")
		if err != nil {
			return err
		}

		defer func() {
			_ = outputFile.Close()
			_ = os.Remove(outputFile.Name())
		}()

		previous, hadPrevious := execCtx.LookupEnv(OutputFileEnv)
		execCtx.SetEnv(OutputFileEnv, outputFile.Name())
		defer func() {
			if hadPrevious {
				execCtx.SetEnv(OutputFileEnv, previous)
			} else {
				execCtx.UnsetEnv(OutputFileEnv)
			}
		}()

		if err := next(ctx, execCtx); err != nil {
			return err
		}

		b, err := os.ReadFile(outputFile.Name())
		if err != nil {
			return err
		}

		if len(b) == 0 {
			return nil
		}

		outputs, err := godotenv.UnmarshalBytes(b)
		if err != nil {
			return fmt.Errorf("parse step outputs: %w", err)
		}

		for k, v := range outputs {
			execCtx.StageOutput(k, v)
		}

		return nil
	}, nil
}
