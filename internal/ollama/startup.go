package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotRunning is returned when the Ollama server cannot be reached.
var ErrNotRunning = errors.New("Cannot connect to Ollama. Is it running? Start it with: ollama serve")

// Status summarizes the local server for display.
type Status struct {
	Running      bool
	Version      string
	Model        string
	ModelPresent bool
}

// Check reports whether Ollama is up and whether model is installed. It
// never returns an error; an unreachable server is Running=false.
func Check(ctx context.Context, c *Client, model string) Status {
	st := Status{Model: model}
	if !c.IsRunning(ctx) {
		return st
	}
	st.Running = true
	if v, err := c.Version(ctx); err == nil {
		st.Version = v
	}
	st.ModelPresent = model != "" && c.HasModel(ctx, model)
	return st
}

// EnsureModel checks that Ollama is running and model is available. When
// pull is true a missing model is downloaded with progress written to w;
// otherwise a missing model is an error.
func EnsureModel(ctx context.Context, c *Client, model string, pull bool, w io.Writer) error {
	if !c.IsRunning(ctx) {
		return ErrNotRunning
	}

	if c.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: ready\n", model)
		return nil
	}
	if !pull {
		return fmt.Errorf("model %s is not installed (run: ollama pull %s)", model, model)
	}

	fmt.Fprintf(w, "model %s: pulling...\n", model)
	last := ""
	err := c.PullModel(ctx, model, func(p PullProgress) {
		if p.Total > 0 {
			pct := float64(p.Completed) / float64(p.Total) * 100
			fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
		} else if p.Status != last {
			fmt.Fprintf(w, "  %s\n", p.Status)
		}
		last = p.Status
	})
	if err != nil {
		return fmt.Errorf("pulling model %s: %w", model, err)
	}
	fmt.Fprintf(w, "model %s: ready\n", model)
	return nil
}
