package gates

import (
	"context"
	"time"

	"github.com/marcus/phasegate/internal/logging"
)

// Opinion is the result of an advisory probe. HasOpinion is false when the
// probe could not produce a verdict (timeout, missing script, internal
// error); such failures never block the pipeline.
type Opinion struct {
	HasOpinion bool
	Flagged    bool
	Detail     string
}

// NoOpinion is the fail-open result.
var NoOpinion = Opinion{}

// RunFailOpen invokes an advisory probe with a bounded timeout and converts
// every failure mode into "no opinion". It never returns an error.
func RunFailOpen(ctx context.Context, name string, timeout time.Duration, probe func(ctx context.Context) (Opinion, error)) Opinion {
	log := logging.Component("gates")

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Opinion, 1)
	go func() {
		defer func() {
			// A panicking probe is a probe failure, not an engine failure.
			if r := recover(); r != nil {
				log.WarnCtx("advisory probe panicked", map[string]any{"probe": name, "panic": r})
				done <- NoOpinion
			}
		}()
		op, err := probe(probeCtx)
		if err != nil {
			log.WarnCtx("advisory probe failed, proceeding without opinion", map[string]any{
				"probe": name, "error": err.Error(),
			})
			done <- NoOpinion
			return
		}
		done <- op
	}()

	select {
	case op := <-done:
		return op
	case <-probeCtx.Done():
		log.WarnCtx("advisory probe timed out, proceeding without opinion", map[string]any{
			"probe": name, "timeout": timeout.String(),
		})
		return NoOpinion
	}
}
