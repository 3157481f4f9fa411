package ai

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Fragment is one incremental piece of generated text.
type Fragment struct {
	Text string
	// TokensPerSecond is set when the inference server reported its own
	// throughput, normally only on the last fragment.
	TokensPerSecond *float64
}

// FragmentSource yields fragments until it returns io.EOF.
// *schema.StreamReader[Fragment] satisfies it.
type FragmentSource interface {
	Recv() (Fragment, error)
}

// Result is the folded outcome of one generation. On failure it holds
// whatever arrived before the error.
type Result struct {
	Text        string
	Fragments   int
	Tokens      int
	Elapsed     time.Duration
	UpstreamTPS *float64
}

// LocalTPS is Tokens divided by Elapsed seconds, or 0 when no time passed.
func (r Result) LocalTPS() float64 {
	seconds := r.Elapsed.Seconds()
	if seconds <= 0 {
		return 0
	}
	return float64(r.Tokens) / seconds
}

// TokensPerSecond is the figure to display. The server's own measurement
// wins over the local estimate.
func (r Result) TokensPerSecond() float64 {
	if r.UpstreamTPS != nil {
		return *r.UpstreamTPS
	}
	return r.LocalTPS()
}

// TPSSource names where TokensPerSecond came from: "ollama" or "local".
func (r Result) TPSSource() string {
	if r.UpstreamTPS != nil {
		return "ollama"
	}
	return "local"
}

// Caption renders the stats line shown under a reply.
func (r Result) Caption() string {
	label := "Tokens/sec"
	if r.UpstreamTPS != nil {
		label = "Ollama TPS"
	}
	return fmt.Sprintf("Time taken: %.2f seconds | Tokens: %d | %s: %.2f",
		r.Elapsed.Seconds(), r.Tokens, label, r.TokensPerSecond())
}

// CountTokens approximates the token count of text by splitting on
// whitespace. It is a display figure, not the model's tokenization.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// Aggregator folds a fragment stream into a Result.
type Aggregator struct {
	now func() time.Time
}

// NewAggregator returns an Aggregator using the wall clock.
func NewAggregator() *Aggregator {
	return &Aggregator{now: time.Now}
}

// Opener starts the fragment stream. Opening may block until the first
// fragment is ready, so it counts toward the elapsed time.
type Opener func() (FragmentSource, error)

// Aggregate drains src in arrival order. onFragment, when non-nil, sees
// every fragment before the next one is requested; an error from it stops
// the stream. The clock starts before the first Recv and stops after the
// last. Any error other than io.EOF is returned alongside the partial
// result.
func (a *Aggregator) Aggregate(src FragmentSource, onFragment func(Fragment) error) (Result, error) {
	return a.drain(a.now(), src, onFragment)
}

// AggregateFrom starts the clock, then calls open and drains the stream it
// returns. A failed open yields an empty result timed up to the failure.
func (a *Aggregator) AggregateFrom(open Opener, onFragment func(Fragment) error) (Result, error) {
	start := a.now()
	src, err := open()
	if err != nil {
		return Result{Elapsed: max(a.now().Sub(start), 0)}, err
	}
	return a.drain(start, src, onFragment)
}

func (a *Aggregator) drain(start time.Time, src FragmentSource, onFragment func(Fragment) error) (Result, error) {
	var (
		res     Result
		builder strings.Builder
	)

	finish := func() Result {
		res.Elapsed = a.now().Sub(start)
		if res.Elapsed < 0 {
			res.Elapsed = 0
		}
		res.Text = builder.String()
		return res
	}

	for {
		frag, err := src.Recv()
		if errors.Is(err, io.EOF) {
			return finish(), nil
		}
		if err != nil {
			return finish(), err
		}

		builder.WriteString(frag.Text)
		res.Fragments++
		res.Tokens += CountTokens(frag.Text)
		if frag.TokensPerSecond != nil {
			tps := *frag.TokensPerSecond
			res.UpstreamTPS = &tps
		}

		if onFragment != nil {
			if err := onFragment(frag); err != nil {
				return finish(), err
			}
		}
	}
}
