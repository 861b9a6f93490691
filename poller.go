package secops

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tphakala/go-secops/internal/api"
	"github.com/tphakala/go-secops/internal/extract"
	"github.com/tphakala/go-secops/internal/metrics"
)

// Completion may be signalled at any of these locations; checked in order.
var completionRules = extract.NewChain(
	".done",
	".operation.done",
	".response.complete",
)

// pollState is the state of a single operation poll loop.
type pollState int

const (
	statePolling pollState = iota
	stateDone
	stateTimedOut
	stateFailed
)

func (s pollState) String() string {
	switch s {
	case statePolling:
		return "polling"
	case stateDone:
		return "done"
	case stateTimedOut:
		return "timed_out"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// payloadRule describes the payload a completed operation must carry.
type payloadRule struct {
	// kind labels logs and metrics ("events" or "stats").
	kind string

	rules extract.Chain

	// allowEmpty accepts a present-but-empty payload (e.g. zero events).
	allowEmpty bool
}

// pollResult is the evaluation of one status response: Pending when done
// is false, Done when payload is set, Failed when err is set.
type pollResult struct {
	done    bool
	doc     any
	payload any
	err     *SearchError
}

// evaluatePoll classifies a decoded status response.
func evaluatePoll(doc any, want payloadRule) pollResult {
	if _, done := completionRules.First(doc); !done {
		return pollResult{doc: doc}
	}

	var (
		payload any
		ok      bool
	)
	if want.allowEmpty {
		payload, ok = want.rules.Resolve(doc)
	} else {
		payload, ok = want.rules.First(doc)
	}
	if !ok {
		return pollResult{done: true, doc: doc, err: &SearchError{
			Kind:    KindIncompleteResult,
			Message: "no results found in completed response",
		}}
	}

	return pollResult{done: true, doc: doc, payload: payload}
}

type sleepFunc func(ctx context.Context, d time.Duration) error

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// operationPoller drives the bounded poll loop for a long-running search
// operation.
type operationPoller struct {
	transport   *api.Transport
	interval    time.Duration
	maxAttempts int
	sleep       sleepFunc
	logger      *slog.Logger
}

// pollRun is the mutable state of one poll loop.
type pollRun struct {
	operationID string
	want        payloadRule
	headers     http.Header
	maxAttempts int

	state    pollState
	attempts int
	result   pollResult
	err      *SearchError
}

// poll fetches {operationID}:streamSearch until the operation completes,
// fails, or maxAttempts polls have been made. maxAttempts <= 0 selects the
// poller default.
func (p *operationPoller) poll(ctx context.Context, operationID string, want payloadRule, maxAttempts int, headers http.Header) (*pollResult, error) {
	if maxAttempts <= 0 {
		maxAttempts = p.maxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxPollAttempts
	}

	run := &pollRun{
		operationID: operationID,
		want:        want,
		headers:     headers,
		maxAttempts: maxAttempts,
		state:       statePolling,
	}

	for run.state == statePolling {
		p.step(ctx, run)
	}

	if run.state != stateDone {
		p.logger.Warn("search operation did not complete",
			slog.String("kind", want.kind),
			slog.String("operation", operationID),
			slog.String("state", run.state.String()),
			slog.Int("attempts", run.attempts),
			slog.String("error", run.err.Error()),
		)
		return nil, run.err
	}

	return &run.result, nil
}

// step performs one poll attempt and advances run.state.
func (p *operationPoller) step(ctx context.Context, run *pollRun) {
	metrics.ObservePoll(run.want.kind)
	run.attempts++

	resp, err := p.transport.Do(ctx, &api.Request{
		Method:  http.MethodGet,
		Path:    run.operationID + ":streamSearch",
		Headers: run.headers,
	})
	if err != nil {
		run.fail(&SearchError{
			Kind:    KindPollTransport,
			Message: "error fetching results",
			Err:     err,
		})
		return
	}

	if !resp.OK() {
		run.fail(&SearchError{
			Kind:       KindPollTransport,
			Message:    "error fetching results",
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
			Err:        parseError(resp.StatusCode, resp.Body, resp.Headers),
		})
		return
	}

	doc, err := extract.Decode(resp.Body)
	if err != nil {
		run.fail(&SearchError{
			Kind:    KindPollTransport,
			Message: "decoding poll response",
			Body:    string(resp.Body),
			Err:     err,
		})
		return
	}

	res := evaluatePoll(doc, run.want)
	switch {
	case res.err != nil:
		run.fail(res.err)
		return
	case res.done:
		run.result = res
		run.state = stateDone
		return
	}

	p.logger.Debug("search operation pending",
		slog.String("kind", run.want.kind),
		slog.String("operation", run.operationID),
		slog.Int("attempt", run.attempts),
	)

	if run.attempts >= run.maxAttempts {
		run.err = &SearchError{
			Kind:     KindTimeout,
			Message:  fmt.Sprintf("search timed out after %d attempts", run.attempts),
			Attempts: run.attempts,
		}
		run.state = stateTimedOut
		return
	}

	if err := p.sleep(ctx, p.interval); err != nil {
		run.err = &SearchError{
			Kind:     KindTimeout,
			Message:  fmt.Sprintf("polling cancelled after %d attempts", run.attempts),
			Attempts: run.attempts,
			Err:      err,
		}
		run.state = stateTimedOut
	}
}

func (r *pollRun) fail(err *SearchError) {
	err.Attempts = r.attempts
	r.err = err
	r.state = stateFailed
}
