package trial

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sendcode_nexus/internal/remote"
	"sendcode_nexus/internal/shared/logger"
	"sendcode_nexus/proxypool/model"
)

const (
	DefaultConnectTimeout   = 15 * time.Second
	DefaultAuthCheckTimeout = 5 * time.Second
	DefaultSendTimeout      = 15 * time.Second

	teardownTimeout = 5 * time.Second
)

// Settings bounds each stage of a trial. Zero durations fall back to the defaults.
type Settings struct {
	ConnectTimeout   time.Duration
	AuthCheckTimeout time.Duration
	SendTimeout      time.Duration
	// CheckAuthorization enables the authorization check before the action request.
	// When false the action is always requested.
	CheckAuthorization bool
}

// Engine drives single trials: connect, authorization check, action request, teardown.
type Engine struct {
	connector remote.Connector
	settings  Settings
	logger    zerolog.Logger
}

func NewEngine(connector remote.Connector, settings Settings) *Engine {
	if settings.ConnectTimeout <= 0 {
		settings.ConnectTimeout = DefaultConnectTimeout
	}
	if settings.AuthCheckTimeout <= 0 {
		settings.AuthCheckTimeout = DefaultAuthCheckTimeout
	}
	if settings.SendTimeout <= 0 {
		settings.SendTimeout = DefaultSendTimeout
	}
	return &Engine{
		connector: connector,
		settings:  settings,
		logger:    logger.WithComponent("ProxyPool/Trial"),
	}
}

// Attempt performs one trial of requesting a code for target through endpoint.
// Every failure is captured in the returned record's outcome. Status lines are
// passed to observer, which may be nil.
func (e *Engine) Attempt(ctx context.Context, target string, ep model.Endpoint, observer Observer) model.Record {
	rec := model.Record{Endpoint: ep}
	l := e.logger.With().Str("proxy", ep.Redacted()).Logger()

	notify(observer, Status{
		Time:     time.Now(),
		Endpoint: ep,
		Stage:    StageStart,
		Message:  fmt.Sprintf("trying proxy %s (auth=%t)", ep.Redacted(), ep.HasAuth()),
	})
	l.Debug().Bool("auth", ep.HasAuth()).Msg("Trial started.")

	sess, err := e.connect(ctx, ep)
	if err != nil {
		rec.Outcome = model.ConnectFailure(describe(err, e.settings.ConnectTimeout))
		e.report(l, observer, rec)
		return rec
	}
	defer e.teardown(l, sess)

	if e.settings.CheckAuthorization && e.isAuthorized(ctx, l, sess) {
		rec.Outcome = model.AlreadyAuthorized()
		e.report(l, observer, rec)
		return rec
	}

	err = runStage(ctx, e.settings.SendTimeout, func(ctx context.Context) error {
		return sess.SendCode(ctx, target)
	})
	rec.Outcome = e.classifySend(err)
	e.report(l, observer, rec)
	return rec
}

// connect opens a session within the connect timeout. A session that shows up after
// the deadline is closed in the background.
func (e *Engine) connect(ctx context.Context, ep model.Endpoint) (remote.Session, error) {
	connCtx, cancel := context.WithTimeout(ctx, e.settings.ConnectTimeout)
	defer cancel()

	type result struct {
		sess remote.Session
		err  error
	}
	done := make(chan result, 1)
	go func() {
		sess, err := e.connector.Connect(connCtx, ep)
		done <- result{sess: sess, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && r.sess != nil {
			r.sess.Close()
			r.sess = nil
		}
		if r.err == nil && r.sess == nil {
			r.err = errors.New("connector returned no session")
		}
		return r.sess, r.err
	case <-connCtx.Done():
		go func() {
			if r := <-done; r.sess != nil {
				r.sess.Close()
			}
		}()
		return nil, connCtx.Err()
	}
}

// isAuthorized fails open: an error or a timeout counts as not authorized.
func (e *Engine) isAuthorized(ctx context.Context, l zerolog.Logger, sess remote.Session) bool {
	var authorized bool
	err := runStage(ctx, e.settings.AuthCheckTimeout, func(ctx context.Context) error {
		ok, err := sess.IsAuthorized(ctx)
		authorized = ok
		return err
	})
	if err != nil {
		l.Debug().Err(err).Msg("Authorization check failed, assuming not authorized.")
		return false
	}
	return authorized
}

func (e *Engine) classifySend(err error) model.Outcome {
	var floodErr *remote.FloodWaitError
	switch {
	case err == nil:
		return model.Success()
	case errors.As(err, &floodErr):
		return model.FloodWait(floodErr.Seconds)
	default:
		return model.SendFailure(describe(err, e.settings.SendTimeout))
	}
}

// teardown closes the session. Its errors never change the trial's outcome.
func (e *Engine) teardown(l zerolog.Logger, sess remote.Session) {
	err := runStage(context.Background(), teardownTimeout, func(context.Context) error {
		return sess.Close()
	})
	if err != nil {
		l.Debug().Err(err).Msg("Session teardown failed, ignored.")
	}
}

func (e *Engine) report(l zerolog.Logger, observer Observer, rec model.Record) {
	addr := rec.Endpoint.Redacted()
	var msg string
	switch rec.Outcome.Kind {
	case model.OutcomeSuccess:
		msg = fmt.Sprintf("code requested via %s", addr)
		l.Info().Msg("Code request accepted.")
	case model.OutcomeAlreadyAuthorized:
		msg = fmt.Sprintf("session via %s is already authorized, skipped", addr)
		l.Info().Msg("Session already authorized, action skipped.")
	case model.OutcomeConnectFailure:
		msg = fmt.Sprintf("connect failed via %s: %s", addr, rec.Outcome.Detail)
		l.Warn().Str("detail", rec.Outcome.Detail).Msg("Connect failed.")
	case model.OutcomeFloodWait:
		msg = fmt.Sprintf("flood wait via %s: retry after %ds", addr, rec.Outcome.WaitSeconds)
		l.Warn().Int("wait_seconds", rec.Outcome.WaitSeconds).Msg("Remote asked to wait.")
	case model.OutcomeSendFailure:
		msg = fmt.Sprintf("send failed via %s: %s", addr, rec.Outcome.Detail)
		l.Warn().Str("detail", rec.Outcome.Detail).Msg("Code request failed.")
	}

	outcome := rec.Outcome
	notify(observer, Status{
		Time:     time.Now(),
		Endpoint: rec.Endpoint,
		Stage:    outcome.Kind.String(),
		Message:  msg,
		Outcome:  &outcome,
	})
}

// runStage runs fn under its own deadline and returns no later than that deadline,
// even if fn ignores its context. A late result from fn is discarded.
func runStage(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(stageCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-stageCtx.Done():
		return stageCtx.Err()
	}
}

func describe(err error, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("timeout after %s", timeout)
	}
	return err.Error()
}
