package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"redlight/internal/apiclient"
	"redlight/internal/assessment/evaluation"
	"redlight/internal/assessment/execution"
	"redlight/internal/assessment/flow"
	"redlight/internal/assessment/outcome"
	"redlight/internal/assessment/session"
	"redlight/internal/assessment/signal"
	"redlight/internal/cli/command"
	"redlight/internal/cli/state"
	"redlight/internal/score/service"
	pkgerrors "redlight/pkg/errors"
	"redlight/pkg/utils/logger"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
	"go.uber.org/zap"
)

const (
	RedNotice   = "RED LIGHT - STOP CODING!"
	GreenNotice = "GREEN LIGHT - keep coding."
)

// ErrExit is returned by Execute when the user asked to leave.
var ErrExit = errors.New("exit requested")

// Options wires a REPL.
type Options struct {
	API   *apiclient.Client
	Store session.SlotStore

	// NewChannel returns the signal channel for a freshly opened question.
	NewChannel func(token string) (signal.Channel, error)
	Runner     execution.Config
	Grader     evaluation.Config

	// Recorder defaults to API.
	Recorder   flow.Recorder
	TokenState *state.TokenState
	StatePath  string
	Out        io.Writer

	// HistoryFile is passed to readline; empty disables history.
	HistoryFile string
}

// REPL is the participant's interactive session.
type REPL struct {
	opts     Options
	commands map[string]command.Command

	outMu sync.Mutex
	out   io.Writer

	mu      sync.Mutex
	current *openQuestion
}

type openQuestion struct {
	question apiclient.Question
	session  *session.Session
	flow     *flow.Flow
}

// New validates opts.
func New(opts Options) (*REPL, error) {
	if opts.API == nil {
		return nil, fmt.Errorf("api client is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("slot store is required")
	}
	if opts.NewChannel == nil {
		return nil, fmt.Errorf("signal channel factory is required")
	}
	if opts.TokenState == nil {
		opts.TokenState = &state.TokenState{}
	}
	if opts.Recorder == nil {
		opts.Recorder = opts.API
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &REPL{
		opts:     opts,
		commands: command.Registry(),
		out:      opts.Out,
	}, nil
}

// Run reads commands until exit, EOF or ctx cancellation. The open question,
// if any, is closed on every exit path.
func (r *REPL) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "redlight> ",
		HistoryFile:     r.opts.HistoryFile,
		AutoComplete:    r.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer func() { _ = rl.Close() }()
	defer r.closeCurrent()

	r.outMu.Lock()
	r.out = rl.Stdout()
	r.outMu.Unlock()

	if exp, ok := r.opts.TokenState.ExpiresAt(); ok && time.Now().After(exp) {
		r.printLine("saved token expired at %s; run login with a new token", exp.Local().Format(time.Kitchen))
	} else if last := r.opts.TokenState.LastQuestionID; last != "" && r.opts.TokenState.Identified() {
		if err := r.Execute(ctx, "open "+last); err != nil {
			r.printLine("reopen %s failed: %v", last, err)
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		if err := r.Execute(ctx, line); err != nil {
			if errors.Is(err, ErrExit) {
				r.printLine("bye")
				return nil
			}
			r.printLine("error: %v", err)
		}
	}
}

func (r *REPL) completer() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(r.commands))
	for _, cmd := range command.Unique(r.commands) {
		items = append(items, readline.PcItem(cmd.Name))
	}
	return readline.NewPrefixCompleter(items...)
}

// Execute runs one command line.
func (r *REPL) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}
	cmd, ok := command.Lookup(r.commands, tokens[0])
	if !ok {
		return fmt.Errorf("unknown command: %s (try help)", tokens[0])
	}
	args, params := command.Split(cmd, tokens[1:])
	if len(args) < cmd.MinArgs {
		return fmt.Errorf("usage: %s", cmd.Usage)
	}
	if cmd.RequiresAuth && r.opts.TokenState.AccessToken == "" {
		return fmt.Errorf("not logged in, use: login <access_token>")
	}
	var open *openQuestion
	if cmd.RequiresQuestion {
		open = r.open()
		if open == nil {
			return fmt.Errorf("no question open, use: open <question_id>")
		}
	}

	switch cmd.Name {
	case "help":
		r.printHelp()
	case "exit":
		return ErrExit
	case "login":
		return r.login(ctx, args[0])
	case "whoami":
		st := r.opts.TokenState
		r.printLine("participant: %s  team: %s  role: %s", st.ParticipantID, st.TeamID, st.Role)
	case "logout":
		return r.logout(ctx)
	case "questions":
		return r.listQuestions(ctx)
	case "open":
		return r.openQuestion(ctx, args[0])
	case "close":
		r.closeCurrent()
		r.printLine("question closed")
	case "show":
		r.show(open)
	case "edit":
		return r.edit(open, strings.Join(args, " "))
	case "append":
		code := open.session.Code()
		if code != "" && !strings.HasSuffix(code, "\n") {
			code += "\n"
		}
		return r.edit(open, code+strings.Join(args, " "))
	case "load":
		content, err := command.ReadFile(args[0])
		if err != nil {
			return err
		}
		return r.edit(open, content)
	case "run":
		r.run(ctx, open)
	case "submit":
		r.submit(ctx, open)
	case "retry":
		rec, ok := open.flow.RetryRecord(ctx)
		if !ok {
			r.printLine("nothing to retry")
			return nil
		}
		r.printRecord(rec)
	case "signal":
		return r.signal(ctx, args)
	case "team":
		teamID := r.opts.TokenState.TeamID
		if len(args) > 0 {
			teamID = args[0]
		}
		return r.team(ctx, teamID)
	case "leaderboard":
		return r.leaderboard(ctx, params)
	default:
		return fmt.Errorf("command %s is not implemented", cmd.Name)
	}
	return nil
}

func (r *REPL) login(ctx context.Context, token string) error {
	previous := *r.opts.TokenState
	r.opts.TokenState.AccessToken = token
	me, err := r.opts.API.Me(ctx)
	if err != nil {
		*r.opts.TokenState = previous
		return fmt.Errorf("token rejected: %w", err)
	}
	if me.ParticipantID != previous.ParticipantID {
		r.closeCurrent()
		r.opts.TokenState.LastQuestionID = ""
	}
	r.opts.TokenState.ParticipantID = me.ParticipantID
	r.opts.TokenState.TeamID = me.TeamID
	r.opts.TokenState.Role = me.Role
	r.opts.TokenState.VerifiedAt = time.Now().UTC()
	r.saveState()
	r.printLine("logged in as %s (team %s)", me.ParticipantID, me.TeamID)
	return nil
}

func (r *REPL) logout(ctx context.Context) error {
	if err := r.opts.API.Logout(ctx); err != nil {
		r.printLine("revoke token failed: %v", err)
	}
	r.closeCurrent()
	*r.opts.TokenState = state.TokenState{}
	if r.opts.StatePath != "" {
		if err := state.Clear(r.opts.StatePath); err != nil {
			return err
		}
	}
	r.printLine("logged out")
	return nil
}

func (r *REPL) listQuestions(ctx context.Context) error {
	questions, err := r.opts.API.Questions(ctx)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		r.printLine("no published questions")
		return nil
	}
	for _, q := range questions {
		r.printLine("%-12s %s", q.ID, q.Name)
	}
	return nil
}

func (r *REPL) openQuestion(ctx context.Context, id string) error {
	q, err := r.opts.API.Question(ctx, id)
	if err != nil {
		return err
	}
	r.closeCurrent()

	st := r.opts.TokenState
	sess, err := session.New(session.Config{
		Scope:        st.ParticipantID + "/" + q.ID,
		Store:        r.opts.Store,
		OnTransition: r.notifyTransition,
	})
	if err != nil {
		return err
	}
	ch, err := r.opts.NewChannel(st.AccessToken)
	if err != nil {
		return err
	}
	if err := sess.Attach(ctx, ch); err != nil {
		return err
	}

	runner, err := execution.NewClient(r.opts.Runner, sess)
	if err != nil {
		_ = sess.Close()
		return err
	}
	grader, err := evaluation.NewClient(r.opts.Grader, sess)
	if err != nil {
		_ = sess.Close()
		return err
	}
	f, err := flow.New(flow.Config{
		Session:           sess,
		Runner:            runner,
		Grader:            grader,
		Recorder:          r.opts.Recorder,
		ParticipantID:     st.ParticipantID,
		TeamID:            st.TeamID,
		QuestionID:        q.ID,
		ReferenceSolution: q.ReferenceSolution,
	})
	if err != nil {
		_ = sess.Close()
		return err
	}

	r.mu.Lock()
	r.current = &openQuestion{question: q, session: sess, flow: f}
	r.mu.Unlock()

	st.LastQuestionID = q.ID
	r.saveState()
	logger.Info(ctx, "question opened", zap.String("question_id", q.ID), zap.String("scope", sess.Scope()))

	r.printLine("== %s ==", q.Name)
	r.printLine("%s", q.Body)
	if sess.Signal() == signal.Red {
		r.printLine(RedNotice)
	}
	return nil
}

func (r *REPL) open() *openQuestion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *REPL) closeCurrent() {
	r.mu.Lock()
	current := r.current
	r.current = nil
	r.mu.Unlock()
	if current == nil {
		return
	}
	if err := current.session.Close(); err != nil {
		logger.Warn(context.Background(), "close session failed", zap.Error(err))
	}
}

func (r *REPL) notifyTransition(tr session.Transition) {
	switch tr.To {
	case signal.Red:
		r.printLine(RedNotice)
	case signal.Green:
		if tr.Restored {
			r.printLine("%s Your code was restored.", GreenNotice)
			return
		}
		r.printLine(GreenNotice)
	}
}

func (r *REPL) show(open *openQuestion) {
	r.printLine("== %s (%s) ==", open.question.Name, open.session.Signal())
	r.printLine("%s", open.question.Body)
	r.printLine("-- code --")
	r.printLine("%s", open.session.Code())
}

func (r *REPL) edit(open *openQuestion, code string) error {
	err := open.session.Edit(code)
	if err == nil {
		return nil
	}
	if pkgerrors.Is(err, pkgerrors.SessionFrozen) {
		r.printLine("%s", err.Error())
		return nil
	}
	return err
}

func (r *REPL) run(ctx context.Context, open *openQuestion) {
	res := open.flow.Run(ctx)
	if res.Kind != outcome.OK {
		r.printLine("%s", res.Message)
		return
	}
	r.printLine("%s", res.Output)
}

func (r *REPL) submit(ctx context.Context, open *openQuestion) {
	res := open.flow.Submit(ctx)
	if res.Evaluation.Kind != outcome.OK {
		r.printLine("%s", res.Evaluation.Message)
		return
	}
	r.printLine("%s", res.Evaluation.Verdict)
	r.printLine("score: %d", res.Evaluation.Score)
	if res.Record != nil {
		r.printRecord(*res.Record)
	}
}

func (r *REPL) printRecord(rec service.RecordOutcome) {
	switch rec.Kind {
	case outcome.OK:
		r.printLine("recorded +%d, team %s now has %d overall", rec.Applied, rec.Aggregate.TeamID, rec.Aggregate.Overall)
	case outcome.Duplicate:
		r.printLine("already recorded, team total %d", rec.Aggregate.Overall)
	case outcome.TeamNotFound:
		r.printLine("Team data not found. Your score was not recorded.")
	default:
		r.printLine("score not recorded (%s): %s", rec.Kind, rec.Message)
		if rec.Kind.Retryable() {
			r.printLine("use retry to send it again")
		}
	}
}

func (r *REPL) signal(ctx context.Context, args []string) error {
	if len(args) == 0 {
		current, err := r.opts.API.Signal(ctx)
		if err != nil {
			return err
		}
		r.printLine("signal: %s", current)
		if open := r.open(); open != nil {
			r.printLine("session sees: %s", open.session.Signal())
		}
		return nil
	}
	sig, ok := signal.Parse(args[0])
	if !ok {
		return fmt.Errorf("usage: signal [green|red]")
	}
	current, err := r.opts.API.SetSignal(ctx, string(sig))
	if err != nil {
		return err
	}
	r.printLine("signal set to %s", current)
	return nil
}

func (r *REPL) team(ctx context.Context, teamID string) error {
	if teamID == "" {
		return fmt.Errorf("usage: team <team_id>")
	}
	agg, err := r.opts.API.Team(ctx, teamID)
	if err != nil {
		return err
	}
	r.printLine("team %s: overall %d", agg.TeamID, agg.Overall)
	for round, total := range agg.Rounds {
		r.printLine("  %-8s %d", round, total)
	}
	return nil
}

func (r *REPL) leaderboard(ctx context.Context, params command.Params) error {
	limit := 0
	if raw := params.Get("limit"); raw != "" {
		n, err := command.ParseInt(raw)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid limit: %s", raw)
		}
		limit = n
	}
	board, err := r.opts.API.Leaderboard(ctx, params.Get("round"), limit)
	if err != nil {
		return err
	}
	r.printLine("leaderboard %s", board.Round)
	if len(board.Standings) == 0 {
		r.printLine("  no scores yet")
	}
	for _, s := range board.Standings {
		r.printLine("  %2d. %-12s %d", s.Rank, s.TeamID, s.Score)
	}
	return nil
}

func (r *REPL) saveState() {
	if r.opts.StatePath == "" {
		return
	}
	if err := state.Save(r.opts.StatePath, *r.opts.TokenState); err != nil {
		r.printLine("save state failed: %v", err)
	}
}

func (r *REPL) printHelp() {
	for _, cmd := range command.Unique(r.commands) {
		r.printLine("  %-40s %s", cmd.Usage, cmd.Summary)
	}
}

func (r *REPL) printLine(format string, args ...interface{}) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	_, _ = fmt.Fprintf(r.out, format+"\n", args...)
}
