package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nlquery/nlquery/internal/catalog"
	"github.com/nlquery/nlquery/internal/history"
	"github.com/nlquery/nlquery/internal/nl2sql"
	"github.com/nlquery/nlquery/internal/observability"
	"github.com/nlquery/nlquery/internal/query"
)

const (
	stageIntrospect = "introspect"
	stageCompletion = "completion"
	stageExtract    = "extract"
	stageRepair     = "repair"
	stageValidate   = "validate"
	stageExecute    = "execute"
)

const DefaultMaxQuestionLength = 500

type Config struct {
	MaxQuestionLength int
	CompletionTimeout time.Duration
	Generation        nl2sql.GenerationConfig
	AnchorTable       string
	AnchorAlias       string
}

type Dependencies struct {
	Introspector catalog.Introspector
	Completer    nl2sql.Completer
	Gateway      *query.Gateway
	History      history.Store
	Logger       *slog.Logger
}

type Request struct {
	Question string
	ClientID string
	Source   string
	Params   map[string]any
}

// Translation is a question turned into an executable statement.
type Translation struct {
	Question  string
	Statement nl2sql.ValidatedStatement
	Repaired  bool
}

func (t Translation) SQL() string {
	return t.Statement.SQL()
}

type Result struct {
	Question      string
	SQL           string
	Columns       []string
	Rows          []query.Row
	ExecutionTime time.Duration
}

// Service runs question → prompt → completion → extract → repair → validate
// → execute. Every run is counted by outcome and, when a history store is
// configured, recorded.
type Service struct {
	introspector catalog.Introspector
	completer    nl2sql.Completer
	gateway      *query.Gateway
	history      history.Store
	logger       *slog.Logger
	cfg          Config
	now          func() time.Time
}

func New(deps Dependencies, cfg Config) (*Service, error) {
	if deps.Introspector == nil {
		return nil, fmt.Errorf("introspector is required")
	}
	if deps.Completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.MaxQuestionLength <= 0 {
		cfg.MaxQuestionLength = DefaultMaxQuestionLength
	}
	if cfg.Generation.MaxTokens <= 0 {
		cfg.Generation = nl2sql.DefaultGenerationConfig()
	}
	return &Service{
		introspector: deps.Introspector,
		completer:    deps.Completer,
		gateway:      deps.Gateway,
		history:      deps.History,
		logger:       logger,
		cfg:          cfg,
		now:          time.Now,
	}, nil
}

func (s *Service) Schema(ctx context.Context) (catalog.Schema, error) {
	schema, err := s.introspector.Introspect(ctx)
	if err != nil {
		return catalog.Schema{}, fmt.Errorf("introspect schema: %w", err)
	}
	return schema, nil
}

// Translate produces a validated statement without executing it.
func (s *Service) Translate(ctx context.Context, req Request) (Translation, error) {
	start := s.now()
	translation, err := s.translate(ctx, req)
	s.finish(ctx, req, translation, nil, start, err)
	return translation, err
}

// Ask translates the question and executes the resulting statement.
func (s *Service) Ask(ctx context.Context, req Request) (Result, error) {
	start := s.now()
	translation, err := s.translate(ctx, req)
	if err != nil {
		s.finish(ctx, req, translation, nil, start, err)
		return Result{}, err
	}

	stageStart := s.now()
	resultSet, err := s.gateway.Execute(ctx, translation.Statement, req.Params)
	observability.ObserveStageDuration(stageExecute, s.now().Sub(stageStart))
	if err != nil {
		s.finish(ctx, req, translation, nil, start, err)
		return Result{}, err
	}

	result := Result{
		Question:      translation.Question,
		SQL:           translation.SQL(),
		Columns:       resultSet.Columns,
		Rows:          resultSet.Rows,
		ExecutionTime: s.now().Sub(start),
	}
	s.finish(ctx, req, translation, &result, start, nil)
	return result, nil
}

func (s *Service) translate(ctx context.Context, req Request) (Translation, error) {
	question, err := s.checkQuestion(req.Question)
	if err != nil {
		return Translation{}, err
	}
	translation := Translation{Question: question}

	stageStart := s.now()
	schema, err := s.introspector.Introspect(ctx)
	observability.ObserveStageDuration(stageIntrospect, s.now().Sub(stageStart))
	if err != nil {
		return translation, fmt.Errorf("introspect schema: %w", err)
	}
	prompt := nl2sql.ComposePrompt(catalog.Describe(schema), question)

	stageStart = s.now()
	raw, err := s.complete(ctx, prompt)
	observability.ObserveStageDuration(stageCompletion, s.now().Sub(stageStart))
	if err != nil {
		return translation, err
	}

	stageStart = s.now()
	candidate, err := nl2sql.Extract(raw)
	observability.ObserveStageDuration(stageExtract, s.now().Sub(stageStart))
	if err != nil {
		s.logger.DebugContext(ctx, "extraction failed", slog.String("completion", truncate(raw, 300)))
		return translation, err
	}

	stageStart = s.now()
	repairer := nl2sql.NewRepairer(nl2sql.AnchorFor(schema.TableNames(), s.cfg.AnchorTable, s.cfg.AnchorAlias))
	repaired, err := repairer.Repair(candidate)
	observability.ObserveStageDuration(stageRepair, s.now().Sub(stageStart))
	if err != nil {
		return translation, err
	}
	translation.Repaired = repaired != candidate
	if translation.Repaired {
		s.logger.DebugContext(ctx, "statement repaired",
			slog.String("original", candidate.String()),
			slog.String("repaired", repaired.String()),
		)
	}

	stageStart = s.now()
	statement, err := nl2sql.Validate(repaired)
	observability.ObserveStageDuration(stageValidate, s.now().Sub(stageStart))
	if err != nil {
		return translation, err
	}
	translation.Statement = statement
	return translation, nil
}

func (s *Service) checkQuestion(raw string) (string, error) {
	question := strings.TrimSpace(raw)
	if question == "" {
		return "", nl2sql.NewError(nl2sql.KindInvalidInput, "question is required", nil)
	}
	if length := utf8.RuneCountInString(question); length > s.cfg.MaxQuestionLength {
		return "", nl2sql.NewError(nl2sql.KindInvalidInput, fmt.Sprintf("question must be at most %d characters, got %d", s.cfg.MaxQuestionLength, length), nil)
	}
	return question, nil
}

func (s *Service) complete(ctx context.Context, prompt string) (string, error) {
	if s.cfg.CompletionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CompletionTimeout)
		defer cancel()
	}
	raw, err := s.completer.Complete(ctx, prompt, s.cfg.Generation)
	if err != nil {
		if nl2sql.KindOf(err) == "" {
			message := "completion failed"
			if errors.Is(err, context.DeadlineExceeded) {
				message = "completion timed out"
			}
			return "", nl2sql.NewError(nl2sql.KindGenerationFailure, message, err)
		}
		return "", err
	}
	return raw, nil
}

func (s *Service) finish(ctx context.Context, req Request, translation Translation, result *Result, start time.Time, err error) {
	elapsed := s.now().Sub(start)
	entry := history.Entry{
		ClientID: req.ClientID,
		Source:   req.Source,
		Question: strings.TrimSpace(req.Question),
		SQL:      translation.SQL(),
		Outcome:  history.OutcomeOK,
		Duration: elapsed,
	}
	if entry.Source == "" {
		entry.Source = history.SourceHTTP
	}
	if result != nil {
		entry.RowCount = len(result.Rows)
	}

	if err != nil {
		kind := nl2sql.KindOf(err)
		outcome := string(kind)
		if kind == "" {
			outcome = "internal"
		}
		entry.Outcome = history.OutcomeFailed
		entry.ErrorKind = outcome
		entry.ErrorMessage = err.Error()
		observability.ObservePipelineOutcome(outcome)
		if kind == nl2sql.KindDeniedOperation {
			observability.IncrementDeniedStatement()
		}

		attrs := []any{
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("client_id", req.ClientID),
			slog.String("kind", outcome),
			slog.String("duration", elapsed.String()),
			slog.String("error", err.Error()),
		}
		if nl2sql.IsClientError(kind) {
			s.logger.WarnContext(ctx, "pipeline rejected question", attrs...)
		} else {
			s.logger.ErrorContext(ctx, "pipeline failed", attrs...)
		}
	} else {
		observability.ObservePipelineOutcome(history.OutcomeOK)
		s.logger.InfoContext(ctx, "pipeline completed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("client_id", req.ClientID),
			slog.Int("rows", entry.RowCount),
			slog.String("duration", elapsed.String()),
		)
	}

	if s.history == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if _, recordErr := s.history.Record(recordCtx, entry); recordErr != nil {
		s.logger.WarnContext(ctx, "record query history failed", slog.String("error", recordErr.Error()))
	}
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
