package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"placement-runner/internal/domain"
)

const (
	DefaultCodeTrustThreshold = 20
	DefaultTickInterval       = time.Second
	DefaultPostTimeout        = 10 * time.Second
)

// Deps are the collaborators of a Controller. Presenter and Screen are optional.
type Deps struct {
	Catalog   Catalog
	Attempts  Attempts
	Judge     Judge
	Presenter Presenter
	Screen    Screen
}

// Options tune a Controller. Zero values select the defaults.
type Options struct {
	// CodeTrustThreshold is the trimmed code length above which an unexecuted
	// coding answer blocks a manual submission.
	CodeTrustThreshold int
	TickInterval       time.Duration
	PostTimeout        time.Duration
	Now                func() time.Time
	Logger             *zerolog.Logger
	// Shuffle permutes the question order on start. Defaults to rand.Shuffle.
	Shuffle func(n int, swap func(i, j int))
	// ExternalTicks disables the internal countdown; the caller drives Tick.
	ExternalTicks bool
}

// Controller runs one student's attempt at one test.
type Controller struct {
	deps Deps
	opts Options
	log  zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	posts   sync.WaitGroup

	// renderMu orders deliveries so presenters never see an older snapshot
	// after a newer one.
	renderMu sync.Mutex

	mu        sync.Mutex
	def       *domain.TestDefinition
	state     State
	starting  bool
	closed    bool
	attempt   *domain.AttemptHandle
	questions []domain.Question
	cursor    int
	remaining int
	expired   bool
	answers   map[int64]domain.AnswerRecord
	alerts    []Alert
	counts    map[domain.IntegrityKind]int
	result    *domain.AttemptResult

	listening  bool
	hidden     bool
	fullscreen bool

	cd  *countdown
	gen uint64
}

type submission struct {
	attemptID int64
	answers   []domain.AnswerWireRecord
	auto      bool
}

func NewController(deps Deps, opts Options) *Controller {
	if deps.Presenter == nil {
		deps.Presenter = nopPresenter{}
	}
	if deps.Screen == nil {
		deps.Screen = nopScreen{}
	}
	if opts.CodeTrustThreshold <= 0 {
		opts.CodeTrustThreshold = DefaultCodeTrustThreshold
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.PostTimeout <= 0 {
		opts.PostTimeout = DefaultPostTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Shuffle == nil {
		opts.Shuffle = rand.Shuffle
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "controller").Logger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		deps:    deps,
		opts:    opts,
		log:     log,
		baseCtx: ctx,
		cancel:  cancel,
		answers: make(map[int64]domain.AnswerRecord),
		counts:  make(map[domain.IntegrityKind]int),
	}
}

// LoadDefinition fetches and validates the test. Any failure is a FetchError.
func (c *Controller) LoadDefinition(ctx context.Context, testID int64) error {
	c.mu.Lock()
	if c.closed || c.state != NotStarted || c.starting {
		c.mu.Unlock()
		return domain.ErrInvalidState
	}
	c.mu.Unlock()

	def, err := c.deps.Catalog.FetchTestDefinition(ctx, testID)
	if err != nil {
		return &domain.FetchError{TestID: testID, Err: err}
	}
	if err := def.Validate(); err != nil {
		return &domain.FetchError{TestID: testID, Err: err}
	}
	def = def.Clone()

	c.mu.Lock()
	if c.state != NotStarted || c.starting {
		c.mu.Unlock()
		return domain.ErrInvalidState
	}
	c.def = &def
	c.mu.Unlock()

	c.log.Debug().Int64("test_id", def.ID).Int("questions", len(def.Questions)).Msg("test definition loaded")
	c.render()
	return nil
}

// Start creates the attempt on the backend and begins the countdown.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.def == nil || c.state != NotStarted || c.starting {
		c.mu.Unlock()
		return domain.ErrInvalidState
	}
	def := c.def
	now := c.opts.Now()
	if def.StartTime != nil && now.Before(*def.StartTime) {
		c.mu.Unlock()
		return &domain.StartError{TestID: def.ID, Err: domain.ErrTestNotOpen}
	}
	if def.EndTime != nil && now.After(*def.EndTime) {
		c.mu.Unlock()
		return &domain.StartError{TestID: def.ID, Err: domain.ErrTestClosed}
	}
	c.starting = true
	c.mu.Unlock()

	handle, err := c.deps.Attempts.StartAttempt(ctx, def.ID)

	c.mu.Lock()
	c.starting = false
	if err != nil {
		c.mu.Unlock()
		return &domain.StartError{TestID: def.ID, Err: err}
	}
	if c.closed {
		c.mu.Unlock()
		c.log.Warn().Int64("attempt_id", handle.ID).Msg("attempt started after controller closed")
		return domain.ErrInvalidState
	}

	questions := def.Clone().Questions
	c.opts.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})

	c.attempt = &handle
	c.questions = questions
	c.cursor = 0
	c.remaining = def.TimeLimitMinutes * 60
	c.state = InProgress
	c.listening = true
	c.hidden = false
	c.startCountdownLocked()
	c.mu.Unlock()

	c.log.Info().
		Int64("test_id", def.ID).
		Int64("attempt_id", handle.ID).
		Int("time_remaining", def.TimeLimitMinutes*60).
		Msg("attempt started")
	c.acquireFullscreen(ctx)
	c.render()
	return nil
}

func (c *Controller) acquireFullscreen(ctx context.Context) {
	if err := c.deps.Screen.EnterFullscreen(ctx); err != nil {
		c.log.Warn().Err(err).Msg("fullscreen not acquired")
		return
	}
	c.mu.Lock()
	held := c.state == InProgress && !c.closed
	if held {
		c.fullscreen = true
	}
	c.mu.Unlock()
	if !held {
		c.releaseFullscreen(ctx)
	}
}

func (c *Controller) releaseFullscreen(ctx context.Context) {
	if err := c.deps.Screen.ExitFullscreen(ctx); err != nil {
		c.log.Warn().Err(err).Msg("fullscreen release failed")
	}
}

// SelectAnswer stores the answer for a question. A coding answer whose code
// or language differs from the stored one loses its executed flag; the flag
// passed by the caller is ignored.
func (c *Controller) SelectAnswer(questionID int64, answer domain.AnswerRecord) error {
	c.mu.Lock()
	q, err := c.answerableLocked(questionID)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	switch a := answer.(type) {
	case domain.SingleChoiceAnswer:
		if q.Kind != domain.SingleChoice {
			c.mu.Unlock()
			return domain.ErrAnswerKindMismatch
		}
		if a.SelectedOptionID != nil && !q.HasOption(*a.SelectedOptionID) {
			c.mu.Unlock()
			return domain.ErrOptionNotFound
		}
		if a.SelectedOptionID == nil {
			delete(c.answers, q.ID)
		} else {
			c.answers[q.ID] = domain.Choose(*a.SelectedOptionID)
		}
	case domain.CodingAnswer:
		if q.Kind != domain.Coding {
			c.mu.Unlock()
			return domain.ErrAnswerKindMismatch
		}
		prev := c.codingAnswerLocked(q)
		next := domain.CodingAnswer{Code: a.Code, Language: a.Language}
		if next.Language == "" {
			next.Language = prev.Language
		}
		if prev.SameSource(next.Code, next.Language) {
			next.Executed = prev.Executed
		}
		c.answers[q.ID] = next
	default:
		c.mu.Unlock()
		return domain.ErrAnswerKindMismatch
	}
	c.mu.Unlock()

	c.render()
	return nil
}

// ChangeLanguage switches a coding answer to language and loads its starter
// template into the editor.
func (c *Controller) ChangeLanguage(questionID int64, language string) error {
	c.mu.Lock()
	q, err := c.answerableLocked(questionID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if q.Kind != domain.Coding {
		c.mu.Unlock()
		return domain.ErrAnswerKindMismatch
	}
	if c.codingAnswerLocked(q).Language == language {
		c.mu.Unlock()
		return nil
	}
	c.answers[q.ID] = domain.CodingAnswer{Code: domain.StarterTemplate(language), Language: language}
	c.mu.Unlock()

	c.render()
	return nil
}

// MarkExecuted trusts a coding answer, but only when the stored code and
// language still equal the ones that were executed.
func (c *Controller) MarkExecuted(questionID int64, code, language string) bool {
	c.mu.Lock()
	if c.closed || c.state != InProgress {
		c.mu.Unlock()
		return false
	}
	q, ok := c.questionLocked(questionID)
	if !ok || q.Kind != domain.Coding {
		c.mu.Unlock()
		return false
	}
	cur := c.codingAnswerLocked(q)
	if !cur.SameSource(code, language) {
		c.mu.Unlock()
		return false
	}
	cur.Executed = true
	c.answers[q.ID] = cur
	c.mu.Unlock()

	c.render()
	return true
}

// RunCode judges the current code of a coding question against its test
// cases and marks it executed when the judge answered.
func (c *Controller) RunCode(ctx context.Context, questionID int64) (domain.JudgeReport, error) {
	cur, err := c.codingSource(questionID)
	if err != nil {
		return domain.JudgeReport{}, err
	}

	report, err := c.deps.Judge.Judge(ctx, domain.JudgeRequest{
		QuestionID: questionID,
		Code:       cur.Code,
		Language:   cur.Language,
	})
	if err != nil {
		return domain.JudgeReport{}, fmt.Errorf("judge question %d: %w", questionID, err)
	}
	if !c.MarkExecuted(questionID, cur.Code, cur.Language) {
		c.log.Debug().Int64("question_id", questionID).Msg("code changed during judge run")
	}
	return report, nil
}

// RunCustom runs the current code against custom input. It does not mark the
// answer executed.
func (c *Controller) RunCustom(ctx context.Context, questionID int64, input string) (domain.RunOutput, error) {
	cur, err := c.codingSource(questionID)
	if err != nil {
		return domain.RunOutput{}, err
	}
	out, err := c.deps.Judge.Run(ctx, domain.RunRequest{Code: cur.Code, Language: cur.Language, Input: input})
	if err != nil {
		return domain.RunOutput{}, fmt.Errorf("run question %d: %w", questionID, err)
	}
	return out, nil
}

func (c *Controller) codingSource(questionID int64) (domain.CodingAnswer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state != InProgress {
		return domain.CodingAnswer{}, domain.ErrInvalidState
	}
	q, ok := c.questionLocked(questionID)
	if !ok {
		return domain.CodingAnswer{}, domain.ErrQuestionNotFound
	}
	if q.Kind != domain.Coding {
		return domain.CodingAnswer{}, domain.ErrAnswerKindMismatch
	}
	return c.codingAnswerLocked(q), nil
}

// Navigate moves the cursor, clamped to the question range, and returns the
// resulting position.
func (c *Controller) Navigate(index int) int {
	c.mu.Lock()
	n := len(c.questions)
	switch {
	case n == 0 || index < 0:
		index = 0
	case index > n-1:
		index = n - 1
	}
	changed := c.cursor != index
	c.cursor = index
	c.mu.Unlock()

	if changed {
		c.render()
	}
	return index
}

func (c *Controller) Next() int {
	c.mu.Lock()
	i := c.cursor + 1
	c.mu.Unlock()
	return c.Navigate(i)
}

func (c *Controller) Previous() int {
	c.mu.Lock()
	i := c.cursor - 1
	c.mu.Unlock()
	return c.Navigate(i)
}

// Tick advances the clock by one second. Reaching zero submits the attempt
// without validation; the submission runs before Tick returns.
func (c *Controller) Tick(ctx context.Context) {
	c.tick(ctx, 0)
}

func (c *Controller) tick(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if gen != 0 && gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.closed || c.state != InProgress || c.expired || c.remaining <= 0 {
		c.mu.Unlock()
		return
	}
	c.remaining--
	if c.remaining > 0 {
		c.mu.Unlock()
		c.render()
		return
	}
	c.expired = true
	sub := c.beginSubmitLocked(true)
	c.mu.Unlock()

	c.log.Info().Msg("time is up, submitting attempt")
	c.render()
	_ = c.finishSubmit(ctx, sub)
}

// Submit is the manual submission. It is refused with a ValidationError while
// a coding answer carries meaningful code that has not been executed, unless
// the time already ran out.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.state != InProgress {
		c.mu.Unlock()
		return domain.ErrInvalidState
	}
	auto := c.expired
	if !auto {
		if ids := c.unverifiedLocked(); len(ids) > 0 {
			c.mu.Unlock()
			return &domain.ValidationError{
				QuestionID: ids[0],
				Reason:     "code has not been run since its last change",
			}
		}
	}
	sub := c.beginSubmitLocked(auto)
	c.mu.Unlock()

	c.render()
	return c.finishSubmit(ctx, sub)
}

func (c *Controller) beginSubmitLocked(auto bool) submission {
	c.state = Submitting
	c.stopCountdownLocked()

	answers := make([]domain.AnswerWireRecord, 0, len(c.answers))
	for _, q := range c.questions {
		if rec, ok := domain.WireRecord(q.ID, c.answers[q.ID]); ok {
			answers = append(answers, rec)
		}
	}
	return submission{attemptID: c.attempt.ID, answers: answers, auto: auto}
}

func (c *Controller) finishSubmit(ctx context.Context, sub submission) error {
	res, err := c.deps.Attempts.SubmitAttempt(ctx, sub.attemptID, sub.answers)
	if err != nil {
		subErr := &domain.SubmissionError{AttemptID: sub.attemptID, Err: err}

		c.mu.Lock()
		c.state = InProgress
		if !c.closed && !c.expired && c.remaining > 0 {
			c.startCountdownLocked()
		}
		var alert *Alert
		if sub.auto {
			a := Alert{
				Kind:            AlertSubmissionFailed,
				Message:         domain.UserMessage(err, "Failed to submit test. Please try again."),
				Acknowledgeable: true,
			}
			c.raiseAlertLocked(a)
			alert = &a
		}
		c.mu.Unlock()

		c.log.Error().Err(subErr).Int64("attempt_id", sub.attemptID).Bool("auto", sub.auto).Msg("submission failed")
		if alert != nil {
			c.deps.Presenter.Alert(*alert)
		}
		c.render()
		return subErr
	}

	c.mu.Lock()
	c.state = Completed
	c.result = &res
	c.listening = false
	release := c.fullscreen
	c.fullscreen = false
	c.alerts = nil
	c.mu.Unlock()

	c.log.Info().
		Int64("attempt_id", sub.attemptID).
		Int("correct", res.CorrectAnswers).
		Int("incorrect", res.IncorrectAnswers).
		Bool("auto", sub.auto).
		Msg("attempt submitted")
	if release {
		c.releaseFullscreen(ctx)
	}
	c.render()
	return nil
}

// VisibilityChanged reports the page (or process) becoming hidden or visible.
// Hiding posts one tab-hidden event; becoming visible again raises one alert.
func (c *Controller) VisibilityChanged(hidden bool) {
	c.mu.Lock()
	if !c.listeningLocked() || c.hidden == hidden {
		c.mu.Unlock()
		return
	}
	c.hidden = hidden
	if hidden {
		c.recordLocked(domain.IntegrityTabHidden)
		c.mu.Unlock()
		c.render()
		return
	}
	c.raiseAlertLocked(tabSwitchAlert)
	c.mu.Unlock()

	c.deps.Presenter.Alert(tabSwitchAlert)
	c.render()
}

// FullscreenChanged reports the full-screen mode changing outside the
// controller's own acquire and release.
func (c *Controller) FullscreenChanged(active bool) {
	c.mu.Lock()
	if !c.listeningLocked() {
		c.fullscreen = active
		c.mu.Unlock()
		return
	}
	if c.fullscreen == active {
		c.mu.Unlock()
		return
	}
	c.fullscreen = active
	if active {
		c.dropAlertLocked(AlertFullscreenExit)
		c.mu.Unlock()
		c.render()
		return
	}
	c.recordLocked(domain.IntegrityFullscreenExit)
	c.raiseAlertLocked(fullscreenExitAlert)
	c.mu.Unlock()

	c.deps.Presenter.Alert(fullscreenExitAlert)
	c.render()
}

// FullscreenUnavailable records that the presentation layer could not enter
// full-screen. Nothing is posted since the mode was never held.
func (c *Controller) FullscreenUnavailable(err error) {
	c.mu.Lock()
	c.fullscreen = false
	c.mu.Unlock()
	c.log.Warn().Err(err).Msg("fullscreen unavailable")
}

// ReacquireFullscreen is the action offered by the fullscreen-exit alert.
func (c *Controller) ReacquireFullscreen(ctx context.Context) error {
	c.mu.Lock()
	if !c.listeningLocked() {
		c.mu.Unlock()
		return domain.ErrInvalidState
	}
	c.mu.Unlock()

	if err := c.deps.Screen.EnterFullscreen(ctx); err != nil {
		c.log.Warn().Err(err).Msg("fullscreen reacquire failed")
		return err
	}

	c.mu.Lock()
	c.fullscreen = true
	c.dropAlertLocked(AlertFullscreenExit)
	c.mu.Unlock()
	c.render()
	return nil
}

// AcknowledgeAlert dismisses the pending alert of the given kind.
func (c *Controller) AcknowledgeAlert(kind AlertKind) bool {
	c.mu.Lock()
	dropped := c.dropAlertLocked(kind)
	c.mu.Unlock()
	if dropped {
		c.render()
	}
	return dropped
}

// Close abandons the controller: the countdown stops, full-screen is released,
// listeners detach and in-flight integrity posts are awaited until ctx is done.
// It is safe to call more than once.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.listening = false
	c.stopCountdownLocked()
	release := c.fullscreen
	c.fullscreen = false
	state := c.state
	c.mu.Unlock()

	if state == InProgress {
		c.log.Info().Msg("attempt abandoned")
	}
	if release {
		c.releaseFullscreen(ctx)
	}

	done := make(chan struct{})
	go func() {
		c.posts.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("wait for integrity posts: %w", ctx.Err())
	}
	c.cancel()
	return err
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		State:           c.state,
		Cursor:          c.cursor,
		TimeRemaining:   c.remaining,
		Expired:         c.expired,
		Answers:         make(map[int64]domain.AnswerRecord, len(c.answers)),
		Alerts:          append([]Alert(nil), c.alerts...),
		IntegrityEvents: make(map[domain.IntegrityKind]int, len(c.counts)),
		Unverified:      c.unverifiedLocked(),
	}
	if c.def != nil {
		s.TestID = c.def.ID
		s.Title = c.def.Title
		s.Description = c.def.Description
		s.TimeLimitMinutes = c.def.TimeLimitMinutes
		s.TotalMarks = c.def.TotalMarks
		s.QuestionCount = len(c.def.Questions)
		if c.state == NotStarted {
			s.TimeRemaining = c.def.TimeLimitMinutes * 60
		}
	}
	if c.state != NotStarted {
		s.Questions = append([]domain.Question(nil), c.questions...)
	}
	if c.attempt != nil {
		h := *c.attempt
		s.Attempt = &h
	}
	for id, a := range c.answers {
		s.Answers[id] = a
		if a.Answered() {
			s.AnsweredCount++
		}
	}
	for k, v := range c.counts {
		s.IntegrityEvents[k] = v
	}
	if c.result != nil {
		r := *c.result
		s.Result = &r
		s.ScorePercentage = domain.ScorePercentage(r.CorrectAnswers, len(c.questions))
	}
	s.Clock = domain.FormatClock(s.TimeRemaining)
	s.LowTime = c.state == InProgress && s.TimeRemaining < lowTimeSeconds
	return s
}

func (c *Controller) render() {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	c.deps.Presenter.Render(c.Snapshot())
}

func (c *Controller) listeningLocked() bool {
	return c.listening && !c.closed && c.state == InProgress
}

func (c *Controller) answerableLocked(questionID int64) (domain.Question, error) {
	if c.closed || c.state != InProgress {
		return domain.Question{}, domain.ErrInvalidState
	}
	if c.expired {
		return domain.Question{}, domain.ErrTimeExpired
	}
	q, ok := c.questionLocked(questionID)
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return q, nil
}

func (c *Controller) questionLocked(id int64) (domain.Question, bool) {
	for _, q := range c.questions {
		if q.ID == id {
			return q, true
		}
	}
	return domain.Question{}, false
}

func (c *Controller) codingAnswerLocked(q domain.Question) domain.CodingAnswer {
	if a, ok := c.answers[q.ID].(domain.CodingAnswer); ok {
		return a
	}
	return q.InitialCodingAnswer()
}

// unverifiedLocked lists coding answers that block a manual submission, in
// presentation order.
func (c *Controller) unverifiedLocked() []int64 {
	var ids []int64
	for _, q := range c.questions {
		if a, ok := c.answers[q.ID].(domain.CodingAnswer); ok && a.Untrusted(c.opts.CodeTrustThreshold) {
			ids = append(ids, q.ID)
		}
	}
	return ids
}

func (c *Controller) raiseAlertLocked(a Alert) {
	c.dropAlertLocked(a.Kind)
	c.alerts = append(c.alerts, a)
}

func (c *Controller) dropAlertLocked(kind AlertKind) bool {
	kept := c.alerts[:0]
	dropped := false
	for _, a := range c.alerts {
		if a.Kind == kind {
			dropped = true
			continue
		}
		kept = append(kept, a)
	}
	c.alerts = kept
	return dropped
}

// recordLocked counts an integrity signal and posts it in the background.
// Post failures are logged and never retried.
func (c *Controller) recordLocked(kind domain.IntegrityKind) {
	c.counts[kind]++
	event := domain.IntegrityEvent{Kind: kind, AttemptID: c.attempt.ID, At: c.opts.Now()}

	c.posts.Add(1)
	go func() {
		defer c.posts.Done()
		ctx, cancel := context.WithTimeout(c.baseCtx, c.opts.PostTimeout)
		defer cancel()
		if err := c.deps.Attempts.RecordIntegrityEvent(ctx, event); err != nil {
			failure := &domain.IntegrityPostFailure{AttemptID: event.AttemptID, Kind: kind, Err: err}
			if errors.Is(err, context.Canceled) {
				c.log.Debug().Err(failure).Msg("integrity post cancelled")
				return
			}
			c.log.Warn().Err(failure).Msg("integrity post failed")
		}
	}()
}

func (c *Controller) startCountdownLocked() {
	c.gen++
	if c.opts.ExternalTicks {
		return
	}
	gen := c.gen
	c.cd = startCountdown(c.opts.TickInterval, gen, func(g uint64) {
		c.tick(c.baseCtx, g)
	})
}

func (c *Controller) stopCountdownLocked() {
	c.gen++
	c.cd.Stop()
	c.cd = nil
}
