package colbot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// discord allows at most 25 options in a select menu
	maxSelectOptions = 25

	noLevelsToVoteMessage = "There are no pending levels to vote on."
	levelNotFoundMessage  = "Level not found in pending list."
	duplicateVoteMessage  = "❌ You have already voted for this level."
	invalidScoreMessage   = "❌ Scores must be whole numbers from 1 to 10."
	voteRecordedMessage   = "✅ Your vote for **%s** has been recorded!"
)

// VoteStage is the position of a user in the vote flow
type VoteStage int

const (
	VoteIdle VoteStage = iota
	VoteSelectionOffered
	VoteScoreInputRequested
	VoteCommitting
	VoteDone
)

func (s VoteStage) String() string {
	switch s {
	case VoteIdle:
		return "idle"
	case VoteSelectionOffered:
		return "selection_offered"
	case VoteScoreInputRequested:
		return "score_input_requested"
	case VoteCommitting:
		return "committing"
	case VoteDone:
		return "done"
	default:
		return "unknown"
	}
}

// VoteState is the state of one user's vote. LevelID is set from
// VoteScoreInputRequested onward.
type VoteState struct {
	Stage   VoteStage
	LevelID string
}

// VoteEvent is one of [VoteInvoked], [VoteLevelSelected] or
// [VoteScoresSubmitted]
type VoteEvent interface {
	voteEvent()
}

// VoteInvoked is the /vote command
type VoteInvoked struct {
	Caller Caller
	Levels []Level
}

// VoteLevelSelected is a choice from the level menu
type VoteLevelSelected struct {
	LevelID   string
	LevelName string
}

// VoteScoresSubmitted is the raw text of the score modal
type VoteScoresSubmitted struct {
	Caller  Caller
	LevelID string
	Song    string
	Design  string
	Vibe    string
}

func (VoteInvoked) voteEvent()         {}
func (VoteLevelSelected) voteEvent()   {}
func (VoteScoresSubmitted) voteEvent() {}

// VoteEffect is one of [ShowLevelMenu], [ShowScoreModal], [CommitVote]
// or [RejectVote]
type VoteEffect interface {
	voteEffect()
}

// MenuOption is a select menu entry
type MenuOption struct {
	Label       string
	Description string
	Value       string
}

type ShowLevelMenu struct {
	Options []MenuOption
}

type ShowScoreModal struct {
	LevelID   string
	LevelName string
}

type CommitVote struct {
	LevelID string
	UserID  string
	Ballot  Ballot
}

type RejectVote struct {
	Err error
}

func (ShowLevelMenu) voteEffect()  {}
func (ShowScoreModal) voteEffect() {}
func (CommitVote) voteEffect()     {}
func (RejectVote) voteEffect()     {}

// VoteMachine drives the vote flow. It does no I/O: each transition
// returns the effects the caller should carry out.
type VoteMachine struct {
	guard *Guard
}

func NewVoteMachine(guard *Guard) *VoteMachine {
	return &VoteMachine{guard: guard}
}

// Transition applies event to state. A rejected event returns the
// state unchanged along with a single RejectVote effect.
func (m *VoteMachine) Transition(state VoteState, event VoteEvent) (VoteState, []VoteEffect) {
	reject := func(err error) (VoteState, []VoteEffect) {
		return state, []VoteEffect{RejectVote{Err: err}}
	}

	switch e := event.(type) {
	case VoteInvoked:
		if err := m.guard.RequireVoter(e.Caller); err != nil {
			return reject(err)
		}
		if len(e.Levels) == 0 {
			return reject(newWorkflowError(ErrNoLevelsAvailable, noLevelsToVoteMessage, nil))
		}
		return VoteState{Stage: VoteSelectionOffered}, []VoteEffect{
			ShowLevelMenu{Options: levelMenuOptions(e.Levels, nil)},
		}
	case VoteLevelSelected:
		if e.LevelID == "" {
			return reject(newWorkflowError(ErrValidation, levelNotFoundMessage, nil))
		}
		name := e.LevelName
		if name == "" {
			name = e.LevelID
		}
		return VoteState{Stage: VoteScoreInputRequested, LevelID: e.LevelID}, []VoteEffect{
			ShowScoreModal{LevelID: e.LevelID, LevelName: name},
		}
	case VoteScoresSubmitted:
		levelID := e.LevelID
		if levelID == "" {
			levelID = state.LevelID
		}
		if levelID == "" {
			return reject(newWorkflowError(ErrValidation, levelNotFoundMessage, nil))
		}
		ballot, err := ParseBallot(e.Song, e.Design, e.Vibe)
		if err != nil {
			return reject(err)
		}
		return VoteState{Stage: VoteCommitting, LevelID: levelID}, []VoteEffect{
			CommitVote{LevelID: levelID, UserID: e.Caller.UserID, Ballot: ballot},
		}
	default:
		return reject(fmt.Errorf("%w: unknown vote event %T", ErrValidation, event))
	}
}

// ParseScore parses a base-10 integer score in [1, 10]
func ParseScore(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, newWorkflowError(ErrValidation, invalidScoreMessage, err)
	}
	if n < minScore || n > maxScore {
		return 0, newWorkflowError(
			ErrValidation,
			invalidScoreMessage,
			fmt.Errorf("score %d out of range", n),
		)
	}
	return n, nil
}

// ParseBallot parses all three scores
func ParseBallot(song, design, vibe string) (Ballot, error) {
	var b Ballot
	var err error
	if b.Song, err = ParseScore(song); err != nil {
		return Ballot{}, err
	}
	if b.Design, err = ParseScore(design); err != nil {
		return Ballot{}, err
	}
	if b.Vibe, err = ParseScore(vibe); err != nil {
		return Ballot{}, err
	}
	return b, nil
}

// levelMenuOptions builds select options for the first 25 levels.
// labels overrides the label for a level ID, when present.
func levelMenuOptions(levels []Level, labels map[string]string) []MenuOption {
	n := min(len(levels), maxSelectOptions)
	options := make([]MenuOption, 0, n)
	for _, l := range levels[:n] {
		label := l.DisplayName()
		if alt, ok := labels[l.ID]; ok && alt != "" {
			label = alt
		}
		opt := MenuOption{Label: truncateLabel(label), Value: l.ID}
		if l.AuthorRef != "" {
			opt.Description = truncateLabel(l.AuthorRef)
		}
		options = append(options, opt)
	}
	return options
}

// CommitVote records c's ballot for levelID, re-checking the vote
// role, and returns the reply text.
func (w *Workflows) CommitVote(ctx context.Context, c Caller, levelID string, b Ballot) (reply string, err error) {
	defer func() { w.metrics.observeCommand("vote", err) }()

	if err = w.guard.RequireVoter(c); err != nil {
		return "", err
	}

	var name string
	err = w.ledger.Update(
		ctx, func(reg *Registry) error {
			level, ok := reg.FindByID(levelID)
			if !ok {
				return newWorkflowError(ErrNotFound, levelNotFoundMessage, nil)
			}
			if voteErr := level.addVote(c.UserID, b); voteErr != nil {
				if errors.Is(voteErr, ErrDuplicateVote) {
					return newWorkflowError(ErrDuplicateVote, duplicateVoteMessage, nil)
				}
				return newWorkflowError(ErrValidation, invalidScoreMessage, voteErr)
			}
			name = level.DisplayName()
			return nil
		},
	)
	if err != nil {
		return "", err
	}

	if w.metrics != nil {
		w.metrics.Votes.Inc()
	}
	contextLogger(ctx, w.logger).InfoContext(
		ctx,
		"vote recorded",
		"level_id", levelID,
		"caller", c,
	)
	return fmt.Sprintf(voteRecordedMessage, name), nil
}

// StartVote returns the level menu for /vote
func (w *Workflows) StartVote(ctx context.Context, c Caller) ([]MenuOption, error) {
	machine := NewVoteMachine(w.guard)
	// check auth before touching the store
	if err := w.guard.RequireVoter(c); err != nil {
		w.metrics.observeCommand("vote_menu", err)
		return nil, err
	}
	_, effects := machine.Transition(
		VoteState{},
		VoteInvoked{Caller: c, Levels: w.Levels(ctx)},
	)
	for _, eff := range effects {
		switch e := eff.(type) {
		case RejectVote:
			w.metrics.observeCommand("vote_menu", e.Err)
			return nil, e.Err
		case ShowLevelMenu:
			w.metrics.observeCommand("vote_menu", nil)
			return e.Options, nil
		}
	}
	return nil, newWorkflowError(ErrNoLevelsAvailable, noLevelsToVoteMessage, nil)
}

// SelectVoteLevel returns the score modal for the chosen level
func (w *Workflows) SelectVoteLevel(ctx context.Context, levelID string) (ShowScoreModal, error) {
	var name string
	if level, ok := w.ledger.View(ctx).FindByID(levelID); ok {
		name = level.DisplayName()
	} else {
		return ShowScoreModal{}, newWorkflowError(ErrNotFound, levelNotFoundMessage, nil)
	}
	_, effects := NewVoteMachine(w.guard).Transition(
		VoteState{Stage: VoteSelectionOffered},
		VoteLevelSelected{LevelID: levelID, LevelName: name},
	)
	for _, eff := range effects {
		switch e := eff.(type) {
		case RejectVote:
			return ShowScoreModal{}, e.Err
		case ShowScoreModal:
			return e, nil
		}
	}
	return ShowScoreModal{}, newWorkflowError(ErrNotFound, levelNotFoundMessage, nil)
}

// SubmitScores validates the raw modal input and commits the vote
func (w *Workflows) SubmitScores(ctx context.Context, submitted VoteScoresSubmitted) (string, error) {
	_, effects := NewVoteMachine(w.guard).Transition(
		VoteState{Stage: VoteScoreInputRequested, LevelID: submitted.LevelID},
		submitted,
	)
	for _, eff := range effects {
		switch e := eff.(type) {
		case RejectVote:
			w.metrics.observeCommand("vote", e.Err)
			return "", e.Err
		case CommitVote:
			return w.CommitVote(ctx, submitted.Caller, e.LevelID, e.Ballot)
		}
	}
	return "", newWorkflowError(ErrValidation, invalidScoreMessage, nil)
}
