package colbot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
)

const (
	// DefaultThumbnailURL is used when a level's forum post has no image
	DefaultThumbnailURL = "https://via.placeholder.com/150"

	minScore = 1
	maxScore = 10
)

// Votes holds the per-dimension scores of a Level. Index i of each slice
// belongs to the voter at index i of [Level.Voters].
type Votes struct {
	Song   []int `json:"song"`
	Design []int `json:"design"`
	Vibe   []int `json:"vibe"`
}

// Level is a pending community submission, usually a forum thread.
//
// The JSON field names match the document format the bot has always
// persisted, so existing pending.json files and Google docs load as-is.
type Level struct {
	// ID is the forum thread ID, or a legacy free-form tag
	ID string `json:"postIdOrTag"`

	// Name is the display name, generally the thread title
	Name string `json:"levelName"`

	// AuthorRef is a user mention (<@id>) or a bare user ID. May be empty.
	AuthorRef string `json:"authorId"`

	ThumbnailURL string `json:"thumbnailUrl"`

	// Ranks is unused, but kept so documents round-trip untouched
	Ranks []json.RawMessage `json:"ranks"`

	Votes  Votes    `json:"votes"`
	Voters []string `json:"voters"`
}

// Ballot is a single user's scores for a level
type Ballot struct {
	Song   int `json:"song"`
	Design int `json:"design"`
	Vibe   int `json:"vibe"`
}

func (b Ballot) validate() error {
	for _, s := range []int{b.Song, b.Design, b.Vibe} {
		if s < minScore || s > maxScore {
			return fmt.Errorf(
				"%w: score %d out of range [%d, %d]",
				ErrValidation, s, minScore, maxScore,
			)
		}
	}
	return nil
}

// Scores are per-dimension arithmetic means, and the mean of those three
type Scores struct {
	Song    float64 `json:"song"`
	Design  float64 `json:"design"`
	Vibe    float64 `json:"vibe"`
	Overall float64 `json:"overall"`
}

// NewLevel returns a Level with no votes. Empty name and thumbnail
// values fall back to the ID and [DefaultThumbnailURL].
func NewLevel(id, name, authorRef, thumbnailURL string) Level {
	if name == "" {
		name = id
	}
	if thumbnailURL == "" {
		thumbnailURL = DefaultThumbnailURL
	}
	return Level{
		ID:           id,
		Name:         name,
		AuthorRef:    authorRef,
		ThumbnailURL: thumbnailURL,
		Ranks:        []json.RawMessage{},
		Votes:        Votes{Song: []int{}, Design: []int{}, Vibe: []int{}},
		Voters:       []string{},
	}
}

// DisplayName returns the level name, or the ID when no name is set
func (l Level) DisplayName() string {
	if l.Name == "" {
		return l.ID
	}
	return l.Name
}

// VoteCount returns the number of users who have voted
func (l Level) VoteCount() int {
	return len(l.Voters)
}

// HasVoted reports whether userID already has a ballot on this level
func (l Level) HasVoted(userID string) bool {
	return slices.Contains(l.Voters, userID)
}

// Averages returns the level's mean scores. ok is false when nobody
// has voted yet.
func (l Level) Averages() (scores Scores, ok bool) {
	if len(l.Votes.Song) == 0 {
		return scores, false
	}
	scores.Song = mean(l.Votes.Song)
	scores.Design = mean(l.Votes.Design)
	scores.Vibe = mean(l.Votes.Vibe)
	scores.Overall = (scores.Song + scores.Design + scores.Vibe) / 3
	return scores, true
}

// addVote appends the ballot to all three score lists and records the
// voter. Either everything is appended or nothing is.
func (l *Level) addVote(userID string, b Ballot) error {
	if userID == "" {
		return fmt.Errorf("%w: missing user ID", ErrValidation)
	}
	if l.HasVoted(userID) {
		return ErrDuplicateVote
	}
	if err := b.validate(); err != nil {
		return err
	}
	l.Votes.Song = append(l.Votes.Song, b.Song)
	l.Votes.Design = append(l.Votes.Design, b.Design)
	l.Votes.Vibe = append(l.Votes.Vibe, b.Vibe)
	l.Voters = append(l.Voters, userID)
	return nil
}

// resetVotes clears all scores and voters, keeping identity fields
func (l *Level) resetVotes() {
	l.Votes = Votes{Song: []int{}, Design: []int{}, Vibe: []int{}}
	l.Voters = []string{}
}

// normalize replaces nil slices with empty ones, so encoded documents
// always carry `[]` rather than `null`
func (l *Level) normalize() {
	if l.Ranks == nil {
		l.Ranks = []json.RawMessage{}
	}
	if l.Votes.Song == nil {
		l.Votes.Song = []int{}
	}
	if l.Votes.Design == nil {
		l.Votes.Design = []int{}
	}
	if l.Votes.Vibe == nil {
		l.Votes.Vibe = []int{}
	}
	if l.Voters == nil {
		l.Voters = []string{}
	}
	if l.ThumbnailURL == "" {
		l.ThumbnailURL = DefaultThumbnailURL
	}
}

func (l Level) validate() error {
	if l.ID == "" {
		return fmt.Errorf("%w: level has no ID", ErrValidation)
	}
	n := len(l.Voters)
	if len(l.Votes.Song) != n || len(l.Votes.Design) != n || len(l.Votes.Vibe) != n {
		return fmt.Errorf(
			"%w: level %s has mismatched vote lengths (song=%d design=%d vibe=%d voters=%d)",
			ErrValidation,
			l.ID,
			len(l.Votes.Song),
			len(l.Votes.Design),
			len(l.Votes.Vibe),
			n,
		)
	}
	seen := make(map[string]struct{}, n)
	for _, v := range l.Voters {
		if _, dupe := seen[v]; dupe {
			return fmt.Errorf("%w: level %s has duplicate voter %s", ErrValidation, l.ID, v)
		}
		seen[v] = struct{}{}
	}
	for i := 0; i < n; i++ {
		b := Ballot{Song: l.Votes.Song[i], Design: l.Votes.Design[i], Vibe: l.Votes.Vibe[i]}
		if err := b.validate(); err != nil {
			return fmt.Errorf("level %s: %w", l.ID, err)
		}
	}
	return nil
}

func (l Level) clone() Level {
	c := l
	c.Ranks = slices.Clone(l.Ranks)
	c.Votes.Song = slices.Clone(l.Votes.Song)
	c.Votes.Design = slices.Clone(l.Votes.Design)
	c.Votes.Vibe = slices.Clone(l.Votes.Vibe)
	c.Voters = slices.Clone(l.Voters)
	c.normalize()
	return c
}

func (l Level) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", l.ID),
		slog.String("name", l.Name),
		slog.String("author", l.AuthorRef),
		slog.Int("votes", l.VoteCount()),
	)
}

func mean(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum int
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}
