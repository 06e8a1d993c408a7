package colbot

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t testing.TB, levels ...Level) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, l := range levels {
		require.NoError(t, reg.Insert(l))
	}
	return reg
}

func TestRegistry_InsertDuplicate(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t, NewLevel("1234567890", "first", "", ""))

	err := reg.Insert(NewLevel("1234567890", "second", "", ""))
	require.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 1, reg.Len())

	level, ok := reg.FindByID("1234567890")
	require.True(t, ok)
	assert.Equal(t, "first", level.Name)
}

func TestRegistry_Remove(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(
		t,
		NewLevel("a", "A", "", ""),
		NewLevel("b", "B", "", ""),
		NewLevel("c", "C", "", ""),
	)

	removed, ok := reg.Remove("b")
	require.True(t, ok)
	assert.Equal(t, "B", removed.Name)

	_, ok = reg.FindByID("b")
	assert.False(t, ok)

	_, ok = reg.Remove("b")
	assert.False(t, ok)

	// index is rebuilt after removal
	c, ok := reg.FindByID("c")
	require.True(t, ok)
	assert.Equal(t, "C", c.Name)

	ids := []string{}
	for _, l := range reg.ListAll() {
		ids = append(ids, l.ID)
	}
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestRegistry_ListAllReturnsCopies(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t, NewLevel("a", "A", "", ""))

	levels := reg.ListAll()
	levels[0].Voters = append(levels[0].Voters, "intruder")
	levels[0].Name = "changed"

	stored, ok := reg.FindByID("a")
	require.True(t, ok)
	assert.Empty(t, stored.Voters)
	assert.Equal(t, "A", stored.Name)
}

func TestLevel_AddVote(t *testing.T) {
	t.Parallel()
	level := NewLevel("a", "A", "", "")

	require.NoError(t, level.addVote("u1", Ballot{Song: 7, Design: 8, Vibe: 6}))
	assert.True(t, level.HasVoted("u1"))
	assert.Equal(t, 1, level.VoteCount())

	err := level.addVote("u1", Ballot{Song: 1, Design: 1, Vibe: 1})
	require.ErrorIs(t, err, ErrDuplicateVote)
	assert.Equal(t, []int{7}, level.Votes.Song)

	err = level.addVote("u2", Ballot{Song: 11, Design: 5, Vibe: 5})
	require.ErrorIs(t, err, ErrValidation)
	assert.False(t, level.HasVoted("u2"))

	for _, l := range [][]int{level.Votes.Song, level.Votes.Design, level.Votes.Vibe} {
		assert.Len(t, l, len(level.Voters))
	}
}

func TestLevel_Averages(t *testing.T) {
	t.Parallel()
	level := NewLevel("a", "A", "", "")
	_, ok := level.Averages()
	assert.False(t, ok)

	require.NoError(t, level.addVote("u1", Ballot{Song: 7, Design: 8, Vibe: 6}))
	require.NoError(t, level.addVote("u2", Ballot{Song: 9, Design: 9, Vibe: 9}))

	scores, ok := level.Averages()
	require.True(t, ok)
	assert.InDelta(t, 8.0, scores.Song, 0.0001)
	assert.InDelta(t, 8.5, scores.Design, 0.0001)
	assert.InDelta(t, 7.5, scores.Vibe, 0.0001)
	assert.InDelta(t, 8.0, scores.Overall, 0.0001)
}

func TestLevel_ResetVotes(t *testing.T) {
	t.Parallel()
	level := NewLevel("a", "A", "<@1>", "https://example.com/a.png")
	require.NoError(t, level.addVote("u1", Ballot{Song: 7, Design: 8, Vibe: 6}))

	level.resetVotes()
	assert.Empty(t, level.Voters)
	assert.Empty(t, level.Votes.Song)
	assert.Equal(t, "A", level.Name)
	assert.Equal(t, "<@1>", level.AuthorRef)
	assert.Equal(t, "https://example.com/a.png", level.ThumbnailURL)
}

func TestNewLevel_Defaults(t *testing.T) {
	t.Parallel()
	level := NewLevel("1234567890", "", "", "")
	assert.Equal(t, "1234567890", level.Name)
	assert.Equal(t, DefaultThumbnailURL, level.ThumbnailURL)
	assert.NotNil(t, level.Voters)
}

func TestRegistry_RoundTrip(t *testing.T) {
	t.Parallel()

	full := NewLevel("full", "Full", "<@42>", "")
	for i := 0; i < 50; i++ {
		require.NoError(
			t,
			full.addVote(fmt.Sprintf("user%d", i), Ballot{Song: 10, Design: 10, Vibe: 10}),
		)
	}
	legacy := NewLevel("legacy-tag", "Legacy", "42", "")
	legacy.Ranks = []json.RawMessage{json.RawMessage(`1`)}

	reg := newTestRegistry(t, NewLevel("empty", "", "", ""), full, legacy)

	data, err := reg.Encode()
	require.NoError(t, err)

	decoded, err := DecodeRegistry(data)
	require.NoError(t, err)

	if diff := cmp.Diff(reg.ListAll(), decoded.ListAll()); diff != "" {
		t.Fatalf("registry mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_EncodeFormat(t *testing.T) {
	t.Parallel()
	data, err := NewRegistry().Encode()
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	reg := newTestRegistry(t, NewLevel("a", "A", "", ""))
	data, err = reg.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  {\n    \"postIdOrTag\": \"a\"")
	assert.Contains(t, string(data), `"voters": []`)
}

func TestDecodeRegistry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantLen int
		wantErr error
	}{
		{name: "empty", input: "", wantLen: 0},
		{name: "whitespace", input: " \n ", wantLen: 0},
		{
			name:    "legacy nulls",
			input:   `[{"postIdOrTag":"a","levelName":"A","votes":{"song":null},"voters":null}]`,
			wantLen: 1,
		},
		{
			name:    "duplicate id",
			input:   `[{"postIdOrTag":"a"},{"postIdOrTag":"a"}]`,
			wantErr: ErrDuplicateID,
		},
		{
			name:    "mismatched lengths",
			input:   `[{"postIdOrTag":"a","votes":{"song":[1],"design":[],"vibe":[]},"voters":["u"]}]`,
			wantErr: ErrValidation,
		},
		{
			name:    "duplicate voter",
			input:   `[{"postIdOrTag":"a","votes":{"song":[1,2],"design":[1,2],"vibe":[1,2]},"voters":["u","u"]}]`,
			wantErr: ErrValidation,
		},
		{
			name:    "score out of range",
			input:   `[{"postIdOrTag":"a","votes":{"song":[0],"design":[1],"vibe":[1]},"voters":["u"]}]`,
			wantErr: ErrValidation,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				reg, err := DecodeRegistry([]byte(tc.input))
				if tc.wantErr != nil {
					require.ErrorIs(t, err, tc.wantErr)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tc.wantLen, reg.Len())
			},
		)
	}

	_, err := DecodeRegistry([]byte("{not json"))
	require.Error(t, err)
}
