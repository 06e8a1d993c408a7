package colbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	ChannelID string
	Message   *discordgo.MessageSend
}

// mockDiscordSession implements DiscordSessionHandler in memory
type mockDiscordSession struct {
	mu sync.Mutex

	roles    []*discordgo.Role
	members  map[string]*discordgo.Member
	channels map[string]*discordgo.Channel
	messages map[string]*discordgo.Message
	emojis   []*discordgo.Emoji

	sent          []sentMessage
	reactions     []reaction
	roleAdds      []grant
	commands      []*discordgo.ApplicationCommand
	responses     []*discordgo.InteractionResponse
	edits         []*discordgo.WebhookEdit
	followups     []*discordgo.WebhookParams
	emojiRequests int
	rolesErr      error
}

func newMockDiscordSession() *mockDiscordSession {
	return &mockDiscordSession{
		roles: []*discordgo.Role{
			{ID: "1", Name: "@everyone", Position: 0},
			{ID: "2", Name: "Voter", Position: 1},
			{ID: "3", Name: "Manager", Position: 5},
			{ID: "10", Name: "verified", Position: 2},
			{ID: "11", Name: "double verified", Position: 3},
		},
		members:  map[string]*discordgo.Member{},
		channels: map[string]*discordgo.Channel{},
		messages: map[string]*discordgo.Message{},
	}
}

func (m *mockDiscordSession) Open() error                     { return nil }
func (m *mockDiscordSession) Close() error                    { return nil }
func (m *mockDiscordSession) AddHandler(any) func()           { return func() {} }
func (m *mockDiscordSession) SetIdentify(discordgo.Identify)  {}
func (m *mockDiscordSession) SetLogLevel(slog.Level) error    { return nil }
func (m *mockDiscordSession) SetHTTPClient(*http.Client)      {}
func (m *mockDiscordSession) UpdateCustomStatus(string) error { return nil }

func (m *mockDiscordSession) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = commands
	return commands, nil
}

func (m *mockDiscordSession) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return nil
}

func (m *mockDiscordSession) InteractionResponseEdit(
	_ *discordgo.Interaction,
	edit *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, edit)
	msg := &discordgo.Message{}
	if edit.Content != nil {
		msg.Content = *edit.Content
	}
	return msg, nil
}

func (m *mockDiscordSession) FollowupMessageCreate(
	_ *discordgo.Interaction,
	_ bool,
	data *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.followups = append(m.followups, data)
	return &discordgo.Message{Content: data.Content}, nil
}

func (m *mockDiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{ChannelID: channelID, Message: data})
	return &discordgo.Message{ChannelID: channelID, Content: data.Content}, nil
}

func (m *mockDiscordSession) ChannelMessage(
	channelID string,
	messageID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[channelID+"/"+messageID]
	if !ok {
		return nil, errors.New("HTTP 404 Not Found")
	}
	return msg, nil
}

func (m *mockDiscordSession) Channel(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return nil, errors.New("HTTP 404 Not Found")
	}
	return ch, nil
}

func (m *mockDiscordSession) MessageReactionAdd(
	channelID string,
	messageID string,
	emojiID string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, reaction{ChannelID: channelID, MessageID: messageID, Emoji: emojiID})
	return nil
}

func (m *mockDiscordSession) GuildRoles(
	_ string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rolesErr != nil {
		return nil, m.rolesErr
	}
	return m.roles, nil
}

func (m *mockDiscordSession) GuildMember(
	_ string,
	userID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[userID]
	if !ok {
		return nil, errors.New("HTTP 404 Not Found")
	}
	return member, nil
}

func (m *mockDiscordSession) GuildMemberRoleAdd(
	_ string,
	userID string,
	roleID string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roleAdds = append(m.roleAdds, grant{UserID: userID, RoleID: roleID})
	return nil
}

func (m *mockDiscordSession) GuildEmojis(
	_ string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Emoji, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emojiRequests++
	return m.emojis, nil
}

// stubInteractionHandler records responses instead of sending them
type stubInteractionHandler struct {
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
	responses   []*discordgo.InteractionResponse
	edits       []*discordgo.WebhookEdit
	followups   []*discordgo.WebhookParams
}

func (s *stubInteractionHandler) Respond(_ context.Context, r *discordgo.InteractionResponse) error {
	s.responses = append(s.responses, r)
	return nil
}

func (s *stubInteractionHandler) Followup(
	_ context.Context,
	params *discordgo.WebhookParams,
) (*discordgo.Message, error) {
	s.followups = append(s.followups, params)
	return &discordgo.Message{Content: params.Content}, nil
}

func (s *stubInteractionHandler) Edit(
	_ context.Context,
	edit *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.edits = append(s.edits, edit)
	return &discordgo.Message{Content: *edit.Content}, nil
}

func (s *stubInteractionHandler) GetInteraction() *discordgo.InteractionCreate {
	return s.interaction
}

func (s *stubInteractionHandler) Logger() *slog.Logger {
	return s.logger
}

// onlyResponse returns the single response sent, failing otherwise
func (s *stubInteractionHandler) onlyResponse(t *testing.T) *discordgo.InteractionResponse {
	t.Helper()
	require.Len(t, s.responses, 1)
	return s.responses[0]
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type testBot struct {
	*Bot
	session *mockDiscordSession
	backend *MemoryBackend
}

func newTestBot(t *testing.T, levels ...Level) *testBot {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Discord.GuildID = testGuildID
	cfg.Discord.ApplicationID = "app"
	guild := testGuildConfig()
	cfg.Guild = &guild

	session := newMockDiscordSession()
	backend := NewMemoryBackend(encodeLevels(t, levels...))

	b := &Bot{config: cfg, logger: discardLogger, metrics: NewMetrics()}
	b.discord = newDiscord(cfg.Discord, b.metrics)
	b.discord.logger = discardLogger
	b.discord.session = session
	b.gateway = NewGateway(nil, backend, discardLogger, b.metrics)
	b.ledger = NewLedger(b.gateway)
	b.initWorkflows()
	return &testBot{Bot: b, session: session, backend: backend}
}

func (tb *testBot) interact(i *discordgo.Interaction) *stubInteractionHandler {
	if i.GuildID == "" {
		i.GuildID = testGuildID
	}
	h := &stubInteractionHandler{
		interaction: &discordgo.InteractionCreate{Interaction: i},
		logger:      discardLogger,
	}
	tb.handleInteraction(context.Background(), h)
	return h
}

func member(userID string, roleIDs ...string) *discordgo.Member {
	return &discordgo.Member{
		User:  &discordgo.User{ID: userID, Username: "user-" + userID},
		Roles: roleIDs,
	}
}

func slashCommand(name string, channelID string, m *discordgo.Member) *discordgo.Interaction {
	return &discordgo.Interaction{
		ID:        "i-" + name,
		Type:      discordgo.InteractionApplicationCommand,
		ChannelID: channelID,
		Member:    m,
		Data:      discordgo.ApplicationCommandInteractionData{Name: name},
	}
}

func componentInteraction(customID string, channelID string, m *discordgo.Member, values ...string) *discordgo.Interaction {
	return &discordgo.Interaction{
		ID:        "i-" + customID,
		Type:      discordgo.InteractionMessageComponent,
		ChannelID: channelID,
		Member:    m,
		Data: discordgo.MessageComponentInteractionData{
			CustomID:      customID,
			ComponentType: discordgo.SelectMenuComponent,
			Values:        values,
		},
	}
}

func modalInteraction(customID string, channelID string, m *discordgo.Member, inputs map[string]string) *discordgo.Interaction {
	rows := make([]discordgo.MessageComponent, 0, len(inputs))
	for id, value := range inputs {
		rows = append(
			rows, &discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					&discordgo.TextInput{CustomID: id, Value: value},
				},
			},
		)
	}
	return &discordgo.Interaction{
		ID:        "i-" + customID,
		Type:      discordgo.InteractionModalSubmit,
		ChannelID: channelID,
		Member:    m,
		Data: discordgo.ModalSubmitInteractionData{
			CustomID:   customID,
			Components: rows,
		},
	}
}

func selectMenu(t *testing.T, components []discordgo.MessageComponent) discordgo.SelectMenu {
	t.Helper()
	require.Len(t, components, 1)
	row, ok := components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	require.Len(t, row.Components, 1)
	menu, ok := row.Components[0].(discordgo.SelectMenu)
	require.True(t, ok)
	return menu
}

func TestHandleInteraction_VoteFlow(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, NewLevel(testThreadID, "Cool Level", "<@42>", ""))
	voter := member("u1", "2")

	h := tb.interact(slashCommand(DiscordSlashCommandVote, testVoteChannelID, voter))
	resp := h.onlyResponse(t)
	assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, resp.Type)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	assert.Equal(t, voteMenuPrompt, resp.Data.Content)
	menu := selectMenu(t, resp.Data.Components)
	assert.Equal(t, voteLevelSelectCustomID, menu.CustomID)
	require.Len(t, menu.Options, 1)
	assert.Equal(t, testThreadID, menu.Options[0].Value)

	h = tb.interact(componentInteraction(voteLevelSelectCustomID, testVoteChannelID, voter, testThreadID))
	resp = h.onlyResponse(t)
	assert.Equal(t, discordgo.InteractionResponseModal, resp.Type)
	assert.Equal(t, "vote_scores:"+testThreadID, resp.Data.CustomID)
	assert.Equal(t, "Vote: Cool Level", resp.Data.Title)
	assert.Len(t, resp.Data.Components, 3)

	h = tb.interact(
		modalInteraction(
			resp.Data.CustomID, testVoteChannelID, voter,
			map[string]string{voteInputSong: "7", voteInputDesign: "8", voteInputVibe: "6"},
		),
	)
	resp = h.onlyResponse(t)
	assert.Equal(t, "✅ Your vote for **Cool Level** has been recorded!", resp.Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)

	h = tb.interact(
		modalInteraction(
			"vote_scores:"+testThreadID, testVoteChannelID, voter,
			map[string]string{voteInputSong: "7", voteInputDesign: "8", voteInputVibe: "6"},
		),
	)
	assert.Equal(t, duplicateVoteMessage, h.onlyResponse(t).Data.Content)

	h = tb.interact(
		modalInteraction(
			"vote_scores:"+testThreadID, testVoteChannelID, member("u2", "2"),
			map[string]string{voteInputSong: "7", voteInputDesign: "eleven", voteInputVibe: "6"},
		),
	)
	assert.Equal(t, invalidScoreMessage, h.onlyResponse(t).Data.Content)

	reg, err := DecodeRegistry(tb.backend.Data())
	require.NoError(t, err)
	level, ok := reg.FindByID(testThreadID)
	require.True(t, ok)
	assert.Equal(t, []string{"u1"}, level.Voters)
}

func TestHandleInteraction_VoteRejected(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, NewLevel("a", "A", "", ""))

	h := tb.interact(slashCommand(DiscordSlashCommandVote, "general", member("u1", "2")))
	resp := h.onlyResponse(t)
	assert.Equal(t, "Please use this command in <#"+testVoteChannelID+">.", resp.Data.Content)
	assert.Empty(t, resp.Data.Components)

	h = tb.interact(slashCommand(DiscordSlashCommandVote, testVoteChannelID, member("u1")))
	assert.Equal(t, permissionDeniedMessage, h.onlyResponse(t).Data.Content)
}

func TestHandleInteraction_Ignored(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, NewLevel("a", "A", "", ""))

	botMember := member("b1", "2")
	botMember.User.Bot = true
	h := tb.interact(slashCommand(DiscordSlashCommandVote, testVoteChannelID, botMember))
	assert.Empty(t, h.responses)

	other := slashCommand(DiscordSlashCommandVote, testVoteChannelID, member("u1", "2"))
	other.GuildID = "someone-else"
	h = tb.interact(other)
	assert.Empty(t, h.responses)

	h = tb.interact(&discordgo.Interaction{Type: discordgo.InteractionApplicationCommand})
	assert.Empty(t, h.responses)
}

func TestHandleInteraction_List(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t)
	h := tb.interact(slashCommand(DiscordSlashCommandList, "general", member("u1")))
	resp := h.onlyResponse(t)
	assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, resp.Type)
	assert.Nil(t, resp.Data)
	require.Len(t, h.edits, 1)
	assert.Equal(t, noLevelsYetMessage, *h.edits[0].Content)
	assert.Empty(t, h.followups)

	levels := make([]Level, 40)
	for i := range levels {
		levels[i] = votedLevel(t, fmt.Sprintf("level%02d", i), "A Level With A Fairly Long Name For Chunking", 5)
	}
	tb = newTestBot(t, levels...)
	h = tb.interact(slashCommand(DiscordSlashCommandList, "general", member("u1")))
	require.Len(t, h.responses, 1)
	require.Len(t, h.edits, 1)
	require.NotEmpty(t, h.followups)
	assert.LessOrEqual(t, len([]rune(*h.edits[0].Content)), discordMaxMessageLength)
	assert.Equal(
		t,
		tb.workflows.List(context.Background()),
		append([]string{*h.edits[0].Content}, followupContents(h.followups)...),
	)
}

func TestGatewayHandler_ListEditsDeferredResponse(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, votedLevel(t, "a", "Alpha", 7))
	i := slashCommand(DiscordSlashCommandList, "general", member("u1"))
	i.GuildID = testGuildID
	handler := GatewayHandler{
		session:     tb.session,
		interaction: &discordgo.InteractionCreate{Interaction: i},
		logger:      discardLogger,
	}

	tb.handleInteraction(context.Background(), handler)

	require.Len(t, tb.session.responses, 1)
	assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, tb.session.responses[0].Type)
	require.Len(t, tb.session.edits, 1)
	assert.Contains(t, *tb.session.edits[0].Content, "Alpha")
	assert.Empty(t, tb.session.followups)
}

func followupContents(params []*discordgo.WebhookParams) []string {
	out := make([]string, 0, len(params))
	for _, p := range params {
		out = append(out, p.Content)
	}
	return out
}

func TestHandleInteraction_Verify(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t)
	h := tb.interact(slashCommand(DiscordSlashCommandVerify, "general", member("u1", "10")))
	resp := h.onlyResponse(t)
	assert.Equal(t, "✅ You are now **double verified**!", resp.Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	assert.Equal(t, []grant{{UserID: "u1", RoleID: "11"}}, tb.session.roleAdds)

	h = tb.interact(slashCommand(DiscordSlashCommandVerify, "general", member("u1", "10", "11")))
	assert.Equal(t, `Role "triple verified" not found.`, h.onlyResponse(t).Data.Content)
}

func TestHandleInteraction_RolesUnavailable(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, NewLevel("a", "A", "", ""))
	tb.session.rolesErr = errors.New("HTTP 500")

	// without roles the caller can't pass the vote role check
	h := tb.interact(slashCommand(DiscordSlashCommandVote, testVoteChannelID, member("u1", "2")))
	assert.Equal(t, permissionDeniedMessage, h.onlyResponse(t).Data.Content)
}

func TestHandleInteraction_Remove(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, NewLevel("a", "A", "", ""), NewLevel("b", "B", "", ""))

	h := tb.interact(componentInteraction(removeLevelSelectCustomID, "general", member("u1", "2"), "a"))
	assert.Equal(t, permissionDeniedMessage, h.onlyResponse(t).Data.Content)

	manager := member("mgr", "3")
	h = tb.interact(componentInteraction(removeLevelSelectCustomID, "general", manager, "a"))
	resp := h.onlyResponse(t)
	assert.Equal(t, discordgo.InteractionResponseModal, resp.Type)
	assert.Equal(t, "remove_reason:a", resp.Data.CustomID)

	h = tb.interact(
		modalInteraction("remove_reason:a", "general", manager, map[string]string{removeReasonID: "duplicate"}),
	)
	assert.Equal(t, "✅ Level **A** has been removed.", h.onlyResponse(t).Data.Content)

	require.Len(t, tb.session.sent, 1)
	sent := tb.session.sent[0]
	assert.Equal(t, testAnnounceID, sent.ChannelID)
	require.Len(t, sent.Message.Embeds, 1)
	assert.Equal(t, "'A' has been removed", sent.Message.Embeds[0].Title)
	assert.Equal(t, "reason : duplicate", sent.Message.Embeds[0].Footer.Text)

	h = tb.interact(componentInteraction(removeLevelSelectCustomID, "general", manager))
	assert.Equal(t, levelNotFoundMessage, h.onlyResponse(t).Data.Content)
}

func TestHandleInteraction_UnknownIDs(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, NewLevel("a", "A", "", ""))

	h := tb.interact(slashCommand("frobnicate", "general", member("u1")))
	assert.Equal(t, DefaultDiscordErrorMessage, h.onlyResponse(t).Data.Content)

	h = tb.interact(componentInteraction("mystery", "general", member("u1"), "a"))
	assert.Equal(t, DefaultDiscordErrorMessage, h.onlyResponse(t).Data.Content)

	h = tb.interact(modalInteraction("mystery:a", "general", member("u1"), nil))
	assert.Equal(t, DefaultDiscordErrorMessage, h.onlyResponse(t).Data.Content)
}

func prefixMessage(content string, m *discordgo.Member) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        "msg1",
			ChannelID: "general",
			GuildID:   testGuildID,
			Content:   content,
			Author:    m.User,
			Member:    &discordgo.Member{Roles: m.Roles},
		},
	}
}

func TestHandleDiscordMessage_Accept(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t)
	tb.session.channels[testThreadID] = &discordgo.Channel{
		ID:      testThreadID,
		Name:    "Cool Level",
		OwnerID: "42",
		Type:    discordgo.ChannelTypeGuildPublicThread,
	}
	tb.session.messages[testThreadID+"/"+testThreadID] = &discordgo.Message{
		Attachments: []*discordgo.MessageAttachment{
			{URL: "https://cdn.example.com/file.txt", ContentType: "text/plain"},
			{URL: "https://cdn.example.com/shot.png", ContentType: "image/png"},
		},
	}

	tb.handleDiscordMessage(context.Background(), prefixMessage("!accept "+testThreadLink, member("mgr", "3")))

	reg, err := DecodeRegistry(tb.backend.Data())
	require.NoError(t, err)
	level, ok := reg.FindByID(testThreadID)
	require.True(t, ok)
	assert.Equal(t, "Cool Level", level.Name)
	assert.Equal(t, "<@42>", level.AuthorRef)
	assert.Equal(t, "https://cdn.example.com/shot.png", level.ThumbnailURL)

	require.Len(t, tb.session.sent, 1)
	assert.Equal(t, testAnnounceID, tb.session.sent[0].ChannelID)
	assert.Equal(
		t,
		[]reaction{{ChannelID: "general", MessageID: "msg1", Emoji: testReactionEmoji}},
		tb.session.reactions,
	)

	// a repeat gets a reply in the command's channel
	tb.handleDiscordMessage(context.Background(), prefixMessage("!a "+testThreadID, member("mgr", "3")))
	require.Len(t, tb.session.sent, 2)
	reply := tb.session.sent[1]
	assert.Equal(t, "general", reply.ChannelID)
	assert.Equal(t, alreadyAcceptedReply, reply.Message.Content)
	require.NotNil(t, reply.Message.Reference)
	assert.Equal(t, "msg1", reply.Message.Reference.MessageID)
}

func TestHandleDiscordMessage_MemberLookup(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t)
	tb.session.members["mgr"] = member("mgr", "3")

	msg := prefixMessage("!revote missing", member("mgr"))
	tb.handleDiscordMessage(context.Background(), msg)

	require.Len(t, tb.session.sent, 1)
	assert.Equal(t, levelNotFoundMessage, tb.session.sent[0].Message.Content)
}

func TestHandleDiscordMessage_RemoveMenu(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, NewLevel("a", "A", "", ""))

	tb.handleDiscordMessage(context.Background(), prefixMessage("!rmv", member("mgr", "3")))
	require.Len(t, tb.session.sent, 1)
	sent := tb.session.sent[0].Message
	assert.Equal(t, removeMenuPrompt, sent.Content)
	menu := selectMenu(t, sent.Components)
	assert.Equal(t, removeLevelSelectCustomID, menu.CustomID)
	assert.Equal(t, "a", menu.Options[0].Value)
}

func TestHandleDiscordMessage_SaveRanked(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, votedLevel(t, "a", "A", 5))

	tb.handleDiscordMessage(context.Background(), prefixMessage("!saveranked", member("mgr", "3")))
	require.Len(t, tb.session.sent, 1)
	assert.Equal(t, rankedDocMissingMessage, tb.session.sent[0].Message.Content)

	ranked := NewMemoryBackend(nil)
	tb.ranked = ranked
	tb.initWorkflows()
	tb.handleDiscordMessage(context.Background(), prefixMessage("!saveranked", member("mgr", "3")))
	require.Len(t, tb.session.sent, 2)
	sent := tb.session.sent[1].Message
	assert.Equal(t, rankingSavedMessage, sent.Content)
	require.Len(t, sent.Files, 1)
	assert.Equal(t, rankingExportFileName, sent.Files[0].Name)
	assert.Contains(t, string(ranked.Data()), "1. A by Unknown | a")
}

func TestHandleDiscordMessage_Ignored(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t)
	ctx := context.Background()

	botMsg := prefixMessage("!accept 1234567890", member("b1", "3"))
	botMsg.Author.Bot = true
	tb.handleDiscordMessage(ctx, botMsg)

	other := prefixMessage("!accept 1234567890", member("mgr", "3"))
	other.GuildID = "elsewhere"
	tb.handleDiscordMessage(ctx, other)

	tb.handleDiscordMessage(ctx, prefixMessage("hello !accept", member("mgr", "3")))
	tb.handleDiscordMessage(ctx, nil)

	assert.Empty(t, tb.session.sent)
	assert.Equal(t, 0, tb.backend.Puts())
}

func TestDiscord_ConnectDisconnect(t *testing.T) {
	t.Parallel()
	metrics := NewMetrics()
	d := newDiscord(&DiscordConfig{}, metrics)
	d.logger = discardLogger

	assert.False(t, d.Connected())
	d.handlerConnect()(nil, &discordgo.Connect{})
	assert.True(t, d.Connected())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.DiscordConnected), 0)

	d.handlerDisconnect()(nil, &discordgo.Disconnect{})
	assert.False(t, d.Connected())
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.DiscordConnected), 0)
	assert.Equal(t, int64(1), d.metricConnects.Load())
	assert.Equal(t, int64(1), d.metricDisconnects.Load())
}

func TestBot_RegisterSlashCommands(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t)
	created, err := tb.RegisterSlashCommands()
	require.NoError(t, err)

	names := make([]string, len(created))
	for i, c := range created {
		names[i] = c.Name
	}
	assert.Equal(
		t,
		[]string{DiscordSlashCommandVerify, DiscordSlashCommandVote, DiscordSlashCommandList},
		names,
	)
}

func TestParseCustomID(t *testing.T) {
	t.Parallel()
	prefix, id := parseCustomID(customID(voteScoresModalPrefix, "123"))
	assert.Equal(t, voteScoresModalPrefix, prefix)
	assert.Equal(t, "123", id)

	prefix, id = parseCustomID("plain")
	assert.Equal(t, "plain", prefix)
	assert.Empty(t, id)

	prefix, id = parseCustomID("vote_scores:a:b")
	assert.Equal(t, "vote_scores", prefix)
	assert.Equal(t, "a:b", id)

	prefix, id = parseCustomID(":123")
	assert.Empty(t, prefix)
	assert.Equal(t, "123", id)
}

func TestModalValues(t *testing.T) {
	t.Parallel()
	values := modalValues(
		discordgo.ModalSubmitInteractionData{
			Components: []discordgo.MessageComponent{
				&discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						&discordgo.TextInput{CustomID: voteInputSong, Value: "7"},
					},
				},
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{CustomID: voteInputVibe, Value: "6"},
					},
				},
			},
		},
	)
	assert.Equal(t, map[string]string{voteInputSong: "7", voteInputVibe: "6"}, values)
}

func TestVoteModalResponse_TitleLimit(t *testing.T) {
	t.Parallel()
	resp := voteModalResponse(
		ShowScoreModal{LevelID: "1", LevelName: "An Extremely Long Level Name That Keeps Going On"},
	)
	assert.LessOrEqual(t, len([]rune(resp.Data.Title)), discordModalTitleMaxLength)
}

func TestAnnouncementMessage(t *testing.T) {
	t.Parallel()
	plain := announcementMessage(Announcement{Content: "hello"})
	assert.Equal(t, "hello", plain.Content)
	assert.Empty(t, plain.Embeds)

	msg := announcementMessage(
		Announcement{
			Title:        "T",
			Description:  "D",
			Footer:       "F",
			ThumbnailURL: "https://example.com/t.png",
			Color:        colorAccepted,
			Timestamp:    testNow,
		},
	)
	require.Len(t, msg.Embeds, 1)
	embed := msg.Embeds[0]
	assert.Equal(t, "T", embed.Title)
	assert.Equal(t, "F", embed.Footer.Text)
	assert.Equal(t, "https://example.com/t.png", embed.Thumbnail.URL)
	assert.Equal(t, "2025-08-01T12:00:00Z", embed.Timestamp)
}

func TestMessageThumbnail(t *testing.T) {
	t.Parallel()
	assert.Empty(t, messageThumbnail(nil))
	assert.Equal(
		t,
		"https://example.com/thumb.png",
		messageThumbnail(
			&discordgo.Message{
				Embeds: []*discordgo.MessageEmbed{
					{Thumbnail: &discordgo.MessageEmbedThumbnail{URL: "https://example.com/thumb.png"}},
				},
			},
		),
	)
	assert.Equal(
		t,
		"https://example.com/image.png",
		messageThumbnail(
			&discordgo.Message{
				Embeds: []*discordgo.MessageEmbed{
					{Image: &discordgo.MessageEmbedImage{URL: "https://example.com/image.png"}},
				},
			},
		),
	)
}

func TestDiscordNotifier_EmojiLookup(t *testing.T) {
	t.Parallel()
	session := newMockDiscordSession()
	session.emojis = []*discordgo.Emoji{{ID: "1404415892120539216", Name: "cool"}}
	n := newDiscordNotifier(session, testGuildID, discardLogger)
	ctx := context.Background()

	require.NoError(t, n.React(ctx, "c", "m1", "1404415892120539216"))
	require.NoError(t, n.React(ctx, "c", "m2", "1404415892120539216"))
	require.NoError(t, n.React(ctx, "c", "m3", "🔥"))

	assert.Equal(t, 1, session.emojiRequests)
	assert.Equal(
		t,
		[]reaction{
			{ChannelID: "c", MessageID: "m1", Emoji: "cool:1404415892120539216"},
			{ChannelID: "c", MessageID: "m2", Emoji: "cool:1404415892120539216"},
			{ChannelID: "c", MessageID: "m3", Emoji: "🔥"},
		},
		session.reactions,
	)
}

func TestDiscordNotifier_IsTextChannel(t *testing.T) {
	t.Parallel()
	session := newMockDiscordSession()
	session.channels["text"] = &discordgo.Channel{ID: "text", Type: discordgo.ChannelTypeGuildText}
	session.channels["news"] = &discordgo.Channel{ID: "news", Type: discordgo.ChannelTypeGuildNews}
	session.channels["voice"] = &discordgo.Channel{ID: "voice", Type: discordgo.ChannelTypeGuildVoice}
	n := newDiscordNotifier(session, testGuildID, discardLogger)
	ctx := context.Background()

	assert.True(t, n.IsTextChannel(ctx, "text"))
	assert.True(t, n.IsTextChannel(ctx, "news"))
	assert.False(t, n.IsTextChannel(ctx, "voice"))
	assert.False(t, n.IsTextChannel(ctx, "missing"))
}
