package colbot

import (
	"bytes"
	"context"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	voteMenuPrompt   = "Select a level to vote for:"
	removeMenuPrompt = "Select a level to remove:"
)

// handleInteraction dispatches a slash command, select menu choice or
// modal submission to its workflow. Every path ends with exactly one
// response to the interaction.
func (b *Bot) handleInteraction(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	ctx = WithLogger(ctx, logger)

	defer func() {
		if rc := recover(); rc != nil {
			b.handleRecover(ctx, rc)
		}
	}()

	u := getDiscordUser(i)
	if u == nil {
		logger.ErrorContext(ctx, "no user found in interaction")
		return
	}
	if u.Bot {
		logger.InfoContext(ctx, "ignoring bot interaction", "user_id", u.ID)
		return
	}
	if i.GuildID != "" && i.GuildID != b.config.Discord.GuildID {
		logger.InfoContext(ctx, "ignoring interaction from another guild")
		return
	}

	switch i.Type {
	case discordgo.InteractionPing:
		_ = handler.Respond(
			ctx,
			&discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong},
		)
	case discordgo.InteractionApplicationCommand:
		b.handleSlashCommand(ctx, handler)
	case discordgo.InteractionMessageComponent:
		b.handleMessageComponent(ctx, handler)
	case discordgo.InteractionModalSubmit:
		b.handleModalSubmit(ctx, handler)
	default:
		logger.WarnContext(ctx, "unhandled interaction type", "type", i.Type.String())
	}
}

// interactionCaller builds the Caller for an interaction. A failed
// role lookup is logged, and the caller keeps no roles.
func (b *Bot) interactionCaller(ctx context.Context, handler InteractionHandler) Caller {
	c, err := b.notifier.callerFromInteraction(ctx, handler.GetInteraction())
	if err != nil {
		handler.Logger().WarnContext(ctx, "error building caller", tint.Err(err))
	}
	return c
}

func (b *Bot) handleSlashCommand(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	name := i.ApplicationCommandData().Name
	logger := handler.Logger().With("command", name)
	logger.InfoContext(ctx, "got slash command")

	switch name {
	case DiscordSlashCommandVerify:
		c := b.interactionCaller(ctx, handler)
		reply, err := b.workflows.Verify(ctx, c, b.notifier)
		if err != nil {
			logger.InfoContext(ctx, "verify rejected", tint.Err(err))
			reply = UserMessage(err)
		}
		_ = handler.Respond(ctx, ephemeralResponse(reply))
	case DiscordSlashCommandVote:
		c := b.interactionCaller(ctx, handler)
		options, err := b.workflows.StartVote(ctx, c)
		if err != nil {
			logger.InfoContext(ctx, "vote rejected", tint.Err(err))
			_ = handler.Respond(ctx, ephemeralResponse(UserMessage(err)))
			return
		}
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content: voteMenuPrompt,
					Flags:   discordgo.MessageFlagsEphemeral,
					Components: selectMenuComponents(
						voteLevelSelectCustomID,
						"Choose a level",
						options,
					),
				},
			},
		)
	case DiscordSlashCommandList:
		// the ranking may come from a remote store, so acknowledge first
		if err := handler.Respond(ctx, deferredResponse()); err != nil {
			return
		}
		chunks := b.workflows.List(ctx)
		if len(chunks) == 0 {
			chunks = []string{noLevelsYetMessage}
		}
		if _, err := handler.Edit(
			ctx,
			&discordgo.WebhookEdit{Content: &chunks[0]},
			discordgo.WithContext(ctx),
		); err != nil {
			return
		}
		for _, chunk := range chunks[1:] {
			if _, err := handler.Followup(ctx, &discordgo.WebhookParams{Content: chunk}); err != nil {
				return
			}
		}
	default:
		logger.WarnContext(ctx, "unknown slash command")
		_ = handler.Respond(ctx, ephemeralResponse(DefaultDiscordErrorMessage))
	}
}

func (b *Bot) handleMessageComponent(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	data := i.MessageComponentData()
	logger := handler.Logger().With("custom_id", data.CustomID)

	if len(data.Values) == 0 {
		logger.WarnContext(ctx, "component interaction without a selected value")
		_ = handler.Respond(ctx, ephemeralResponse(levelNotFoundMessage))
		return
	}
	levelID := data.Values[0]

	switch data.CustomID {
	case voteLevelSelectCustomID:
		modal, err := b.workflows.SelectVoteLevel(ctx, levelID)
		if err != nil {
			_ = handler.Respond(ctx, ephemeralResponse(UserMessage(err)))
			return
		}
		_ = handler.Respond(ctx, voteModalResponse(modal))
	case removeLevelSelectCustomID:
		c := b.interactionCaller(ctx, handler)
		if err := b.workflows.Guard().RequireManager(c); err != nil {
			_ = handler.Respond(ctx, ephemeralResponse(UserMessage(err)))
			return
		}
		_ = handler.Respond(ctx, removeModalResponse(levelID))
	default:
		logger.WarnContext(ctx, "unknown component")
		_ = handler.Respond(ctx, ephemeralResponse(DefaultDiscordErrorMessage))
	}
}

func (b *Bot) handleModalSubmit(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	data := i.ModalSubmitData()
	logger := handler.Logger().With("custom_id", data.CustomID)
	prefix, levelID := parseCustomID(data.CustomID)
	values := modalValues(data)
	c := b.interactionCaller(ctx, handler)

	var reply string
	var err error
	switch prefix {
	case voteScoresModalPrefix:
		reply, err = b.workflows.SubmitScores(
			ctx, VoteScoresSubmitted{
				Caller:  c,
				LevelID: levelID,
				Song:    values[voteInputSong],
				Design:  values[voteInputDesign],
				Vibe:    values[voteInputVibe],
			},
		)
	case removeReasonModalPrefix:
		reply, err = b.workflows.Remove(ctx, c, levelID, values[removeReasonID])
	default:
		logger.WarnContext(ctx, "unknown modal")
		reply = DefaultDiscordErrorMessage
	}
	if err != nil {
		logger.InfoContext(ctx, "modal submission rejected", tint.Err(err))
		reply = UserMessage(err)
	}
	_ = handler.Respond(ctx, ephemeralResponse(reply))
}

// handleDiscordMessage runs prefix commands (`!accept`, `!remove`...)
// posted in the bot's guild
func (b *Bot) handleDiscordMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil {
		return
	}
	logger := b.discord.logger.With(slog.Group("message", messageLogAttrs(m.Message)...))
	ctx = WithLogger(ctx, logger)

	defer func() {
		if rc := recover(); rc != nil {
			b.handleRecover(ctx, rc)
		}
	}()

	if m.Author == nil || m.Author.Bot {
		return
	}
	if m.GuildID != b.config.Discord.GuildID {
		return
	}
	cmd, ok := ParsePrefixCommand(m.Content)
	if !ok {
		return
	}
	logger = logger.With("command", cmd.Name)
	logger.InfoContext(ctx, "got prefix command")

	c, err := b.notifier.callerFromMessage(ctx, m.Message)
	if err != nil {
		logger.WarnContext(ctx, "error building caller", tint.Err(err))
	}

	switch cmd.Name {
	case prefixAccept:
		if _, err = b.workflows.Accept(ctx, c, cmd.Args); err != nil {
			b.reply(ctx, m.Message, UserMessage(err))
		}
	case prefixRevote:
		reply, revoteErr := b.workflows.Revote(ctx, c, cmd.Args)
		if revoteErr != nil {
			reply = UserMessage(revoteErr)
		}
		b.reply(ctx, m.Message, reply)
	case prefixRemove:
		options, menuErr := b.workflows.RemovalMenu(ctx, c)
		if menuErr != nil {
			b.reply(ctx, m.Message, UserMessage(menuErr))
			return
		}
		b.send(
			ctx, m.ChannelID, &discordgo.MessageSend{
				Content:    removeMenuPrompt,
				Components: selectMenuComponents(removeLevelSelectCustomID, "Choose a level", options),
				Reference:  m.Reference(),
			},
		)
	case prefixSaveRanked:
		export, saveErr := b.workflows.SaveRanked(ctx, c)
		if saveErr != nil {
			b.reply(ctx, m.Message, UserMessage(saveErr))
			return
		}
		msg := &discordgo.MessageSend{
			Content:   rankingSavedMessage,
			Reference: m.Reference(),
		}
		if len(export.Spreadsheet) > 0 {
			msg.Files = []*discordgo.File{
				discordFile(
					rankingExportFileName,
					rankingExportContentType,
					bytes.NewReader(export.Spreadsheet),
				),
			}
		}
		b.send(ctx, m.ChannelID, msg)
	case prefixSay:
		if sayErr := b.workflows.Say(ctx, c, cmd.Args); sayErr != nil {
			b.reply(ctx, m.Message, UserMessage(sayErr))
		}
	}
}

// reply answers a message in its channel
func (b *Bot) reply(ctx context.Context, m *discordgo.Message, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	b.send(
		ctx, m.ChannelID, &discordgo.MessageSend{
			Content:   truncate(content, discordMaxMessageLength),
			Reference: m.Reference(),
		},
	)
}

func (b *Bot) send(ctx context.Context, channelID string, msg *discordgo.MessageSend) {
	if _, err := b.discord.session.ChannelMessageSendComplex(
		channelID,
		msg,
		discordgo.WithContext(ctx),
	); err != nil {
		contextLogger(ctx, b.logger).ErrorContext(
			ctx,
			"error sending message",
			"channel_id", channelID,
			tint.Err(err),
		)
	}
}
