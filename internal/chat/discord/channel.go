package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"scribe/internal/approval"
	"scribe/internal/imaging"
	"scribe/internal/logging"
)

// Reaction affordances.
const (
	EmojiApprove = "✅"
	EmojiReject  = "❌"
	EmojiRetry   = "🔄"
)

const reactionPageSize = 100

// session is the subset of *discordgo.Session the channel uses.
type session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactions(channelID, messageID, emojiID string, limit int, beforeID, afterID string, options ...discordgo.RequestOption) ([]*discordgo.User, error)
}

// Channel implements approval.Channel over a bot session.
type Channel struct {
	session        session
	defaultChannel string
	logger         *slog.Logger
	closer         func() error

	mu    sync.Mutex
	botID string
	polls map[string]*poll
	// publishing counts sends still waiting for a message id. While it is
	// non-zero, reactions on unknown messages are remembered in early.
	publishing int
	early      map[string]struct{}
}

// Open connects a bot session and starts listening for reactions.
func Open(token, defaultChannel string, logger *slog.Logger) (*Channel, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("discord token required")
	}
	sess, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	sess.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsGuildMessageReactions

	ch := New(sess, defaultChannel, "", logger)
	sess.AddHandler(func(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
		if r.MessageReaction == nil {
			return
		}
		ch.HandleReaction(r.UserID, r.MessageID, r.Emoji.Name)
	})
	if err := sess.Open(); err != nil {
		return nil, fmt.Errorf("discord connect: %w", err)
	}
	if sess.State != nil && sess.State.User != nil {
		ch.setBotID(sess.State.User.ID)
	}
	ch.closer = sess.Close
	ch.logger.Info("discord session open",
		logging.String(logging.FieldEventType, "discord_connected"),
		logging.String("channel", defaultChannel),
	)
	return ch, nil
}

// New wraps an existing session. botID excludes the bot's own reactions from
// tallies.
func New(sess session, defaultChannel, botID string, logger *slog.Logger) *Channel {
	return &Channel{
		session:        sess,
		defaultChannel: defaultChannel,
		botID:          botID,
		logger:         logging.NewComponentLogger(logger, "discord"),
		polls:          make(map[string]*poll),
		early:          make(map[string]struct{}),
	}
}

func (c *Channel) setBotID(id string) {
	c.mu.Lock()
	c.botID = id
	c.mu.Unlock()
}

func (c *Channel) self() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botID
}

// Close disconnects the session.
func (c *Channel) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

func (c *Channel) channelFor(p approval.Proposal) string {
	if ref := strings.TrimSpace(p.ChannelRef); ref != "" {
		return ref
	}
	return c.defaultChannel
}

// Send posts a plain message.
func (c *Channel) Send(ctx context.Context, p approval.Proposal) error {
	channelID := c.channelFor(p)
	if channelID == "" {
		return errors.New("discord channel id required")
	}
	_, err := c.session.ChannelMessageSend(channelID, p.Message, discordgo.WithContext(ctx))
	return err
}

// Publish posts the proposal embed and adds the three reactions.
func (c *Channel) Publish(ctx context.Context, p approval.Proposal) (approval.Poll, error) {
	channelID := c.channelFor(p)
	if channelID == "" {
		return nil, errors.New("discord channel id required")
	}
	embed := renderEmbed(p.Embed)
	send := &discordgo.MessageSend{Content: p.Message, Embeds: []*discordgo.MessageEmbed{embed}}
	if att := p.Attachment; att != nil && len(att.Data) > 0 {
		data, err := imaging.FitAttachment(att.Data, imaging.AttachmentLimit)
		if err != nil {
			return nil, err
		}
		name := att.Filename
		if name == "" {
			name = "proposal.jpg"
		}
		send.Files = []*discordgo.File{{Name: name, ContentType: att.ContentType, Reader: bytes.NewReader(data)}}
		embed.Image = &discordgo.MessageEmbedImage{URL: "attachment://" + name}
	}

	c.mu.Lock()
	c.publishing++
	c.mu.Unlock()
	msg, err := c.session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		c.mu.Lock()
		c.donePublishing()
		c.mu.Unlock()
		return nil, fmt.Errorf("post proposal: %w", err)
	}
	pl := &poll{
		channel:   c,
		channelID: channelID,
		messageID: msg.ID,
		embed:     embed,
		reacted:   make(chan struct{}),
	}
	c.mu.Lock()
	c.polls[msg.ID] = pl
	if _, ok := c.early[msg.ID]; ok {
		delete(c.early, msg.ID)
		pl.signal()
	}
	c.donePublishing()
	c.mu.Unlock()

	for _, emoji := range []string{EmojiApprove, EmojiReject, EmojiRetry} {
		if err := c.session.MessageReactionAdd(channelID, msg.ID, emoji, discordgo.WithContext(ctx)); err != nil {
			c.logger.Warn("add reaction failed",
				logging.String("emoji", emoji),
				logging.String("message_id", msg.ID),
				logging.Error(err),
			)
		}
	}
	return pl, nil
}

// donePublishing must be called with c.mu held.
func (c *Channel) donePublishing() {
	c.publishing--
	if c.publishing == 0 {
		clear(c.early)
	}
}

// HandleReaction signals the poll for messageID on the first human reaction.
// A reaction that lands before Publish has learned the message id is held
// until the poll is registered.
func (c *Channel) HandleReaction(userID, messageID, emoji string) {
	switch emoji {
	case EmojiApprove, EmojiReject, EmojiRetry:
	default:
		return
	}
	c.mu.Lock()
	if userID == "" || userID == c.botID {
		c.mu.Unlock()
		return
	}
	pl := c.polls[messageID]
	if pl == nil && c.publishing > 0 {
		c.early[messageID] = struct{}{}
	}
	c.mu.Unlock()
	if pl == nil {
		return
	}
	c.logger.Debug("reaction received",
		logging.String("message_id", messageID),
		logging.String("emoji", emoji),
	)
	pl.signal()
}

func (c *Channel) forget(messageID string) {
	c.mu.Lock()
	delete(c.polls, messageID)
	c.mu.Unlock()
}

func renderEmbed(e *approval.Embed) *discordgo.MessageEmbed {
	if e == nil {
		return &discordgo.MessageEmbed{}
	}
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	if out.Color == 0 {
		out.Color = approval.ColorPending
	}
	footer := e.Footer
	if footer == "" {
		footer = approval.DefaultFooter
	}
	out.Footer = &discordgo.MessageEmbedFooter{Text: footer}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: truncate(f.Value, 1024), Inline: f.Inline})
	}
	return out
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-3]) + "..."
}

type poll struct {
	channel   *Channel
	channelID string
	messageID string
	embed     *discordgo.MessageEmbed
	reacted   chan struct{}
	once      sync.Once
}

func (p *poll) Reacted() <-chan struct{} { return p.reacted }

func (p *poll) signal() { p.once.Do(func() { close(p.reacted) }) }

// Tally counts human reactions per affordance.
func (p *poll) Tally(ctx context.Context) (approval.Votes, error) {
	var votes approval.Votes
	self := p.channel.self()
	for _, emoji := range []string{EmojiApprove, EmojiReject, EmojiRetry} {
		users, err := p.channel.session.MessageReactions(p.channelID, p.messageID, emoji, reactionPageSize, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return votes, fmt.Errorf("read %s reactions: %w", emoji, err)
		}
		count := 0
		for _, u := range users {
			if u == nil || u.Bot || u.ID == self {
				continue
			}
			count++
		}
		switch emoji {
		case EmojiApprove:
			votes.Approve = count
		case EmojiReject:
			votes.Reject = count
		case EmojiRetry:
			votes.Retry = count
		}
	}
	return votes, nil
}

// Resolve rewrites the footer and colour and stops tracking the message.
func (p *poll) Resolve(ctx context.Context, status approval.Status) error {
	defer p.channel.forget(p.messageID)
	p.embed.Color = status.Color
	p.embed.Footer = &discordgo.MessageEmbedFooter{Text: status.Footer}
	_, err := p.channel.session.ChannelMessageEditEmbed(p.channelID, p.messageID, p.embed, discordgo.WithContext(ctx))
	return err
}
