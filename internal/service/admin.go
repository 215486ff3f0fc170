package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/sirupsen/logrus"

	"maxrelay/internal/constants"
	apperrors "maxrelay/internal/errors"
	"maxrelay/internal/format"
	"maxrelay/internal/logtail"
	"maxrelay/internal/metrics"
)

// BotMessage is an incoming text from a destination-side user
type BotMessage struct {
	ChatID   int64
	UserID   int64
	Username string
	FullName string
	Text     string
}

// Reply texts
const (
	msgAccessDenied    = "Access denied."
	msgNumericID       = "A numeric max_chat_id is required."
	msgNoSubscriptions = "No subscriptions."
	msgNoSubscribers   = "No subscribers."
	msgBroadcastSent   = "Broadcast sent."
	msgChooseGroups    = "Choose MAX groups to subscribe to:"
	msgNoGroups        = "No groups are available yet."
	msgSaveFailed      = "Could not save the change, please try again."
	msgUnknownCommand  = "Unknown command. Send /help for the list of commands."
	msgSendAddID       = "Send the max_chat_id to add:"
	msgSendHideID      = "Send the max_chat_id to hide:"
	msgSendBroadcast   = "Send the broadcast text:"
	msgLogsDisabled    = "Log file is not configured."
	msgLogsFailed      = "Could not read the log file."
	msgCatalogEmpty    = "The catalog is empty."
)

type pendingAction string

const (
	pendingAdd       pendingAction = "add"
	pendingHide      pendingAction = "hide"
	pendingBroadcast pendingAction = "broadcast"
)

const userHelp = `/groups - list groups you can follow
/my - your subscriptions
/sub <id> - subscribe to a group
/unsub <id> - unsubscribe from a group
/help - this message`

const adminHelp = `Admin commands:
/add <id> - add a group to the catalog
/hide <id> - hide a group from the list
/unhide <id> - show a hidden group again
/remove <id> - remove a group and all its subscriptions
/catalog - list every catalog entry
/users - list subscribers
/broadcast <text> - message every subscriber
/logs [n] - last n lines of the log file`

// AdminSurface interprets bot commands from subscribers and the admin
type AdminSurface struct {
	catalog CatalogManager
	subs    SubscriptionManager
	titles  *TitleCache
	sender  Sender
	adminID int64
	logPath string
	logger  *logrus.Logger
	errLog  *apperrors.Logger

	mu      sync.Mutex
	pending map[int64]pendingAction
}

func NewAdminSurface(catalog CatalogManager, subs SubscriptionManager, titles *TitleCache, sender Sender,
	adminID int64, logPath string, logger *logrus.Logger) *AdminSurface {
	return &AdminSurface{
		catalog: catalog,
		subs:    subs,
		titles:  titles,
		sender:  sender,
		adminID: adminID,
		logPath: logPath,
		logger:  logger,
		errLog:  apperrors.NewLogger(logger),
		pending: make(map[int64]pendingAction),
	}
}

func (a *AdminSurface) isAdmin(userID int64) bool {
	return a.adminID != 0 && userID == a.adminID
}

// HandleCommand processes one incoming message. The returned error is only
// non-nil when the reply could not be sent.
func (a *AdminSurface) HandleCommand(ctx context.Context, msg BotMessage) error {
	if err := a.subs.EnsureUser(msg.UserID, msg.Username, msg.FullName); err != nil {
		a.errLog.LogRetryableError(err, "Failed to refresh user profile", logrus.Fields{LogFieldUserID: msg.UserID})
	}

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return a.handlePlain(ctx, msg, text)
	}

	command, arg := splitCommand(text)
	log := a.logger.WithFields(logrus.Fields{LogFieldUserID: msg.UserID, LogFieldCommand: command})
	log.Debug("Bot command received")
	metrics.IncrementCounter("bot_commands_total", map[string]string{"command": command}, "Bot commands received")

	// any explicit command abandons an armed prompt
	a.clearPending(msg.UserID)

	switch command {
	case "/start", "/groups":
		return a.reply(ctx, msg, a.groupsText(msg.UserID))
	case "/my":
		return a.reply(ctx, msg, a.mySubscriptions(msg.UserID))
	case "/sub":
		return a.subscribe(ctx, msg, arg)
	case "/unsub":
		return a.unsubscribe(ctx, msg, arg)
	case "/help":
		help := userHelp
		if a.isAdmin(msg.UserID) {
			help += "\n\n" + adminHelp
		}
		return a.reply(ctx, msg, format.Escape(help))
	}

	if !isAdminCommand(command) {
		return a.reply(ctx, msg, msgUnknownCommand)
	}
	if !a.isAdmin(msg.UserID) {
		a.errLog.LogWarn(apperrors.NewUnauthorizedError(msg.UserID), "Admin command rejected", logrus.Fields{LogFieldCommand: command})
		return a.reply(ctx, msg, apperrors.GetUserMessage(apperrors.NewUnauthorizedError(msg.UserID)))
	}

	switch command {
	case "/admin":
		return a.reply(ctx, msg, format.Escape(adminHelp))
	case "/add":
		if arg == "" {
			a.setPending(msg.UserID, pendingAdd)
			return a.reply(ctx, msg, msgSendAddID)
		}
		return a.addGroup(ctx, msg, arg)
	case "/hide":
		if arg == "" {
			a.setPending(msg.UserID, pendingHide)
			return a.reply(ctx, msg, msgSendHideID)
		}
		return a.hideGroup(ctx, msg, arg)
	case "/unhide":
		return a.unhideGroup(ctx, msg, arg)
	case "/remove":
		return a.removeGroup(ctx, msg, arg)
	case "/catalog":
		return a.reply(ctx, msg, a.catalogText())
	case "/users":
		return a.reply(ctx, msg, a.usersText())
	case "/broadcast":
		if arg == "" {
			a.setPending(msg.UserID, pendingBroadcast)
			return a.reply(ctx, msg, msgSendBroadcast)
		}
		return a.broadcast(ctx, msg, arg)
	case "/logs":
		return a.logs(ctx, msg, arg)
	}
	return nil
}

func (a *AdminSurface) handlePlain(ctx context.Context, msg BotMessage, text string) error {
	if !a.isAdmin(msg.UserID) {
		return nil
	}
	action := a.takePending(msg.UserID)
	switch action {
	case pendingAdd:
		return a.addGroup(ctx, msg, text)
	case pendingHide:
		return a.hideGroup(ctx, msg, text)
	case pendingBroadcast:
		return a.broadcast(ctx, msg, text)
	}
	return nil
}

func (a *AdminSurface) subscribe(ctx context.Context, msg BotMessage, arg string) error {
	chatID, ok := parseChatID(arg)
	if !ok {
		return a.reply(ctx, msg, msgNumericID)
	}
	if !a.catalog.IsVisible(chatID) {
		return a.reply(ctx, msg, fmt.Sprintf("Group %d is not available.", chatID))
	}
	if err := a.subs.Subscribe(msg.UserID, chatID); err != nil {
		return a.saveFailed(ctx, msg, err)
	}

	title := a.titles.Title(chatID)
	if a.adminID != 0 {
		note := fmt.Sprintf("Subscription: %s (%d) → %s", format.Escape(msg.FullName), msg.UserID, format.Escape(title))
		if err := a.sender.SendText(ctx, a.adminID, note); err != nil {
			a.logger.WithError(err).Warn("Failed to notify admin about subscription")
		}
	}
	return a.reply(ctx, msg, "Subscribed: "+format.Escape(title))
}

func (a *AdminSurface) unsubscribe(ctx context.Context, msg BotMessage, arg string) error {
	chatID, ok := parseChatID(arg)
	if !ok {
		return a.reply(ctx, msg, msgNumericID)
	}
	if err := a.subs.Unsubscribe(msg.UserID, chatID); err != nil {
		return a.saveFailed(ctx, msg, err)
	}
	return a.reply(ctx, msg, "Unsubscribed: "+format.Escape(a.titles.Title(chatID)))
}

func (a *AdminSurface) addGroup(ctx context.Context, msg BotMessage, arg string) error {
	chatID, ok := parseChatID(arg)
	if !ok {
		return a.reply(ctx, msg, msgNumericID)
	}
	if err := a.catalog.AddGroup(chatID); err != nil {
		return a.saveFailed(ctx, msg, err)
	}
	if found, err := a.titles.RefreshChat(ctx, chatID); err != nil {
		a.logger.WithError(err).WithField(LogFieldSourceChat, chatID).Warn("Failed to refresh chat title")
	} else if !found {
		a.logger.WithField(LogFieldSourceChat, chatID).Warn("Added group is not visible to the source account")
	}
	a.logger.WithField(LogFieldSourceChat, chatID).Info("Group added to catalog")
	return a.reply(ctx, msg, "Group added: "+format.Escape(a.titles.Title(chatID)))
}

func (a *AdminSurface) hideGroup(ctx context.Context, msg BotMessage, arg string) error {
	chatID, ok := parseChatID(arg)
	if !ok {
		return a.reply(ctx, msg, msgNumericID)
	}
	found, err := a.catalog.HideGroup(chatID)
	if err != nil {
		return a.saveFailed(ctx, msg, err)
	}
	if !found {
		return a.reply(ctx, msg, fmt.Sprintf("Group %d is not in the catalog.", chatID))
	}
	return a.reply(ctx, msg, "Group hidden: "+format.Escape(a.titles.Title(chatID)))
}

func (a *AdminSurface) unhideGroup(ctx context.Context, msg BotMessage, arg string) error {
	chatID, ok := parseChatID(arg)
	if !ok {
		return a.reply(ctx, msg, msgNumericID)
	}
	found, err := a.catalog.UnhideGroup(chatID)
	if err != nil {
		return a.saveFailed(ctx, msg, err)
	}
	if !found {
		return a.reply(ctx, msg, fmt.Sprintf("Group %d is not in the catalog.", chatID))
	}
	return a.reply(ctx, msg, "Group visible: "+format.Escape(a.titles.Title(chatID)))
}

func (a *AdminSurface) removeGroup(ctx context.Context, msg BotMessage, arg string) error {
	chatID, ok := parseChatID(arg)
	if !ok {
		return a.reply(ctx, msg, msgNumericID)
	}
	found, err := a.catalog.RemoveGroup(chatID)
	if err != nil {
		return a.saveFailed(ctx, msg, err)
	}
	if err := a.subs.RemoveGroupFromAll(chatID); err != nil {
		return a.saveFailed(ctx, msg, err)
	}
	if !found {
		return a.reply(ctx, msg, fmt.Sprintf("Group %d is not in the catalog.", chatID))
	}
	a.logger.WithField(LogFieldSourceChat, chatID).Info("Group removed from catalog")
	return a.reply(ctx, msg, "Group removed: "+format.Escape(a.titles.Title(chatID)))
}

func (a *AdminSurface) broadcast(ctx context.Context, msg BotMessage, text string) error {
	users := a.subs.ListUsers()
	ids := make([]int64, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	failed := 0
	for _, id := range ids {
		if err := a.sender.SendText(ctx, id, format.Escape(text)); err != nil {
			failed++
			a.errLog.LogError(apperrors.NewDeliveryError("broadcast", id, err), "Broadcast delivery failed")
		}
	}
	a.logger.WithFields(logrus.Fields{
		LogFieldCount: len(ids),
		"failed":      failed,
	}).Info("Broadcast finished")
	return a.reply(ctx, msg, msgBroadcastSent)
}

func (a *AdminSurface) logs(ctx context.Context, msg BotMessage, arg string) error {
	if a.logPath == "" {
		return a.reply(ctx, msg, msgLogsDisabled)
	}
	n := constants.DefaultLogTailLines
	if arg != "" {
		v, err := strconv.Atoi(arg)
		if err != nil || v <= 0 {
			return a.reply(ctx, msg, "The line count must be a positive number.")
		}
		n = v
	}
	if n > constants.MaxLogTailLines {
		n = constants.MaxLogTailLines
	}

	lines, err := logtail.Tail(a.logPath, n)
	if err != nil {
		a.logger.WithError(err).Warn("Failed to tail log file")
		return a.reply(ctx, msg, msgLogsFailed)
	}
	if len(lines) == 0 {
		return a.reply(ctx, msg, "The log file is empty.")
	}
	return a.reply(ctx, msg, "<pre>"+format.Escape(strings.Join(lines, "\n"))+"</pre>")
}

func (a *AdminSurface) groupsText(userID int64) string {
	visible := a.catalog.ListVisible()
	if len(visible) == 0 {
		return msgNoGroups
	}
	subscribed := make(map[int64]bool)
	for _, id := range a.subs.GetUserChats(userID) {
		subscribed[id] = true
	}

	var b strings.Builder
	b.WriteString(msgChooseGroups)
	for _, id := range visible {
		mark := "➕"
		if subscribed[id] {
			mark = "✅"
		}
		fmt.Fprintf(&b, "\n%s %s (<code>%d</code>)", mark, format.Escape(a.titles.Title(id)), id)
	}
	b.WriteString("\n\n/sub &lt;id&gt; to subscribe, /unsub &lt;id&gt; to unsubscribe.")
	return b.String()
}

func (a *AdminSurface) mySubscriptions(userID int64) string {
	chats := a.subs.GetUserChats(userID)
	if len(chats) == 0 {
		return msgNoSubscriptions
	}
	var b strings.Builder
	b.WriteString("Your subscriptions:")
	for _, id := range chats {
		b.WriteString("\n- ")
		b.WriteString(format.Escape(a.titles.Title(id)))
	}
	return b.String()
}

func (a *AdminSurface) catalogText() string {
	entries := a.catalog.ListAll()
	if len(entries) == 0 {
		return msgCatalogEmpty
	}
	var b strings.Builder
	b.WriteString("Catalog:")
	for _, e := range entries {
		fmt.Fprintf(&b, "\n- %s (<code>%d</code>)", format.Escape(a.titles.Title(e.ID)), e.ID)
		if e.Hidden {
			b.WriteString(" [hidden]")
		}
	}
	return b.String()
}

func (a *AdminSurface) usersText() string {
	users := a.subs.ListUsers()
	if len(users) == 0 {
		return msgNoSubscribers
	}
	ids := make([]int64, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	b.WriteString("Subscribers:")
	for _, id := range ids {
		profile := users[id]
		label := profile.Name
		if profile.Username != "" {
			label = fmt.Sprintf("%s (@%s)", profile.Name, profile.Username)
		}
		line := strings.TrimSpace(fmt.Sprintf("- %d %s", id, label))
		fmt.Fprintf(&b, "\n%s [%d]", format.Escape(line), len(profile.Chats))
	}
	return b.String()
}

func (a *AdminSurface) saveFailed(ctx context.Context, msg BotMessage, err error) error {
	a.errLog.LogRetryableError(err, "Admin command could not persist", logrus.Fields{LogFieldUserID: msg.UserID})
	return a.reply(ctx, msg, msgSaveFailed)
}

func (a *AdminSurface) reply(ctx context.Context, msg BotMessage, text string) error {
	if err := a.sender.SendText(ctx, msg.ChatID, text); err != nil {
		return fmt.Errorf("failed to reply to %d: %w", msg.ChatID, err)
	}
	return nil
}

func (a *AdminSurface) setPending(userID int64, action pendingAction) {
	a.mu.Lock()
	a.pending[userID] = action
	a.mu.Unlock()
}

func (a *AdminSurface) takePending(userID int64) pendingAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	action := a.pending[userID]
	delete(a.pending, userID)
	return action
}

func (a *AdminSurface) clearPending(userID int64) {
	a.takePending(userID)
}

func isAdminCommand(command string) bool {
	switch command {
	case "/admin", "/add", "/hide", "/unhide", "/remove", "/catalog", "/users", "/broadcast", "/logs":
		return true
	}
	return false
}

// splitCommand separates "/cmd@bot arg text" into "/cmd" and "arg text"
func splitCommand(text string) (string, string) {
	command, arg := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		command, arg = text[:i], text[i:]
	}
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	return strings.ToLower(command), strings.TrimSpace(arg)
}

func parseChatID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return id, err == nil
}
