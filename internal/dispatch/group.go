package dispatch

import (
	"context"
	"regexp"
	"strings"

	"zideebot/internal/domain"
	"zideebot/internal/metrics"
)

// GateStage is how far a group administration request got through its
// preconditions. Stages only move forward; a failed gate rejects the request
// before any mutation.
type GateStage int

const (
	StageUnchecked GateStage = iota
	StageGroupVerified
	StageAdminVerified
	StageBotAdminVerified
	StageExecuted
)

func (s GateStage) String() string {
	switch s {
	case StageUnchecked:
		return "unchecked"
	case StageGroupVerified:
		return "group_verified"
	case StageAdminVerified:
		return "admin_verified"
	case StageBotAdminVerified:
		return "bot_admin_verified"
	case StageExecuted:
		return "executed"
	}
	return "unknown"
}

// gate carries a group admin request through the stages.
type gate struct {
	stage  GateStage
	group  *domain.GroupInfo
	reject *Result
}

// passGates checks, in order: group chat, invoking user is admin, bot is
// admin. action is the keyword shown in rejection texts.
func (e *Executor) passGates(ctx context.Context, msg domain.InboundMessage, action string) gate {
	g := gate{stage: StageUnchecked}

	if !msg.IsGroup() {
		e.logger.Info("group command rejected: not a group", "action", action, "chat", msg.ChatID)
		r := e.render("group_only", map[string]any{"Action": action, "ChatID": msg.ChatID})
		g.reject = &r
		return g
	}
	if e.groups == nil {
		r := e.fail("system_error", map[string]any{"Error": "group admin tidak tersedia"})
		g.reject = &r
		return g
	}
	info, err := e.groups.GroupInfo(ctx, msg.ChatID)
	if err != nil {
		e.logger.Error("group info", "chat", msg.ChatID, "err", err)
		r := e.fail("system_error", map[string]any{"Error": err.Error()})
		g.reject = &r
		return g
	}
	g.group = info
	g.stage = StageGroupVerified

	if !info.IsAdmin(msg.SenderID) {
		e.logger.Info("group command rejected: sender not admin", "action", action, "chat", msg.ChatID, "sender", msg.SenderID)
		r := e.render("sender_not_admin", map[string]any{"Action": action})
		g.reject = &r
		return g
	}
	g.stage = StageAdminVerified

	if !e.botIsAdmin(info) {
		e.logger.Info("group command rejected: bot not admin", "action", action, "chat", msg.ChatID)
		r := e.render("bot_not_admin", map[string]any{"Action": action})
		g.reject = &r
		return g
	}
	g.stage = StageBotAdminVerified
	return g
}

// rejected counts and returns a gate rejection.
func rejected(g gate) Result {
	metrics.GroupRejections.Inc()
	return *g.reject
}

func (e *Executor) selfIDs() []string {
	if e.groups == nil {
		return nil
	}
	var ids []string
	for _, id := range e.groups.SelfIDs() {
		if u := domain.UserPart(id); u != "" {
			ids = append(ids, u)
		}
	}
	return ids
}

func (e *Executor) botIsAdmin(info *domain.GroupInfo) bool {
	for _, id := range e.selfIDs() {
		if info.IsAdmin(id) {
			return true
		}
	}
	return false
}

// isSelf reports whether the participant or raw user id is the bot.
func (e *Executor) isSelf(user string, p *domain.Participant) bool {
	for _, id := range e.selfIDs() {
		if id == user {
			return true
		}
		if p != nil && (p.ID == id || p.Phone == id || p.LID == id) {
			return true
		}
	}
	return false
}

func (e *Executor) setAnnounce(ctx context.Context, msg domain.InboundMessage, closed bool) Result {
	action, verb, banner := "open", "Membuka", "group_opened"
	if closed {
		action, verb, banner = "close", "Menutup", "group_closed"
	}

	g := e.passGates(ctx, msg, action)
	if g.reject != nil {
		return rejected(g)
	}

	if err := e.groups.SetAnnounce(ctx, msg.ChatID, closed); err != nil {
		e.logger.Error("set group announce", "chat", msg.ChatID, "closed", closed, "err", err)
		return e.fail("group_action_failed", map[string]any{"Verb": verb, "Error": err.Error()})
	}
	g.stage = StageExecuted
	metrics.GroupActions.Inc()
	e.logger.Info("group announce changed", "chat", msg.ChatID, "group", g.group.Name, "closed", closed, "by", msg.SenderID, "stage", g.stage)

	now := e.now().In(e.loc)
	return e.render(banner, map[string]any{
		"BotName": e.cat.BotName(),
		"Group":   g.group.Name,
		"By":      displayName(msg.PushName, "Admin"),
		"Date":    IndonesianDate(now),
		"Time":    now.Format("15.04.05"),
	})
}

func (e *Executor) welcome(ctx context.Context, msg domain.InboundMessage) Result {
	g := e.passGates(ctx, msg, "welcome")
	if g.reject != nil {
		return rejected(g)
	}
	g.stage = StageExecuted
	return e.render("welcome", map[string]any{"Group": g.group.Name, "BotName": e.cat.BotName()})
}

var kickTargetPattern = regexp.MustCompile(`(\+?62\d{8,13}|\d{10,13}|@\d+)`)

// kickTarget is a resolved removal target.
type kickTarget struct {
	user   string // normalized user part
	source string // "reply" or "nomor"
	// alts are other spellings tried when looking the target up (a raw
	// mention may be a LID rather than a phone number).
	alts []string
}

// ResolveKickTarget picks the target of a kick from the quoted message author
// or from a phone-like token in the argument. Separators are ignored and a
// leading 0 becomes the country prefix.
func ResolveKickTarget(quotedAuthor, arg string) (user, source string) {
	t, ok := resolveKickTarget(quotedAuthor, arg)
	if !ok {
		return "", ""
	}
	return t.user, t.source
}

func resolveKickTarget(quotedAuthor, arg string) (kickTarget, bool) {
	if quotedAuthor != "" {
		return kickTarget{user: domain.UserPart(quotedAuthor), source: "reply"}, true
	}
	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-', '(', ')', '.':
			return -1
		}
		return r
	}, arg)
	m := kickTargetPattern.FindString(compact)
	if m == "" {
		return kickTarget{}, false
	}
	t := kickTarget{user: domain.NormalizePhone(m), source: "nomor"}
	if raw := strings.TrimLeft(m, "@+"); raw != t.user {
		t.alts = append(t.alts, raw)
	}
	return t, true
}

// lookup finds the target among the group participants.
func (t kickTarget) lookup(info *domain.GroupInfo) (domain.Participant, bool) {
	if p, ok := info.Find(t.user); ok {
		return p, true
	}
	for _, alt := range t.alts {
		if p, ok := info.Find(alt); ok {
			return p, true
		}
	}
	return domain.Participant{}, false
}

func (e *Executor) kick(ctx context.Context, msg domain.InboundMessage, arg string) Result {
	g := e.passGates(ctx, msg, "kick")
	if g.reject != nil {
		return rejected(g)
	}

	target, ok := resolveKickTarget(msg.QuotedAuthor, arg)
	if !ok {
		return Result{Text: e.cat.Text("kick_usage"), Error: true}
	}

	p, found := target.lookup(g.group)
	var pp *domain.Participant
	if found {
		pp = &p
	}
	if e.isSelf(target.user, pp) {
		e.logger.Info("kick rejected: target is the bot", "chat", msg.ChatID)
		return Result{Text: e.cat.Text("kick_self"), Error: true}
	}
	if !found {
		return e.fail("kick_not_found", map[string]any{"Target": target.user})
	}
	if p.IsAdmin || p.SuperAdmin {
		e.logger.Info("kick rejected: target is admin", "chat", msg.ChatID, "target", target.user)
		return e.fail("kick_admin", map[string]any{"Target": target.user})
	}

	member := p.ID
	if member == "" {
		member = target.user
	}
	if err := e.groups.RemoveParticipant(ctx, msg.ChatID, member); err != nil {
		e.logger.Error("remove participant", "chat", msg.ChatID, "target", member, "err", err)
		return e.fail("kick_failed", map[string]any{"Error": err.Error()})
	}
	g.stage = StageExecuted
	metrics.GroupActions.Inc()
	e.logger.Info("participant removed", "chat", msg.ChatID, "target", member, "by", msg.SenderID, "stage", g.stage)

	return e.render("kick_done", map[string]any{
		"Target": target.user,
		"By":     displayName(msg.PushName, "Admin"),
		"Group":  g.group.Name,
	})
}

// kickDebug explains how a kick would be resolved without removing anyone.
func (e *Executor) kickDebug(ctx context.Context, msg domain.InboundMessage, arg string) Result {
	if !msg.IsGroup() {
		return e.render("group_only", map[string]any{"Action": "kick debug", "ChatID": msg.ChatID})
	}
	if e.groups == nil {
		return e.unavailable(CmdKickDebug)
	}
	info, err := e.groups.GroupInfo(ctx, msg.ChatID)
	if err != nil {
		return e.fail("system_error", map[string]any{"Error": err.Error()})
	}

	data := map[string]any{
		"Target":      "",
		"Source":      "",
		"InGroup":     false,
		"TargetAdmin": false,
		"IsSelf":      false,
		"SenderAdmin": info.IsAdmin(msg.SenderID),
		"BotAdmin":    e.botIsAdmin(info),
		"Allowed":     false,
	}
	if t, ok := resolveKickTarget(msg.QuotedAuthor, arg); ok {
		p, found := t.lookup(info)
		var pp *domain.Participant
		if found {
			pp = &p
		}
		self := e.isSelf(t.user, pp)
		targetAdmin := found && (p.IsAdmin || p.SuperAdmin)
		data["Target"] = t.user
		data["Source"] = t.source
		data["InGroup"] = found
		data["TargetAdmin"] = targetAdmin
		data["IsSelf"] = self
		data["Allowed"] = found && !self && !targetAdmin && data["SenderAdmin"].(bool) && data["BotAdmin"].(bool)
	}
	return e.render("kick_debug", data)
}

func (e *Executor) debug(ctx context.Context, msg domain.InboundMessage) Result {
	if !msg.IsGroup() {
		return e.text("debug_private")
	}
	if e.groups == nil {
		return e.unavailable(CmdDebug)
	}
	info, err := e.groups.GroupInfo(ctx, msg.ChatID)
	if err != nil {
		e.logger.Warn("debug group info", "chat", msg.ChatID, "err", err)
		return e.fail("system_error", map[string]any{"Error": err.Error()})
	}
	botAdmin := e.botIsAdmin(info)
	e.logger.Info("group debug", "chat", msg.ChatID, "group", info.Name, "bot_admin", botAdmin, "participants", len(info.Participants))
	return e.render("debug_group", map[string]any{
		"ChatID":       msg.ChatID,
		"Group":        displayName(info.Name, "N/A"),
		"Announce":     info.Announce,
		"From":         displayName(msg.PushName, "Unknown"),
		"Number":       domain.UserPart(msg.SenderID),
		"SenderAdmin":  info.IsAdmin(msg.SenderID),
		"BotAdmin":     botAdmin,
		"Participants": len(info.Participants),
	})
}
