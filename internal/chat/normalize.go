package chat

import (
	"context"
	"encoding/json"
	"errors"
	"html"
	"regexp"
	"strconv"

	"github.com/fiora/chat-app/internal/apperr"
	"github.com/fiora/chat-app/internal/model"
	"github.com/fiora/chat-app/internal/store"
)

var (
	rollPattern = regexp.MustCompile(`^-roll( ([0-9]*))?$`)
	rpsPattern  = regexp.MustCompile(`^-rps$`)
)

// rollDigits is the longest top value accepted before clamping to RollMax.
const rollDigits = 5

var rpsOutcomes = [...]string{"rock", "paper", "scissors"}

// RollCommand is the content of a system message produced by "-roll".
type RollCommand struct {
	Command string `json:"command"`
	Value   int    `json:"value"`
	Top     int    `json:"top"`
}

// RPSCommand is the content of a system message produced by "-rps".
type RPSCommand struct {
	Command string `json:"command"`
	Value   string `json:"value"`
}

// FileContent is the client-supplied description of an uploaded file.
type FileContent struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Ext      string `json:"ext"`
	URL      string `json:"fileUrl"`
}

// InviteContent replaces the group id an invite is sent with.
type InviteContent struct {
	Inviter     string `json:"inviter"`
	InviterName string `json:"inviterName"`
	Group       string `json:"group"`
	GroupName   string `json:"groupName"`
}

// normalize validates content for its type and rewrites it into the form
// that is persisted.
func (e *Engine) normalize(ctx context.Context, sender string, typ model.MessageType, content string) (model.MessageType, string, error) {
	switch typ {
	case model.MessageText:
		if err := validateText(content, e.cfg.MaxTextLength); err != nil {
			return "", "", err
		}
		if cmd, ok := e.command(content); ok {
			return model.MessageSystem, cmd, nil
		}
		return typ, html.EscapeString(content), nil

	case model.MessageCode:
		if err := validateText(content, e.cfg.MaxTextLength); err != nil {
			return "", "", err
		}
		return typ, content, nil

	case model.MessageImage:
		if content == "" {
			return "", "", apperr.Validation("message content is empty")
		}
		return typ, content, nil

	case model.MessageFile:
		var f FileContent
		if err := json.Unmarshal([]byte(content), &f); err != nil {
			return "", "", apperr.Validation("invalid file message")
		}
		if f.Size < 0 || (e.cfg.MaxFileSize > 0 && f.Size > e.cfg.MaxFileSize) {
			return "", "", apperr.Validation("file exceeds %d byte limit", e.cfg.MaxFileSize)
		}
		return typ, content, nil

	case model.MessageInvite:
		inv, err := e.invite(ctx, sender, content)
		if err != nil {
			return "", "", err
		}
		return typ, inv, nil
	}
	return "", "", apperr.Validation("unsupported message type")
}

// command turns the "-roll [N]" and "-rps" shortcuts into system content.
func (e *Engine) command(text string) (string, bool) {
	if m := rollPattern.FindStringSubmatch(text); m != nil {
		top := e.cfg.RollDefault
		if digits := m[2]; digits != "" {
			if len(digits) > rollDigits {
				top = e.cfg.RollMax
			} else if n, err := strconv.Atoi(digits); err == nil {
				top = min(n, e.cfg.RollMax)
			}
		}
		return encode(RollCommand{Command: "roll", Value: e.intn(top + 1), Top: top}), true
	}
	if rpsPattern.MatchString(text) {
		return encode(RPSCommand{Command: "rps", Value: rpsOutcomes[e.intn(len(rpsOutcomes))]}), true
	}
	return "", false
}

func (e *Engine) invite(ctx context.Context, sender, groupID string) (string, error) {
	g, err := e.store.Groups.Get(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) {
		return "", apperr.NotFound("invited group does not exist")
	}
	if err != nil {
		return "", err
	}
	u, err := e.store.Users.Get(ctx, sender)
	if err != nil {
		return "", err
	}
	return encode(InviteContent{
		Inviter:     u.ID,
		InviterName: u.Username,
		Group:       g.ID,
		GroupName:   g.Name,
	}), nil
}

func encode(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
