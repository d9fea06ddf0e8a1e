package chat

import (
	"context"
	"strings"

	"github.com/ent0n29/llmchat/internal/inference"
	"github.com/ent0n29/llmchat/internal/logging"
	"github.com/ent0n29/llmchat/internal/session"
)

const titlePrompt = "Summarize the conversation below as a chat title of 4 to 5 words. " +
	"Reply with the title only, no quotes and no punctuation at the end."

// startTitle names a session in the background once its first exchange is
// stored. On failure the title derived from the first user turn stays.
func (c *Controller) startTitle(ctx context.Context, snapshot *session.Session) {
	c.titles.Add(1)
	go func() {
		defer c.titles.Done()

		title, err := c.generateTitle(ctx, snapshot)
		if err != nil {
			logging.WarnWithFields("title generation failed", logging.Fields{
				"session_id": snapshot.ID,
				"error":      err.Error(),
			})
			return
		}
		if title == "" || title == snapshot.Title {
			return
		}

		saveCtx, cancel := context.WithTimeout(ctx, c.opts.PersistTimeout)
		defer cancel()
		if _, err := c.store.Rename(saveCtx, snapshot.ID, title); err != nil {
			logging.WarnWithFields("title not persisted", logging.Fields{
				"session_id": snapshot.ID,
				"error":      err.Error(),
			})
			return
		}
		c.metrics.IncSessionEvent("titled")
	}()
}

func (c *Controller) generateTitle(ctx context.Context, snapshot *session.Session) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.TitleTimeout)
	defer cancel()

	var convo strings.Builder
	for _, t := range snapshot.Turns {
		if t.Role == session.RoleSystem {
			continue
		}
		convo.WriteString(string(t.Role))
		convo.WriteString(": ")
		convo.WriteString(t.Content)
		convo.WriteString("\n")
	}

	out, err := c.relay.Complete(ctx, snapshot.ModelName, titleMessages(convo.String()), 0.2)
	if err != nil {
		return "", err
	}
	return cleanTitle(out), nil
}

func cleanTitle(raw string) string {
	line := strings.TrimSpace(raw)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.Trim(line, " \t\"'`*#.")
	line = strings.TrimPrefix(line, "Title:")
	return session.TruncateTitle(strings.TrimSpace(line))
}

func titleMessages(conversation string) []inference.Message {
	return []inference.Message{
		{Role: "system", Content: titlePrompt},
		{Role: "user", Content: conversation},
	}
}
