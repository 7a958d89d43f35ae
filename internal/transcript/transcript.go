package transcript

import (
	"bytes"
	"context"
	"html/template"
	"time"

	"cogwarden/internal/chat"

	"github.com/bwmarrin/discordgo"
)

const pageSize = 100

var page = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; background: #313338; color: #dbdee1; }
.message { padding: 4px 0; }
.author { font-weight: bold; color: #f2f3f5; }
.time { color: #949ba4; font-size: 0.8em; margin-left: 6px; }
.content { white-space: pre-wrap; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Exported {{.Exported}} &middot; {{len .Messages}} messages</p>
{{range .Messages}}<div class="message">
<span class="author">{{.Author}}</span><span class="time">{{.Time}}</span>
<div class="content">{{.Content}}</div>
{{range .Attachments}}<div class="attachment"><a href="{{.URL}}">{{.Name}}</a></div>
{{end}}{{range .Embeds}}<div class="embed">{{.}}</div>
{{end}}</div>
{{end}}</body>
</html>
`))

type Exporter struct {
	client chat.Client
	now    func() time.Time
}

func New(client chat.Client) *Exporter {
	return &Exporter{client: client, now: time.Now}
}

type view struct {
	Title    string
	Exported string
	Messages []messageView
}

type messageView struct {
	Author      string
	Time        string
	Content     string
	Attachments []attachmentView
	Embeds      []string
}

type attachmentView struct {
	Name string
	URL  string
}

// Export renders the full history of channelID, oldest message first.
func (e *Exporter) Export(ctx context.Context, channelID, title string) (string, error) {
	messages, err := e.history(ctx, channelID)
	if err != nil {
		return "", err
	}

	data := view{Title: title, Exported: e.now().UTC().Format(time.RFC1123)}
	for _, msg := range messages {
		data.Messages = append(data.Messages, render(msg))
	}

	var buf bytes.Buffer
	if err := page.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (e *Exporter) history(ctx context.Context, channelID string) ([]*discordgo.Message, error) {
	var newestFirst []*discordgo.Message
	before := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := e.client.Messages(channelID, pageSize, before, "")
		if err != nil {
			return nil, err
		}
		newestFirst = append(newestFirst, batch...)
		if len(batch) < pageSize {
			break
		}
		before = batch[len(batch)-1].ID
	}

	out := make([]*discordgo.Message, len(newestFirst))
	for i, msg := range newestFirst {
		out[len(newestFirst)-1-i] = msg
	}
	return out, nil
}

func render(msg *discordgo.Message) messageView {
	author := "unknown"
	if msg.Author != nil {
		author = msg.Author.Username
		if author == "" {
			author = msg.Author.ID
		}
	}
	mv := messageView{
		Author:  author,
		Time:    msg.Timestamp.UTC().Format("2006-01-02 15:04:05"),
		Content: msg.Content,
	}
	for _, attachment := range msg.Attachments {
		mv.Attachments = append(mv.Attachments, attachmentView{Name: attachment.Filename, URL: attachment.URL})
	}
	for _, embed := range msg.Embeds {
		if embed == nil {
			continue
		}
		text := embed.Title
		if embed.Description != "" {
			if text != "" {
				text += ": "
			}
			text += embed.Description
		}
		if text != "" {
			mv.Embeds = append(mv.Embeds, text)
		}
	}
	return mv
}
