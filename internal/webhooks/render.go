package webhooks

import (
    "encoding/json"
    "net/url"
    "strings"
    "time"

    "sitewatch/internal/model"
)

// Event is a domain event handed to the delivery engine together with the
// alert it concerns.
type Event struct {
    Type  string
    At    time.Time
    Alert model.Alert
}

// renderRule pairs an endpoint predicate with a payload builder. Rules are
// evaluated in order; the first match wins and the generic envelope is the
// mandatory default.
type renderRule struct {
    name  string
    match func(u *url.URL) bool
    build func(evt Event) any
}

var renderRules = []renderRule{
    {
        name:  "slack",
        match: func(u *url.URL) bool { return strings.EqualFold(u.Host, "hooks.slack.com") },
        build: buildSlack,
    },
    {
        name: "discord",
        match: func(u *url.URL) bool {
            h := strings.ToLower(u.Host)
            if h != "discord.com" && h != "discordapp.com" && !strings.HasSuffix(h, ".discord.com") {
                return false
            }
            return strings.HasPrefix(u.Path, "/api/webhooks/")
        },
        build: buildDiscord,
    },
}

// Render produces the destination-appropriate JSON body for an event. It is a
// pure function of the event and the subscription URL and never fails on
// unexpected entity shapes; missing fields degrade to placeholder text.
func Render(evt Event, sub model.Subscription) []byte {
    if u, err := url.Parse(sub.URL); err == nil {
        for _, r := range renderRules {
            if r.match(u) {
                b, _ := json.Marshal(r.build(evt))
                return b
            }
        }
    }
    b, _ := json.Marshal(buildGeneric(evt))
    return b
}

type color struct {
    hex string
    dec int
}

var severityColors = map[string]color{
    "critical": {"#dc3545", 0xdc3545},
    "high":     {"#fd7e14", 0xfd7e14},
    "medium":   {"#ffc107", 0xffc107},
}

var defaultColor = color{"#6c757d", 0x6c757d}

func colorFor(severity string) color {
    if c, ok := severityColors[strings.ToLower(severity)]; ok {
        return c
    }
    return defaultColor
}

func siteName(a model.Alert) string {
    if a.SiteName != "" { return a.SiteName }
    return "Unknown Site"
}

func orNA(s string) string {
    if s == "" { return "N/A" }
    return s
}

// Slack incoming-webhook format: flat attachment fields.

type slackField struct {
    Title string `json:"title"`
    Value string `json:"value"`
    Short bool   `json:"short"`
}

type slackAttachment struct {
    Color    string       `json:"color"`
    Fallback string       `json:"fallback"`
    Title    string       `json:"title"`
    Text     string       `json:"text,omitempty"`
    Fields   []slackField `json:"fields"`
    TS       int64        `json:"ts"`
}

type slackMessage struct {
    Text        string            `json:"text"`
    Attachments []slackAttachment `json:"attachments"`
}

func buildSlack(evt Event) any {
    a := evt.Alert
    title := orNA(a.Title) + " — " + siteName(a)
    return slackMessage{
        Text: "Webhook event: " + evt.Type,
        Attachments: []slackAttachment{{
            Color:    colorFor(a.Severity).hex,
            Fallback: title,
            Title:    title,
            Text:     a.Message,
            Fields: []slackField{
                {Title: "Type", Value: orNA(a.Type), Short: true},
                {Title: "Severity", Value: orNA(a.Severity), Short: true},
                {Title: "Message", Value: orNA(a.Message), Short: false},
                {Title: "Site", Value: orNA(a.SiteURL), Short: false},
            },
            TS: evt.At.Unix(),
        }},
    }
}

// Discord webhook format: nested embed fields.

type discordField struct {
    Name   string `json:"name"`
    Value  string `json:"value"`
    Inline bool   `json:"inline"`
}

type discordEmbed struct {
    Title       string         `json:"title"`
    Description string         `json:"description,omitempty"`
    Color       int            `json:"color"`
    Fields      []discordField `json:"fields"`
    Timestamp   string         `json:"timestamp"`
}

type discordMessage struct {
    Content string         `json:"content"`
    Embeds  []discordEmbed `json:"embeds"`
}

func buildDiscord(evt Event) any {
    a := evt.Alert
    return discordMessage{
        Content: "Webhook event: " + evt.Type,
        Embeds: []discordEmbed{{
            Title:       orNA(a.Title) + " — " + siteName(a),
            Description: a.Message,
            Color:       colorFor(a.Severity).dec,
            Fields: []discordField{
                {Name: "Type", Value: orNA(a.Type), Inline: true},
                {Name: "Severity", Value: orNA(a.Severity), Inline: true},
                {Name: "Message", Value: orNA(a.Message), Inline: false},
                {Name: "Site", Value: orNA(a.SiteURL), Inline: false},
            },
            Timestamp: evt.At.UTC().Format(time.RFC3339),
        }},
    }
}

// Generic envelope: stable machine-parsable schema for custom integrations.
// Carries entity identifiers so consumers can correlate without re-fetching.

type genericEntity struct {
    ID         string     `json:"id"`
    SiteID     string     `json:"site_id,omitempty"`
    SiteName   string     `json:"site_name,omitempty"`
    SiteURL    string     `json:"site_url,omitempty"`
    Title      string     `json:"title"`
    Type       string     `json:"type"`
    Severity   string     `json:"severity"`
    Message    string     `json:"message"`
    Status     string     `json:"status"`
    ResolvedAt *time.Time `json:"resolved_at,omitempty"`
    CreatedAt  time.Time  `json:"created_at"`
}

type genericEnvelope struct {
    Event     string        `json:"event"`
    Timestamp string        `json:"timestamp"`
    Entity    genericEntity `json:"entity"`
}

func buildGeneric(evt Event) any {
    a := evt.Alert
    return genericEnvelope{
        Event:     evt.Type,
        Timestamp: evt.At.UTC().Format(time.RFC3339),
        Entity: genericEntity{
            ID:         a.ID,
            SiteID:     a.SiteID,
            SiteName:   a.SiteName,
            SiteURL:    a.SiteURL,
            Title:      a.Title,
            Type:       a.Type,
            Severity:   a.Severity,
            Message:    a.Message,
            Status:     a.Status,
            ResolvedAt: a.ResolvedAt,
            CreatedAt:  a.CreatedAt,
        },
    }
}
