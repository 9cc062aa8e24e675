package payload

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
)

const (
	adaptiveCardSchema  = "http://adaptivecards.io/schemas/adaptive-card.json"
	adaptiveCardVersion = "1.2"
)

type card struct {
	Schema  string    `json:"$schema"`
	Type    string    `json:"type"`
	Version string    `json:"version"`
	Body    []element `json:"body"`
	Actions []action  `json:"actions,omitempty"`
}

type element struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	Size     string `json:"size,omitempty"`
	Weight   string `json:"weight,omitempty"`
	Wrap     bool   `json:"wrap,omitempty"`
	IsSubtle bool   `json:"isSubtle,omitempty"`
	AltText  string `json:"altText,omitempty"`
}

type action struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Builder renders notification content into an Adaptive Card.
type Builder struct{}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Build(n *domain.Notification) ([]byte, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	c := card{
		Schema:  adaptiveCardSchema,
		Type:    "AdaptiveCard",
		Version: adaptiveCardVersion,
		Body: []element{
			{Type: "TextBlock", Text: n.Content.Title, Size: "ExtraLarge", Weight: "Bolder", Wrap: true},
		},
	}

	if link := strings.TrimSpace(n.Content.ImageLink); link != "" {
		c.Body = append(c.Body, element{Type: "Image", URL: link, Size: "Stretch", AltText: n.Content.Title})
	}
	if summary := strings.TrimSpace(n.Content.Summary); summary != "" {
		c.Body = append(c.Body, element{Type: "TextBlock", Text: summary, Wrap: true})
	}
	if author := strings.TrimSpace(n.Content.Author); author != "" {
		c.Body = append(c.Body, element{Type: "TextBlock", Text: author, Size: "Small", Weight: "Lighter", Wrap: true, IsSubtle: true})
	}
	if title, link := strings.TrimSpace(n.Content.ButtonTitle), strings.TrimSpace(n.Content.ButtonLink); title != "" && link != "" {
		c.Actions = []action{{Type: "Action.OpenUrl", Title: title, URL: link}}
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal card: %w", err)
	}
	return raw, nil
}

// ResolveVariables substitutes ${name} placeholders inside string values of
// the JSON document. Unknown placeholders are left as they are.
func ResolveVariables(raw []byte, vars map[string]string) ([]byte, error) {
	if len(vars) == 0 {
		return raw, nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: payload is not valid json: %v", domain.ErrValidation, err)
	}

	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "${"+name+"}", value)
	}
	replacer := strings.NewReplacer(pairs...)

	resolved, err := json.Marshal(substitute(doc, replacer))
	if err != nil {
		return nil, fmt.Errorf("marshal resolved payload: %w", err)
	}
	return resolved, nil
}

func substitute(node any, replacer *strings.Replacer) any {
	switch v := node.(type) {
	case string:
		return replacer.Replace(v)
	case []any:
		for i := range v {
			v[i] = substitute(v[i], replacer)
		}
		return v
	case map[string]any:
		for k, child := range v {
			v[k] = substitute(child, replacer)
		}
		return v
	default:
		return v
	}
}

// Variables returns the notification-level values available to cards.
func Variables(n *domain.Notification) map[string]string {
	vars := map[string]string{
		"notificationId": n.ID,
		"title":          n.Content.Title,
		"author":         n.Content.Author,
	}
	if n.CreatedBy != "" {
		vars["createdBy"] = n.CreatedBy
	}
	return vars
}
