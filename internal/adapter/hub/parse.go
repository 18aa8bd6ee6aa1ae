package hub

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"coral-agents/internal/domain"
)

// noMessagesText is what wait_for_mentions returns when the wait expires.
const noMessagesText = "No new messages received within the timeout period"

// parseMentions decodes a wait_for_mentions result. The hub answers either
// with an XML document of <message> elements (optionally nested in thread
// elements) or JSON. An empty result or the timeout text means no mentions.
func parseMentions(text string) ([]domain.InboundMessage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.HasPrefix(trimmed, noMessagesText) {
		return nil, nil
	}

	var (
		msgs []domain.InboundMessage
		err  error
	)
	switch trimmed[0] {
	case '<':
		msgs, err = parseXMLMentions(trimmed)
	case '{', '[':
		msgs, err = parseJSONMentions(trimmed)
	default:
		return nil, fmt.Errorf("unrecognized mention payload: %.80q", trimmed)
	}
	if err != nil {
		return nil, err
	}

	valid := msgs[:0]
	for _, m := range msgs {
		if m.ThreadID == "" || m.SenderID == "" {
			continue
		}
		valid = append(valid, m)
	}
	if len(valid) == 0 && len(msgs) > 0 {
		return nil, fmt.Errorf("mentions without thread or sender")
	}
	return valid, nil
}

type xmlMessage struct {
	ID          string `xml:"id,attr"`
	ThreadID    string `xml:"threadId,attr"`
	ThreadName  string `xml:"threadName,attr"`
	SenderID    string `xml:"senderId,attr"`
	ContentAttr string `xml:"content,attr"`
	Mentions    string `xml:"mentions,attr"`
	Body        string `xml:",chardata"`
}

type threadScope struct {
	id, name string
}

func parseXMLMentions(text string) ([]domain.InboundMessage, error) {
	dec := xml.NewDecoder(strings.NewReader(text))
	dec.Strict = false

	var (
		msgs  []domain.InboundMessage
		stack []threadScope
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode mention xml: %w", err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			name := strings.ToLower(el.Name.Local)
			if name == "message" {
				var xm xmlMessage
				if err := dec.DecodeElement(&xm, &el); err != nil {
					return nil, fmt.Errorf("decode mention xml: %w", err)
				}
				msgs = append(msgs, xm.toDomain(currentThread(stack)))
				continue
			}
			if strings.Contains(name, "thread") {
				stack = append(stack, threadScope{id: attr(el, "id"), name: attr(el, "name")})
			}
		case xml.EndElement:
			if strings.Contains(strings.ToLower(el.Name.Local), "thread") && len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return msgs, nil
}

func (xm xmlMessage) toDomain(scope threadScope) domain.InboundMessage {
	m := domain.InboundMessage{
		ThreadID:   xm.ThreadID,
		ThreadName: xm.ThreadName,
		SenderID:   xm.SenderID,
		MessageID:  xm.ID,
		Content:    xm.ContentAttr,
		Mentions:   splitList(xm.Mentions),
	}
	if m.Content == "" {
		m.Content = strings.TrimSpace(xm.Body)
	}
	if m.ThreadID == "" {
		m.ThreadID = scope.id
	}
	if m.ThreadName == "" {
		m.ThreadName = scope.name
	}
	return m
}

func currentThread(stack []threadScope) threadScope {
	if len(stack) == 0 {
		return threadScope{}
	}
	return stack[len(stack)-1]
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func splitList(s string) []string {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.Trim(strings.TrimSpace(p), `"'`); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type jsonMessage struct {
	ID         string   `json:"id"`
	ThreadID   string   `json:"threadId"`
	ThreadName string   `json:"threadName"`
	SenderID   string   `json:"senderId"`
	Content    string   `json:"content"`
	Mentions   []string `json:"mentions"`
}

func parseJSONMentions(text string) ([]domain.InboundMessage, error) {
	var raw []jsonMessage
	data := []byte(text)
	if data[0] == '{' {
		var wrapper struct {
			Messages []jsonMessage `json:"messages"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("decode mention json: %w", err)
		}
		if wrapper.Messages != nil {
			raw = wrapper.Messages
		} else {
			var single jsonMessage
			if err := json.Unmarshal(data, &single); err != nil {
				return nil, fmt.Errorf("decode mention json: %w", err)
			}
			raw = []jsonMessage{single}
		}
	} else if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode mention json: %w", err)
	}

	msgs := make([]domain.InboundMessage, 0, len(raw))
	for _, jm := range raw {
		msgs = append(msgs, domain.InboundMessage{
			ThreadID:   jm.ThreadID,
			ThreadName: jm.ThreadName,
			SenderID:   jm.SenderID,
			MessageID:  jm.ID,
			Content:    jm.Content,
			Mentions:   jm.Mentions,
		})
	}
	return msgs, nil
}
