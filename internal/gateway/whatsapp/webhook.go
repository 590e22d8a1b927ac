package whatsapp

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/entrega-next/internal/gateway"
)

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string       `json:"field"`
			Value webhookValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookValue struct {
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []struct {
		ID        string `json:"id"`
		From      string `json:"from"`
		Timestamp string `json:"timestamp"`
		Type      string `json:"type"`
		Text      struct {
			Body string `json:"body"`
		} `json:"text"`
		Interactive struct {
			Type        string `json:"type"`
			ButtonReply struct {
				ID    string `json:"id"`
				Title string `json:"title"`
			} `json:"button_reply"`
			ListReply struct {
				ID    string `json:"id"`
				Title string `json:"title"`
			} `json:"list_reply"`
		} `json:"interactive"`
		Button struct {
			Payload string `json:"payload"`
			Text    string `json:"text"`
		} `json:"button"`
		Location struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
			Name      string  `json:"name"`
			Address   string  `json:"address"`
		} `json:"location"`
		Image struct {
			Caption string `json:"caption"`
		} `json:"image"`
	} `json:"messages"`
	Statuses []struct {
		ID          string `json:"id"`
		RecipientID string `json:"recipient_id"`
		Status      string `json:"status"`
		Timestamp   string `json:"timestamp"`
		Errors      []struct {
			Code    int    `json:"code"`
			Title   string `json:"title"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"statuses"`
}

// Batch 一次 webhook 推送中的消息与状态回执
type Batch struct {
	Messages []gateway.InboundMessage
	Statuses []gateway.MessageStatus
}

// ParseWebhook 解析 webhook 推送；只处理 field=messages 的变更
func ParseWebhook(body []byte) (*Batch, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	batch := &Batch{}
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			names := make(map[string]string, len(change.Value.Contacts))
			for _, contact := range change.Value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}
			for _, raw := range change.Value.Messages {
				msg := gateway.InboundMessage{
					ID:        raw.ID,
					From:      raw.From,
					Name:      names[raw.From],
					Timestamp: parseUnix(raw.Timestamp),
				}
				switch raw.Type {
				case "text":
					msg.Type = "text"
					msg.Text = strings.TrimSpace(raw.Text.Body)
				case "interactive":
					msg.Type = "button"
					msg.ButtonID = raw.Interactive.ButtonReply.ID
					msg.ButtonTitle = raw.Interactive.ButtonReply.Title
					if msg.ButtonID == "" {
						msg.ButtonID = raw.Interactive.ListReply.ID
						msg.ButtonTitle = raw.Interactive.ListReply.Title
					}
					msg.Text = msg.ButtonTitle
				case "button":
					msg.Type = "button"
					msg.ButtonID = raw.Button.Payload
					msg.ButtonTitle = raw.Button.Text
					msg.Text = raw.Button.Text
				case "location":
					msg.Type = "location"
					msg.Latitude = raw.Location.Latitude
					msg.Longitude = raw.Location.Longitude
					msg.Text = strings.TrimSpace(strings.Join([]string{raw.Location.Name, raw.Location.Address}, " "))
				case "image":
					msg.Type = "image"
					msg.Text = strings.TrimSpace(raw.Image.Caption)
				default:
					msg.Type = "unsupported"
				}
				batch.Messages = append(batch.Messages, msg)
			}
			for _, raw := range change.Value.Statuses {
				status := gateway.MessageStatus{
					MessageID:   raw.ID,
					RecipientID: raw.RecipientID,
					Status:      strings.ToLower(raw.Status),
					Timestamp:   parseUnix(raw.Timestamp),
				}
				if len(raw.Errors) > 0 {
					status.ErrorText = strings.TrimSpace(raw.Errors[0].Title + " " + raw.Errors[0].Message)
				}
				batch.Statuses = append(batch.Statuses, status)
			}
		}
	}
	return batch, nil
}

func parseUnix(raw string) time.Time {
	seconds, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || seconds <= 0 {
		return time.Now()
	}
	return time.Unix(seconds, 0)
}
