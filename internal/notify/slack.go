package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/slack-go/slack"
	"github.com/tfdgestao/relatorios/internal/models"
)

type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts failed report runs to a channel. A nil notifier is
// valid and does nothing.
type SlackNotifier struct {
	client  slackPoster
	channel string
}

// NewSlackNotifier returns nil when Slack is not configured.
func NewSlackNotifier(token, channel string) *SlackNotifier {
	if token == "" || channel == "" {
		return nil
	}
	return &SlackNotifier{client: slack.New(token), channel: channel}
}

func (n *SlackNotifier) NotifyFailure(ctx context.Context, s *models.ReportSchedule, errMsg string) error {
	if n == nil {
		return nil
	}

	attachment := slack.Attachment{
		Color: "#ff0000",
		Title: fmt.Sprintf("Falha no relatório agendado: %s", s.Name),
		Text:  errMsg,
		Fields: []slack.AttachmentField{
			{Title: "Agendamento", Value: strconv.FormatUint(uint64(s.ID), 10), Short: true},
			{Title: "Tipo", Value: string(s.ReportType), Short: true},
			{Title: "Recorrência", Value: string(s.Recurrence), Short: true},
			{Title: "Formato", Value: string(s.OutputFormat), Short: true},
		},
		Footer: "TFD relatórios",
		Ts:     json.Number(strconv.FormatInt(time.Now().Unix(), 10)),
	}

	if _, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionAttachments(attachment)); err != nil {
		return fmt.Errorf("failed to post slack message: %w", err)
	}
	return nil
}
