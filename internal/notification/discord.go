package notification

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"github.com/ntsmith7/peekaboo/internal/models"
)

// ErrNotConfigured is returned when the Discord env vars are absent.
// Callers treat it as notifications being off, never as a scan failure.
var ErrNotConfigured = errors.New("discord notifications not configured")

type Message struct {
	Title       string
	Description string
	Severity    string
	Fields      map[string]string
	Timestamp   time.Time
}

type NotificationClient struct {
	sg        *discordgo.Session
	channelID string
}

// NewNotificationClient opens a Discord session for the given bot token and
// channel. Empty credentials return ErrNotConfigured.
func NewNotificationClient(token, channelID string) (*NotificationClient, error) {
	if token == "" || channelID == "" {
		return nil, ErrNotConfigured
	}

	sg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}

	if err := sg.Open(); err != nil {
		return nil, err
	}

	return &NotificationClient{sg: sg, channelID: channelID}, nil
}

// Close shuts down the underlying Discord session.
func (c *NotificationClient) Close() error {
	if c == nil || c.sg == nil {
		return nil
	}
	return c.sg.Close()
}

func (c *NotificationClient) getSeverityColor(severity string) int {
	switch severity {
	case "critical":
		return 0x8B0000
	case "high":
		return 0xFF0000
	case "medium":
		return 0xFF8C00
	case "low":
		return 0xFFD700
	case "info":
		return 0x00BFFF
	default:
		return 0x808080
	}
}

func (c *NotificationClient) Send(msg Message) error {
	if c.sg == nil {
		return fmt.Errorf("Discord client not initialized")
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: msg.Description,
		Color:       c.getSeverityColor(msg.Severity),
		Timestamp:   msg.Timestamp.Format(time.RFC3339),
	}

	if len(msg.Fields) > 0 {
		fields := make([]*discordgo.MessageEmbedField, 0, len(msg.Fields))
		for key, value := range msg.Fields {
			fields = append(fields, &discordgo.MessageEmbedField{
				Name:   key,
				Value:  value,
				Inline: true,
			})
		}
		embed.Fields = fields
	}

	_, err := c.sg.ChannelMessageSendEmbed(c.channelID, embed)
	return err
}

// SendScanCompleteMessage posts the final report as a single embed,
// coloured by how the run ended.
func (c *NotificationClient) SendScanCompleteMessage(report *models.ScanReport) error {
	severity := "info"
	switch report.Status {
	case "failed":
		severity = "critical"
	case "cancelled", "timed_out":
		severity = "medium"
	default:
		if report.FindingsDiscovered > 0 {
			severity = "high"
		}
	}

	description := fmt.Sprintf("Scan of **%s** finished with status `%s`.", report.Target, report.Status)
	if report.Error != "" {
		description += fmt.Sprintf("\nError: %s", report.Error)
	}

	return c.Send(Message{
		Title:       fmt.Sprintf("Scan %s: %s", report.Status, report.Target),
		Description: description,
		Severity:    severity,
		Fields: map[string]string{
			"Targets":   fmt.Sprintf("%d", report.TotalTargets),
			"Crawled":   fmt.Sprintf("%d", report.LiveTargetsCrawled),
			"Resources": fmt.Sprintf("%d", report.ResourcesDiscovered),
			"Scripts":   fmt.Sprintf("%d", report.ScriptsDiscovered),
			"Findings":  fmt.Sprintf("%d", report.FindingsDiscovered),
			"Duration":  fmt.Sprintf("%.0fs", report.DurationSeconds),
		},
		Timestamp: report.CompletionTime,
	})
}

// SendFindingAlerts fans findings out through a small worker pool with
// per-message spacing to stay under the Discord rate limit. Send errors
// are logged, not returned; alerting never fails a scan.
func (c *NotificationClient) SendFindingAlerts(findings []models.Finding) {
	const workerCount = 5
	queue := make(chan models.Finding)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range queue {
				if err := c.Send(findingMessage(f)); err != nil {
					log.Errorf("Failed to send Discord notification: %v", err)
				}
				time.Sleep(250 * time.Millisecond)
			}
		}()
	}

	for _, f := range findings {
		queue <- f
	}
	close(queue)
	wg.Wait()
}

func findingMessage(f models.Finding) Message {
	return Message{
		Title:       fmt.Sprintf("%s on %s", f.Type, f.Domain),
		Description: fmt.Sprintf("Parameter `%s` of `%s` reflects injected payloads.", f.Parameter, f.URL),
		Severity:    string(f.Severity),
		Fields: map[string]string{
			"Method":  f.Method,
			"Payload": f.Payload,
		},
		Timestamp: f.DetectedAt,
	}
}
