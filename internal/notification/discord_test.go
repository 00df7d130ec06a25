package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ntsmith7/peekaboo/internal/models"
)

func TestNewNotificationClientRequiresCredentials(t *testing.T) {
	_, err := NewNotificationClient("", "")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewNotificationClient("token-only", "")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewNotificationClient("", "channel-only")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestCloseOnNilClient(t *testing.T) {
	var c *NotificationClient
	assert.NoError(t, c.Close())
}

func TestSeverityColors(t *testing.T) {
	c := &NotificationClient{}

	assert.Equal(t, 0x8B0000, c.getSeverityColor("critical"))
	assert.Equal(t, 0xFF0000, c.getSeverityColor("high"))
	assert.Equal(t, 0xFF8C00, c.getSeverityColor("medium"))
	assert.Equal(t, 0x808080, c.getSeverityColor("unknown"))
}

func TestFindingMessage(t *testing.T) {
	detected := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f := models.Finding{
		Type:       "reflected_xss",
		Domain:     "shop.example.com",
		URL:        "https://shop.example.com/search?q=1",
		Parameter:  "q",
		Method:     "GET",
		Payload:    "\"><script>alert(1)</script>",
		Severity:   models.SeverityHigh,
		DetectedAt: detected,
	}

	msg := findingMessage(f)

	assert.Equal(t, "reflected_xss on shop.example.com", msg.Title)
	assert.Contains(t, msg.Description, "`q`")
	assert.Contains(t, msg.Description, "https://shop.example.com/search?q=1")
	assert.Equal(t, "high", msg.Severity)
	assert.Equal(t, "GET", msg.Fields["Method"])
	assert.Equal(t, detected, msg.Timestamp)
}
