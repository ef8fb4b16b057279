package model

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Username      string         `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash  string         `gorm:"not null" json:"-"`
	Role          string         `gorm:"default:'user'" json:"role"` // admin, user
	AllowedBoards string         `json:"allowed_boards"`             // Comma separated board serials, or "*"
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

type Board struct {
	Serial    string    `gorm:"primaryKey" json:"serial"`
	Device    int       `json:"device"`
	Name      string    `json:"name"` // User defined alias
	Signaling string    `json:"signaling"`
	Channels  int       `json:"channels"`
	Status    string    `json:"status"`   // online, offline
	Operator  string    `json:"operator"` // GSM boards only
	LastSeen  time.Time `json:"last_seen"`
}

type CallRecord struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	SessionID   string     `gorm:"uniqueIndex;size:64" json:"session_id"`
	BoardSerial string     `gorm:"index" json:"board_serial"`
	Device      int        `json:"device"`
	Channel     int        `json:"channel"`
	Direction   string     `gorm:"index" json:"direction"` // inbound, outbound
	Orig        string     `gorm:"index" json:"orig"`
	Dest        string     `gorm:"index" json:"dest"`
	StartedAt   time.Time  `gorm:"index" json:"started_at"`
	AnsweredAt  *time.Time `json:"answered_at,omitempty"`
	EndedAt     time.Time  `json:"ended_at"`
	Cause       int        `json:"cause"`
	CauseName   string     `json:"cause_name"`
	Recording   string     `json:"recording,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Duration is the billable time, zero for unanswered calls.
func (c *CallRecord) Duration() time.Duration {
	if c.AnsweredAt == nil || c.EndedAt.Before(*c.AnsweredAt) {
		return 0
	}
	return c.EndedAt.Sub(*c.AnsweredAt)
}

type SMS struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	BoardSerial string    `gorm:"index;not null" json:"board_serial"`
	Channel     int       `json:"channel"`
	Phone       string    `gorm:"index;not null" json:"phone"`
	Content     string    `json:"content"`
	Timestamp   time.Time `gorm:"index" json:"timestamp"`
	Type        string    `gorm:"index" json:"type"` // sent, received
	IsRead      bool      `gorm:"default:false" json:"is_read"`
	RawPDU      string    `json:"raw_pdu,omitempty"` // For debugging
	CreatedAt   time.Time `json:"created_at"`
}

type Webhook struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	BoardSerial string    `gorm:"index;not null" json:"board_serial"` // "*" matches every board
	Event       string    `gorm:"default:'sms'" json:"event"`         // sms, call
	URL         string    `gorm:"not null" json:"url"`
	Platform    string    `json:"platform"`   // telegram, slack, generic
	ChannelID   string    `json:"channel_id"` // For Telegram
	Template    string    `json:"template"`   // "Msg from {{.Phone}}: {{.Content}}"
	Enabled     bool      `gorm:"default:true" json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
}
