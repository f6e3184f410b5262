package server

import (
	"time"

	"gorm.io/gorm"
)

// User is a registered account.
type User struct {
	ID           string `gorm:"primaryKey;type:varchar(36)" json:"user_id"`
	Username     string `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"not null" json:"-"`
	AvatarURL    string `json:"avatar_url"`
	CreatedAt    time.Time
}

// Conversation is a two-party thread. Participants are stored sorted so a
// pair maps to exactly one row.
type Conversation struct {
	ID            string `gorm:"primaryKey;type:varchar(36)"`
	ParticipantA  string `gorm:"type:varchar(36);index"`
	ParticipantB  string `gorm:"type:varchar(36);index"`
	LastMessageID string `gorm:"type:varchar(36)"`
	UpdatedAt     time.Time
	CreatedAt     time.Time
}

// Message is a stored chat message.
type Message struct {
	ID             string `gorm:"primaryKey;type:varchar(36)"`
	ConversationID string `gorm:"type:varchar(36);index"`
	SenderID       string `gorm:"type:varchar(36);index"`
	Content        string `gorm:"type:text"`
	ReplyToID      string `gorm:"type:varchar(36)"`
	IsRead         bool   `gorm:"default:false"`
	IsDeleted      bool   `gorm:"default:false"`
	EditedAt       *time.Time
	CreatedAt      time.Time `gorm:"index"`
}

// MessageImage is one attachment of a message.
type MessageImage struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	MessageID string `gorm:"type:varchar(36);index"`
	URL       string
	Ord       int
}

// MessageReaction is one user's emoji on a message.
type MessageReaction struct {
	MessageID string `gorm:"primaryKey;type:varchar(36)"`
	UserID    string `gorm:"primaryKey;type:varchar(36)"`
	Emoji     string `gorm:"primaryKey;type:varchar(32)"`
	CreatedAt time.Time
}

// RefreshToken is an issued refresh token; rotation deletes the old row.
type RefreshToken struct {
	Token     string `gorm:"primaryKey;type:varchar(64)"`
	UserID    string `gorm:"type:varchar(36);index"`
	ExpiresAt time.Time
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Conversation{},
		&Message{},
		&MessageImage{},
		&MessageReaction{},
		&RefreshToken{},
	)
}
