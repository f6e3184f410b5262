// Package server is the reference chat server used for local development
// of the client. It speaks the same REST envelope and socket frame
// protocol the client packages consume.
package server

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"chat-client/config"
	"chat-client/models"
)

// Server carries the shared state of the reference server.
type Server struct {
	cfg config.ServerConfig
	db  *gorm.DB
	hub *hub
}

// New opens the database, migrates the schema and returns a ready Server.
func New(cfg config.ServerConfig) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return NewWithDB(cfg, db)
}

// NewWithDB wires a Server onto an already-open database. Tests use it
// with an in-memory database.
func NewWithDB(cfg config.ServerConfig, db *gorm.DB) (*Server, error) {
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, db: db, hub: newHub()}, nil
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	r.GET("/ws", s.handleWS)
	r.Static("/uploads", s.cfg.UploadDir)

	api := r.Group("/api")
	api.POST("/register", s.register)
	api.POST("/login", s.login)
	api.POST("/refresh", s.refresh)

	protected := api.Group("")
	protected.Use(s.tokenAuth())
	protected.GET("/conversations", s.listConversations)
	protected.POST("/conversations", s.createConversation)
	protected.GET("/conversations/:id/messages", s.listMessages)
	protected.POST("/conversations/:id/read", s.markRead)
	protected.POST("/uploads/chat", s.uploadImages)

	return r
}

// Run serves on the configured port.
func (s *Server) Run() error {
	return s.Router().Run(":" + s.cfg.Port)
}

func (s *Server) listConversations(c *gin.Context) {
	userID := c.GetString("user_id")

	var convs []Conversation
	if err := s.db.Where("participant_a = ? OR participant_b = ?", userID, userID).Find(&convs).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "failed to fetch conversations")
		return
	}

	out := make([]models.Conversation, 0, len(convs))
	for _, conv := range convs {
		out = append(out, s.toClientConversation(conv, userID))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	respondOK(c, out)
}

func (s *Server) createConversation(c *gin.Context) {
	userID := c.GetString("user_id")
	var input struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if input.UserID == userID {
		respondError(c, http.StatusBadRequest, "cannot start a conversation with yourself")
		return
	}
	var peer User
	if err := s.db.Where("id = ?", input.UserID).First(&peer).Error; err != nil {
		respondError(c, http.StatusNotFound, "no such user")
		return
	}

	a, b := userID, input.UserID
	if b < a {
		a, b = b, a
	}
	var conv Conversation
	err := s.db.Where("participant_a = ? AND participant_b = ?", a, b).First(&conv).Error
	if err != nil {
		conv = Conversation{ID: newID(), ParticipantA: a, ParticipantB: b}
		if err := s.db.Create(&conv).Error; err != nil {
			respondError(c, http.StatusInternalServerError, "failed to create conversation")
			return
		}
	}
	respondOK(c, s.toClientConversation(conv, userID))
}

// listMessages returns one page, newest first.
func (s *Server) listMessages(c *gin.Context) {
	userID := c.GetString("user_id")
	conversationID := c.Param("id")
	if !s.isParticipant(conversationID, userID) {
		respondError(c, http.StatusForbidden, "not a participant")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var msgs []Message
	err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, s.toClientMessage(m, userID))
	}
	respondOK(c, out)
}

func (s *Server) markRead(c *gin.Context) {
	userID := c.GetString("user_id")
	conversationID := c.Param("id")
	if !s.isParticipant(conversationID, userID) {
		respondError(c, http.StatusForbidden, "not a participant")
		return
	}
	if err := s.markConversationRead(conversationID, userID); err != nil {
		respondError(c, http.StatusInternalServerError, "failed to mark read")
		return
	}
	respondOK(c, nil)
}

func (s *Server) uploadImages(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid multipart form")
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		respondError(c, http.StatusBadRequest, "no images supplied")
		return
	}
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		respondError(c, http.StatusInternalServerError, "upload dir unavailable")
		return
	}

	urls := make([]string, 0, len(files))
	for _, file := range files {
		name := newID() + filepath.Ext(file.Filename)
		if err := c.SaveUploadedFile(file, filepath.Join(s.cfg.UploadDir, name)); err != nil {
			respondError(c, http.StatusInternalServerError, "failed to store upload")
			return
		}
		urls = append(urls, s.cfg.UploadBaseURL+"/"+name)
	}
	respondOK(c, gin.H{"urls": urls})
}

// markConversationRead flags the peer's messages read and pushes the
// receipt to the peer.
func (s *Server) markConversationRead(conversationID, readerID string) error {
	err := s.db.Model(&Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND is_read = false", conversationID, readerID).
		Update("is_read", true).Error
	if err != nil {
		return err
	}
	s.pushToConversation(conversationID, readerID, models.EventMessagesRead, models.MessagesReadPush{
		ConversationID: conversationID,
		ReadBy:         readerID,
	})
	return nil
}

func (s *Server) isParticipant(conversationID, userID string) bool {
	var conv Conversation
	if err := s.db.Where("id = ?", conversationID).First(&conv).Error; err != nil {
		return false
	}
	return conv.ParticipantA == userID || conv.ParticipantB == userID
}

func (s *Server) toClientConversation(conv Conversation, viewerID string) models.Conversation {
	peerID := conv.ParticipantA
	if peerID == viewerID {
		peerID = conv.ParticipantB
	}
	var peer User
	s.db.Where("id = ?", peerID).First(&peer)

	out := models.Conversation{
		ID:          conv.ID,
		Participant: models.User{ID: peer.ID, Username: peer.Username, AvatarURL: peer.AvatarURL},
		UpdatedAt:   conv.UpdatedAt,
	}

	var unread int64
	s.db.Model(&Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND is_read = false", conv.ID, viewerID).
		Count(&unread)
	out.UnreadCount = int(unread)

	if conv.LastMessageID != "" {
		var last Message
		if err := s.db.Where("id = ?", conv.LastMessageID).First(&last).Error; err == nil {
			m := s.toClientMessage(last, viewerID)
			out.LastMessage = &m
		}
	}
	return out
}

func (s *Server) toClientMessage(m Message, viewerID string) models.Message {
	out := models.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		IsRead:         m.IsRead,
		IsDeleted:      m.IsDeleted,
		EditedAt:       m.EditedAt,
		CreatedAt:      m.CreatedAt,
	}

	var images []MessageImage
	s.db.Where("message_id = ?", m.ID).Order("ord").Find(&images)
	for _, img := range images {
		out.Images = append(out.Images, models.MessageImage{ID: img.ID, URL: img.URL, Order: img.Ord})
	}

	var reactions []MessageReaction
	s.db.Where("message_id = ?", m.ID).Find(&reactions)
	byEmoji := make(map[string]*models.MessageReaction)
	order := []string{}
	for _, r := range reactions {
		agg := byEmoji[r.Emoji]
		if agg == nil {
			agg = &models.MessageReaction{Emoji: r.Emoji}
			byEmoji[r.Emoji] = agg
			order = append(order, r.Emoji)
		}
		agg.Count++
		if r.UserID == viewerID {
			agg.HasReacted = true
		}
	}
	for _, emoji := range order {
		out.Reactions = append(out.Reactions, *byEmoji[emoji])
	}

	if m.ReplyToID != "" {
		var quoted Message
		if err := s.db.Where("id = ?", m.ReplyToID).First(&quoted).Error; err == nil {
			snap := &models.ReplySnapshot{
				MessageID: quoted.ID,
				SenderID:  quoted.SenderID,
				Content:   quoted.Content,
			}
			var img MessageImage
			if err := s.db.Where("message_id = ?", quoted.ID).Order("ord").First(&img).Error; err == nil {
				snap.ImageURL = img.URL
			}
			out.ReplyTo = snap
		}
	}
	return out
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "ok", "data": data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"code": status, "message": message})
}

func newID() string {
	return uuid.NewString()
}
