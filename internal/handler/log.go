package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/emplant2000/piphp/internal/audit"
	"github.com/emplant2000/piphp/internal/middleware"
	"github.com/emplant2000/piphp/internal/models"
	"github.com/emplant2000/piphp/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// LogHandler serves the audit log views.
type LogHandler struct {
	DB         *gorm.DB
	EncryptKey string
	File       *audit.FileSink
	PageSize   int
}

func NewLogHandler(db *gorm.DB, encryptKey string, file *audit.FileSink, pageSize int) *LogHandler {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &LogHandler{
		DB:         db,
		EncryptKey: encryptKey,
		File:       file,
		PageSize:   pageSize,
	}
}

type logResp struct {
	ID        uint            `json:"id"`
	Action    string          `json:"action"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func (h *LogHandler) toResp(l *models.AuditLog) logResp {
	payload := []byte(audit.DecodePayload(h.EncryptKey, l))
	if !json.Valid(payload) {
		// undecryptable payloads are returned as stored
		payload, _ = json.Marshal(string(payload))
	}
	return logResp{
		ID:        l.ID,
		Action:    l.Action,
		SessionID: l.SessionID,
		Payload:   payload,
		CreatedAt: l.CreatedAt,
	}
}

// ListLogs pages through the current user's audit events, filtered by date range and action.
func (h *LogHandler) ListLogs(c *gin.Context) {
	sess, ok := middleware.CurrentSession(c)
	if !ok {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "not logged in")
		return
	}

	// paging
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page <= 0 {
		page = 1
	}
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(h.PageSize)))
	if size <= 0 || size > 100 {
		size = h.PageSize
	}
	offset := (page - 1) * size

	// date range: start / end as YYYY-MM-DD
	base := h.DB.WithContext(c.Request.Context()).Model(&models.AuditLog{}).Where("user_id = ?", sess.UserID)
	if s := c.Query("start"); s != "" {
		start, err := time.Parse("2006-01-02", s)
		if err != nil {
			util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "invalid start date")
			return
		}
		base = base.Where("created_at >= ?", start)
	}
	if s := c.Query("end"); s != "" {
		end, err := time.Parse("2006-01-02", s)
		if err != nil {
			util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "invalid end date")
			return
		}
		base = base.Where("created_at < ?", end.Add(24*time.Hour))
	}
	if action := strings.TrimSpace(c.Query("action")); action != "" {
		base = base.Where("action = ?", action)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "query failed")
		return
	}

	var logs []models.AuditLog
	if err := base.
		Order("created_at DESC, id DESC").
		Limit(size).
		Offset(offset).
		Find(&logs).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "query failed")
		return
	}

	items := make([]logResp, 0, len(logs))
	for i := range logs {
		items = append(items, h.toResp(&logs[i]))
	}

	util.Success(c, util.Response{
		"items": items,
		"total": total,
		"page":  page,
		"size":  size,
	})
}

// RecentLines returns the newest lines of the audit log file, newest first.
func (h *LogHandler) RecentLines(c *gin.Context) {
	n, _ := strconv.Atoi(c.DefaultQuery("n", "5"))
	if n <= 0 || n > 100 {
		n = 5
	}
	if h.File == nil {
		util.Success(c, util.Response{"lines": []string{}})
		return
	}
	lines, err := h.File.Tail(n)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "read log failed")
		return
	}
	if lines == nil {
		lines = []string{}
	}
	util.Success(c, util.Response{"lines": lines})
}
