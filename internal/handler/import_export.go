package handler

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"time"

	"github.com/emplant2000/piphp/internal/audit"
	"github.com/emplant2000/piphp/internal/middleware"
	"github.com/emplant2000/piphp/internal/models"
	"github.com/emplant2000/piphp/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// ExportHandler exports the current user's audit log.
type ExportHandler struct {
	DB         *gorm.DB
	EncryptKey string
}

func NewExportHandler(db *gorm.DB, encryptKey string) *ExportHandler {
	return &ExportHandler{
		DB:         db,
		EncryptKey: encryptKey,
	}
}

var exportHeaders = []string{"Time", "Action", "Session", "Payload"}

func (h *ExportHandler) load(c *gin.Context) ([]models.AuditLog, bool) {
	sess, ok := middleware.CurrentSession(c)
	if !ok {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "not logged in")
		return nil, false
	}

	var logs []models.AuditLog
	if err := h.DB.WithContext(c.Request.Context()).
		Where("user_id = ?", sess.UserID).
		Order("created_at DESC, id DESC").
		Find(&logs).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "query failed")
		return nil, false
	}
	return logs, true
}

func (h *ExportHandler) row(l *models.AuditLog) []string {
	return []string{
		l.CreatedAt.Format("2006-01-02 15:04:05"),
		l.Action,
		l.SessionID,
		audit.DecodePayload(h.EncryptKey, l),
	}
}

// ExportCSV writes the audit log as CSV.
func (h *ExportHandler) ExportCSV(c *gin.Context) {
	logs, ok := h.load(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"audit_%s.csv\"",
		time.Now().Format("20060102")))

	// UTF-8 BOM so spreadsheet apps pick the right encoding (π)
	c.Writer.Write([]byte{0xEF, 0xBB, 0xBF})

	writer := csv.NewWriter(c.Writer)
	defer writer.Flush()

	writer.Write(exportHeaders)
	for i := range logs {
		writer.Write(h.row(&logs[i]))
	}
}

// ExportXLSX writes the audit log as an XLSX workbook.
func (h *ExportHandler) ExportXLSX(c *gin.Context) {
	logs, ok := h.load(c)
	if !ok {
		return
	}

	f := excelize.NewFile()
	defer f.Close()
	sheetName := "Audit Log"
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "create sheet failed")
		return
	}

	for i, hdr := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, hdr)
	}
	for idx := range logs {
		for col, v := range h.row(&logs[idx]) {
			cell, _ := excelize.CoordinatesToCellName(col+1, idx+2)
			f.SetCellValue(sheetName, cell, v)
		}
	}

	// column widths
	f.SetColWidth(sheetName, "A", "A", 20)
	f.SetColWidth(sheetName, "B", "B", 26)
	f.SetColWidth(sheetName, "C", "C", 38)
	f.SetColWidth(sheetName, "D", "D", 80)

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"audit_%s.xlsx\"",
		time.Now().Format("20060102")))

	if err := f.Write(c.Writer); err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "export failed")
	}
}
