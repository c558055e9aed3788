package handler

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gowa-bridge/internal/model"

	"github.com/labstack/echo/v4"
	"github.com/xuri/excelize/v2"
)

var groupExportHeaders = []string{"No", "Group ID", "Name", "Participants", "Admins", "Owner", "Read Only", "Locked", "Created At"}

// GET /groups
func (g *Gateway) GetGroups(c echo.Context) error {
	ctx, cancel := g.providerContext(c)
	defer cancel()

	groups, err := g.ctrl.ListGroups(ctx)
	if err != nil {
		return g.lifecycleError(c, err)
	}

	return SuccessResponse(c, http.StatusOK, "", map[string]interface{}{
		"count":  len(groups),
		"groups": groups,
	})
}

// GET /groups/export?format=xlsx|csv
func (g *Gateway) ExportGroups(c echo.Context) error {
	format := strings.ToLower(c.QueryParam("format"))
	if format == "" {
		format = "xlsx"
	}
	if format != "xlsx" && format != "csv" {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid format", "INVALID_FORMAT", "Format must be 'xlsx' or 'csv'")
	}

	ctx, cancel := g.providerContext(c)
	defer cancel()

	groups, err := g.ctrl.ListGroups(ctx)
	if err != nil {
		return g.lifecycleError(c, err)
	}

	stamp := g.now().UTC().Format("20060102_150405")
	if format == "xlsx" {
		return exportGroupsToExcel(c, groups, stamp)
	}
	return exportGroupsToCSV(c, groups, stamp)
}

func groupExportRow(i int, grp model.GroupSummary) []string {
	admins := 0
	for _, p := range grp.Participants {
		if p.IsAdmin || p.IsSuperAdmin {
			admins++
		}
	}
	created := ""
	if grp.CreatedAt != nil {
		created = grp.CreatedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		strconv.Itoa(i + 1),
		grp.ID,
		grp.Name,
		strconv.Itoa(grp.ParticipantCount),
		strconv.Itoa(admins),
		grp.Owner,
		strconv.FormatBool(grp.ReadOnly),
		strconv.FormatBool(grp.Locked),
		created,
	}
}

func exportGroupsToExcel(c echo.Context, groups []model.GroupSummary, stamp string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Groups"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to create Excel sheet", "EXCEL_ERROR", err.Error())
	}

	for i, header := range groupExportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, header)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	lastHeader, _ := excelize.CoordinatesToCellName(len(groupExportHeaders), 1)
	f.SetCellStyle(sheetName, "A1", lastHeader, headerStyle)

	for i, grp := range groups {
		for col, value := range groupExportRow(i, grp) {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			// numeric columns stay numeric in the sheet
			if col == 0 || col == 3 || col == 4 {
				n, _ := strconv.Atoi(value)
				f.SetCellValue(sheetName, cell, n)
				continue
			}
			f.SetCellValue(sheetName, cell, value)
		}
	}

	f.SetColWidth(sheetName, "A", "A", 5)
	f.SetColWidth(sheetName, "B", "B", 32)
	f.SetColWidth(sheetName, "C", "C", 30)
	f.SetColWidth(sheetName, "D", "E", 13)
	f.SetColWidth(sheetName, "F", "F", 30)
	f.SetColWidth(sheetName, "G", "H", 10)
	f.SetColWidth(sheetName, "I", "I", 22)

	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to write Excel file", "EXCEL_ERROR", err.Error())
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=groups_%s.xlsx", stamp))
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func exportGroupsToCSV(c echo.Context, groups []model.GroupSummary, stamp string) error {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(groupExportHeaders); err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to write CSV headers", "CSV_ERROR", err.Error())
	}
	for i, grp := range groups {
		if err := writer.Write(groupExportRow(i, grp)); err != nil {
			return ErrorResponse(c, http.StatusInternalServerError, "Failed to write CSV row", "CSV_ERROR", err.Error())
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to write CSV", "CSV_ERROR", err.Error())
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=groups_%s.csv", stamp))
	return c.Blob(http.StatusOK, "text/csv", buf.Bytes())
}
