package main

import (
	"strconv"
	"time"

	"github.com/harunnryd/etat/internal/reference"
	"github.com/harunnryd/etat/internal/store"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
)

type tableFormatter struct {
	headerStyle  lipgloss.Style
	cellStyle    lipgloss.Style
	oddRowStyle  lipgloss.Style
	evenRowStyle lipgloss.Style
	borderStyle  lipgloss.Style
}

func newTableFormatter() *tableFormatter {
	purple := lipgloss.Color("99")
	gray := lipgloss.Color("245")
	lightGray := lipgloss.Color("241")

	return &tableFormatter{
		headerStyle: lipgloss.NewStyle().
			Foreground(purple).
			Bold(true).
			Align(lipgloss.Center).
			Padding(0, 1),
		cellStyle: lipgloss.NewStyle().
			Padding(0, 1),
		oddRowStyle: lipgloss.NewStyle().
			Foreground(gray).
			Padding(0, 1),
		evenRowStyle: lipgloss.NewStyle().
			Foreground(lightGray).
			Padding(0, 1),
		borderStyle: lipgloss.NewStyle().
			Foreground(purple),
	}
}

func (f *tableFormatter) rows() *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return f.headerStyle
			case row%2 == 0:
				return f.evenRowStyle
			default:
				return f.oddRowStyle
			}
		})
}

func (f *tableFormatter) FormatSessions(sessions []*store.Session) string {
	if len(sessions) == 0 {
		return "No sessions found"
	}

	t := f.rows().Headers("ID", "Template", "Flow", "Status", "Interactions", "Last active")
	for _, s := range sessions {
		t.Row(
			s.ID,
			truncateString(s.TemplateID, 24),
			string(s.FlowType),
			string(s.Status),
			strconv.Itoa(len(s.Progress.Interactions)),
			s.LastActiveAt.Local().Format(time.DateTime),
		)
	}
	return t.String()
}

func (f *tableFormatter) FormatSession(s *store.Session, completed []string) string {
	if s == nil {
		return "No session found"
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return f.headerStyle
			}
			return f.cellStyle
		})

	t.Row("ID", s.ID)
	t.Row("Template", s.TemplateID)
	t.Row("Flow", string(s.FlowType))
	t.Row("Status", string(s.Status))
	t.Row("Created", s.CreatedAt.Local().Format(time.DateTime))
	t.Row("Last active", s.LastActiveAt.Local().Format(time.DateTime))
	if s.CompletedAt != nil {
		t.Row("Completed", s.CompletedAt.Local().Format(time.DateTime))
	}
	if s.TerminatedAt != nil {
		t.Row("Terminated", s.TerminatedAt.Local().Format(time.DateTime))
	}
	t.Row("Room", s.Progress.CurrentRoomID)
	t.Row("Last path", s.Progress.LastPath)
	t.Row("Interactions", strconv.Itoa(len(s.Progress.Interactions)))
	t.Row("Completed tasks", strconv.Itoa(len(completed)))
	return t.String()
}

func (f *tableFormatter) FormatDataset(ds *reference.Dataset) string {
	if ds == nil {
		return "No template loaded"
	}

	t := f.rows().Headers("Room", "Name", "Tasks", "Photos")
	for _, room := range ds.View.Rooms {
		t.Row(
			room.ID,
			truncateString(room.Name, 30),
			strconv.Itoa(len(room.Tasks)),
			strconv.Itoa(len(room.Photos)),
		)
	}
	return t.String()
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
