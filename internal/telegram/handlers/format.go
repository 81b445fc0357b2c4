package handlers

import (
	"fmt"
	"strings"

	"github.com/edgard/lifetracker/internal/database"
	"github.com/edgard/lifetracker/internal/logger"
)

// FormatContact renders a contact and its analysis as plain text.
func FormatContact(c *database.Contact) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s (id %d)\n", c.DisplayName(), c.UserID)
	if c.Username != nil && *c.Username != "" {
		fmt.Fprintf(&sb, "Username: @%s\n", *c.Username)
	}
	if c.IsPinned {
		sb.WriteString("Pinned\n")
	}
	if c.UnreadCount > 0 {
		fmt.Fprintf(&sb, "Unread: %d\n", c.UnreadCount)
	}
	if c.LastMessage != nil && *c.LastMessage != "" {
		fmt.Fprintf(&sb, "Last message: %s\n", logger.Truncate(*c.LastMessage, 200))
	}

	if c.Summary == nil {
		sb.WriteString("\nNot analyzed yet.")
		return sb.String()
	}
	sb.WriteString("\n")
	sb.WriteString(FormatAnalysis(c.Summary))
	return strings.TrimRight(sb.String(), "\n")
}

// FormatAnalysis renders the headline fields of an analysis.
func FormatAnalysis(a *database.Analysis) string {
	var sb strings.Builder
	if a.Summary != "" {
		fmt.Fprintf(&sb, "Summary: %s\n", a.Summary)
	}
	if a.Sentiment != "" {
		fmt.Fprintf(&sb, "Sentiment: %s\n", a.Sentiment)
	}
	writeList(&sb, "Topics", a.Topics)
	writeList(&sb, "Action items", a.ActionItems)
	if a.Conclusions != nil {
		writeList(&sb, "Next steps", a.Conclusions.NextSteps)
	}
	return sb.String()
}

func writeList(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(sb, "- %s\n", item)
	}
}

func formatContactLine(c database.Contact) string {
	var flags []string
	if c.IsPinned {
		flags = append(flags, "pinned")
	}
	if c.UnreadCount > 0 {
		flags = append(flags, fmt.Sprintf("%d unread", c.UnreadCount))
	}
	if c.Summary != nil {
		flags = append(flags, "analyzed")
	}
	line := fmt.Sprintf("%d: %s", c.UserID, c.DisplayName())
	if len(flags) > 0 {
		line += " [" + strings.Join(flags, ", ") + "]"
	}
	return line
}
