package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/wesm/work-inbox/internal/models"
	"github.com/wesm/work-inbox/internal/sync"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	dimStyle    = lipgloss.NewStyle().Faint(true)
	unreadStyle = lipgloss.NewStyle().Bold(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func renderInbox(inbox *sync.Inbox) string {
	var b strings.Builder

	projects := make([]string, 0, len(inbox.Groups))
	for project := range inbox.Groups {
		projects = append(projects, project)
	}
	sort.Strings(projects)

	for _, project := range projects {
		group := inbox.Groups[project]
		name := project
		if name == "" {
			name = "(no project)"
		}
		fmt.Fprintf(&b, "%s %s\n", titleStyle.Render(name), dimStyle.Render(group.Instance))
		for _, item := range group.Items {
			b.WriteString("  " + renderItem(item) + "\n")
		}
		b.WriteString("\n")
	}

	for _, f := range inbox.Failed {
		b.WriteString(errStyle.Render("failed: "+f.Stage) + "\n")
	}

	summary := fmt.Sprintf("%d new, %d updated", inbox.NewCount, inbox.UpdatedCount)
	if inbox.HasChanges {
		b.WriteString(okStyle.Render(summary) + "\n")
	} else {
		b.WriteString(dimStyle.Render(summary) + "\n")
	}
	return b.String()
}

func renderItem(item models.Item) string {
	base := item.Base()
	marker := " "
	title := base.Title
	if base.Unread {
		marker = "●"
		title = unreadStyle.Render(title)
	}

	var tag, status string
	switch it := item.(type) {
	case *models.WorkItem:
		tag = string(it.WorkItemKind)
		status = it.Status
	case *models.PullRequest:
		tag = "pr"
		status = string(it.Status)
	case *models.Pipeline:
		tag = "run"
		status = string(it.Status)
		if it.Status == models.PipelineFailed {
			status = errStyle.Render(status)
		}
	}
	return fmt.Sprintf("%s %-8s %s %s", marker, dimStyle.Render(tag), title, dimStyle.Render("["+status+"]"))
}

func renderProgress(batch models.Batch) string {
	line := fmt.Sprintf("[%d/%d] %s (%d items)",
		batch.Progress.Current, batch.Progress.Total, batch.Progress.Stage, len(batch.Items))
	if batch.Failed {
		return warnStyle.Render(line)
	}
	return line
}
