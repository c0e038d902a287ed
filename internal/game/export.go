package game

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExportSession appends the final standings of a completed session to a text file
func ExportSession(view SessionView, lb *Leaderboard, filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	fileExists := false
	if _, err := os.Stat(filename); err == nil {
		fileExists = true
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var sb strings.Builder
	if fileExists {
		sb.WriteString("\n\n")
	}
	sb.WriteString(fmt.Sprintf("HueDuel Results - Session %s\n", view.ID))
	sb.WriteString(fmt.Sprintf("Created: %s\n", view.CreatedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("Rounds: %d, Players: %d\n", view.TotalRounds, len(view.Players)))
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")

	sb.WriteString("Final standings:\n")
	if lb != nil {
		for _, e := range lb.Entries {
			sb.WriteString(fmt.Sprintf("%d. %s: %d points (best %d, %d rounds)\n",
				e.Rank, e.Username, e.TotalScore, e.BestScore, e.CompletedRounds))
		}
		if lb.Winner != nil {
			sb.WriteString(fmt.Sprintf("\nWinner: %s\n", lb.Winner.Username))
		}
	}

	if _, err := file.WriteString(sb.String()); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}
