package conversation

import (
	"fmt"
	"strings"
)

// appendBounded evicts the oldest turns once limit is exceeded.
func appendBounded(history []Turn, turn Turn, limit int) []Turn {
	history = append(history, turn)
	if limit > 0 && len(history) > limit {
		history = append([]Turn(nil), history[len(history)-limit:]...)
	}
	return history
}

// FormatHistory renders turns one per line for prompts.
func FormatHistory(history []Turn) string {
	if len(history) == 0 {
		return "No previous messages"
	}

	var builder strings.Builder

	for _, turn := range history {
		builder.WriteString(fmt.Sprintf("%s - %s (%s): %s\n",
			turn.Timestamp.Format("2006-01-02 15:04:05"), turn.Sender, roleLabel(turn), turn.Text))
	}

	return builder.String()
}

func roleLabel(turn Turn) string {
	if turn.Sender == AssistantSender {
		return "you"
	}
	if turn.Role == "" {
		return "unknown"
	}
	return string(turn.Role)
}
