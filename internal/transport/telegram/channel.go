package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"stockwatch/internal/transport"
)

// FormatChannelID renders a destination as "<chatID>" or "<chatID>:<threadID>".
func FormatChannelID(chatID int64, threadID int) string {
	if threadID <= 0 {
		return strconv.FormatInt(chatID, 10)
	}
	return fmt.Sprintf("%d:%d", chatID, threadID)
}

// ParseChannelID is the inverse of FormatChannelID.
func ParseChannelID(s string) (chatID int64, threadID int, err error) {
	s = strings.TrimSpace(s)
	chatPart, threadPart, hasThread := strings.Cut(s, ":")
	chatID, err = strconv.ParseInt(chatPart, 10, 64)
	if err != nil || chatID == 0 {
		return 0, 0, fmt.Errorf("%w: %q", transport.ErrInvalidChannel, s)
	}
	if !hasThread {
		return chatID, 0, nil
	}
	threadID, err = strconv.Atoi(threadPart)
	if err != nil || threadID <= 0 {
		return 0, 0, fmt.Errorf("%w: %q", transport.ErrInvalidChannel, s)
	}
	return chatID, threadID, nil
}
