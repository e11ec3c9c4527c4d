package telegram

import "time"

type Config struct {
	Token       string
	PollTimeout time.Duration
	APIURL      string // empty means api.telegram.org

	// Groups are chat ids the bot is known to be in before any update arrives.
	Groups []int64

	// ProbeText/ProbeReply configure the liveness probe; an empty ProbeText disables it.
	ProbeText  string
	ProbeReply string
}
