package pipeline

import "strings"

// Notification is one raw event delivered by the notification source.
// Delivery may repeat; the dedup window guards against it.
type Notification struct {
	Key      string `json:"key"`
	Package  string `json:"package"`
	PostTime int64  `json:"post_time"` // source-assigned, epoch millis
	Extras   Extras `json:"extras"`
}

// Extras are the named text fields of a notification payload.
type Extras struct {
	BigText     string `json:"big_text,omitempty"`
	Text        string `json:"text,omitempty"`
	Title       string `json:"title,omitempty"`
	SummaryText string `json:"summary_text,omitempty"`
	SubText     string `json:"sub_text,omitempty"`
}

// ContentText picks the payload text: long-form body first, then body,
// title, summary, sub text. First non-blank wins.
func (e Extras) ContentText() string {
	for _, s := range []string{e.BigText, e.Text, e.Title, e.SummaryText, e.SubText} {
		if t := strings.TrimSpace(s); t != "" {
			return t
		}
	}
	return ""
}

// Outcome names the pipeline exit taken for one notification.
type Outcome string

const (
	// OutcomeDisabled: the global enable flag is off; no side effects.
	OutcomeDisabled Outcome = "disabled"
	// OutcomeIgnoredPackage: source package not watched (and not capture-all).
	OutcomeIgnoredPackage Outcome = "ignored_package"
	// OutcomeEmptyText: no usable payload text.
	OutcomeEmptyText Outcome = "empty_text"
	// OutcomeIrrelevant: text failed the relevance check.
	OutcomeIrrelevant Outcome = "irrelevant"
	// OutcomeDuplicate: suppressed by the dedup window.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeCaptured: recorded in capture-all (test) mode; nothing sent.
	OutcomeCaptured Outcome = "captured"
	// OutcomeRecorded: recorded in normal mode; Result.Forwarded tells
	// whether every destination delivery succeeded.
	OutcomeRecorded Outcome = "recorded"
)

// Result reports what the pipeline did with one notification.
type Result struct {
	Outcome   Outcome `json:"outcome"`
	EventID   int64   `json:"event_id,omitempty"`
	Forwarded bool    `json:"forwarded,omitempty"`
}
