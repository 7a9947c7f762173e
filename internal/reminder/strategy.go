package reminder

import (
	"fmt"

	"github.com/alinaqi/reachgenie/internal/content"
	"github.com/alinaqi/reachgenie/internal/dao"
)

// Level is the coarse classification of how a recipient has engaged so far.
type Level int

const (
	LevelNone Level = iota
	LevelMedium
	LevelHigh
)

func (l Level) String() string {
	switch l {
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	}
	return "none"
}

// Classify derives the engagement level from the log. Replied logs never
// reach the scheduler; within the remainder, an open is medium engagement
// and an open plus a booked meeting is high.
func Classify(log dao.EngagementLog) Level {
	switch {
	case log.HasOpened && log.HasMeetingBooked:
		return LevelHigh
	case log.HasOpened:
		return LevelMedium
	}
	return LevelNone
}

// Profile is how a reminder at a given stage should be written. The table
// is fixed and validated at startup; stages escalate from a soft nudge to a
// polite close-out.
type Profile struct {
	Tone     string
	Approach string
	CTA      string
	Urgency  string
}

// profiles is indexed by target stage minus one (r1..r6).
var profiles = [dao.MaxReminders]Profile{
	{Tone: "friendly", Approach: "gentle-nudge", CTA: "reply-when-convenient", Urgency: "low"},
	{Tone: "friendly", Approach: "value-recap", CTA: "short-reply", Urgency: "low"},
	{Tone: "professional", Approach: "social-proof", CTA: "book-meeting", Urgency: "medium"},
	{Tone: "professional", Approach: "problem-focus", CTA: "book-meeting", Urgency: "medium"},
	{Tone: "direct", Approach: "last-value-add", CTA: "yes-or-no", Urgency: "high"},
	{Tone: "direct", Approach: "break-up", CTA: "close-file", Urgency: "high"},
}

// ValidateProfiles guards against a hole in the table. Called at scheduler
// construction so a broken build fails at startup, not mid-escalation.
func ValidateProfiles() error {
	for i, p := range profiles {
		if p.Tone == "" || p.Approach == "" || p.CTA == "" || p.Urgency == "" {
			return fmt.Errorf("reminder strategy profile for stage r%d is incomplete", i+1)
		}
	}
	return nil
}

// StrategyFor selects the stage profile and adjusts it for observed
// engagement: engaged recipients get a more direct ask, and a recipient
// showing nothing by the third reminder gets a changed angle.
func StrategyFor(target dao.Stage, level Level) (content.Strategy, error) {
	if target < dao.StageR1 || target > dao.StageR6 {
		return content.Strategy{}, fmt.Errorf("no strategy profile for stage %s", target)
	}
	p := profiles[int(target)-1]

	switch {
	case level == LevelHigh:
		p.Tone = "direct"
		p.CTA = "book-meeting"
		p.Urgency = "high"
	case level == LevelMedium && p.Urgency == "low":
		p.Urgency = "medium"
	case level == LevelNone && target >= dao.StageR3:
		p.Approach = "new-angle"
	}

	return content.Strategy{
		Stage:    target.String(),
		Tone:     p.Tone,
		Approach: p.Approach,
		CTA:      p.CTA,
		Urgency:  p.Urgency,
	}, nil
}
