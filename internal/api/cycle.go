package api

import (
	"regexp"
	"strings"

	"github.com/ashureev/twochairs/internal/domain"
)

// crisisAlertMessage is shown with every crisis reply.
const crisisAlertMessage = "We identified harmful words in your conversation. Life is worth living, you are not alone."

const (
	alertCycleNegative = "cycle-negative"
	roomReferral       = "Would you like to switch to the 1-on-1 Therapist Room?"
)

// negativeHints flag a self message that sounds like the monster talking.
var negativeHints = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bi can'?t\b`),
	regexp.MustCompile(`(?i)\bi won'?t\b`),
	regexp.MustCompile(`(?i)\bnever\b`),
	regexp.MustCompile(`(?i)\bhopeless\b`),
	regexp.MustCompile(`(?i)\bworthless\b`),
	regexp.MustCompile(`(?i)\bfail(ed|ing)?\b`),
	regexp.MustCompile(`(?i)pointless|no point`),
	regexp.MustCompile(`(?i)stupid|useless`),
	regexp.MustCompile(`(?i)always mess`),
	regexp.MustCompile(`(?i)nothing works`),
}

var fallbackSuggestions = []string{
	"I notice what I'm feeling, and it makes sense right now.",
	"I can recognise my effort and let that count for something.",
	"I'll take one small step next, then give myself a short break.",
	"I'm learning to speak to myself with a kinder voice.",
}

// currentCycle splits the messages after the last angel reply by persona.
func currentCycle(msgs []domain.StoredMessage) (selfs, monsters []string) {
	start := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleAngel {
			start = i + 1
			break
		}
	}
	for _, m := range msgs[start:] {
		switch m.Role {
		case domain.RoleSelf:
			selfs = append(selfs, m.Text)
		case domain.RoleMonster:
			monsters = append(monsters, m.Text)
		}
	}
	return selfs, monsters
}

// matchesCrisis reports the first configured phrase contained in text.
func matchesCrisis(text string, phrases []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(lower, p) {
			return p, true
		}
	}
	return "", false
}

func looksNegative(text string) bool {
	for _, re := range negativeHints {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// allNegative reports whether every self message of a round reads as negative.
// A round without self messages is not negative.
func allNegative(selfs []string) bool {
	if len(selfs) == 0 {
		return false
	}
	for _, s := range selfs {
		if !looksNegative(s) {
			return false
		}
	}
	return true
}

// reflection builds the canned round-closing reply.
func reflection(selfs, monsters []string) string {
	var b strings.Builder
	b.WriteString("Thank you for giving both voices a chair. ")
	if len(monsters) > 0 {
		b.WriteString("That harsh thought came back more than once, and you kept answering it. ")
	}
	if len(selfs) > 0 {
		b.WriteString("Your own voice is still here, and it deserves to be heard. ")
	}
	b.WriteString("One small step for today: write down one thing you handled well this week.")
	return b.String()
}
