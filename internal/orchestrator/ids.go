package orchestrator

import (
	"fmt"
	"regexp"
	"strconv"
)

var conversationSeq = regexp.MustCompile(`cv(\d+)$`)

// NewConversationID returns the next unused "<userID>_cv<NN>" id given the
// ids already known for the user. NN is the highest existing suffix plus one,
// zero-padded to two digits.
func NewConversationID(userID string, knownIDs []string) string {
	highest := 0
	for _, id := range knownIDs {
		m := conversationSeq.FindStringSubmatch(id)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("%s_cv%02d", userID, highest+1)
}
