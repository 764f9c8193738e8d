package credential

import (
	"math/rand"
	"strings"
)

var projectAdjectives = []string{
	"useful", "brave", "calm", "swift", "bright", "clever", "daring",
	"eager", "fancy", "gentle", "happy", "jolly", "keen", "lively",
	"mighty", "noble", "proud", "quick", "rapid", "sharp", "smart",
	"solid", "steady", "stellar", "sturdy", "subtle", "vivid", "witty",
}

var projectNouns = []string{
	"fuze", "atlas", "beacon", "cipher", "comet", "delta", "ember",
	"falcon", "garnet", "harbor", "koala", "lantern", "meadow", "nebula",
	"onyx", "prairie", "quartz", "raven", "signal", "summit", "tundra",
	"vertex", "willow", "zenith",
}

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewProjectID builds a synthetic project identifier of the form
// <adjective>-<noun>-<5 base36 chars>, assigned once per credential
// and persisted with it.
func NewProjectID() string {
	var sb strings.Builder
	sb.WriteString(projectAdjectives[rand.Intn(len(projectAdjectives))])
	sb.WriteByte('-')
	sb.WriteString(projectNouns[rand.Intn(len(projectNouns))])
	sb.WriteByte('-')
	for i := 0; i < 5; i++ {
		sb.WriteByte(base36Alphabet[rand.Intn(len(base36Alphabet))])
	}
	return sb.String()
}

// NewSessionID returns a process-local negative session identifier
// with magnitude at most 9e18. It is regenerated on every load and
// deliberately kept out of the persisted record.
func NewSessionID() int64 {
	const maxMagnitude = int64(9_000_000_000_000_000_000)
	return -(rand.Int63n(maxMagnitude) + 1)
}
