package telemetry

import (
	"errors"
	"strconv"
	"strings"
)

const (
	KindHeartbeat = "heartbeat"
	KindGPS       = "gps"
	KindAuth      = "auth"
)

var errBadTopic = errors.New("unrecognized topic")

// parseTopic extracts the numeric bike id and message kind from a
// bike/<id>/<kind> topic. The id segment is the bike's integer primary key,
// not its printed code.
func parseTopic(topic string) (int64, string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "bike" {
		return 0, "", errBadTopic
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, "", errBadTopic
	}
	return id, parts[2], nil
}
