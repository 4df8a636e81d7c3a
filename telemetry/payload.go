package telemetry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// coord accepts both JSON numbers and numeric strings; firmware builds have
// shipped both.
type coord float64

func (c *coord) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("bad coordinate %q: %w", s, err)
	}
	*c = coord(f)
	return nil
}

type heartbeatPayload struct {
	Timestamp json.RawMessage `json:"timestamp"`
	Lat       coord           `json:"lat"`
	Lng       coord           `json:"lng"`
	Battery   int             `json:"battery"`
	Status    string          `json:"status"`
}

type gpsPayload struct {
	Lat       coord           `json:"lat"`
	Lng       coord           `json:"lng"`
	Mode      string          `json:"mode"`
	Timestamp json.RawMessage `json:"timestamp"`
}

type authPayload struct {
	RFIDUID string `json:"rfid_uid"`
	Action  string `json:"action"`
}

func decodeHeartbeat(payload []byte) (heartbeatPayload, error) {
	var p heartbeatPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, err
	}
	return p, nil
}

func decodeGPS(payload []byte) (gpsPayload, error) {
	var p gpsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, err
	}
	return p, nil
}

func decodeAuth(payload []byte) (authPayload, error) {
	var p authPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, err
	}
	return p, nil
}
