package slot

import (
	"encoding/json"
	"strings"
)

// Descriptor identifies a single bookable appointment slot as exposed by the
// provider's availability endpoint. Immutable once constructed.
type Descriptor struct {
	Date   string `json:"date"`
	SlotID string `json:"slotId"`
	Time   string `json:"time"`
}

// rawSlot captures every field-name variant the provider has been observed to
// use across portal revisions.
type rawSlot struct {
	Date            string          `json:"date"`
	AppointmentDate string          `json:"appointmentDate"`
	DateAlt         string          `json:"dt"`
	SlotID          json.RawMessage `json:"slotId"`
	ID              json.RawMessage `json:"id"`
	SlotIDSnake     json.RawMessage `json:"slot_id"`
	Time            string          `json:"time"`
	SlotTime        string          `json:"slotTime"`
	AppointmentTime string          `json:"appointmentTime"`
}

// availabilityBody models the response shapes the provider returns from its
// availability endpoint. Some revisions wrap the list, some return it bare.
type availabilityBody struct {
	Slots []rawSlot `json:"slots"`
	Data  struct {
		Slots []rawSlot `json:"slots"`
	} `json:"data"`
}

// ParseAvailability decodes an availability response body and normalizes every
// slot entry. A body that decodes but contains no slots yields an empty list,
// not an error.
func ParseAvailability(body []byte) ([]Descriptor, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var raws []rawSlot
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, err
		}
		return normalizeAll(raws), nil
	}

	var parsed availabilityBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	raws := parsed.Slots
	if len(raws) == 0 {
		raws = parsed.Data.Slots
	}
	return normalizeAll(raws), nil
}

func normalizeAll(raws []rawSlot) []Descriptor {
	out := make([]Descriptor, 0, len(raws))
	for _, r := range raws {
		d := normalize(r)
		if d.SlotID == "" && d.Date == "" {
			continue
		}
		out = append(out, d)
	}
	return out
}

// normalize picks the first populated variant for each field. Slot ids arrive
// as either JSON numbers or strings depending on portal revision.
func normalize(r rawSlot) Descriptor {
	return Descriptor{
		Date:   firstNonEmpty(r.Date, r.AppointmentDate, r.DateAlt),
		SlotID: firstID(r.SlotID, r.ID, r.SlotIDSnake),
		Time:   firstNonEmpty(r.Time, r.SlotTime, r.AppointmentTime),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstID(vals ...json.RawMessage) string {
	for _, v := range vals {
		if len(v) == 0 {
			continue
		}
		s := strings.TrimSpace(string(v))
		if s == "" || s == "null" {
			continue
		}
		return strings.Trim(s, `"`)
	}
	return ""
}
