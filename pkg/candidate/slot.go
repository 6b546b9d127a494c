package candidate

import "strings"

// Slot is a named part of the day used by the calendar flow
type Slot string

const (
	SlotEarly     Slot = "early"
	SlotMorning   Slot = "morning"
	SlotAfternoon Slot = "afternoon"
	SlotEvening   Slot = "evening"
	SlotNight     Slot = "night"
)

// AllSlots lists the slots in time-of-day order
var AllSlots = []Slot{SlotEarly, SlotMorning, SlotAfternoon, SlotEvening, SlotNight}

var slotLabels = map[Slot]string{
	SlotEarly:     "Early morning",
	SlotMorning:   "Morning",
	SlotAfternoon: "Afternoon",
	SlotEvening:   "Evening",
	SlotNight:     "Night",
}

var slotHours = map[Slot]string{
	SlotEarly:     "6:00-9:00",
	SlotMorning:   "9:00-12:00",
	SlotAfternoon: "13:00-17:00",
	SlotEvening:   "18:00-21:00",
	SlotNight:     "22:00-24:00",
}

// ParseSlot maps a tag to a Slot, case-insensitively
func ParseSlot(s string) (Slot, bool) {
	slot := Slot(strings.ToLower(strings.TrimSpace(s)))
	return slot, slot.order() >= 0
}

// Label is the human form shown on buttons and option labels
func (s Slot) Label() string {
	if l, ok := slotLabels[s]; ok {
		return l
	}
	return string(s)
}

// Hours is the clock range a slot stands for
func (s Slot) Hours() string {
	return slotHours[s]
}

func (s Slot) order() int {
	for i, x := range AllSlots {
		if x == s {
			return i
		}
	}
	return -1
}
