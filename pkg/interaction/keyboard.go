package interaction

import (
	"fmt"
	"strconv"
	"time"

	"github.com/korjavin/whenwemeet/pkg/candidate"
	"github.com/korjavin/whenwemeet/pkg/models"
)

const (
	optionsPerPage = 10
	daysPerRow     = 5
	maxButtonLabel = 30
)

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func pageCount(n, perPage int) int {
	if n == 0 {
		return 1
	}
	return (n + perPage - 1) / perPage
}

// pollKeyboard shows one page of option buttons plus navigation
func pollKeyboard(p *models.Poll, page int) Keyboard {
	if !p.Active {
		return nil
	}
	pages := pageCount(len(p.Options), optionsPerPage)
	if page < 0 {
		page = 0
	}
	if page >= pages {
		page = pages - 1
	}

	var kb Keyboard
	start := page * optionsPerPage
	end := start + optionsPerPage
	if end > len(p.Options) {
		end = len(p.Options)
	}
	for i := start; i < end; i++ {
		label := fmt.Sprintf("%d. %s", i+1, truncate(p.Options[i], maxButtonLabel))
		kb = append(kb, []Button{{Text: label, Data: "v:" + strconv.Itoa(i)}})
	}

	if pages > 1 {
		var nav []Button
		if page > 0 {
			nav = append(nav, Button{Text: "◀️", Data: "pg:" + strconv.Itoa(page-1)})
		}
		nav = append(nav, Button{Text: fmt.Sprintf("%d/%d", page+1, pages), Data: "pg:" + strconv.Itoa(page)})
		if page < pages-1 {
			nav = append(nav, Button{Text: "▶️", Data: "pg:" + strconv.Itoa(page+1)})
		}
		kb = append(kb, nav)
	}

	kb = append(kb, []Button{
		{Text: "📝 Select several", Data: "bo"},
		{Text: "🏁 End poll", Data: "end"},
	})
	return kb
}

// ballotKeyboard lists every option of a poll for a multi-selection
func ballotKeyboard(p *models.Poll, selected map[int]bool) Keyboard {
	var kb Keyboard
	var row []Button
	for i, opt := range p.Options {
		mark := "▫️"
		if selected[i] {
			mark = "✅"
		}
		row = append(row, Button{Text: mark + " " + truncate(opt, maxButtonLabel), Data: "b:" + strconv.Itoa(i)})
		if len(row) == 2 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	return append(kb, []Button{
		{Text: "📨 Submit", Data: "bs"},
		{Text: "❌ Cancel", Data: "bx"},
	})
}

func daysIn(month candidate.Date) int {
	return time.Date(month.Year, month.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func monthTag(d candidate.Date) string {
	return fmt.Sprintf("%04d-%02d", d.Year, int(d.Month))
}

// calendarKeyboard shows half a month of dates; page 0 is days 1-15
func calendarKeyboard(month candidate.Date, page int, selected map[candidate.Date]bool) Keyboard {
	prev := candidate.DateOf(time.Date(month.Year, month.Month-1, 1, 0, 0, 0, 0, time.UTC))
	next := candidate.DateOf(time.Date(month.Year, month.Month+1, 1, 0, 0, 0, 0, time.UTC))

	kb := Keyboard{{
		{Text: "◀️", Data: "cm:" + monthTag(prev)},
		{Text: fmt.Sprintf("%s %d", month.Month, month.Year), Data: "cn"},
		{Text: "▶️", Data: "cm:" + monthTag(next)},
	}}

	first, last := 1, 15
	if page > 0 {
		first, last = 16, daysIn(month)
	}
	var row []Button
	for day := first; day <= last; day++ {
		d := candidate.Date{Year: month.Year, Month: month.Month, Day: day}
		label := strconv.Itoa(day)
		if selected[d] {
			label = "✅" + label
		}
		row = append(row, Button{Text: label, Data: "cd:" + d.String()})
		if len(row) == daysPerRow {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}

	kb = append(kb, []Button{
		{Text: "1-15", Data: "cp:0"},
		{Text: fmt.Sprintf("16-%d", daysIn(month)), Data: "cp:1"},
	})
	return append(kb, []Button{
		{Text: "➕ Add candidates", Data: "ca"},
		{Text: "❌ Cancel", Data: "cx"},
	})
}

// slotKeyboard toggles the slots of the calendar flow
func slotKeyboard(selected map[candidate.Slot]bool) Keyboard {
	var kb Keyboard
	for _, slot := range candidate.AllSlots {
		label := slot.Label()
		if selected[slot] {
			label = "✅ " + label
		}
		kb = append(kb, []Button{{Text: label, Data: "cs:" + string(slot)}})
	}
	return append(kb, []Button{
		{Text: "✅ Done", Data: "cg"},
		{Text: "❌ Cancel", Data: "cx"},
	})
}

func confirmKeyboard(yesText, yesData, noText, noData string) Keyboard {
	return Keyboard{{{Text: yesText, Data: yesData}, {Text: noText, Data: noData}}}
}

// pollPicker lists polls as buttons carrying tag:<id>
func pollPicker(polls []*models.Poll, tag string) Keyboard {
	var kb Keyboard
	for _, p := range polls {
		kb = append(kb, []Button{{Text: fmt.Sprintf("#%d %s", p.ID, truncate(p.Title, maxButtonLabel)), Data: tag + ":" + strconv.FormatInt(p.ID, 10)}})
	}
	return kb
}

// optionPicker lists the options of a poll as ro:<index> buttons
func optionPicker(p *models.Poll) Keyboard {
	var kb Keyboard
	for i, opt := range p.Options {
		kb = append(kb, []Button{{Text: fmt.Sprintf("%d. %s", i+1, truncate(opt, maxButtonLabel)), Data: "ro:" + strconv.Itoa(i)}})
	}
	return kb
}
