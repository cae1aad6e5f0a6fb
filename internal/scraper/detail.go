package scraper

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pfrederiksen/eventfeeds/internal/event"
	"github.com/pfrederiksen/eventfeeds/internal/logger"
	"golang.org/x/net/html"
)

// Labels of the detail page rows
const (
	labelName      = "Opportunity Name:"
	labelDesc      = "Description:"
	labelDateTime  = "Date/Time:"
	labelSpots     = "Spots Available:"
	labelLocation  = "Meeting Location:"
	labelOrganizer = "Organizer:"
	labelCategory  = "Category:"

	mapLinkText = "View Map / Get Directions"
)

var tooltipBreak = regexp.MustCompile(`(?i)<br\s*/?>`)

// ParseDetail extracts one listing from a detail page. Every labelled field
// is optional: a field that is missing or fails to parse is left nil and the
// rest of the page is still read. Slot times are read in zone.
//
// The only error is a document that cannot be parsed at all.
func ParseDetail(r io.Reader, originID, zone string) (*event.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	p := &detailParser{doc: doc, originID: originID, zone: zone}
	rec := &event.RawRecord{
		OriginID:    originID,
		Name:        p.text("td", labelName),
		Description: p.text("td", labelDesc),
		Category:    p.text("tr", labelCategory),
		Organizer:   p.organizer(),
		Slots:       make([]event.Slot, 0),
	}
	rec.LocationDescription, rec.Location = p.location()

	if slot, ok := p.primarySlot(); ok {
		rec.Slots = append(rec.Slots, slot)
	}
	rec.Slots = append(rec.Slots, p.tableSlots()...)

	return rec, nil
}

type detailParser struct {
	doc      *goquery.Document
	originID string
	zone     string
}

func (p *detailParser) miss(field string, err error) {
	fields := logger.Fields{"origin_id": p.originID, "field": field}
	if err != nil {
		fields["reason"] = err.Error()
	}
	logger.Debug("Detail field not extracted", fields)
}

// labelled returns the innermost tag element whose text contains label
func (p *detailParser) labelled(tag, label string) *goquery.Selection {
	var found *goquery.Selection
	p.doc.Find(tag).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !strings.Contains(sel.Text(), label) {
			return true
		}
		nested := sel.Find(tag).FilterFunction(func(_ int, inner *goquery.Selection) bool {
			return strings.Contains(inner.Text(), label)
		})
		if nested.Length() > 0 {
			return true
		}
		found = sel
		return false
	})
	return found
}

// text returns the element text with the label removed
func (p *detailParser) text(tag, label string) *string {
	sel := p.labelled(tag, label)
	if sel == nil {
		p.miss(label, nil)
		return nil
	}
	value := clean(strings.Replace(sel.Text(), label, "", 1))
	return &value
}

func (p *detailParser) location() (desc *string, href *string) {
	sel := p.labelled("tr", labelLocation)
	if sel == nil {
		p.miss(labelLocation, nil)
		return nil, nil
	}

	text := strings.Replace(sel.Text(), labelLocation, "", 1)
	text = clean(strings.Replace(text, mapLinkText, "", 1))
	desc = &text

	if link, ok := sel.Find("a").First().Attr("href"); ok {
		link = strings.TrimSpace(link)
		href = &link
	} else {
		p.miss(labelLocation+" link", nil)
	}
	return desc, href
}

// organizer reads name, email and phones from the second cell of the row.
// The cell holds them as lines separated by <br>.
func (p *detailParser) organizer() *event.Organizer {
	sel := p.labelled("tr", labelOrganizer)
	if sel == nil {
		p.miss(labelOrganizer, nil)
		return nil
	}
	cells := sel.Find("td")
	if cells.Length() < 2 {
		p.miss(labelOrganizer, fmt.Errorf("expected 2 cells, got %d", cells.Length()))
		return nil
	}

	lines := breakLines(cells.Eq(1))
	org := &event.Organizer{Phones: make([]string, 0)}
	if len(lines) > 0 {
		org.Name = lines[0]
	}
	if len(lines) > 1 {
		org.Email = lines[1]
	}
	if len(lines) > 2 && lines[2] != "" {
		for _, phone := range strings.Split(lines[2], " / ") {
			if phone = strings.TrimSpace(phone); phone != "" {
				org.Phones = append(org.Phones, phone)
			}
		}
	}
	return org
}

// primarySlot builds the slot described by the Date/Time and Spots
// Available rows. Capacity is left unknown when its row is missing.
func (p *detailParser) primarySlot() (event.Slot, bool) {
	when := p.text("tr", labelDateTime)
	if when == nil {
		return event.Slot{}, false
	}
	start, end, err := event.ParseSessionTimes(*when, p.zone)
	if err != nil {
		p.miss(labelDateTime, err)
		return event.Slot{}, false
	}

	slot := event.Slot{Start: start, End: end}
	if spots := p.text("tr", labelSpots); spots != nil {
		slot.Capacity = event.ParseCapacity(*spots)
	}
	return slot, true
}

// tableSlots reads the optional per-session table. Rows that do not parse
// are skipped.
func (p *detailParser) tableSlots() []event.Slot {
	slots := make([]event.Slot, 0)
	p.doc.Find("table#result_list tr.over").Each(func(i int, row *goquery.Selection) {
		slot, err := parseSlotRow(row, p.zone)
		if err != nil {
			logger.Debug("Skipping slot row", logger.Fields{
				"origin_id": p.originID,
				"row":       i,
				"reason":    err.Error(),
			})
			return
		}
		slots = append(slots, slot)
	})
	return slots
}

func parseSlotRow(row *goquery.Selection, zone string) (event.Slot, error) {
	cell := row.Find("td").First()
	if cell.Length() == 0 {
		return event.Slot{}, fmt.Errorf("row has no cells")
	}

	lines := breakLines(cell)
	if len(lines) == 0 {
		return event.Slot{}, fmt.Errorf("empty first cell")
	}
	start, end, err := event.ParseSessionTimes(lines[0], zone)
	if err != nil {
		return event.Slot{}, err
	}

	slot := event.Slot{Start: start, End: end}
	if len(lines) > 1 {
		slot.Activity = lines[1]
	}

	title, _ := row.Attr("title")
	info := parseTooltip(title)
	if spots, ok := info["SpotsAvailable"]; ok {
		slot.Capacity = event.ParseCapacity(spots)
		delete(info, "SpotsAvailable")
	}
	if len(info) > 0 {
		slot.Details = info
	}
	return slot, nil
}

// parseTooltip reads "header=[Slot Information] body=[Key: value<br />Key: value]"
// into a map keyed by the space-stripped key.
func parseTooltip(title string) map[string]string {
	out := make(map[string]string)
	if _, body, ok := strings.Cut(title, "body="); ok {
		title = body
	}
	title = strings.NewReplacer("[", "", "]", "").Replace(title)

	for _, pair := range tooltipBreak.Split(title, -1) {
		key, value, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		key = strings.ReplaceAll(strings.TrimSpace(key), " ", "")
		if key == "" {
			continue
		}
		out[key] = clean(value)
	}
	return out
}

// breakLines splits the content of sel into trimmed text segments at each <br>
func breakLines(sel *goquery.Selection) []string {
	lines := make([]string, 0)
	var current strings.Builder
	flush := func() {
		if line := clean(current.String()); line != "" {
			lines = append(lines, line)
		}
		current.Reset()
	}

	sel.Contents().Each(func(_ int, node *goquery.Selection) {
		n := node.Get(0)
		if n.Type == html.ElementNode && n.Data == "br" {
			flush()
			return
		}
		current.WriteString(node.Text())
	})
	flush()
	return lines
}

// clean normalizes non-breaking spaces and trims
func clean(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))
}
