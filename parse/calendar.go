package parse

import (
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"

	"transitbaseline.dev/gtfs/model"
	"transitbaseline.dev/gtfs/storage"
)

type CalendarCSV struct {
	ServiceID string `csv:"service_id"`
	StartDate string `csv:"start_date"`
	EndDate   string `csv:"end_date"`
	Monday    int8   `csv:"monday"`
	Tuesday   int8   `csv:"tuesday"`
	Wednesday int8   `csv:"wednesday"`
	Thursday  int8   `csv:"thursday"`
	Friday    int8   `csv:"friday"`
	Saturday  int8   `csv:"saturday"`
	Sunday    int8   `csv:"sunday"`
}

// Returns set of all service IDs, min date and max date.
func ParseCalendar(writer storage.FeedWriter, data io.Reader) (map[string]bool, string, string, error) {
	calendarCsv := []*CalendarCSV{}
	if err := gocsv.Unmarshal(data, &calendarCsv); err != nil {
		return nil, "", "", fmt.Errorf("unmarshaling csv: %w", err)
	}

	knownServices := map[string]bool{}

	var minDate, maxDate string

	for _, c := range calendarCsv {
		if c.ServiceID == "" {
			return nil, "", "", fmt.Errorf("empty service_id")
		}

		if knownServices[c.ServiceID] {
			return nil, "", "", fmt.Errorf("repeated service_id '%s'", c.ServiceID)
		}
		knownServices[c.ServiceID] = true

		weekday := int8(0)
		for _, d := range []struct {
			day  time.Weekday
			flag int8
		}{
			{time.Monday, c.Monday},
			{time.Tuesday, c.Tuesday},
			{time.Wednesday, c.Wednesday},
			{time.Thursday, c.Thursday},
			{time.Friday, c.Friday},
			{time.Saturday, c.Saturday},
			{time.Sunday, c.Sunday},
		} {
			switch d.flag {
			case 1:
				weekday |= 1 << d.day
			case 0:
			default:
				return nil, "", "", fmt.Errorf(
					"invalid %s value '%d' for service_id '%s'",
					d.day, d.flag, c.ServiceID,
				)
			}
		}

		_, err := time.ParseInLocation("20060102", c.StartDate, time.UTC)
		if err != nil {
			return nil, "", "", fmt.Errorf("parsing start_date: %w", err)
		}

		_, err = time.ParseInLocation("20060102", c.EndDate, time.UTC)
		if err != nil {
			return nil, "", "", fmt.Errorf("parsing end_date: %w", err)
		}

		if minDate == "" || c.StartDate < minDate {
			minDate = c.StartDate
		}
		if maxDate == "" || c.EndDate > maxDate {
			maxDate = c.EndDate
		}

		err = writer.WriteCalendar(model.Calendar{
			ServiceID: c.ServiceID,
			StartDate: c.StartDate,
			EndDate:   c.EndDate,
			Weekday:   weekday,
		})
		if err != nil {
			return nil, "", "", fmt.Errorf("writing calendar: %w", err)
		}
	}

	return knownServices, minDate, maxDate, nil
}
