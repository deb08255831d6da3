package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ToJSON renders the snapshot as pretty-printed JSON with no further
// transformation.
func ToJSON(snapshot *Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// Section names and column orders are fixed so identical input always
// yields identical CSV, byte for byte.
var csvColumns = map[string][]string{
	"Profile":       {"userId", "displayName", "email", "locale", "heightCm", "weightKg", "birthYear", "createdAt"},
	"Sessions":      {"id", "exerciseId", "status", "startedAt", "completedAt", "durationSeconds", "reps", "caloriesKcal", "avgHeartRate"},
	"Consents":      {"kind", "granted", "updatedAt"},
	"Settings":      {"locale", "notificationsEnabled", "weeklyGoalMinutes", "updatedAt"},
	"Subscriptions": {"id", "plan", "status", "startedAt", "expiresAt"},
}

// ToCSV renders the snapshot as multi-section CSV: one section per
// present domain, each opened by a "# SectionName" comment line and a
// header row. Fields containing commas, quotes, or newlines are quoted
// per RFC 4180.
func ToCSV(snapshot *Snapshot) ([]byte, error) {
	var buf bytes.Buffer

	writeSection := func(name string, rows [][]string) error {
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString("# " + name + "\n")

		w := csv.NewWriter(&buf)
		if err := w.Write(csvColumns[name]); err != nil {
			return err
		}
		for _, row := range rows {
			if err := w.Write(row); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	}

	if snapshot.Profile != nil {
		p := snapshot.Profile
		row := []string{
			p.UserID, p.DisplayName, p.Email, p.Locale,
			floatPtrField(p.HeightCM), floatPtrField(p.WeightKG), intPtrField(p.BirthYear),
			p.CreatedAt,
		}
		if err := writeSection("Profile", [][]string{row}); err != nil {
			return nil, fmt.Errorf("failed to write profile section: %w", err)
		}
	}

	if len(snapshot.Sessions) > 0 {
		rows := make([][]string, 0, len(snapshot.Sessions))
		for _, s := range snapshot.Sessions {
			rows = append(rows, []string{
				s.ID, s.ExerciseID, s.Status, s.StartedAt, s.CompletedAt,
				strconv.Itoa(s.DurationSeconds), strconv.Itoa(s.Reps),
				floatField(s.CaloriesKcal), intPtrField(s.AvgHeartRate),
			})
		}
		if err := writeSection("Sessions", rows); err != nil {
			return nil, fmt.Errorf("failed to write sessions section: %w", err)
		}
	}

	if len(snapshot.Consents) > 0 {
		rows := make([][]string, 0, len(snapshot.Consents))
		for _, c := range snapshot.Consents {
			rows = append(rows, []string{c.Kind, strconv.FormatBool(c.Granted), c.UpdatedAt})
		}
		if err := writeSection("Consents", rows); err != nil {
			return nil, fmt.Errorf("failed to write consents section: %w", err)
		}
	}

	if snapshot.Settings != nil {
		s := snapshot.Settings
		row := []string{
			s.Locale, strconv.FormatBool(s.NotificationsEnabled),
			strconv.Itoa(s.WeeklyGoalMinutes), s.UpdatedAt,
		}
		if err := writeSection("Settings", [][]string{row}); err != nil {
			return nil, fmt.Errorf("failed to write settings section: %w", err)
		}
	}

	if len(snapshot.Subscriptions) > 0 {
		rows := make([][]string, 0, len(snapshot.Subscriptions))
		for _, s := range snapshot.Subscriptions {
			rows = append(rows, []string{s.ID, s.Plan, s.Status, s.StartedAt, s.ExpiresAt})
		}
		if err := writeSection("Subscriptions", rows); err != nil {
			return nil, fmt.Errorf("failed to write subscriptions section: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// ParseCSV reads multi-section CSV back into per-section field maps.
// Used to verify that a CSV export carries the same triples as the JSON
// form.
func ParseCSV(data []byte) (map[string][]map[string]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	sections := make(map[string][]map[string]string)
	var section string
	var header []string

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse csv: %w", err)
		}

		if len(record) == 1 && strings.HasPrefix(record[0], "# ") {
			section = strings.TrimPrefix(record[0], "# ")
			header = nil
			continue
		}
		if section == "" {
			return nil, fmt.Errorf("csv row before any section header")
		}
		if header == nil {
			header = record
			continue
		}
		if len(record) != len(header) {
			return nil, fmt.Errorf("csv row has %d fields, header has %d", len(record), len(header))
		}

		row := make(map[string]string, len(header))
		for i, field := range header {
			row[field] = record[i]
		}
		sections[section] = append(sections[section], row)
	}

	return sections, nil
}

func floatField(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func floatPtrField(f *float64) string {
	if f == nil {
		return ""
	}
	return floatField(*f)
}

func intPtrField(i *int) string {
	if i == nil {
		return ""
	}
	return strconv.Itoa(*i)
}
